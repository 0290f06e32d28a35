// Package scraper turns HTML fragments from sources into plain text.
package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxTextLength caps cleaned text, cutting on paragraph boundaries.
const MaxTextLength = 1800

var (
	truncatedMarker = regexp.MustCompile(`\s*…?\s*\[\+\d+ chars\]\s*$`)
	spaces          = regexp.MustCompile(`[ \t\f\v]+`)
)

var junkIndicators = []string{
	"cookie", "gdpr", "subscribe to", "sign up for", "read more", "click here",
	"follow us", "share this", "advertisement",
}

// CleanText strips markup, boilerplate lines and provider truncation markers.
func CleanText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	text := fragment
	if strings.Contains(fragment, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
		if err == nil {
			doc.Find("script, style, noscript, iframe, figure, aside").Remove()
			doc.Find("p, br, div, li, h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
				s.AppendHtml("\n")
			})
			text = doc.Text()
		}
	}

	text = truncatedMarker.ReplaceAllString(text, "")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if line == "" || isJunk(line) {
			continue
		}
		lines = append(lines, line)
	}
	return limit(strings.Join(lines, "\n\n"))
}

func isJunk(line string) bool {
	lower := strings.ToLower(line)
	for _, indicator := range junkIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// limit keeps whole paragraphs while the text is longer than MaxTextLength.
func limit(text string) string {
	if len(text) <= MaxTextLength {
		return text
	}
	var selected []string
	total := 0
	for _, p := range strings.Split(text, "\n\n") {
		if total+len(p) > MaxTextLength-200 {
			break
		}
		selected = append(selected, p)
		total += len(p) + 2
	}
	if len(selected) == 0 {
		return text[:MaxTextLength]
	}
	return strings.Join(selected, "\n\n")
}
