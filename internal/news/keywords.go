package news

import (
	"regexp"
	"strings"
)

// Words that make an item unsuitable regardless of topic
var excludeKeywords = []string{
	"war", "warfare", "wartime", "invasion", "airstrike", "missile", "bombing", "bomb",
	"violence", "violent", "murder", "murdered", "killed", "killing", "shooting", "stabbing",
	"terror", "terrorist", "terrorism", "hostage", "massacre",
	"politics", "political", "politician", "election", "elections", "senator", "congress",
	"parliament", "campaign trail", "republican", "democrat", "impeachment",
	"riot", "protest", "crime", "criminal", "arrested", "drugs", "cartel",
	"porn", "nsfw", "gambling", "casino", "celebrity gossip", "scandal",
}

// At least one of these must appear for an item to be on topic
var positiveKeywords = []string{
	"technology", "tech", "software", "hardware", "ai", "artificial intelligence",
	"machine learning", "deep learning", "llm", "robot", "robotics", "algorithm",
	"programming", "developer", "developers", "coding", "open source", "computer", "computing",
	"cloud", "data", "cybersecurity", "internet", "app", "startup", "semiconductor", "chip",
	"education", "edtech", "university", "school", "students", "teacher", "teachers",
	"learning", "course", "curriculum", "research", "science", "scientists", "engineering",
	"innovation",
}

var excludedDomains = []string{
	"tmz.com", "dailymail.co.uk", "thesun.co.uk", "nypost.com", "breitbart.com", "pornhub.com",
}

var excludedPathFragments = []string{
	"/politics/", "/elections/", "/crime/", "/war/", "/opinion/",
}

// Topic groups of the fallback scorer, with their weights
var topicKeywords = []topicGroup{
	{Name: "ai", Weight: 3, Terms: []string{
		"ai", "artificial intelligence", "machine learning", "deep learning", "llm", "neural network",
		"generative ai", "chatgpt", "large language model",
	}},
	{Name: "programming", Weight: 2, Terms: []string{
		"programming", "developer", "developers", "software", "coding", "open source", "github",
		"api", "framework", "compiler",
	}},
	{Name: "education", Weight: 2, Terms: []string{
		"education", "edtech", "students", "university", "school", "learning", "course",
		"teachers", "curriculum", "scholarship",
	}},
	{Name: "science", Weight: 1.5, Terms: []string{
		"research", "science", "scientists", "study", "space", "physics", "biology", "engineering",
	}},
	{Name: "security", Weight: 1.5, Terms: []string{
		"cybersecurity", "security", "privacy", "vulnerability", "encryption", "malware",
	}},
	{Name: "business", Weight: 1, Terms: []string{
		"startup", "funding", "acquisition", "product", "launch", "semiconductor", "chip",
	}},
}

var credibleSources = []string{
	"techcrunch", "the verge", "wired", "ars technica", "mit technology review", "reuters",
	"bbc news", "nature", "ieee spectrum", "the guardian", "associated press", "engadget",
	"zdnet", "venturebeat", "edsurge",
}

var engagementKeywords = []string{
	"how to", "guide", "tips", "free", "launch", "launches", "announces", "breakthrough",
	"first", "new", "open source", "explained",
}

type topicGroup struct {
	Name   string
	Weight float64
	Terms  []string
	set    termSet
}

// termSet matches whole words and phrases, case-insensitively.
// "war" never matches inside "software".
type termSet struct {
	re *regexp.Regexp
}

func compileTerms(terms []string) termSet {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		words := strings.Fields(t)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		parts = append(parts, strings.Join(words, `\s+`))
	}
	if len(parts) == 0 {
		return termSet{}
	}
	return termSet{re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)}
}

func (s termSet) match(text string) bool {
	return s.re != nil && s.re.MatchString(text)
}

// count returns the number of distinct terms found in text.
func (s termSet) count(text string) int {
	if s.re == nil {
		return 0
	}
	seen := map[string]struct{}{}
	for _, m := range s.re.FindAllString(text, -1) {
		seen[strings.Join(strings.Fields(strings.ToLower(m)), " ")] = struct{}{}
	}
	return len(seen)
}
