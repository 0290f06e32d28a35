package app

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/news"
)

type FeaturedSource interface {
	Featured(ctx context.Context, cat news.Category) (*news.Item, error)
}

type Sender interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photoURL, caption string) error
}

// SentLog remembers which items were already posted.
type SentLog interface {
	Seen(id string) bool
	Mark(id, title, category string)
	Cleanup()
	Save() error
}

// Digest posts each category's featured item to the chat once.
type Digest struct {
	source FeaturedSource
	sender Sender
	sent   SentLog
	log    logrus.FieldLogger
}

func NewDigest(source FeaturedSource, sender Sender, sent SentLog, log logrus.FieldLogger) *Digest {
	return &Digest{source: source, sender: sender, sent: sent, log: log}
}

// Send returns the number of items posted. Failures are logged per category.
func (d *Digest) Send(ctx context.Context) int {
	d.sent.Cleanup()
	posted := 0
	for _, cat := range news.Categories {
		if ctx.Err() != nil {
			break
		}
		log := d.log.WithField("category", cat)

		item, err := d.source.Featured(ctx, cat)
		if err != nil {
			log.WithError(err).Warn("featured lookup failed")
			continue
		}
		if item == nil || d.sent.Seen(item.ID) {
			continue
		}

		msg := formatFeatured(*item)
		if item.ImageURL != "" {
			err = d.sender.SendPhoto(ctx, item.ImageURL, msg)
		} else {
			err = d.sender.SendMessage(ctx, msg)
		}
		if err != nil {
			log.WithError(err).Error("failed to send featured item")
			continue
		}
		d.sent.Mark(item.ID, item.Title, string(cat))
		posted++
		log.WithField("item_id", item.ID).Info("featured item sent")
	}

	if posted > 0 {
		if err := d.sent.Save(); err != nil {
			d.log.WithError(err).Warn("failed to save digest log")
		}
	}
	return posted
}

var categoryEmoji = map[news.Category]string{
	news.CategoryNews:   "📰",
	news.CategoryEvents: "📅",
	news.CategorySocial: "💬",
}

// formatFeatured renders one item as Telegram HTML.
func formatFeatured(it news.Item) string {
	var b strings.Builder

	emoji := categoryEmoji[it.Category]
	if emoji == "" {
		emoji = "📰"
	}
	b.WriteString(fmt.Sprintf("%s <b>Featured in %s</b>\n\n", emoji, html.EscapeString(string(it.Category))))

	title := html.EscapeString(it.Title)
	if it.SourceURL != "" {
		b.WriteString(fmt.Sprintf("<a href=\"%s\">%s</a>\n", html.EscapeString(it.SourceURL), title))
	} else {
		b.WriteString(fmt.Sprintf("<b>%s</b>\n", title))
	}

	if text := clip(it.Excerpt, 600); text != "" {
		b.WriteString("\n" + html.EscapeString(text) + "\n")
	}
	if it.Publisher != "" {
		b.WriteString(fmt.Sprintf("\n<i>%s</i>", html.EscapeString(it.Publisher)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// clip cuts text to n bytes, preferring the last full sentence.
func clip(text string, n int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n\n\n", "\n\n"))
	if len(text) <= n {
		return text
	}
	end := 0
	for i := range text {
		if i > n {
			break
		}
		end = i
	}
	head := text[:end]
	if i := strings.LastIndex(head, "."); i > 0 {
		return head[:i+1]
	}
	return head + "..."
}
