package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/scraper"
	"github.com/deusflow/curator/internal/source"
)

// Client treats every query as a feed URL and parses it with gofeed.
type Client struct {
	parser *gofeed.Parser
}

func NewClient(timeout time.Duration) *Client {
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	p.UserAgent = "curator/1.0 (+rss)"
	return &Client{parser: p}
}

// Search downloads one feed. Items older than the date floor are skipped and at most
// PageSize items are returned.
func (c *Client) Search(ctx context.Context, req source.Request) ([]news.RawCandidate, error) {
	feed, err := c.parser.ParseURLWithContext(req.Query, ctx)
	if err != nil {
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			return nil, &source.StatusError{Code: he.StatusCode, Body: he.Status}
		}
		return nil, fmt.Errorf("parse feed %s: %w", req.Query, err)
	}

	sourceName := strings.TrimSpace(feed.Title)
	var out []news.RawCandidate
	for _, item := range feed.Items {
		if req.PageSize > 0 && len(out) >= req.PageSize {
			break
		}
		published := itemTime(item)
		if !req.DateFloor.IsZero() && !published.IsZero() && published.Before(req.DateFloor) {
			continue
		}
		if item.Title == "" || item.Link == "" {
			continue
		}
		out = append(out, news.RawCandidate{
			Title:       strings.TrimSpace(item.Title),
			Description: scraper.CleanText(item.Description),
			Body:        scraper.CleanText(item.Content),
			SourceName:  sourceName,
			URL:         item.Link,
			ImageURL:    itemImage(item),
			PublishedAt: published,
		})
	}
	return out, nil
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
