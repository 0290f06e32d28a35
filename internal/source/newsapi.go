package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/scraper"
)

// NewsAPIClient searches a NewsAPI-compatible /v2/everything endpoint.
type NewsAPIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewNewsAPIClient(baseURL, apiKey string, timeout time.Duration) *NewsAPIClient {
	return &NewsAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	URLToImage  string    `json:"urlToImage"`
	PublishedAt time.Time `json:"publishedAt"`
	Content     string    `json:"content"`
}

func (c *NewsAPIClient) Search(ctx context.Context, req Request) ([]news.RawCandidate, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	if len(req.Sources) > 0 {
		q.Set("sources", strings.Join(req.Sources, ","))
	}
	if req.Language != "" {
		q.Set("language", req.Language)
	}
	if req.SortBy != "" {
		q.Set("sortBy", req.SortBy)
	}
	if req.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(req.PageSize))
	}
	if !req.DateFloor.IsZero() {
		q.Set("from", req.DateFloor.UTC().Format(time.RFC3339))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/everything?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", req.Query, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status == "error" {
		return nil, fmt.Errorf("newsapi %s: %s", parsed.Code, parsed.Message)
	}

	out := make([]news.RawCandidate, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		if a.Title == "" || a.URL == "" || a.Title == "[Removed]" {
			continue
		}
		out = append(out, news.RawCandidate{
			Title:       strings.TrimSpace(a.Title),
			Description: scraper.CleanText(a.Description),
			Body:        scraper.CleanText(a.Content),
			SourceName:  a.Source.Name,
			URL:         a.URL,
			ImageURL:    a.URLToImage,
			PublishedAt: a.PublishedAt,
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
