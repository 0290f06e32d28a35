package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deusflow/curator/internal/logger"
	"github.com/deusflow/curator/internal/news"
)

type scriptedClient struct {
	calls   []string
	respond func(q string, attempt int) ([]news.RawCandidate, error)
	tries   map[string]int
}

func (s *scriptedClient) Search(_ context.Context, req Request) ([]news.RawCandidate, error) {
	if s.tries == nil {
		s.tries = map[string]int{}
	}
	s.tries[req.Query]++
	s.calls = append(s.calls, req.Query)
	return s.respond(req.Query, s.tries[req.Query])
}

func fastOptions() Options {
	return Options{MaxRetries: 3, Backoff: time.Millisecond}
}

func TestFetchConcatenatesSequentially(t *testing.T) {
	c := &scriptedClient{respond: func(q string, _ int) ([]news.RawCandidate, error) {
		return []news.RawCandidate{{Title: q + "-1"}, {Title: q + "-2"}}, nil
	}}
	f := NewFetcher(c, fastOptions(), logger.Discard())

	out, err := f.Fetch(context.Background(), []string{"ai", "edtech"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(out) != 4 || out[0].Title != "ai-1" || out[3].Title != "edtech-2" {
		t.Errorf("unexpected result: %+v", out)
	}
	if fmt.Sprint(c.calls) != "[ai edtech]" {
		t.Errorf("calls = %v", c.calls)
	}
}

func TestFetchRetriesRateLimit(t *testing.T) {
	c := &scriptedClient{respond: func(q string, attempt int) ([]news.RawCandidate, error) {
		if q == "ai" && attempt < 3 {
			return nil, &StatusError{Code: 429}
		}
		return []news.RawCandidate{{Title: q}}, nil
	}}
	f := NewFetcher(c, fastOptions(), logger.Discard())

	out, err := f.Fetch(context.Background(), []string{"ai", "robots"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}
	if c.tries["ai"] != 3 {
		t.Errorf("ai tries = %d, want 3", c.tries["ai"])
	}
}

func TestFetchGivesUpOnPersistentRateLimit(t *testing.T) {
	c := &scriptedClient{respond: func(q string, _ int) ([]news.RawCandidate, error) {
		if q == "ai" {
			return nil, &StatusError{Code: 429}
		}
		return []news.RawCandidate{{Title: q}}, nil
	}}
	f := NewFetcher(c, fastOptions(), logger.Discard())

	out, err := f.Fetch(context.Background(), []string{"ai", "robots"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(out) != 1 || out[0].Title != "robots" {
		t.Errorf("unexpected result: %+v", out)
	}
	if c.tries["ai"] != 3 {
		t.Errorf("ai tries = %d, want 3", c.tries["ai"])
	}
}

func TestFetchAbortsOnUnauthorized(t *testing.T) {
	c := &scriptedClient{respond: func(q string, _ int) ([]news.RawCandidate, error) {
		if q == "second" {
			return nil, &StatusError{Code: 401}
		}
		return []news.RawCandidate{{Title: q}}, nil
	}}
	f := NewFetcher(c, fastOptions(), logger.Discard())

	out, err := f.Fetch(context.Background(), []string{"first", "second", "third"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if out != nil {
		t.Errorf("expected no results, got %d", len(out))
	}
	if c.tries["second"] != 1 {
		t.Errorf("401 must not be retried, tries = %d", c.tries["second"])
	}
	if c.tries["third"] != 0 {
		t.Error("fetch should stop after 401")
	}
}

func TestFetchEmptyIsValid(t *testing.T) {
	c := &scriptedClient{respond: func(string, int) ([]news.RawCandidate, error) { return nil, nil }}
	f := NewFetcher(c, fastOptions(), logger.Discard())

	out, err := f.Fetch(context.Background(), []string{"ai"})
	if err != nil || len(out) != 0 {
		t.Errorf("Fetch = %v, %v", out, err)
	}
}

func TestNewsAPIClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.URL.Query().Get("q"); got != "machine learning" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("sources"); got != "wired,techcrunch" {
			t.Errorf("sources = %q", got)
		}
		if r.URL.Query().Get("from") == "" {
			t.Error("missing date floor")
		}
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"source":{"name":"Wired"},"title":"Model compresses lectures","description":"<p>Students get summaries.</p>","url":"https://wired.com/a","urlToImage":"https://img/a.png","publishedAt":"2026-03-10T08:00:00Z","content":"Full text… [+1200 chars]"},
			{"source":{"name":"X"},"title":"[Removed]","url":"https://removed"}
		]}`)
	}))
	defer srv.Close()

	c := NewNewsAPIClient(srv.URL, "secret", time.Second)
	out, err := c.Search(context.Background(), Request{
		Query:     "machine learning",
		Sources:   []string{"wired", "techcrunch"},
		DateFloor: time.Now().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	got := out[0]
	if got.SourceName != "Wired" || got.Description != "Students get summaries." || got.Body != "Full text" {
		t.Errorf("unexpected candidate: %+v", got)
	}
	if !got.PublishedAt.Equal(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("PublishedAt = %v", got.PublishedAt)
	}
}

func TestNewsAPIClientUnauthorizedThroughFetcher(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"status":"error","code":"apiKeyInvalid","message":"bad key"}`)
	}))
	defer srv.Close()

	f := NewFetcher(NewNewsAPIClient(srv.URL, "wrong", time.Second), fastOptions(), logger.Discard())
	_, err := f.Fetch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}
