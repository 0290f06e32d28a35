// Package source pulls raw candidates from an external search provider.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/ratelimit"
	"github.com/deusflow/curator/internal/retry"
)

var (
	// ErrUnauthorized aborts the whole fetch.
	ErrUnauthorized = errors.New("source: unauthorized")
	// ErrRateLimited is retried with backoff.
	ErrRateLimited = errors.New("source: rate limited")
)

// Request is one search call.
type Request struct {
	Query     string
	Sources   []string
	Language  string
	SortBy    string
	PageSize  int
	DateFloor time.Time
}

// Client runs a single search request.
type Client interface {
	Search(ctx context.Context, req Request) ([]news.RawCandidate, error)
}

// Options configures the Fetcher.
type Options struct {
	Sources    []string
	Language   string
	SortBy     string
	PageSize   int
	DateFloor  time.Duration
	QueryDelay time.Duration
	MaxRetries int
	Backoff    time.Duration
	Now        func() time.Time
}

// Fetcher issues one request per query, sequentially and paced.
type Fetcher struct {
	client Client
	opts   Options
	pacer  *ratelimit.Pacer
	log    logrus.FieldLogger
}

func NewFetcher(client Client, opts Options, log logrus.FieldLogger) *Fetcher {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{
		client: client,
		opts:   opts,
		pacer:  ratelimit.NewPacer(opts.QueryDelay),
		log:    log,
	}
}

// Fetch returns the concatenated results of every query. A query that stays rate
// limited after all retries contributes nothing. ErrUnauthorized stops the fetch
// and nothing is returned.
func (f *Fetcher) Fetch(ctx context.Context, queries []string) ([]news.RawCandidate, error) {
	var all []news.RawCandidate
	var floor time.Time
	if f.opts.DateFloor > 0 {
		floor = f.opts.Now().Add(-f.opts.DateFloor)
	}

	for _, q := range queries {
		if err := f.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		req := Request{
			Query:     q,
			Sources:   f.opts.Sources,
			Language:  f.opts.Language,
			SortBy:    f.opts.SortBy,
			PageSize:  f.opts.PageSize,
			DateFloor: floor,
		}
		log := f.log.WithField("query", q)

		var got []news.RawCandidate
		err := retry.WithRetry(ctx, retry.RetryConfig{
			MaxAttempts: f.opts.MaxRetries,
			Delay:       f.opts.Backoff,
		}, log, func(ctx context.Context) error {
			res, err := f.client.Search(ctx, req)
			if err != nil {
				var se *StatusError
				if errors.Is(err, ErrUnauthorized) || (errors.As(err, &se) && se.Code < 500 && se.Code != 429) {
					return retry.Permanent(err)
				}
				return err
			}
			got = res
			return nil
		})

		switch {
		case err == nil:
			log.WithField("count", len(got)).Debug("query fetched")
			all = append(all, got...)
		case errors.Is(err, ErrUnauthorized):
			log.WithError(err).Error("source rejected credentials, aborting fetch")
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			log.WithError(err).Warn("query failed, skipping")
		}
	}

	f.log.WithFields(logrus.Fields{"queries": len(queries), "candidates": len(all)}).Info("fetch finished")
	return all, nil
}

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: http %d: %s", e.Code, e.Body)
}

// Unwrap maps status codes onto the sentinel errors.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == 401 || e.Code == 403:
		return ErrUnauthorized
	case e.Code == 429:
		return ErrRateLimited
	}
	return nil
}
