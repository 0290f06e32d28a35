// Package rerank recomputes featured and trending flags from engagement counters.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/metrics"
	"github.com/deusflow/curator/internal/news"
)

// ErrThrottled is reported in Result.Skipped when a run was refused by the throttle
// or because another run is in flight.
var ErrThrottled = errors.New("rerank: throttled")

// Store reads engagement snapshots and rewrites the flags of every item.
type Store interface {
	Engagement(ctx context.Context) ([]news.Engagement, error)
	// SetFlags marks exactly the given ids featured and trending and clears the rest.
	SetFlags(ctx context.Context, featured, trending []string) error
}

// Weights are the per-counter multipliers of the engagement score.
type Weights struct {
	Like    float64
	Save    float64
	Share   float64
	Comment float64
}

// DefaultWeights rank comments highest.
var DefaultWeights = Weights{Like: 1, Save: 2, Share: 3, Comment: 4}

func (w Weights) Score(e news.Engagement) float64 {
	return w.Like*float64(e.Likes) + w.Save*float64(e.Saves) + w.Share*float64(e.Shares) + w.Comment*float64(e.Comments)
}

type Options struct {
	Interval      time.Duration
	Weights       Weights
	FeaturedCount int
	TrendingCount int
	Now           func() time.Time
}

// Result describes one invocation.
type Result struct {
	Skipped  error
	Scored   int
	Featured []string
	Trending []string
}

// Reranker owns the throttle state; share one instance per process.
type Reranker struct {
	store   Store
	opts    Options
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

func New(store Store, opts Options, m *metrics.Metrics, log logrus.FieldLogger) *Reranker {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights
	}
	if opts.FeaturedCount <= 0 {
		opts.FeaturedCount = 3
	}
	if opts.TrendingCount <= 0 {
		opts.TrendingCount = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reranker{store: store, opts: opts, metrics: m, log: log}
}

// LastRun returns the time of the last started run that did not fail.
func (r *Reranker) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// Run recomputes all flags. Without force it is a no-op inside the throttle window;
// a run already in progress always makes it a no-op.
func (r *Reranker) Run(ctx context.Context, force bool) (Result, error) {
	now := r.opts.Now()

	r.mu.Lock()
	if r.running || (!force && !r.lastRun.IsZero() && now.Sub(r.lastRun) < r.opts.Interval) {
		last := r.lastRun
		r.mu.Unlock()
		r.log.WithFields(logrus.Fields{"last_run": last, "force": force}).Debug("rerank skipped")
		r.metrics.IncRerank("skipped")
		return Result{Skipped: ErrThrottled}, nil
	}
	prev := r.lastRun
	r.running = true
	r.lastRun = now
	r.mu.Unlock()

	res, err := r.rerank(ctx)

	r.mu.Lock()
	r.running = false
	if err != nil {
		r.lastRun = prev
	}
	r.mu.Unlock()

	if err != nil {
		r.metrics.IncRerank("error")
		return res, err
	}
	r.metrics.IncRerank("ok")
	r.log.WithFields(logrus.Fields{
		"scored":   res.Scored,
		"featured": len(res.Featured),
		"trending": len(res.Trending),
	}).Info("engagement rerank finished")
	return res, nil
}

func (r *Reranker) rerank(ctx context.Context) (Result, error) {
	snaps, err := r.store.Engagement(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load engagement: %w", err)
	}

	ranked := Rank(snaps, r.opts.Weights)
	res := Result{
		Scored:   len(ranked),
		Featured: ids(ranked, r.opts.FeaturedCount),
		Trending: ids(ranked, r.opts.TrendingCount),
	}
	if err := r.store.SetFlags(ctx, res.Featured, res.Trending); err != nil {
		return res, fmt.Errorf("set flags: %w", err)
	}
	return res, nil
}

// Rank orders snapshots by weighted score, then newest, then id, so equal counters
// always produce the same order.
func Rank(snaps []news.Engagement, w Weights) []news.Engagement {
	out := append([]news.Engagement(nil), snaps...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := w.Score(out[i]), w.Score(out[j])
		if si != sj {
			return si > sj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func ids(ranked []news.Engagement, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n && i < len(ranked); i++ {
		out = append(out, ranked[i].ItemID)
	}
	return out
}
