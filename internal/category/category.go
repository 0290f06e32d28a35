// Package category picks the top three items and the single featured item for each
// content category.
package category

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/curator/internal/cache"
	"github.com/deusflow/curator/internal/metrics"
	"github.com/deusflow/curator/internal/news"
)

var ErrUnknownCategory = errors.New("category: unknown category")

// Mode selects how a category is ranked.
type Mode string

const (
	ModeAI         Mode = "ai"
	ModeEngagement Mode = "engagement"
)

// Kind is the storage side of one category.
type Kind interface {
	Category() news.Category
	// FetchCandidates returns up to limit of the most recent items.
	FetchCandidates(ctx context.Context, limit int) ([]news.Item, error)
	// Persist clears the previous flags and sets the new ones in one step.
	Persist(ctx context.Context, top3 []string, featured string) error
	// Top3 returns the flagged items, the featured one first.
	Top3(ctx context.Context) ([]news.Item, error)
	// CounterField names the counter used by engagement ranking.
	CounterField() string
}

// Selector orders candidates; the AI selector satisfies it.
type Selector interface {
	Select(ctx context.Context, cands []news.ScoredCandidate, k int) ([]news.ScoredCandidate, error)
}

type Options struct {
	Mode       Mode
	Candidates int
	TTL        time.Duration
}

// Outcome is the result for one category.
type Outcome struct {
	Category news.Category
	Top3     []string
	Featured string
	Err      error
}

type Curator struct {
	kinds map[news.Category]Kind
	// gens is bumped per category after each successful persist and is part of
	// every cache key, so a read that started before the persist never lands
	// under the current key.
	gens     map[news.Category]*atomic.Uint64
	selector Selector
	cache    *cache.Cache
	opts     Options
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// New builds the lookup table from kinds. Without a selector every category is
// ranked by engagement.
func New(kinds []Kind, selector Selector, c *cache.Cache, opts Options, m *metrics.Metrics, log logrus.FieldLogger) *Curator {
	if opts.Mode == "" {
		opts.Mode = ModeAI
	}
	if selector == nil {
		opts.Mode = ModeEngagement
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 50
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if c == nil {
		c = cache.New(0)
	}
	table := make(map[news.Category]Kind, len(kinds))
	gens := make(map[news.Category]*atomic.Uint64, len(kinds))
	for _, k := range kinds {
		table[k.Category()] = k
		gens[k.Category()] = new(atomic.Uint64)
	}
	return &Curator{kinds: table, gens: gens, selector: selector, cache: c, opts: opts, metrics: m, log: log}
}

func (c *Curator) cacheKey(prefix string, cat news.Category) string {
	return fmt.Sprintf("%s:%s:%d", prefix, cat, c.gens[cat].Load())
}

// invalidate moves cat to a new generation and drops the entries of older ones.
func (c *Curator) invalidate(cat news.Category) int {
	c.gens[cat].Add(1)
	return c.cache.InvalidatePattern("top3:"+string(cat)+":") + c.cache.InvalidatePattern("featured:"+string(cat)+":")
}

func (c *Curator) kind(cat news.Category) (Kind, error) {
	k, ok := c.kinds[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	return k, nil
}

// Run ranks every category concurrently. A failing category never stops the others;
// all outcomes are returned together with the joined errors.
func (c *Curator) Run(ctx context.Context) ([]Outcome, error) {
	cats := make([]news.Category, 0, len(c.kinds))
	for _, cat := range news.Categories {
		if _, ok := c.kinds[cat]; ok {
			cats = append(cats, cat)
		}
	}

	outcomes := make([]Outcome, len(cats))
	var g errgroup.Group
	for i, cat := range cats {
		g.Go(func() error {
			outcomes[i] = c.runOne(ctx, c.kinds[cat])
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Category, o.Err))
		}
	}
	return outcomes, errors.Join(errs...)
}

func (c *Curator) runOne(ctx context.Context, k Kind) Outcome {
	out := Outcome{Category: k.Category()}
	log := c.log.WithFields(logrus.Fields{"category": out.Category, "mode": c.opts.Mode})

	top3, err := c.rank(ctx, k)
	if err == nil {
		if len(top3) > 0 {
			out.Featured = top3[0]
		}
		out.Top3 = top3
		err = k.Persist(ctx, out.Top3, out.Featured)
		if err != nil {
			err = fmt.Errorf("persist: %w", err)
		}
	}
	if err != nil {
		out.Err = err
		log.WithError(err).Error("category curation failed")
		c.metrics.IncCategory(string(out.Category), "error")
		return out
	}

	n := c.invalidate(out.Category)
	log.WithFields(logrus.Fields{"top3": len(out.Top3), "featured": out.Featured, "evicted_keys": n}).Info("category curated")
	c.metrics.IncCategory(string(out.Category), "ok")
	return out
}

func (c *Curator) rank(ctx context.Context, k Kind) ([]string, error) {
	items, err := k.FetchCandidates(ctx, c.opts.Candidates)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	if c.opts.Mode == ModeEngagement {
		return byCounter(items, k.CounterField(), 3), nil
	}

	cands := make([]news.ScoredCandidate, len(items))
	for i, it := range items {
		cands[i] = it.Candidate()
	}
	picked, err := c.selector.Select(ctx, cands, 3)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	ids := make([]string, 0, len(picked))
	for _, p := range picked {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// byCounter ranks items by the named counter, newest first on ties.
func byCounter(items []news.Item, field string, n int) []string {
	sorted := append([]news.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := counter(sorted[i], field), counter(sorted[j], field)
		if ci != cj {
			return ci > cj
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	ids := make([]string, 0, n)
	for i := 0; i < n && i < len(sorted); i++ {
		ids = append(ids, sorted[i].ID)
	}
	return ids
}

func counter(it news.Item, field string) int {
	switch field {
	case "saves":
		return it.Saves
	case "shares":
		return it.Shares
	case "comments":
		return it.Comments
	default:
		return it.Likes
	}
}

// Top3 returns the current top items of cat, cached for the configured TTL.
func (c *Curator) Top3(ctx context.Context, cat news.Category) ([]news.Item, error) {
	k, err := c.kind(cat)
	if err != nil {
		return nil, err
	}
	return cache.GetOrSetTyped(ctx, c.cache, c.cacheKey("top3", cat), c.opts.TTL, k.Top3)
}

// Featured returns the featured item of cat, or nil when none is flagged.
func (c *Curator) Featured(ctx context.Context, cat news.Category) (*news.Item, error) {
	k, err := c.kind(cat)
	if err != nil {
		return nil, err
	}
	return cache.GetOrSetTyped(ctx, c.cache, c.cacheKey("featured", cat), c.opts.TTL, func(ctx context.Context) (*news.Item, error) {
		items, err := k.Top3(ctx)
		if err != nil {
			return nil, err
		}
		for i := range items {
			if items[i].IsFeatured {
				return &items[i], nil
			}
		}
		return nil, nil
	})
}
