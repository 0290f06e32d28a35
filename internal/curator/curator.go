// Package curator turns a selection into the final batch of a run: it backfills the
// shortfall from stored content, persists new items and evicts expired ones.
package curator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/metrics"
	"github.com/deusflow/curator/internal/news"
)

// ErrNothingToCurate means the run had no selected items and the store was left alone.
var ErrNothingToCurate = errors.New("curator: nothing to curate")

// Store is the persisted item store as seen by the curator.
type Store interface {
	// TopEngaged returns approved items created since the cutoff with any engagement,
	// ordered by likes, saves, then newest first.
	TopEngaged(ctx context.Context, since time.Time, excludeHashes []string, limit int) ([]news.Item, error)
	// Recent returns approved items created since the cutoff, newest first.
	Recent(ctx context.Context, since time.Time, excludeHashes []string, limit int) ([]news.Item, error)
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	InsertItems(ctx context.Context, items []news.Item) error
	InsertItem(ctx context.Context, item news.Item) error
	EvictOlderThan(ctx context.Context, statuses []news.Status, before time.Time) (int64, error)
}

// Reselector orders stored candidates; the selector satisfies it.
type Reselector interface {
	Select(ctx context.Context, cands []news.ScoredCandidate, k int) ([]news.ScoredCandidate, error)
}

type Options struct {
	Target            int
	EngagementWindow  time.Duration
	ReselectWindow    time.Duration
	AnyWindow         time.Duration
	ApprovedRetention time.Duration
	DraftRetention    time.Duration
	Now               func() time.Time
	NewID             func() string
}

// Result summarises one run.
type Result struct {
	Items    []news.Item
	ByTier   map[string]int
	Inserted int
	Skipped  int
	Failed   int
	Evicted  int64
}

type Curator struct {
	store   Store
	opts    Options
	tiers   []Tier
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func New(store Store, reselector Reselector, opts Options, m *metrics.Metrics, log logrus.FieldLogger) *Curator {
	if opts.Target <= 0 {
		opts.Target = 20
	}
	if opts.EngagementWindow <= 0 {
		opts.EngagementWindow = 48 * time.Hour
	}
	if opts.ReselectWindow <= 0 {
		opts.ReselectWindow = 48 * time.Hour
	}
	if opts.AnyWindow <= 0 {
		opts.AnyWindow = 7 * 24 * time.Hour
	}
	if opts.ApprovedRetention <= 0 {
		opts.ApprovedRetention = 48 * time.Hour
	}
	if opts.DraftRetention <= 0 {
		opts.DraftRetention = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	c := &Curator{store: store, opts: opts, metrics: m, log: log}
	c.tiers = DefaultTiers(store, reselector, opts)
	return c
}

// Run builds and saves the final batch for selected. With zero selected items it
// returns ErrNothingToCurate without touching the store.
func (c *Curator) Run(ctx context.Context, selected []news.ScoredCandidate) (Result, error) {
	res := Result{ByTier: map[string]int{}}
	if len(selected) == 0 {
		return res, ErrNothingToCurate
	}

	now := c.opts.Now()
	b := newBatch()
	for _, sc := range selected {
		if b.len() == c.opts.Target {
			break
		}
		if b.add(c.fromCandidate(sc, now)) {
			res.ByTier["selected"]++
		}
	}

	need := c.opts.Target - b.len()
	for _, tier := range c.tiers {
		if need <= 0 {
			break
		}
		log := c.log.WithFields(logrus.Fields{"tier": tier.Name, "need": need})
		items, still, err := tier.Fill(ctx, b.hashList(), need)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.WithError(err).Warn("backfill tier failed, trying next")
			continue
		}
		for _, it := range items {
			if b.len() == c.opts.Target {
				break
			}
			if b.add(it) {
				res.ByTier[tier.Name]++
			}
		}
		need = max(still, c.opts.Target-b.len())
		log.WithFields(logrus.Fields{"added": res.ByTier[tier.Name], "still_needed": need}).Info("backfill tier finished")
	}
	if need > 0 {
		c.log.WithFields(logrus.Fields{"target": c.opts.Target, "achieved": b.len()}).Warn("fallback tiers exhausted below target")
	}

	res.Items = b.items
	for tier, n := range res.ByTier {
		c.metrics.AddCuratorItems(tier, n)
	}

	if err := c.persist(ctx, b, &res); err != nil {
		return res, err
	}
	c.evict(ctx, now, &res)

	c.log.WithFields(logrus.Fields{
		"items":    len(res.Items),
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
		"evicted":  res.Evicted,
	}).Info("retention run finished")
	return res, nil
}

// persist looks up all hashes once, skips stored ones and inserts the rest as one
// batch, falling back to single inserts when the batch fails.
func (c *Curator) persist(ctx context.Context, b *batch, res *Result) error {
	existing, err := c.store.ExistingHashes(ctx, b.hashList())
	if err != nil {
		return fmt.Errorf("lookup existing hashes: %w", err)
	}

	var fresh []news.Item
	for _, it := range b.items {
		if existing[it.Hash] {
			res.Skipped++
			continue
		}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return nil
	}

	err = c.store.InsertItems(ctx, fresh)
	if err == nil {
		res.Inserted = len(fresh)
		c.metrics.AddInserted(res.Inserted)
		return nil
	}
	c.log.WithError(err).WithField("items", len(fresh)).Warn("batch insert failed, inserting one by one")

	for _, it := range fresh {
		if err := c.store.InsertItem(ctx, it); err != nil {
			res.Failed++
			c.log.WithError(err).WithFields(logrus.Fields{"hash": it.Hash, "title": it.Title}).Warn("item insert failed")
			continue
		}
		res.Inserted++
	}
	c.metrics.AddInserted(res.Inserted)
	if res.Inserted == 0 {
		return fmt.Errorf("save batch: all %d inserts failed", res.Failed)
	}
	return nil
}

func (c *Curator) evict(ctx context.Context, now time.Time, res *Result) {
	windows := []struct {
		statuses []news.Status
		before   time.Time
	}{
		{[]news.Status{news.StatusApproved}, now.Add(-c.opts.ApprovedRetention)},
		{[]news.Status{news.StatusDraft, news.StatusRejected}, now.Add(-c.opts.DraftRetention)},
	}
	for _, w := range windows {
		n, err := c.store.EvictOlderThan(ctx, w.statuses, w.before)
		if err != nil {
			c.log.WithError(err).WithField("statuses", w.statuses).Warn("eviction failed")
			continue
		}
		res.Evicted += n
	}
	c.metrics.AddEvicted(res.Evicted)
}

func (c *Curator) fromCandidate(sc news.ScoredCandidate, now time.Time) news.Item {
	if sc.ID != "" {
		return news.Item{ID: sc.ID, Title: sc.Title, Excerpt: sc.Description, Body: sc.Body,
			Category: sc.Category, ImageURL: sc.ImageURL, Publisher: sc.SourceName, SourceURL: sc.URL,
			Hash: sc.Hash(), PublishedAt: sc.PublishedAt, Status: news.StatusApproved}
	}

	category := sc.Category
	if category == "" {
		category = news.CategoryNews
	}
	body := sc.Body
	if body == "" {
		body = sc.Description
	}
	excerpt := sc.Description
	if excerpt == "" {
		excerpt = sc.Body
	}
	published := sc.PublishedAt
	if published.IsZero() {
		published = now
	}
	return news.Item{
		ID:          c.opts.NewID(),
		Title:       sc.Title,
		Excerpt:     news.Excerpt(excerpt, 280),
		Body:        body,
		Category:    category,
		ImageURL:    sc.ImageURL,
		Publisher:   sc.SourceName,
		SourceURL:   sc.URL,
		Hash:        sc.Hash(),
		PublishedAt: published,
		CreatedAt:   now,
		Status:      news.StatusApproved,
	}
}

// batch is the ordered final set, unique by hash.
type batch struct {
	items  []news.Item
	hashes map[string]struct{}
}

func newBatch() *batch {
	return &batch{hashes: map[string]struct{}{}}
}

func (b *batch) add(it news.Item) bool {
	if _, dup := b.hashes[it.Hash]; dup {
		return false
	}
	b.hashes[it.Hash] = struct{}{}
	b.items = append(b.items, it)
	return true
}

func (b *batch) len() int { return len(b.items) }

func (b *batch) hashList() []string {
	out := make([]string, 0, len(b.items))
	for _, it := range b.items {
		out = append(out, it.Hash)
	}
	return out
}
