// Package app wires the curation jobs and the read side into one process.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/cache"
	"github.com/deusflow/curator/internal/category"
	"github.com/deusflow/curator/internal/config"
	"github.com/deusflow/curator/internal/curator"
	"github.com/deusflow/curator/internal/feed"
	"github.com/deusflow/curator/internal/gemini"
	"github.com/deusflow/curator/internal/metrics"
	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/openai"
	"github.com/deusflow/curator/internal/ratelimit"
	"github.com/deusflow/curator/internal/rerank"
	"github.com/deusflow/curator/internal/rss"
	"github.com/deusflow/curator/internal/selector"
	"github.com/deusflow/curator/internal/source"
	"github.com/deusflow/curator/internal/storage"
	"github.com/deusflow/curator/internal/telegram"
)

type App struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	store   *storage.Postgres
	cache   *cache.Cache

	pipeline   *Pipeline
	reranker   *rerank.Reranker
	categories *category.Curator
	feed       *feed.Generator
	digest     *Digest

	closers []func()
}

// New connects to the store and builds every component.
// reg may be nil to skip metric registration.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, reg prometheus.Registerer) (*App, error) {
	a := &App{cfg: cfg, log: log, metrics: metrics.New(reg)}

	store, err := storage.NewPostgres(ctx, cfg.DatabaseURL, cfg.MaxOpenConns, log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })
	if err := store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.cache = cache.New(cfg.CacheSweep, cache.WithHooks(cache.Hooks{
		OnHit:  func(string) { a.metrics.IncCache(true) },
		OnMiss: func(string) { a.metrics.IncCache(false) },
	}))
	a.closers = append(a.closers, a.cache.Close)

	ranker, err := a.newRanker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	var budget *ratelimit.Budget
	if cfg.RankDailyLimit > 0 {
		budget = ratelimit.NewBudget(map[string]int{cfg.RankerProvider: cfg.RankDailyLimit}, cfg.RankDailyLimit, nil)
	}
	sel := selector.New(ranker, news.NewScorer(nil), budget, selector.Options{
		MaxCandidates: cfg.RankMaxCandidates,
		MaxAttempts:   cfg.RankRetries,
		Backoff:       cfg.RankBackoff,
	}, a.metrics, log.WithField("component", "selector"))

	fetcher := source.NewFetcher(a.newSourceClient(), source.Options{
		Sources:    cfg.Sources.Sources,
		Language:   cfg.Language,
		SortBy:     cfg.SortBy,
		PageSize:   cfg.PageSize,
		DateFloor:  cfg.DateFloor,
		QueryDelay: cfg.QueryDelay,
		MaxRetries: cfg.FetchRetries,
		Backoff:    cfg.FetchBackoff,
	}, log.WithField("component", "fetcher"))

	filter := news.NewFilter(news.FilterOptions{
		RecencyWindow: cfg.RecencyWindow,
		MinPool:       cfg.MinPool,
		MaxPool:       cfg.MaxPool,
	}, log.WithField("component", "filter"))

	retainer := curator.New(store, sel, curator.Options{
		Target:            cfg.TargetCount,
		EngagementWindow:  cfg.EngagementWindow,
		ReselectWindow:    cfg.ReselectWindow,
		AnyWindow:         cfg.AnyRecentWindow,
		ApprovedRetention: cfg.ApprovedRetention,
		DraftRetention:    cfg.DraftRetention,
	}, a.metrics, log.WithField("component", "curator"))

	a.pipeline = NewPipeline(fetcher, filter, sel, retainer, queriesFor(cfg), cfg.TargetCount, a.metrics, log.WithField("component", "pipeline"))

	a.reranker = rerank.New(store, rerank.Options{
		Interval:      cfg.RerankInterval,
		Weights:       rerank.Weights(cfg.RerankWeights),
		FeaturedCount: cfg.FeaturedCount,
		TrendingCount: cfg.TrendingCount,
	}, a.metrics, log.WithField("component", "rerank"))

	tables := store.CategoryTables()
	kinds := make([]category.Kind, len(tables))
	for i, t := range tables {
		kinds[i] = t
	}
	a.categories = category.New(kinds, sel, a.cache, category.Options{
		Mode:       category.Mode(cfg.CategoryMode),
		Candidates: cfg.CategoryCandidates,
		TTL:        cfg.CategoryTTL,
	}, a.metrics, log.WithField("component", "category"))

	a.feed = feed.New(store, a.cache, feed.Options{
		FeedTTL:     cfg.FeedTTL,
		TrendingTTL: cfg.TrendingTTL,
		Weights:     feed.Weights{Like: cfg.FeedWeights.Like, Comment: cfg.FeedWeights.Comment, Share: cfg.FeedWeights.Share},
		MinScore:    cfg.MixedMinScore,
	}, log.WithField("component", "feed"))

	if cfg.TelegramEnabled() {
		sent := storage.NewSentLog(cfg.DigestLogFile, cfg.DigestTTL)
		if err := sent.Load(); err != nil {
			log.WithError(err).Warn("failed to load digest log, starting empty")
		}
		tg := telegram.NewClient(cfg.TelegramToken, cfg.TelegramChatID, log.WithField("component", "telegram"))
		a.digest = NewDigest(a.categories, tg, sent, log.WithField("component", "digest"))
	}

	log.WithFields(logrus.Fields{
		"source":   cfg.SourceProvider,
		"ranker":   cfg.RankerProvider,
		"category": cfg.CategoryMode,
		"digest":   a.digest != nil,
	}).Info("application initialized")
	return a, nil
}

func (a *App) newRanker(ctx context.Context) (selector.Ranker, error) {
	switch a.cfg.RankerProvider {
	case "gemini":
		c, err := gemini.NewClient(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case "openai":
		return openai.NewClient(a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL, a.cfg.OpenAIModel), nil
	default:
		return nil, nil
	}
}

func (a *App) newSourceClient() source.Client {
	if a.cfg.SourceProvider == "rss" {
		return rss.NewClient(a.cfg.RequestTimeout)
	}
	return source.NewNewsAPIClient(a.cfg.NewsAPIBaseURL, a.cfg.NewsAPIKey, a.cfg.RequestTimeout)
}

// queriesFor returns the search queries, or the feed URLs for the RSS provider.
func queriesFor(cfg *config.Config) []string {
	if cfg.SourceProvider == "rss" {
		return cfg.Sources.Feeds
	}
	return cfg.Sources.Queries
}

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// HTTPAddr is the listen address of the API.
func (a *App) HTTPAddr() string { return a.cfg.HTTPAddr }

// RunPipeline runs one curation pass.
func (a *App) RunPipeline(ctx context.Context) (Report, error) {
	return a.pipeline.Run(ctx)
}

// Rerank recomputes featured and trending flags and drops cached feeds when the
// flags changed.
func (a *App) Rerank(ctx context.Context, force bool) (rerank.Result, error) {
	res, err := a.reranker.Run(ctx, force)
	if err == nil && res.Skipped == nil {
		n := a.feed.Invalidate()
		a.log.WithField("keys", n).Debug("feed cache invalidated after rerank")
	}
	return res, err
}

// CurateCategories refreshes the per-category picks and then posts the digest.
func (a *App) CurateCategories(ctx context.Context) ([]category.Outcome, error) {
	outcomes, err := a.categories.Run(ctx)
	if a.digest != nil && ctx.Err() == nil {
		a.digest.Send(ctx)
	}
	return outcomes, err
}

func (a *App) Feed(ctx context.Context, req feed.Request) (feed.Page, error) {
	return a.feed.Feed(ctx, req)
}

func (a *App) Trending(ctx context.Context, hours, limit int) ([]feed.Post, error) {
	return a.feed.Trending(ctx, hours, limit)
}

func (a *App) Top3(ctx context.Context, cat news.Category) ([]news.Item, error) {
	return a.categories.Top3(ctx, cat)
}

func (a *App) Featured(ctx context.Context, cat news.Category) (*news.Item, error) {
	return a.categories.Featured(ctx, cat)
}

// Health merges run metrics with store reachability and item counts.
func (a *App) Health(ctx context.Context) (map[string]interface{}, bool) {
	stats := a.metrics.GetStats()
	healthy, _ := stats["is_healthy"].(bool)

	if err := a.store.Ping(ctx); err != nil {
		stats["store_error"] = err.Error()
		return stats, false
	}
	counts, err := a.store.Stats(ctx)
	if err != nil {
		stats["store_error"] = err.Error()
		return stats, false
	}
	stats["store"] = counts
	stats["cache_entries"] = a.cache.Len()
	if last := a.reranker.LastRun(); !last.IsZero() {
		stats["last_rerank"] = last
	}
	return stats, healthy
}

// Scheduler returns the periodic jobs of the serve mode.
func (a *App) Scheduler() *Scheduler {
	return NewScheduler(a.log.WithField("component", "scheduler"),
		Job{Name: "pipeline", Interval: a.cfg.PipelineInterval, Immediate: true, Run: func(ctx context.Context) error {
			_, err := a.RunPipeline(ctx)
			return err
		}},
		Job{Name: "rerank", Interval: a.cfg.RerankInterval, Run: func(ctx context.Context) error {
			_, err := a.Rerank(ctx, false)
			return err
		}},
		Job{Name: "categories", Interval: a.cfg.CategoryInterval, Run: func(ctx context.Context) error {
			_, err := a.CurateCategories(ctx)
			return err
		}},
	)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Summary renders a report as log fields.
func (r Report) Summary() logrus.Fields {
	f := logrus.Fields{
		"fetched":  r.Fetched,
		"relevant": r.Filtered.Output,
		"selected": r.Selected,
		"curated":  len(r.Curated.Items),
		"by_tier":  fmt.Sprint(r.Curated.ByTier),
		"inserted": r.Curated.Inserted,
		"evicted":  r.Curated.Evicted,
	}
	if r.Aborted != "" {
		f["aborted"] = r.Aborted
	}
	return f
}
