package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/curator"
	"github.com/deusflow/curator/internal/metrics"
	"github.com/deusflow/curator/internal/news"
)

type Fetcher interface {
	Fetch(ctx context.Context, queries []string) ([]news.RawCandidate, error)
}

type Filter interface {
	Apply(cands []news.RawCandidate) ([]news.RawCandidate, news.FilterStats)
}

type Selector interface {
	Select(ctx context.Context, cands []news.ScoredCandidate, k int) ([]news.ScoredCandidate, error)
}

type Retainer interface {
	Run(ctx context.Context, selected []news.ScoredCandidate) (curator.Result, error)
}

// Report summarises one pipeline run. Aborted is set when a stage produced nothing
// and the store was left untouched.
type Report struct {
	Fetched  int
	Filtered news.FilterStats
	Selected int
	Curated  curator.Result
	Aborted  string
	Duration time.Duration
}

// Pipeline runs fetch, filter, select and retain as one sequential job.
type Pipeline struct {
	fetcher  Fetcher
	filter   Filter
	selector Selector
	retainer Retainer
	queries  []string
	target   int
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

func NewPipeline(f Fetcher, flt Filter, sel Selector, ret Retainer, queries []string, target int, m *metrics.Metrics, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{fetcher: f, filter: flt, selector: sel, retainer: ret, queries: queries, target: target, metrics: m, log: log}
}

func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	rep, err := p.run(ctx)
	rep.Duration = time.Since(start)
	p.metrics.RecordProcessingTime(rep.Duration)

	fields := logrus.Fields{
		"fetched":  rep.Fetched,
		"relevant": rep.Filtered.Output,
		"selected": rep.Selected,
		"items":    len(rep.Curated.Items),
		"inserted": rep.Curated.Inserted,
		"duration": rep.Duration.String(),
	}
	if err != nil {
		p.metrics.SetError(err.Error())
		p.log.WithFields(fields).WithError(err).Error("pipeline run failed")
		return rep, err
	}
	p.metrics.SetLastRun()
	if rep.Aborted != "" {
		fields["reason"] = rep.Aborted
		p.log.WithFields(fields).Warn("pipeline run aborted, keeping stored content")
		return rep, nil
	}
	p.log.WithFields(fields).Info("pipeline run finished")
	return rep, nil
}

func (p *Pipeline) run(ctx context.Context) (Report, error) {
	var rep Report

	raw, err := p.fetcher.Fetch(ctx, p.queries)
	if err != nil {
		return rep, fmt.Errorf("fetch: %w", err)
	}
	rep.Fetched = len(raw)
	p.metrics.AddFetched(len(raw))
	if len(raw) == 0 {
		rep.Aborted = "no candidates fetched"
		return rep, nil
	}

	relevant, stats := p.filter.Apply(raw)
	rep.Filtered = stats
	p.metrics.AddFiltered("irrelevant", stats.Irrelevant)
	p.metrics.AddFiltered("duplicate", stats.Duplicates)
	p.metrics.AddFiltered("trimmed", stats.Trimmed)
	if len(relevant) == 0 {
		rep.Aborted = "no relevant candidates"
		return rep, nil
	}

	cands := make([]news.ScoredCandidate, len(relevant))
	for i, c := range relevant {
		cands[i] = news.ScoredCandidate{RawCandidate: c, Category: news.CategoryNews}
	}
	selected, err := p.selector.Select(ctx, cands, p.target)
	if err != nil {
		return rep, fmt.Errorf("select: %w", err)
	}
	rep.Selected = len(selected)

	res, err := p.retainer.Run(ctx, selected)
	rep.Curated = res
	if errors.Is(err, curator.ErrNothingToCurate) {
		rep.Aborted = "nothing selected"
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("retain: %w", err)
	}
	return rep, nil
}
