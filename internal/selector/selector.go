// Package selector chooses the best K candidates with an external ranking model and
// falls back to the deterministic keyword scorer.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/metrics"
	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/ratelimit"
	"github.com/deusflow/curator/internal/retry"
)

// ErrNoUsableIDs means the ranker replied without a single valid candidate id.
var ErrNoUsableIDs = errors.New("selector: no usable ids in ranking reply")

// Path names how a selection was produced.
type Path string

const (
	PathAI       Path = "ai"
	PathAITopUp  Path = "ai_topup"
	PathFallback Path = "fallback"
)

type Options struct {
	MaxCandidates int
	MaxAttempts   int
	Backoff       time.Duration
}

type Selector struct {
	ranker  Ranker
	scorer  *news.Scorer
	budget  *ratelimit.Budget
	opts    Options
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// New builds a selector. A nil ranker always uses the deterministic scorer.
func New(ranker Ranker, scorer *news.Scorer, budget *ratelimit.Budget, opts Options, m *metrics.Metrics, log logrus.FieldLogger) *Selector {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 100
	}
	if opts.MaxAttempts <= 0 || opts.MaxAttempts > 3 {
		opts.MaxAttempts = 3
	}
	if scorer == nil {
		scorer = news.NewScorer(nil)
	}
	return &Selector{ranker: ranker, scorer: scorer, budget: budget, opts: opts, metrics: m, log: log}
}

// Select returns at most k candidates in canonical order; Score never increases
// along the result. The only error is a cancelled context.
func (s *Selector) Select(ctx context.Context, cands []news.ScoredCandidate, k int) ([]news.ScoredCandidate, error) {
	if len(cands) == 0 || k <= 0 {
		return nil, nil
	}

	pool := s.scorer.Rank(cands)
	if len(pool) > s.opts.MaxCandidates {
		pool = pool[:s.opts.MaxCandidates]
	}

	ids, err := s.askRanker(ctx, pool, k)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil || len(ids) == 0 {
		fields := logrus.Fields{"candidates": len(pool), "k": k}
		if err != nil {
			fields["error"] = err
		}
		s.log.WithFields(fields).Warn("ranking unavailable, using keyword scorer")
		s.metrics.IncSelectorPath(string(PathFallback))
		return head(pool, k), nil
	}

	out := make([]news.ScoredCandidate, 0, min(k, len(pool)))
	chosen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if len(out) == k {
			break
		}
		out = append(out, pool[id-1])
		chosen[id] = struct{}{}
	}

	path := PathAI
	for i := 0; len(out) < k && i < len(pool); i++ {
		if _, ok := chosen[i+1]; ok {
			continue
		}
		out = append(out, pool[i])
		path = PathAITopUp
	}

	for i := range out {
		out[i].Score = float64(len(out) - i)
	}

	s.log.WithFields(logrus.Fields{"path": path, "ai_ids": len(ids), "selected": len(out)}).Info("selection finished")
	s.metrics.IncSelectorPath(string(path))
	return out, nil
}

func (s *Selector) askRanker(ctx context.Context, pool []news.ScoredCandidate, k int) ([]int, error) {
	if s.ranker == nil {
		return nil, nil
	}
	if err := s.budget.Use(s.ranker.Name()); err != nil {
		return nil, err
	}

	target := min(k, len(pool))
	req := RankRequest{
		Instruction: fmt.Sprintf(Instruction, target, target),
		Candidates:  make([]CandidateSummary, len(pool)),
		Target:      target,
	}
	for i, c := range pool {
		req.Candidates[i] = CandidateSummary{
			ID:          i + 1,
			Title:       c.Title,
			Description: c.Description,
			Source:      c.SourceName,
			Category:    categoryLabel(c),
			Published:   c.PublishedAt,
		}
	}

	var reply string
	err := retry.WithRetry(ctx, retry.RetryConfig{
		MaxAttempts: s.opts.MaxAttempts,
		Delay:       s.opts.Backoff,
	}, s.log.WithField("ranker", s.ranker.Name()), func(ctx context.Context) error {
		r, err := s.ranker.Rank(ctx, req)
		if err != nil {
			return err
		}
		reply = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s ranking: %w", s.ranker.Name(), err)
	}
	ids := ParseIDs(reply, len(pool))
	if len(ids) == 0 {
		return nil, ErrNoUsableIDs
	}
	return ids, nil
}

func categoryLabel(c news.ScoredCandidate) string {
	if c.Topic != "" {
		return c.Topic
	}
	if c.Category != "" {
		return string(c.Category)
	}
	return "general"
}

func head(cands []news.ScoredCandidate, k int) []news.ScoredCandidate {
	if len(cands) > k {
		cands = cands[:k]
	}
	return append([]news.ScoredCandidate(nil), cands...)
}
