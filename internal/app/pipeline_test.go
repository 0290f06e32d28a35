package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/curator/internal/curator"
	"github.com/deusflow/curator/internal/metrics"
	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/source"
)

type stubFetcher struct {
	cands []news.RawCandidate
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, _ []string) ([]news.RawCandidate, error) {
	f.calls++
	return f.cands, f.err
}

type passFilter struct{ drop int }

func (f passFilter) Apply(cands []news.RawCandidate) ([]news.RawCandidate, news.FilterStats) {
	var out []news.RawCandidate
	if f.drop < len(cands) {
		out = cands[f.drop:]
	}
	return out, news.FilterStats{Input: len(cands), Irrelevant: len(cands) - len(out), Output: len(out)}
}

type headSelector struct{ gotK int }

func (s *headSelector) Select(_ context.Context, cands []news.ScoredCandidate, k int) ([]news.ScoredCandidate, error) {
	s.gotK = k
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands, nil
}

type recordingRetainer struct {
	got   []news.ScoredCandidate
	calls int
	err   error
}

func (r *recordingRetainer) Run(_ context.Context, selected []news.ScoredCandidate) (curator.Result, error) {
	r.calls++
	r.got = selected
	if len(selected) == 0 {
		return curator.Result{}, curator.ErrNothingToCurate
	}
	items := make([]news.Item, len(selected))
	for i, c := range selected {
		items[i] = news.Item{Title: c.Title, Category: c.Category}
	}
	return curator.Result{Items: items, Inserted: len(items)}, r.err
}

func rawCandidates(n int) []news.RawCandidate {
	out := make([]news.RawCandidate, n)
	for i := range out {
		out[i] = news.RawCandidate{
			Title:       "AI tutors in classrooms " + string(rune('A'+i)),
			URL:         "https://example.com/" + string(rune('a'+i)),
			SourceName:  "Example",
			PublishedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func newTestPipeline(f Fetcher, flt Filter, sel Selector, ret Retainer) *Pipeline {
	log, _ := test.NewNullLogger()
	return NewPipeline(f, flt, sel, ret, []string{"ai"}, 3, metrics.New(nil), log)
}

func TestPipelineRunsAllStages(t *testing.T) {
	sel := &headSelector{}
	ret := &recordingRetainer{}
	p := newTestPipeline(&stubFetcher{cands: rawCandidates(6)}, passFilter{drop: 1}, sel, ret)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Fetched)
	assert.Equal(t, 5, rep.Filtered.Output)
	assert.Equal(t, 3, rep.Selected)
	assert.Equal(t, 3, sel.gotK)
	assert.Empty(t, rep.Aborted)
	require.Len(t, ret.got, 3)
	for _, c := range ret.got {
		assert.Equal(t, news.CategoryNews, c.Category)
	}
	assert.Len(t, rep.Curated.Items, 3)
}

func TestPipelineEmptyFetchLeavesStoreUntouched(t *testing.T) {
	ret := &recordingRetainer{}
	p := newTestPipeline(&stubFetcher{}, passFilter{}, &headSelector{}, ret)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no candidates fetched", rep.Aborted)
	assert.Zero(t, ret.calls)
}

func TestPipelineNothingRelevant(t *testing.T) {
	ret := &recordingRetainer{}
	p := newTestPipeline(&stubFetcher{cands: rawCandidates(2)}, passFilter{drop: 5}, &headSelector{}, ret)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no relevant candidates", rep.Aborted)
	assert.Equal(t, 2, rep.Filtered.Irrelevant)
	assert.Zero(t, ret.calls)
}

func TestPipelineUnauthorizedFails(t *testing.T) {
	m := metrics.New(nil)
	log, _ := test.NewNullLogger()
	ret := &recordingRetainer{}
	p := NewPipeline(&stubFetcher{err: source.ErrUnauthorized}, passFilter{}, &headSelector{}, ret, nil, 3, m, log)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, source.ErrUnauthorized)
	assert.Zero(t, ret.calls)
	assert.Equal(t, false, m.GetStats()["is_healthy"])
}

func TestPipelineRetainError(t *testing.T) {
	ret := &recordingRetainer{err: errors.New("db down")}
	p := newTestPipeline(&stubFetcher{cands: rawCandidates(4)}, passFilter{}, &headSelector{}, ret)

	_, err := p.Run(context.Background())
	assert.ErrorContains(t, err, "retain: db down")
}

func TestPipelineNothingSelected(t *testing.T) {
	ret := &recordingRetainer{}
	p := newTestPipeline(&stubFetcher{cands: rawCandidates(4)}, passFilter{}, emptySelector{}, ret)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nothing selected", rep.Aborted)
	assert.Equal(t, 1, ret.calls)
}

type emptySelector struct{}

func (emptySelector) Select(context.Context, []news.ScoredCandidate, int) ([]news.ScoredCandidate, error) {
	return nil, nil
}
