package rerank

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/curator/internal/news"
)

type flagStore struct {
	mu       sync.Mutex
	snaps    []news.Engagement
	featured []string
	trending []string
	sets     int
	err      error
	block    chan struct{}
}

func (s *flagStore) Engagement(ctx context.Context) ([]news.Engagement, error) {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.snaps, nil
}

func (s *flagStore) SetFlags(_ context.Context, featured, trending []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.featured, s.trending = featured, trending
	s.sets++
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time         { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func snapshots() []news.Engagement {
	return []news.Engagement{
		{ItemID: "a", Likes: 10, CreatedAt: base},
		{ItemID: "b", Comments: 3, CreatedAt: base},
		{ItemID: "c", Shares: 2, Saves: 1, CreatedAt: base},
		{ItemID: "d", Likes: 1, CreatedAt: base},
		{ItemID: "e", CreatedAt: base.Add(time.Hour)},
		{ItemID: "f", CreatedAt: base},
		{ItemID: "g", Saves: 4, CreatedAt: base},
	}
}

func newReranker(store Store, c *clock) *Reranker {
	log, _ := test.NewNullLogger()
	return New(store, Options{Now: c.Now}, nil, log)
}

func TestRunFlagsTopItems(t *testing.T) {
	store := &flagStore{snaps: snapshots()}
	r := newReranker(store, &clock{t: base})

	res, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, res.Skipped)
	assert.Equal(t, []string{"b", "a", "c"}, store.featured)
	assert.Equal(t, []string{"b", "a", "c", "g", "d"}, store.trending)
}

func TestRunIsPureFunctionOfCounters(t *testing.T) {
	store := &flagStore{snaps: snapshots()}
	c := &clock{t: base}
	r := newReranker(store, c)

	_, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	featured, trending := store.featured, store.trending

	c.Advance(time.Hour)
	_, err = r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, featured, store.featured)
	assert.Equal(t, trending, store.trending)
}

func TestRunThrottles(t *testing.T) {
	store := &flagStore{snaps: snapshots()}
	c := &clock{t: base}
	r := newReranker(store, c)

	_, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	c.Advance(4 * time.Minute)
	res, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Skipped, ErrThrottled)
	assert.Equal(t, 1, store.sets)

	res, err = r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Nil(t, res.Skipped)
	assert.Equal(t, 2, store.sets)

	c.Advance(5 * time.Minute)
	res, err = r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, res.Skipped)
	assert.Equal(t, 3, store.sets)
}

func TestRunFailureDoesNotStartWindow(t *testing.T) {
	store := &flagStore{err: errors.New("db down")}
	c := &clock{t: base}
	r := newReranker(store, c)

	_, err := r.Run(context.Background(), false)
	require.Error(t, err)
	assert.True(t, r.LastRun().IsZero())

	store.err = nil
	store.snaps = snapshots()
	res, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, res.Skipped)
}

func TestConcurrentRunIsNoop(t *testing.T) {
	store := &flagStore{snaps: snapshots(), block: make(chan struct{})}
	r := newReranker(store, &clock{t: base})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.running
	}, time.Second, time.Millisecond)

	res, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Skipped, ErrThrottled)

	close(store.block)
	<-done
	assert.Equal(t, 1, store.sets)
}

func TestRankTieBreaks(t *testing.T) {
	ranked := Rank([]news.Engagement{
		{ItemID: "z", Likes: 1, CreatedAt: base},
		{ItemID: "y", Likes: 1, CreatedAt: base},
		{ItemID: "x", Likes: 1, CreatedAt: base.Add(time.Minute)},
	}, DefaultWeights)

	got := []string{ranked[0].ItemID, ranked[1].ItemID, ranked[2].ItemID}
	assert.Equal(t, []string{"x", "y", "z"}, got)
}
