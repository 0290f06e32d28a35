package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFakeCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(0, WithClock(clock.Now)), clock
}

func TestGetAfterExpiryIsMiss(t *testing.T) {
	c := New(0)
	defer c.Close()

	c.Set("k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be deleted on access")
}

func TestSetOverwrites(t *testing.T) {
	c, clock := newFakeCache()

	c.Set("k", 1, time.Minute)
	c.Set("k", 2, time.Hour)
	clock.Advance(2 * time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestGetOrSetCachesSuccessOnly(t *testing.T) {
	c, clock := newFakeCache()
	ctx := context.Background()
	calls := 0

	failing := func(context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("db down")
	}
	_, err := c.GetOrSet(ctx, "k", time.Minute, failing)
	require.Error(t, err)
	_, ok := c.Get("k")
	assert.False(t, ok, "failed computation must not be cached")

	ok1 := func(context.Context) (interface{}, error) {
		calls++
		return "fresh", nil
	}
	v, err := c.GetOrSet(ctx, "k", time.Minute, ok1)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	v, err = c.GetOrSet(ctx, "k", time.Minute, ok1)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, 2, calls)

	clock.Advance(time.Minute)
	_, err = c.GetOrSet(ctx, "k", time.Minute, ok1)
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "expired entry should be recomputed")
}

func TestGetOrSetSharesConcurrentComputation(t *testing.T) {
	c, _ := newFakeCache()
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrSetTyped(context.Background(), c, "shared", time.Minute, func(context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestGetOrSetOutlivesCancelledCaller(t *testing.T) {
	c, _ := newFakeCache()
	started := make(chan struct{})
	release := make(chan struct{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrSet(leaderCtx, "k", time.Minute, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return "shared", ctx.Err()
		})
		leaderErr <- err
	}()

	<-started
	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	type result struct {
		v   interface{}
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := c.GetOrSet(context.Background(), "k", time.Minute, func(context.Context) (interface{}, error) {
			return "recomputed", nil
		})
		follower <- result{v, err}
	}()
	close(release)

	res := <-follower
	require.NoError(t, res.err)
	assert.Equal(t, "shared", res.v)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "shared", v)
}

func TestInvalidatePattern(t *testing.T) {
	c, _ := newFakeCache()
	c.Set("feed:u1:mixed:initial", 1, time.Minute)
	c.Set("feed:u2:chronological:initial", 2, time.Minute)
	c.Set("trending:24h:10", 3, time.Minute)

	n := c.InvalidatePattern("feed:")
	assert.Equal(t, 2, n)
	_, ok := c.Get("trending:24h:10")
	assert.True(t, ok)
	_, ok = c.Get("feed:u1:mixed:initial")
	assert.False(t, ok)
}

func TestCleanupPurgesUnaccessedEntries(t *testing.T) {
	c, clock := newFakeCache()
	c.Set("old", 1, time.Second)
	c.Set("new", 2, time.Hour)

	clock.Advance(time.Minute)
	c.cleanup()

	assert.Equal(t, 1, c.Len())
}

func TestSweepLoopRuns(t *testing.T) {
	c := New(5 * time.Millisecond)
	defer c.Close()

	c.Set("k", 1, time.Millisecond)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHooks(t *testing.T) {
	var hits, misses int
	c := New(0, WithHooks(Hooks{
		OnHit:  func(string) { hits++ },
		OnMiss: func(string) { misses++ },
	}))
	c.Get("absent")
	c.Set("k", 1, time.Minute)
	c.Get("k")

	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}
