package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrBudgetExceeded is returned by Budget.Use once the daily allowance is spent.
var ErrBudgetExceeded = fmt.Errorf("daily request budget exceeded")

// Budget counts requests per provider and resets every 24 hours.
type Budget struct {
	mu        sync.Mutex
	limits    map[string]int // 0 = unlimited
	used      map[string]int
	maxTotal  int
	total     int
	resetTime time.Time
	now       func() time.Time
}

// NewBudget creates a budget. A nil now uses time.Now.
func NewBudget(limits map[string]int, maxTotal int, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	b := &Budget{
		limits:   make(map[string]int, len(limits)),
		used:     make(map[string]int),
		maxTotal: maxTotal,
		now:      now,
	}
	for k, v := range limits {
		b.limits[k] = v
	}
	b.resetTime = now().Add(24 * time.Hour)
	return b
}

// Use records one request for provider, or fails without recording it.
func (b *Budget) Use(provider string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if limit := b.limits[provider]; limit > 0 && b.used[provider] >= limit {
		return fmt.Errorf("%s: %w (%d/%d)", provider, ErrBudgetExceeded, b.used[provider], limit)
	}
	if b.maxTotal > 0 && b.total >= b.maxTotal {
		return fmt.Errorf("total: %w (%d/%d)", ErrBudgetExceeded, b.total, b.maxTotal)
	}

	b.used[provider]++
	b.total++
	return nil
}

// GetStats returns current usage per provider.
func (b *Budget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[string]interface{}{
		"total_used":  b.total,
		"total_limit": b.maxTotal,
		"reset_time":  b.resetTime,
	}
	for p, n := range b.used {
		stats[p+"_used"] = n
		stats[p+"_limit"] = b.limits[p]
	}
	return stats
}

// checkReset resets counters if reset time has passed
func (b *Budget) checkReset() {
	if b.now().After(b.resetTime) {
		b.used = make(map[string]int)
		b.total = 0
		b.resetTime = b.now().Add(24 * time.Hour)
	}
}

// Pacer spaces out sequential calls by a fixed delay. The first call is not delayed.
type Pacer struct {
	limiter *rate.Limiter
}

func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next call may start.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
