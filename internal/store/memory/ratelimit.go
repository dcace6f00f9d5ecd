package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// RateLimiter is a single-process sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu   sync.Mutex
	clk  clock.Clock
	hits map[string][]time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter(clk clock.Clock) *RateLimiter {
	return &RateLimiter{clk: clk, hits: make(map[string][]time.Time)}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := rl.clk.Now()
	floor := now.Add(-window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	hits := rl.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(floor) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= limit {
		rl.hits[key] = hits
		return false, nil
	}
	rl.hits[key] = append(hits, now)
	return true, nil
}
