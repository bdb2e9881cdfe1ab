package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// bucket is a fixed-window token bucket: capacity tokens refill fully once
// period has elapsed since the last refill.
type bucket struct {
	mu         sync.Mutex
	capacity   int
	period     time.Duration
	tokens     int
	lastRefill time.Time
}

func (b *bucket) acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.lastRefill)
		if elapsed >= b.period {
			b.tokens = b.capacity
			b.lastRefill = now
			elapsed = 0
		}

		if b.tokens > 0 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}

		wait := b.period - elapsed
		b.mu.Unlock()

		// Window is exhausted; sleep until it resets, then re-check under
		// the lock. Wakers race for the fresh window, which is fine: the
		// only property required is never exceeding capacity per period.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Gate provides per-marketplace admission control for external API calls.
// Each marketplace tag has its own independently configured bucket; token
// state is process-local and reconstructed full on restart.
type Gate struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	// defaults for tags configured lazily
	defaultCapacity int
	defaultPeriod   time.Duration
}

// NewGate creates an empty gate with fallback limits for unknown tags
func NewGate(defaultCapacity int, defaultPeriod time.Duration) *Gate {
	return &Gate{
		buckets:         make(map[string]*bucket),
		defaultCapacity: defaultCapacity,
		defaultPeriod:   defaultPeriod,
	}
}

// Configure sets the allowance for one marketplace tag
func (g *Gate) Configure(tag string, capacity int, period time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.buckets[tag] = &bucket{
		capacity:   capacity,
		period:     period,
		tokens:     capacity,
		lastRefill: time.Now(),
	}

	log.Info().
		Str("marketplace", tag).
		Int("capacity", capacity).
		Dur("period", period).
		Msg("Configured rate gate")
}

func (g *Gate) bucketFor(tag string) *bucket {
	g.mu.RLock()
	b, ok := g.buckets[tag]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.buckets[tag]; ok {
		return b
	}
	b = &bucket{
		capacity:   g.defaultCapacity,
		period:     g.defaultPeriod,
		tokens:     g.defaultCapacity,
		lastRefill: time.Now(),
	}
	g.buckets[tag] = b
	return b
}

// Acquire blocks until the caller may issue one external call for the given
// marketplace without exceeding its quota. Returns early with the context's
// error if it is cancelled while waiting.
func (g *Gate) Acquire(ctx context.Context, tag string) error {
	return g.bucketFor(tag).acquire(ctx)
}
