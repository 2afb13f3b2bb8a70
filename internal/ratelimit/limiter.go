package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles outgoing exchange requests. A global limiter covers
// every call; named buckets allow slower limits for specific endpoint
// groups (the trading endpoints of most exchanges are metered separately
// from market data).
type Limiter struct {
	mu      sync.RWMutex
	global  *rate.Limiter
	buckets map[string]*rate.Limiter

	waited atomic.Int64
	denied atomic.Int64
}

// New creates a Limiter with the given sustained rate and burst size.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		global:  rate.NewLimiter(rate.Limit(rps), burst),
		buckets: make(map[string]*rate.Limiter),
	}
}

// NewPerPeriod creates a Limiter allowing the given number of requests per
// period, with the full allowance available as burst.
func NewPerPeriod(requests int, period time.Duration) *Limiter {
	return New(float64(requests)/period.Seconds(), requests)
}

// Wait blocks until the global limiter admits a request or the context is
// cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.global.Wait(ctx); err != nil {
		l.denied.Add(1)
		return err
	}
	l.waited.Add(1)
	return nil
}

// WaitBucket blocks on both the named bucket and the global limiter. An
// unknown bucket falls back to the global limit alone.
func (l *Limiter) WaitBucket(ctx context.Context, bucket string) error {
	l.mu.RLock()
	limiter, ok := l.buckets[bucket]
	l.mu.RUnlock()

	if ok {
		if err := limiter.Wait(ctx); err != nil {
			l.denied.Add(1)
			return err
		}
	}
	return l.Wait(ctx)
}

// Allow reports whether the global limiter admits a request immediately.
func (l *Limiter) Allow() bool {
	if l.global.Allow() {
		l.waited.Add(1)
		return true
	}
	l.denied.Add(1)
	return false
}

// SetBucket configures a named bucket with its own sustained rate.
func (l *Limiter) SetBucket(bucket string, rps float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	l.buckets[bucket] = rate.NewLimiter(rate.Limit(rps), burst)
	l.mu.Unlock()
}

// SetLimit updates the global sustained rate.
func (l *Limiter) SetLimit(rps float64, burst int) {
	l.global.SetLimit(rate.Limit(rps))
	if burst >= 1 {
		l.global.SetBurst(burst)
	}
}

// Stats is a point-in-time capture of limiter activity.
type Stats struct {
	// Admitted is the number of requests that passed the limiter.
	Admitted int64
	// Denied is the number of requests rejected or cancelled while waiting.
	Denied int64
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	return Stats{
		Admitted: l.waited.Load(),
		Denied:   l.denied.Load(),
	}
}
