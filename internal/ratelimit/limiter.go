// Package ratelimit implements the coordinator ("coach") that keeps the
// outbound request rate under the exchange-imposed ceiling.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Coordinator is a blocking gate passed before every outbound network
// operation, HTTP call or socket subscribe send alike. One coordinator is
// shared by the dispatch path and the feed of a client instance so both
// draw from the same budget.
type Coordinator struct {
	limiter *rate.Limiter
	metrics *Metrics
}

// Metrics tracks statistics about coordinator usage.
type Metrics struct {
	totalWaits   atomic.Int64
	clearedWaits atomic.Int64
	abortedWaits atomic.Int64
}

// New creates a Coordinator allowing the specified number of requests per
// period, with a burst of the full request allowance.
func New(requests int, period time.Duration) *Coordinator {
	rps := float64(requests) / period.Seconds()
	return &Coordinator{
		limiter: rate.NewLimiter(rate.Limit(rps), requests),
		metrics: &Metrics{},
	}
}

// Wait blocks the calling goroutine until it is safe to issue one request,
// or until the context is cancelled. May block arbitrarily long; callers
// treat it as a suspension point, not a fast call.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.metrics.totalWaits.Add(1)
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.abortedWaits.Add(1)
		return err
	}
	c.metrics.clearedWaits.Add(1)
	return nil
}

// Allow reports whether one request may proceed immediately, consuming a
// slot when it may.
func (c *Coordinator) Allow() bool {
	c.metrics.totalWaits.Add(1)
	if c.limiter.Allow() {
		c.metrics.clearedWaits.Add(1)
		return true
	}
	c.metrics.abortedWaits.Add(1)
	return false
}

// SetLimit updates the ceiling to the specified requests per period.
func (c *Coordinator) SetLimit(requests int, period time.Duration) {
	rps := float64(requests) / period.Seconds()
	c.limiter.SetLimit(rate.Limit(rps))
	c.limiter.SetBurst(requests)
}

// Snapshot returns a point-in-time capture of coordinator statistics.
func (c *Coordinator) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalWaits:   c.metrics.totalWaits.Load(),
		ClearedWaits: c.metrics.clearedWaits.Load(),
		AbortedWaits: c.metrics.abortedWaits.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of coordinator statistics.
type MetricsSnapshot struct {
	// TotalWaits is the number of gate passes requested.
	TotalWaits int64
	// ClearedWaits is the number of passes that cleared the gate.
	ClearedWaits int64
	// AbortedWaits is the number of passes denied or cancelled.
	AbortedWaits int64
}
