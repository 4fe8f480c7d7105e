// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package detector holds the shared admission gate for I/O-bound stages.
// Each stage owns its own gate, so a slow external dependency throttles
// only that stage.
package detector

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate bounds concurrent external calls for one stage and applies an
// optional client-side rate limit and a per-call deadline.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
}

// GateConfig sizes a Gate. Zero RPS disables the rate limiter.
type GateConfig struct {
	Concurrency int64
	RPS         float64
	Burst       int
	Timeout     time.Duration
}

// NewGate builds a Gate from the configuration, falling back to sane
// bounds for unset values.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	g := &Gate{
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		timeout: cfg.Timeout,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return g
}

// Do runs fn under the admission limit with the per-call deadline
// applied. Acquisition waits respect the caller's context.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(callCtx)
}
