// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package scheduler

import (
	"sync"
	"time"
)

// stageHealth tracks consecutive degraded evaluations for one stage. A
// stage is considered failing once the streak reaches the configured
// threshold; any clean evaluation resets it.
type stageHealth struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
	lastFailure time.Time
	nowFunc     func() time.Time // for testing
}

func newStageHealth(threshold int) *stageHealth {
	return &stageHealth{
		threshold: threshold,
		nowFunc:   time.Now,
	}
}

// recordFailure increments the streak and reports whether it just
// crossed the threshold. Subsequent failures past the threshold report
// false so the caller pauses at most once per streak.
func (h *stageHealth) recordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive++
	h.lastFailure = h.nowFunc()
	return h.consecutive == h.threshold
}

// recordSuccess resets the streak.
func (h *stageHealth) recordSuccess() {
	h.mu.Lock()
	h.consecutive = 0
	h.mu.Unlock()
}

// streak returns the current consecutive failure count.
func (h *stageHealth) streak() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive
}
