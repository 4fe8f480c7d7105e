// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package pipeline runs batches of messages through the ordered detector
// stages with per-message short-circuit, and aggregates stage verdicts
// into final decisions.
package pipeline

import (
	"context"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/pkg/types"
)

// Stage is the uniform detector contract. Implementations declare their
// execution discipline and enforce it internally: CPU-bound stages run
// matching on their own bounded worker pool; I/O-bound stages gate
// external calls behind a per-stage admission limit and deadline.
//
// Evaluate returns a fallback (none-action) verdict for expected failure
// modes (timeout, malformed external response, invalid rule match),
// never an error. Errors are reserved for unexpected failures and are
// converted to fallbacks at the pipeline boundary, so a single stage can
// never block batch progress.
type Stage interface {
	ID() types.StageID
	Discipline() types.ExecutionDiscipline

	// Warmup performs one-time preparation, such as compiling patterns or
	// priming a client. A stage whose warmup fails starts paused.
	Warmup(ctx context.Context) error

	// Evaluate resolves the message's text and image sources into at most
	// one verdict. A nil verdict means "nothing to say" and is treated as
	// no action.
	Evaluate(ctx context.Context, env *moderation.MessageEnvelope, effective []*rules.Rule) (*moderation.StageVerdict, error)
}

// ActiveSet is the stage availability snapshot the scheduler hands the
// pipeline per batch. Absent stages are skipped entirely: no verdict, not
// even a fallback.
type ActiveSet map[types.StageID]bool

// Contains reports whether the stage participates in this pass.
func (s ActiveSet) Contains(id types.StageID) bool {
	if s == nil {
		return true
	}
	return s[id]
}
