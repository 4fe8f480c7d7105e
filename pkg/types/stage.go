// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package types

import "strings"

// StageID identifies one detector stage in the moderation pipeline.
type StageID string

const (
	// StagePattern is the CPU-bound compiled-pattern detector.
	StagePattern StageID = "pattern"
	// StageClassifier is the external moderation-classification detector.
	StageClassifier StageID = "classifier"
	// StageContextual is the contextual-reasoning detector.
	StageContextual StageID = "contextual"
)

// Valid reports whether the stage ID names a known detector.
func (s StageID) Valid() bool {
	switch s {
	case StagePattern, StageClassifier, StageContextual:
		return true
	default:
		return false
	}
}

// ParseStageID parses a case-insensitive string into a StageID.
func ParseStageID(s string) (StageID, bool) {
	id := StageID(strings.ToLower(strings.TrimSpace(s)))
	if !id.Valid() {
		return "", false
	}
	return id, true
}

// StageStatus is the runtime state of a detector stage. Transitions are
// owned exclusively by the scheduler; the pipeline only reads it.
type StageStatus string

const (
	// StageWarming means the stage accepts configuration but is not yet
	// serving evaluations.
	StageWarming StageStatus = "warming"
	// StageActive means the stage participates in pipeline passes.
	StageActive StageStatus = "active"
	// StagePaused means the stage is skipped entirely; it contributes no
	// verdict, not even a fallback.
	StagePaused StageStatus = "paused"
)

// ExecutionDiscipline declares how a stage's Evaluate runs: on the bounded
// CPU worker pool, or under a per-stage I/O admission gate.
type ExecutionDiscipline string

const (
	DisciplineCPU ExecutionDiscipline = "cpu"
	DisciplineIO  ExecutionDiscipline = "io"
)

// Source tags which media channel produced a stage verdict.
type Source string

const (
	SourceText  Source = "text"
	SourceImage Source = "image"
)
