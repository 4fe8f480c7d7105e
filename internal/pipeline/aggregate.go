// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package pipeline

import (
	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/pkg/types"
)

// Aggregator resolves one or more stage verdicts for a message into a
// FinalDecision. With short-circuit in place there is typically a single
// verdict, but the tie-break policy is defined for extensions that allow
// several: higher severity wins; on equal severity, the stage earlier in
// pipeline order wins, because earlier stages are cheaper deterministic
// signals. The aggregator never invents an action absent from its inputs.
type Aggregator struct {
	order map[types.StageID]int
}

// NewAggregator captures the pipeline order used for tie-breaking.
func NewAggregator(stages []Stage) *Aggregator {
	order := make(map[types.StageID]int, len(stages))
	for i, s := range stages {
		order[s.ID()] = i
	}
	return &Aggregator{order: order}
}

// Decide picks the winning verdict and shapes the FinalDecision. A set
// with no decisive verdict yields the explicit no-action decision.
func (a *Aggregator) Decide(env *moderation.MessageEnvelope, verdicts []*moderation.StageVerdict, evaluated []types.StageID) *moderation.FinalDecision {
	var best *moderation.StageVerdict
	for _, v := range verdicts {
		if !v.Decisive() {
			continue
		}
		if best == nil || a.better(v, best) {
			best = v
		}
	}

	if best == nil {
		return moderation.NoAction(env, evaluated)
	}

	return &moderation.FinalDecision{
		Action:    best.Action,
		RuleID:    best.RuleID,
		Stage:     best.Stage,
		Reason:    best.Reason,
		ChatID:    env.ChatID,
		UserID:    env.UserID,
		MessageID: env.MessageID,
		Verdict:   best,
		Evaluated: evaluated,
	}
}

func (a *Aggregator) better(candidate, current *moderation.StageVerdict) bool {
	if candidate.Severity != current.Severity {
		return candidate.Severity > current.Severity
	}
	return a.order[candidate.Stage] < a.order[current.Stage]
}
