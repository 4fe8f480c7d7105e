// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/pkg/types"
)

// HealthObserver receives per-evaluation health signals. The scheduler
// uses them to pause stages that degrade repeatedly.
type HealthObserver interface {
	StageDegraded(id types.StageID, reason string)
	StageRecovered(id types.StageID)
}

// Pipeline evaluates batches against a fixed, configuration-ordered stage
// sequence. Stage order is identical for every batch; messages within a
// batch are evaluated independently and may complete in any order.
type Pipeline struct {
	stages     []Stage
	registry   *rules.Registry
	aggregator *Aggregator
	observer   HealthObserver
	logger     *slog.Logger
}

// New builds a Pipeline over the given stages. Order is fixed at
// construction; stage identity never changes at runtime.
func New(stages []Stage, registry *rules.Registry) *Pipeline {
	return &Pipeline{
		stages:     stages,
		registry:   registry,
		aggregator: NewAggregator(stages),
		logger:     slog.With("component", "pipeline"),
	}
}

// SetObserver attaches a health observer. Must be called before Process.
func (p *Pipeline) SetObserver(obs HealthObserver) {
	p.observer = obs
}

// Stages returns the configured stage sequence in pipeline order.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Process runs every message in the batch through the active stages.
// Completeness invariant: exactly one FinalDecision per input envelope,
// regardless of stage failures. Output order is unspecified.
func (p *Pipeline) Process(ctx context.Context, batch *moderation.Batch, active ActiveSet) []*moderation.FinalDecision {
	decisions := make([]*moderation.FinalDecision, len(batch.Envelopes))

	var wg sync.WaitGroup
	for i, env := range batch.Envelopes {
		wg.Add(1)
		go func(i int, env *moderation.MessageEnvelope) {
			defer wg.Done()
			decisions[i] = p.processMessage(ctx, env, active)
		}(i, env)
	}
	wg.Wait()

	violations := 0
	for _, d := range decisions {
		if d.Enforceable() {
			violations++
		}
	}
	p.logger.Debug("batch processed",
		"size", batch.Size(), "reason", batch.Reason, "violations", violations)
	return decisions
}

// processMessage iterates stages in fixed order, skipping inactive ones,
// and short-circuits on the first decisive verdict. All-none (or
// all-paused) yields the explicit no-action decision.
func (p *Pipeline) processMessage(ctx context.Context, env *moderation.MessageEnvelope, active ActiveSet) *moderation.FinalDecision {
	var evaluated []types.StageID

	for _, stage := range p.stages {
		if !active.Contains(stage.ID()) {
			continue
		}
		evaluated = append(evaluated, stage.ID())

		verdict := p.evaluate(ctx, stage, env)
		if verdict.Decisive() {
			decision := p.aggregator.Decide(env, []*moderation.StageVerdict{verdict}, evaluated)
			p.resolveDuration(decision)
			p.logger.Info("message flagged",
				"message_id", env.MessageID, "chat_id", env.ChatID,
				"stage", verdict.Stage, "rule_id", verdict.RuleID, "action", verdict.Action)
			return decision
		}
	}

	return moderation.NoAction(env, evaluated)
}

// evaluate invokes one stage with failure isolation: errors and panics
// degrade to a fallback verdict instead of aborting the message.
func (p *Pipeline) evaluate(ctx context.Context, stage Stage, env *moderation.MessageEnvelope) (verdict *moderation.StageVerdict) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stage panicked during evaluation",
				"stage", stage.ID(), "message_id", env.MessageID,
				"panic", r, "stack", string(debug.Stack()))
			p.degraded(stage.ID(), "panic")
			verdict = moderation.Fallback(stage.ID(), "stage panic")
		}
	}()

	effective := p.registry.RulesForStage(stage.ID(), env.ChatID)
	v, err := stage.Evaluate(ctx, env, effective)
	if err != nil {
		p.logger.Warn("stage evaluation degraded",
			"stage", stage.ID(), "message_id", env.MessageID, "error", err)
		p.degraded(stage.ID(), err.Error())
		return moderation.Fallback(stage.ID(), err.Error())
	}
	if v == nil {
		// Clean pass: nothing matched. Distinct from a fallback.
		p.recovered(stage.ID())
		return &moderation.StageVerdict{Stage: stage.ID(), Action: types.ActionNone}
	}
	if v.IsFallback() {
		p.degraded(stage.ID(), v.Reason)
	} else {
		p.recovered(stage.ID())
	}
	return v
}

func (p *Pipeline) degraded(id types.StageID, reason string) {
	if p.observer != nil {
		p.observer.StageDegraded(id, reason)
	}
}

func (p *Pipeline) recovered(id types.StageID) {
	if p.observer != nil {
		p.observer.StageRecovered(id)
	}
}

// resolveDuration fills the decision's duration from the winning rule,
// applying the mute default when the rule carries none.
func (p *Pipeline) resolveDuration(decision *moderation.FinalDecision) {
	if decision == nil || decision.RuleID == "" {
		return
	}
	if rule := p.registry.Get(decision.RuleID); rule != nil {
		decision.Duration = rule.EffectiveDuration()
	} else if decision.Action == types.ActionMute {
		decision.Duration = rules.DefaultMuteDuration
	}
}
