// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package pattern is the CPU-bound detector stage: case-insensitive
// compiled patterns from the effective rule set, matched on a bounded
// worker pool.
package pattern

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/pipeline"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/pkg/types"
)

// Config sizes the stage's worker pool.
type Config struct {
	Workers   int
	PoolDepth int
}

// Stage implements pipeline.Stage over compiled rule patterns.
type Stage struct {
	registry *rules.Registry
	pool     *pool
	logger   *slog.Logger

	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

var _ pipeline.Stage = (*Stage)(nil)

// New creates the pattern stage. The registry is used by Warmup to
// precompile the patterns already known at startup.
func New(registry *rules.Registry, cfg Config) *Stage {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PoolDepth <= 0 {
		cfg.PoolDepth = 256
	}
	return &Stage{
		registry: registry,
		pool:     newPool(cfg.Workers, cfg.PoolDepth),
		logger:   slog.With("stage", types.StagePattern),
		compiled: map[string]*regexp.Regexp{},
	}
}

func (s *Stage) ID() types.StageID                     { return types.StagePattern }
func (s *Stage) Discipline() types.ExecutionDiscipline { return types.DisciplineCPU }

// Warmup precompiles every pattern rule currently in the registry.
// A rule whose pattern does not compile fails the warmup; the scheduler
// starts the stage paused with that reason.
func (s *Stage) Warmup(_ context.Context) error {
	known := s.registry.RulesForStage(types.StagePattern, "")
	for _, rule := range known {
		if _, err := s.compile(rule); err != nil {
			return err
		}
	}
	s.logger.Debug("patterns precompiled", "count", len(known))
	return nil
}

// Close stops the worker pool.
func (s *Stage) Close() {
	s.pool.close()
}

type match struct {
	rule    *rules.Rule
	matched string
}

func (s *Stage) Evaluate(ctx context.Context, env *moderation.MessageEnvelope, effective []*rules.Rule) (*moderation.StageVerdict, error) {
	text := env.ContentText()
	if text == "" || len(effective) == 0 {
		return nil, nil
	}

	resCh := make(chan *match, 1)
	err := s.pool.submit(ctx, func() {
		resCh <- s.matchRules(text, effective)
	})
	if err != nil {
		return moderation.Fallback(types.StagePattern, "worker pool unavailable: "+err.Error()), nil
	}

	select {
	case m := <-resCh:
		if m == nil {
			return nil, nil
		}
		return &moderation.StageVerdict{
			Stage:    types.StagePattern,
			RuleID:   m.rule.ID,
			Severity: m.rule.Severity,
			Action:   m.rule.Action,
			Reason:   m.rule.Description,
			Source:   types.SourceText,
			Details: map[string]any{
				"matched": m.matched,
				"pattern": m.rule.Pattern,
			},
		}, nil
	case <-ctx.Done():
		return moderation.Fallback(types.StagePattern, "timeout"), nil
	}
}

// matchRules runs on the worker pool. First matching rule in effective
// order wins; effective order already places global rules before
// chat-scoped ones.
func (s *Stage) matchRules(text string, effective []*rules.Rule) *match {
	for _, rule := range effective {
		if rule.Pattern == "" {
			continue
		}
		re, err := s.compile(rule)
		if err != nil {
			// Bad pattern is an expected failure mode for this rule only.
			s.logger.Warn("skipping rule with invalid pattern",
				"rule_id", rule.ID, "error", err)
			continue
		}
		if loc := re.FindStringIndex(text); loc != nil {
			return &match{rule: rule, matched: text[loc[0]:loc[1]]}
		}
	}
	return nil
}

func (s *Stage) compile(rule *rules.Rule) (*regexp.Regexp, error) {
	s.mu.RLock()
	re, ok := s.compiled[rule.ID]
	s.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(`(?im)` + rule.Pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.compiled[rule.ID] = re
	s.mu.Unlock()
	return re, nil
}
