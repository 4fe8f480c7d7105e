// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package rules

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warden-dev/warden/internal/synthesis"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// ClassifierCategories is the fixed category set of the external
// moderation classification API. Rules routed to the classifier stage with
// a category outside this set are re-routed to the contextual stage.
var ClassifierCategories = map[string]bool{
	"hate":                   true,
	"hate/threatening":       true,
	"harassment":             true,
	"harassment/threatening": true,
	"self-harm":              true,
	"self-harm/intent":       true,
	"self-harm/instructions": true,
	"sexual":                 true,
	"sexual/minors":          true,
	"violence":               true,
	"violence/graphic":       true,
	"illicit":                true,
	"illicit/violent":        true,
}

// RuleStore is the slice of the persistence interface the service needs.
type RuleStore interface {
	SaveRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error
	LoadRules(ctx context.Context) ([]*Rule, error)
}

// AddSpec is the input to Service.AddRule. Stage, Kind, Pattern, and
// Category are optional overrides; anything missing is filled in by the
// synthesis collaborator.
type AddSpec struct {
	Description      string
	Action           types.Action
	Duration         time.Duration
	ChatID           string
	Origin           Origin
	SuppressesGlobal bool

	Stage    types.StageID
	Kind     Kind
	Pattern  string
	Category string
}

// Service owns rule creation and removal. Mutations write to storage
// before the registry publishes them, so a crash between the two never
// leaves the cache ahead of storage.
type Service struct {
	registry   *Registry
	store      RuleStore
	classifier synthesis.Classifier
	logger     *slog.Logger

	mu sync.Mutex // serializes AddRule end to end
}

// NewService wires the service to its collaborators.
func NewService(registry *Registry, store RuleStore, classifier synthesis.Classifier) *Service {
	return &Service{
		registry:   registry,
		store:      store,
		classifier: classifier,
		logger:     slog.With("component", "rules"),
	}
}

// Registry exposes the read side for detectors and the pipeline.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Bootstrap rebuilds the in-memory view from persistence. Called once at
// startup before any evaluation runs.
func (s *Service) Bootstrap(ctx context.Context) error {
	loaded, err := s.store.LoadRules(ctx)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "loading rules at startup")
	}
	s.registry.Seed(loaded)
	s.logger.Info("rules bootstrapped", "count", len(loaded))
	return nil
}

// AddRule classifies, validates, persists, and publishes a new rule.
// Classification or validation failure performs no persistence write.
func (s *Service) AddRule(ctx context.Context, spec AddSpec) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(spec.Description) == "" {
		return nil, wardenerr.New(wardenerr.CodeRuleSpecInvalid, "rule description is empty")
	}
	if !spec.Action.Valid() || spec.Action == types.ActionNone {
		return nil, wardenerr.Errorf(wardenerr.CodeRuleSpecInvalid,
			"rule action must be one of warn|delete|mute|ban, got %q", spec.Action)
	}
	if spec.Duration < 0 {
		return nil, wardenerr.New(wardenerr.CodeRuleSpecInvalid, "rule duration must not be negative")
	}

	resolved, err := s.resolve(ctx, spec)
	if err != nil {
		return nil, err
	}

	origin := spec.Origin
	if origin == "" {
		origin = OriginAdmin
	}

	rule := &Rule{
		ID:               uuid.NewString(),
		Description:      spec.Description,
		Action:           spec.Action,
		Duration:         spec.Duration,
		ChatID:           spec.ChatID,
		Stage:            resolved.stage,
		Kind:             resolved.kind,
		Pattern:          resolved.pattern,
		Category:         resolved.category,
		Severity:         resolved.severity,
		SuppressesGlobal: spec.SuppressesGlobal,
		Origin:           origin,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.store.SaveRule(ctx, rule); err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreRuleSaveFailure, "persisting rule",
			wardenerr.FieldRuleID(rule.ID))
	}
	s.registry.Add(rule)

	s.logger.Info("rule added",
		"rule_id", rule.ID, "stage", rule.Stage, "kind", rule.Kind,
		"action", rule.Action, "chat_id", rule.ChatID,
		"category", rule.Category, "has_pattern", rule.Pattern != "")
	return rule, nil
}

// RemoveRule deletes from storage first, then unpublishes. Absent rules
// surface rule.not_found.
func (s *Service) RemoveRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		if wardenerr.IsNotFound(err) {
			return wardenerr.New(wardenerr.CodeRuleNotFound, "rule not found",
				wardenerr.FieldRuleID(id))
		}
		return wardenerr.Wrap(err, wardenerr.CodeStoreRuleDeleteFailure, "removing rule",
			wardenerr.FieldRuleID(id))
	}
	s.registry.Remove(id)
	s.logger.Info("rule removed", "rule_id", id)
	return nil
}

// ListRules returns every rule for an empty chat ID, or the effective
// merged view for a chat.
func (s *Service) ListRules(_ context.Context, chatID string) []*Rule {
	return s.registry.List(chatID)
}

type resolution struct {
	stage    types.StageID
	kind     Kind
	pattern  string
	category string
	severity types.Severity
}

// resolve fills any spec fields the caller left blank from the synthesis
// collaborator, then validates the stage routing, degrading to the
// contextual stage when the routed stage cannot serve the rule.
func (s *Service) resolve(ctx context.Context, spec AddSpec) (resolution, error) {
	res := resolution{
		stage:    spec.Stage,
		kind:     spec.Kind,
		pattern:  spec.Pattern,
		category: spec.Category,
		severity: types.SeverityOther,
	}

	needsClassification := res.stage == "" || res.kind == "" ||
		(res.stage == types.StagePattern && res.pattern == "") ||
		(res.stage == types.StageClassifier && res.category == "")
	if needsClassification {
		cls, err := s.classifier.ClassifyRule(ctx, synthesis.Request{
			Description:   spec.Description,
			DesiredAction: spec.Action,
		})
		if err != nil {
			return resolution{}, err
		}
		if res.stage == "" {
			if id, ok := types.ParseStageID(cls.Stage); ok {
				res.stage = id
			} else {
				s.logger.Warn("unknown stage from classifier", "stage", cls.Stage)
				res.stage = types.StageContextual
			}
		}
		if res.kind == "" {
			res.kind = parseKind(cls.Kind)
		}
		if res.pattern == "" {
			res.pattern = cls.Pattern
		}
		if res.category == "" {
			res.category = cls.Category
		}
		res.severity = types.SeverityFromScore(cls.Score)
	}

	switch res.stage {
	case types.StagePattern:
		if res.pattern == "" {
			s.logger.Warn("pattern stage rule without pattern, degrading to contextual")
			return degrade(res), nil
		}
		if _, err := regexp.Compile("(?i)" + res.pattern); err != nil {
			s.logger.Warn("rule pattern does not compile, degrading to contextual",
				"error", err)
			return degrade(res), nil
		}
		res.kind = KindPattern
	case types.StageClassifier:
		// The classifier stage matches category labels only.
		res.pattern = ""
		if !ClassifierCategories[res.category] {
			s.logger.Warn("category not supported by the moderation API, degrading to contextual",
				"category", res.category)
			return degrade(res), nil
		}
		res.kind = KindSemantic
	case types.StageContextual:
		res.pattern = ""
		res.kind = KindContextual
	default:
		return resolution{}, wardenerr.Errorf(wardenerr.CodeRuleSpecInvalid,
			"unknown detector stage %q", res.stage)
	}

	return res, nil
}

func degrade(res resolution) resolution {
	res.stage = types.StageContextual
	res.kind = KindContextual
	res.pattern = ""
	return res
}

func parseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPattern:
		return KindPattern
	case KindSemantic:
		return KindSemantic
	default:
		return KindContextual
	}
}
