// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package contextual is the final detector stage. It sends the message
// together with the serialized contextual rules to the Anthropic Messages
// API and asks for a strict JSON verdict. It only sees messages nothing
// earlier in the pipeline could decide.
package contextual

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/warden-dev/warden/internal/detector"
	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/pipeline"
	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

const systemPrompt = `You are a chat moderation judge. You receive a message and a numbered
list of moderation rules written in natural language. Decide whether the
message violates any of the rules.

Respond with exactly one JSON object, no prose, no code fences:
{"violates": <bool>, "rule_index": <int, 0-based index of the violated rule or -1>, "reason": "<short explanation>"}

Judge only against the listed rules. When no rule applies, respond with
{"violates": false, "rule_index": -1, "reason": ""}.`

// Config holds the stage's client and gate configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
	Gate    detector.GateConfig
}

// Stage implements pipeline.Stage over the Anthropic Messages API.
type Stage struct {
	client anthropicsdk.Client
	model  string
	gate   *detector.Gate
	logger *slog.Logger
}

var _ pipeline.Stage = (*Stage)(nil)

// New creates the contextual stage. Returns an error if the API key is
// missing.
func New(cfg Config) (*Stage, error) {
	if cfg.APIKey == "" {
		return nil, wardenerr.New(wardenerr.CodeConfigValidateInvalidValue,
			"contextual: missing anthropic api_key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-haiku-4-5"
	}

	return &Stage{
		client: anthropicsdk.NewClient(opts...),
		model:  model,
		gate:   detector.NewGate(cfg.Gate),
		logger: slog.With("stage", types.StageContextual),
	}, nil
}

func (s *Stage) ID() types.StageID                     { return types.StageContextual }
func (s *Stage) Discipline() types.ExecutionDiscipline { return types.DisciplineIO }

// Warmup is a no-op: the client is stateless and credentials are checked
// at construction.
func (s *Stage) Warmup(_ context.Context) error { return nil }

// verdictPayload is the JSON shape the model is instructed to produce.
type verdictPayload struct {
	Violates  bool   `json:"violates"`
	RuleIndex int    `json:"rule_index"`
	Reason    string `json:"reason"`
}

func (s *Stage) Evaluate(ctx context.Context, env *moderation.MessageEnvelope, effective []*rules.Rule) (*moderation.StageVerdict, error) {
	text := env.ContentText()
	if text == "" {
		return nil, nil
	}
	if len(effective) == 0 {
		return nil, nil
	}

	var verdict verdictPayload
	err := s.gate.Do(ctx, func(callCtx context.Context) error {
		msg, err := s.client.Messages.New(callCtx, anthropicsdk.MessageNewParams{
			Model:     anthropicsdk.Model(s.model),
			MaxTokens: 512,
			System: []anthropicsdk.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropicsdk.MessageParam{
				anthropicsdk.NewUserMessage(
					anthropicsdk.NewTextBlock(buildPrompt(text, effective)),
				),
			},
		})
		if err != nil {
			return err
		}
		raw := textContent(msg)
		if raw == "" {
			return wardenerr.New(wardenerr.CodeStageEvaluateFallback, "empty model response")
		}
		if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
			return wardenerr.Wrap(err, wardenerr.CodeStageEvaluateFallback, "parsing model verdict")
		}
		return nil
	})
	if err != nil {
		return s.fallback(env, err), nil
	}

	if !verdict.Violates {
		return nil, nil
	}
	if verdict.RuleIndex < 0 || verdict.RuleIndex >= len(effective) {
		s.logger.Warn("model named an out-of-range rule",
			"message_id", env.MessageID, "rule_index", verdict.RuleIndex)
		return moderation.Fallback(types.StageContextual, "invalid rule reference"), nil
	}

	rule := effective[verdict.RuleIndex]
	reason := verdict.Reason
	if reason == "" {
		reason = rule.Description
	}
	return &moderation.StageVerdict{
		Stage:    types.StageContextual,
		RuleID:   rule.ID,
		Severity: rule.Severity,
		Action:   rule.Action,
		Reason:   reason,
		Source:   types.SourceText,
	}, nil
}

// buildPrompt serializes the rules and the message into the user turn.
// Rule order in the prompt matches the effective slice so rule_index maps
// straight back.
func buildPrompt(text string, effective []*rules.Rule) string {
	var b strings.Builder
	b.WriteString("Rules:\n")
	for i, rule := range effective {
		fmt.Fprintf(&b, "%d. %s\n", i, rule.Description)
	}
	b.WriteString("\nMessage:\n")
	b.WriteString(text)
	return b.String()
}

// textContent concatenates the text blocks of a response.
func textContent(msg *anthropicsdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		b.WriteString(block.Text)
	}
	return strings.TrimSpace(b.String())
}

// extractJSON strips markdown code fences a model sometimes wraps around
// the object despite instructions.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}

func (s *Stage) fallback(env *moderation.MessageEnvelope, err error) *moderation.StageVerdict {
	reason := "contextual evaluation unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	s.logger.Warn("contextual call degraded",
		"message_id", env.MessageID, "error", err)
	return moderation.Fallback(types.StageContextual, reason)
}
