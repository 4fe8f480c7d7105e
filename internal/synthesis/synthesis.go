// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package synthesis turns a free-text rule description into a structured
// classification: which stage should enforce it, the matching kind, an
// optional compiled pattern or category label, and a severity score. It is
// only invoked from the rule service's AddRule path, never from the hot
// evaluation path.
package synthesis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// Request carries the inputs to a classification.
type Request struct {
	Description   string
	DesiredAction types.Action
}

// Classification is the structured result.
type Classification struct {
	Stage    string `json:"stage"`
	Kind     string `json:"kind"`
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Score    int    `json:"severity_score"`
}

// Classifier is the rule synthesis collaborator consumed by the rule
// service.
type Classifier interface {
	ClassifyRule(ctx context.Context, req Request) (*Classification, error)
}

const systemPrompt = `You classify chat moderation rules. Output a single JSON object only:
{"stage":"pattern|classifier|contextual","kind":"pattern|semantic|contextual","pattern":str,"category":str,"severity_score":int}
- "pattern": rule is detectable by a case-insensitive regular expression; put it in "pattern".
- "classifier": rule maps onto a moderation API category; put the category name in "category".
- "contextual": rule needs contextual reasoning; leave "pattern" and "category" empty.
"severity_score" is 0-100 (100 = direct threats). No text before or after the JSON.`

// Config holds OpenAI classifier configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

// OpenAIClassifier implements Classifier using the OpenAI Chat Completions
// API with a JSON-object response format.
type OpenAIClassifier struct {
	client openaisdk.Client
	model  string
	logger *slog.Logger
}

var _ Classifier = (*OpenAIClassifier)(nil)

// New creates an OpenAIClassifier. Returns an error if the API key is missing.
func New(cfg Config) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, wardenerr.New(wardenerr.CodeConfigValidateInvalidValue,
			"synthesis: missing openai api_key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4.1-mini"
	}

	return &OpenAIClassifier{
		client: openaisdk.NewClient(opts...),
		model:  model,
		logger: slog.With("component", "synthesis"),
	}, nil
}

func (c *OpenAIClassifier) ClassifyRule(ctx context.Context, req Request) (*Classification, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, wardenerr.New(wardenerr.CodeRuleSpecInvalid, "rule description is empty")
	}

	payload := "Desired action: " + string(req.DesiredAction) + "\nRule: " + req.Description

	params := openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(payload),
		},
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeRuleSynthesisFailure, "classifying rule description")
	}
	if len(completion.Choices) == 0 {
		return nil, wardenerr.New(wardenerr.CodeRuleSynthesisFailure, "empty classification response")
	}

	content := completion.Choices[0].Message.Content
	var cls Classification
	if err := json.Unmarshal([]byte(extractJSON(content)), &cls); err != nil {
		c.logger.Error("classification response is not valid JSON",
			"error", err, "preview", preview(content, 200))
		return nil, wardenerr.Wrap(err, wardenerr.CodeRuleSynthesisFailure, "parsing classification response")
	}

	c.logger.Debug("rule classified",
		"stage", cls.Stage, "kind", cls.Kind,
		"has_pattern", cls.Pattern != "", "category", cls.Category, "score", cls.Score)
	return &cls, nil
}

// extractJSON strips markdown code fences some models wrap around JSON
// despite the response format constraint.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
