// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package classifier is the I/O-bound detector stage backed by the OpenAI
// moderation endpoint. It classifies text and image sources and maps
// flagged categories onto the category-bearing rules in the effective set.
package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/warden-dev/warden/internal/detector"
	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/pipeline"
	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// maxImagesPerMessage caps how many attachments one message can send to
// the moderation endpoint.
const maxImagesPerMessage = 4

// Config holds the stage's client and gate configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
	Gate    detector.GateConfig
}

// Stage implements pipeline.Stage over the moderation endpoint.
type Stage struct {
	client openaisdk.Client
	model  string
	gate   *detector.Gate
	logger *slog.Logger
}

var _ pipeline.Stage = (*Stage)(nil)

// New creates the classifier stage. Returns an error if the API key is
// missing.
func New(cfg Config) (*Stage, error) {
	if cfg.APIKey == "" {
		return nil, wardenerr.New(wardenerr.CodeConfigValidateInvalidValue,
			"classifier: missing openai api_key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "omni-moderation-latest"
	}

	return &Stage{
		client: openaisdk.NewClient(opts...),
		model:  model,
		gate:   detector.NewGate(cfg.Gate),
		logger: slog.With("stage", types.StageClassifier),
	}, nil
}

func (s *Stage) ID() types.StageID                     { return types.StageClassifier }
func (s *Stage) Discipline() types.ExecutionDiscipline { return types.DisciplineIO }

// Warmup is a no-op: the client is stateless and credentials are checked
// at construction.
func (s *Stage) Warmup(_ context.Context) error { return nil }

func (s *Stage) Evaluate(ctx context.Context, env *moderation.MessageEnvelope, effective []*rules.Rule) (*moderation.StageVerdict, error) {
	text := env.ContentText()
	if text == "" && len(env.Images) == 0 {
		return nil, nil
	}
	if len(effective) == 0 {
		return nil, nil
	}

	if text != "" {
		verdict, err := s.classifyText(ctx, env, text, effective)
		if err != nil {
			return s.fallback(env, err), nil
		}
		if verdict != nil {
			return verdict, nil
		}
	}

	images := env.Images
	if len(images) > maxImagesPerMessage {
		images = images[:maxImagesPerMessage]
	}
	for _, img := range images {
		verdict, err := s.classifyImage(ctx, env, img, effective)
		if err != nil {
			return s.fallback(env, err), nil
		}
		if verdict != nil {
			return verdict, nil
		}
	}

	return nil, nil
}

func (s *Stage) classifyText(ctx context.Context, env *moderation.MessageEnvelope, text string, effective []*rules.Rule) (*moderation.StageVerdict, error) {
	flagged, err := s.moderate(ctx, openaisdk.ModerationNewParamsInputUnion{
		OfString: openaisdk.String(text),
	})
	if err != nil {
		return nil, err
	}
	return s.verdictFor(env, flagged, effective, types.SourceText), nil
}

func (s *Stage) classifyImage(ctx context.Context, env *moderation.MessageEnvelope, img moderation.ImagePayload, effective []*rules.Rule) (*moderation.StageVerdict, error) {
	url := img.Ref()
	if url == "" {
		if len(img.Data) == 0 {
			return nil, nil
		}
		contentType := img.ContentType
		if contentType == "" {
			contentType = "image/png"
		}
		url = "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	}

	flagged, err := s.moderate(ctx, openaisdk.ModerationNewParamsInputUnion{
		OfModerationMultiModalArray: []openaisdk.ModerationMultiModalInputUnionParam{
			{
				OfImageURL: &openaisdk.ModerationImageURLInputParam{
					ImageURL: openaisdk.ModerationImageURLInputImageURLParam{URL: url},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return s.verdictFor(env, flagged, effective, types.SourceImage), nil
}

// moderate calls the endpoint under the admission gate and returns the
// set of flagged category names, empty when nothing was flagged.
func (s *Stage) moderate(ctx context.Context, input openaisdk.ModerationNewParamsInputUnion) (map[string]bool, error) {
	var flagged map[string]bool
	err := s.gate.Do(ctx, func(callCtx context.Context) error {
		res, err := s.client.Moderations.New(callCtx, openaisdk.ModerationNewParams{
			Model: openaisdk.ModerationModel(s.model),
			Input: input,
		})
		if err != nil {
			return err
		}
		if len(res.Results) == 0 {
			return nil
		}
		result := res.Results[0]
		if !result.Flagged {
			return nil
		}

		categories := map[string]bool{}
		if err := json.Unmarshal([]byte(result.Categories.RawJSON()), &categories); err != nil {
			return wardenerr.Wrap(err, wardenerr.CodeStageEvaluateFallback, "parsing moderation categories")
		}
		flagged = map[string]bool{}
		for name, hit := range categories {
			if hit {
				flagged[name] = true
			}
		}
		return nil
	})
	return flagged, err
}

// verdictFor maps flagged categories to the highest-severity matching
// rule. Flagged content with no matching rule yields no verdict: only
// configured rules produce enforcement.
func (s *Stage) verdictFor(env *moderation.MessageEnvelope, flagged map[string]bool, effective []*rules.Rule, source types.Source) *moderation.StageVerdict {
	if len(flagged) == 0 {
		return nil
	}

	var best *rules.Rule
	for _, rule := range effective {
		if rule.Category == "" || !flagged[rule.Category] {
			continue
		}
		if best == nil || rule.Severity > best.Severity {
			best = rule
		}
	}
	if best == nil {
		s.logger.Debug("content flagged but no matching rule",
			"message_id", env.MessageID, "categories", keys(flagged))
		return nil
	}

	return &moderation.StageVerdict{
		Stage:    types.StageClassifier,
		RuleID:   best.ID,
		Severity: best.Severity,
		Action:   best.Action,
		Reason:   best.Description,
		Source:   source,
		Details: map[string]any{
			"matched_category": best.Category,
			"categories":       keys(flagged),
		},
	}
}

func (s *Stage) fallback(env *moderation.MessageEnvelope, err error) *moderation.StageVerdict {
	reason := "classification unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	s.logger.Warn("moderation call degraded",
		"message_id", env.MessageID, "error", err)
	return moderation.Fallback(types.StageClassifier, reason)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
