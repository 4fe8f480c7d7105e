// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package classifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/detector/classifier"
	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// fakeModerations serves a canned moderation response with the given
// flagged categories.
func fakeModerations(t *testing.T, flagged ...string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		categories := map[string]bool{
			"harassment": false,
			"hate":       false,
			"sexual":     false,
			"violence":   false,
		}
		for _, name := range flagged {
			categories[name] = true
		}

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":    "modr-test",
			"model": "omni-moderation-latest",
			"results": []map[string]any{
				{
					"flagged":    len(flagged) > 0,
					"categories": categories,
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStage(t *testing.T, srv *httptest.Server) *classifier.Stage {
	t.Helper()

	stage, err := classifier.New(classifier.Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return stage
}

func categoryRule(id, category string, severity types.Severity) *rules.Rule {
	return &rules.Rule{
		ID:          id,
		Description: "no " + category,
		Action:      types.ActionDelete,
		Stage:       types.StageClassifier,
		Kind:        rules.KindSemantic,
		Category:    category,
		Severity:    severity,
		CreatedAt:   time.Now().UTC(),
	}
}

func envelope(text string) *moderation.MessageEnvelope {
	return &moderation.MessageEnvelope{
		ChatID:     "chat-1",
		UserID:     "user-1",
		MessageID:  "msg-1",
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := classifier.New(classifier.Config{})
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeConfigValidateInvalidValue))
}

func TestEvaluateFlaggedCategoryMatchesRule(t *testing.T) {
	stage := newStage(t, fakeModerations(t, "harassment"))
	rule := categoryRule("r1", "harassment", types.SeverityHate)

	verdict, err := stage.Evaluate(context.Background(), envelope("you are worthless"), []*rules.Rule{rule})
	require.NoError(t, err)
	require.NotNil(t, verdict)

	assert.Equal(t, types.StageClassifier, verdict.Stage)
	assert.Equal(t, "r1", verdict.RuleID)
	assert.Equal(t, types.SeverityHate, verdict.Severity)
	assert.Equal(t, types.SourceText, verdict.Source)
	assert.Equal(t, "harassment", verdict.Details["matched_category"])
}

func TestEvaluateHighestSeverityRuleWins(t *testing.T) {
	stage := newStage(t, fakeModerations(t, "harassment", "violence"))
	low := categoryRule("r1", "harassment", types.SeverityHate)
	high := categoryRule("r2", "violence", types.SeverityThreat)

	verdict, err := stage.Evaluate(context.Background(), envelope("threatening message"), []*rules.Rule{low, high})
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, "r2", verdict.RuleID)
}

func TestEvaluateCleanContent(t *testing.T) {
	stage := newStage(t, fakeModerations(t))
	rule := categoryRule("r1", "harassment", types.SeverityHate)

	verdict, err := stage.Evaluate(context.Background(), envelope("lovely weather"), []*rules.Rule{rule})
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestEvaluateFlaggedWithoutMatchingRule(t *testing.T) {
	stage := newStage(t, fakeModerations(t, "sexual"))
	rule := categoryRule("r1", "harassment", types.SeverityHate)

	verdict, err := stage.Evaluate(context.Background(), envelope("flagged content"), []*rules.Rule{rule})
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestEvaluateSkipsEmptyMessageAndEmptyRules(t *testing.T) {
	stage := newStage(t, fakeModerations(t, "harassment"))
	rule := categoryRule("r1", "harassment", types.SeverityHate)

	verdict, err := stage.Evaluate(context.Background(), envelope(""), []*rules.Rule{rule})
	require.NoError(t, err)
	assert.Nil(t, verdict)

	verdict, err = stage.Evaluate(context.Background(), envelope("text"), nil)
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestEvaluateImageAttachment(t *testing.T) {
	stage := newStage(t, fakeModerations(t, "sexual"))
	rule := categoryRule("r1", "sexual", types.SeverityNSFW)

	env := envelope("")
	env.Images = []moderation.ImagePayload{{URL: "https://files.example/photo.jpg"}}

	verdict, err := stage.Evaluate(context.Background(), env, []*rules.Rule{rule})
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, types.SourceImage, verdict.Source)
	assert.Equal(t, "r1", verdict.RuleID)
}

func TestEvaluateEndpointFailureDegradesToFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "moderation endpoint down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	stage := newStage(t, srv)
	rule := categoryRule("r1", "harassment", types.SeverityHate)

	verdict, err := stage.Evaluate(context.Background(), envelope("anything"), []*rules.Rule{rule})
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.True(t, verdict.IsFallback())
	assert.False(t, verdict.Decisive())
}

func TestStageIdentity(t *testing.T) {
	stage := newStage(t, fakeModerations(t))
	assert.Equal(t, types.StageClassifier, stage.ID())
	assert.Equal(t, types.DisciplineIO, stage.Discipline())
	assert.NoError(t, stage.Warmup(context.Background()))
}
