// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package contextual_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/detector/contextual"
	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// fakeMessages serves a canned Messages API response whose single text
// block is the given content.
func fakeMessages(t *testing.T, content string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":          "msg-test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-haiku-4-5",
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": content},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 10},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStage(t *testing.T, srv *httptest.Server) *contextual.Stage {
	t.Helper()

	stage, err := contextual.New(contextual.Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return stage
}

func contextualRule(id, description string, action types.Action) *rules.Rule {
	return &rules.Rule{
		ID:          id,
		Description: description,
		Action:      action,
		Stage:       types.StageContextual,
		Kind:        rules.KindContextual,
		Severity:    types.SeverityOther,
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
	_, err := contextual.New(contextual.Config{})
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeConfigValidateInvalidValue))
}

func TestEvaluateViolation(t *testing.T) {
	srv := fakeMessages(t, `{"violates": true, "rule_index": 1, "reason": "solicits crypto investment"}`)
	stage := newStage(t, srv)

	effective := []*rules.Rule{
		contextualRule("r1", "no job offers", types.ActionWarn),
		contextualRule("r2", "no investment solicitation", types.ActionMute),
	}
	verdict, err := stage.Evaluate(context.Background(), envelope("double your coins, DM me"), effective)
	require.NoError(t, err)
	require.NotNil(t, verdict)

	assert.Equal(t, types.StageContextual, verdict.Stage)
	assert.Equal(t, "r2", verdict.RuleID)
	assert.Equal(t, types.ActionMute, verdict.Action)
	assert.Contains(t, verdict.Reason, "crypto")
}

func TestEvaluateNoViolation(t *testing.T) {
	srv := fakeMessages(t, `{"violates": false, "rule_index": -1, "reason": ""}`)
	stage := newStage(t, srv)

	verdict, err := stage.Evaluate(context.Background(), envelope("how is everyone doing"),
		[]*rules.Rule{contextualRule("r1", "no job offers", types.ActionWarn)})
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestEvaluateStripsCodeFences(t *testing.T) {
	srv := fakeMessages(t, "```json\n{\"violates\": true, \"rule_index\": 0, \"reason\": \"job offer\"}\n```")
	stage := newStage(t, srv)

	verdict, err := stage.Evaluate(context.Background(), envelope("we are hiring, apply now"),
		[]*rules.Rule{contextualRule("r1", "no job offers", types.ActionWarn)})
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, "r1", verdict.RuleID)
}

func TestEvaluateEmptyReasonFallsBackToRuleDescription(t *testing.T) {
	srv := fakeMessages(t, `{"violates": true, "rule_index": 0, "reason": ""}`)
	stage := newStage(t, srv)

	verdict, err := stage.Evaluate(context.Background(), envelope("we are hiring"),
		[]*rules.Rule{contextualRule("r1", "no job offers", types.ActionWarn)})
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, "no job offers", verdict.Reason)
}

func TestEvaluateOutOfRangeRuleIndex(t *testing.T) {
	srv := fakeMessages(t, `{"violates": true, "rule_index": 7, "reason": "made up"}`)
	stage := newStage(t, srv)

	verdict, err := stage.Evaluate(context.Background(), envelope("anything"),
		[]*rules.Rule{contextualRule("r1", "no job offers", types.ActionWarn)})
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.True(t, verdict.IsFallback())
}

func TestEvaluateMalformedResponse(t *testing.T) {
	srv := fakeMessages(t, "I think this message is fine.")
	stage := newStage(t, srv)

	verdict, err := stage.Evaluate(context.Background(), envelope("anything"),
		[]*rules.Rule{contextualRule("r1", "no job offers", types.ActionWarn)})
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.True(t, verdict.IsFallback())
}

func TestEvaluateSkipsEmptyTextAndEmptyRules(t *testing.T) {
	srv := fakeMessages(t, `{"violates": false, "rule_index": -1, "reason": ""}`)
	stage := newStage(t, srv)
	rule := contextualRule("r1", "no job offers", types.ActionWarn)

	verdict, err := stage.Evaluate(context.Background(), envelope(""), []*rules.Rule{rule})
	require.NoError(t, err)
	assert.Nil(t, verdict)

	verdict, err = stage.Evaluate(context.Background(), envelope("text"), nil)
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestStageIdentity(t *testing.T) {
	srv := fakeMessages(t, `{}`)
	stage := newStage(t, srv)
	assert.Equal(t, types.StageContextual, stage.ID())
	assert.Equal(t, types.DisciplineIO, stage.Discipline())
	assert.NoError(t, stage.Warmup(context.Background()))
}
