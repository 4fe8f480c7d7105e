// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/internal/store"
	"github.com/warden-dev/warden/internal/store/sqlite"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRuleRoundTrip(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)
	rule := &rules.Rule{
		ID:               "rule-1",
		Description:      "no referral links",
		Action:           types.ActionMute,
		Duration:         30 * time.Minute,
		ChatID:           "chat-99",
		Stage:            types.StagePattern,
		Kind:             rules.KindPattern,
		Pattern:          `(?i)ref=\w+`,
		Severity:         types.SeveritySpam,
		SuppressesGlobal: true,
		Origin:           rules.OriginAuto,
		CreatedAt:        created,
		Metadata:         map[string]string{"source": "admin-chat"},
	}
	require.NoError(t, st.SaveRule(ctx, rule))

	loaded, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, rule.ID, got.ID)
	assert.Equal(t, rule.Description, got.Description)
	assert.Equal(t, rule.Action, got.Action)
	assert.Equal(t, rule.Duration, got.Duration)
	assert.Equal(t, rule.ChatID, got.ChatID)
	assert.Equal(t, rule.Stage, got.Stage)
	assert.Equal(t, rule.Kind, got.Kind)
	assert.Equal(t, rule.Pattern, got.Pattern)
	assert.Equal(t, rule.Severity, got.Severity)
	assert.True(t, got.SuppressesGlobal)
	assert.Equal(t, rule.Origin, got.Origin)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, rule.Metadata, got.Metadata)
}

func TestSaveRuleUpsertsByID(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	rule := &rules.Rule{
		ID:          "rule-1",
		Description: "first draft",
		Action:      types.ActionWarn,
		Stage:       types.StageContextual,
		Kind:        rules.KindContextual,
		Severity:    types.SeverityOther,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.SaveRule(ctx, rule))

	rule.Description = "second draft"
	rule.Action = types.ActionDelete
	require.NoError(t, st.SaveRule(ctx, rule))

	loaded, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "second draft", loaded[0].Description)
	assert.Equal(t, types.ActionDelete, loaded[0].Action)
}

func TestDeleteRule(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	rule := &rules.Rule{
		ID:          "rule-1",
		Description: "short-lived",
		Action:      types.ActionDelete,
		Stage:       types.StagePattern,
		Kind:        rules.KindPattern,
		Pattern:     "spam",
		Severity:    types.SeveritySpam,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.SaveRule(ctx, rule))
	require.NoError(t, st.DeleteRule(ctx, "rule-1"))

	loaded, err := st.LoadRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	err = st.DeleteRule(ctx, "rule-1")
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeStoreRuleNotFound))
}

func TestLoadRulesSortedByCreation(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"c", "a", "b"} {
		offsets := map[string]time.Duration{"a": 0, "b": time.Second, "c": 2 * time.Second}
		require.NoError(t, st.SaveRule(ctx, &rules.Rule{
			ID:          id,
			Description: "rule " + id,
			Action:      types.ActionWarn,
			Stage:       types.StageContextual,
			Kind:        rules.KindContextual,
			Severity:    types.SeverityOther,
			CreatedAt:   base.Add(offsets[id]),
		}), "rule %d", i)
	}

	loaded, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "a", loaded[0].ID)
	assert.Equal(t, "b", loaded[1].ID)
	assert.Equal(t, "c", loaded[2].ID)
}

func TestIncidentRoundTripAndFilters(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seed := []*moderation.Incident{
		{
			ID: "inc-1", RuleID: "rule-1", Stage: types.StagePattern,
			Action: types.ActionDelete, Severity: types.SeveritySpam,
			ChatID: "chat-1", UserID: "user-1", MessageID: "msg-1",
			Reason: "matched spam pattern", OccurredAt: base,
			Details: map[string]any{"pattern": "spam"},
		},
		{
			ID: "inc-2", RuleID: "rule-2", Stage: types.StageClassifier,
			Action: types.ActionMute, Severity: types.SeverityHate,
			ChatID: "chat-1", UserID: "user-2", MessageID: "msg-2",
			Reason: "flagged by classifier", OccurredAt: base.Add(time.Minute),
		},
		{
			ID: "inc-3", RuleID: "rule-3", Stage: types.StageContextual,
			Action: types.ActionBan, Severity: types.SeverityThreat,
			ChatID: "chat-2", UserID: "user-1", MessageID: "msg-3",
			Reason: "credible threat", OccurredAt: base.Add(2 * time.Minute),
		},
	}
	for _, inc := range seed {
		require.NoError(t, st.SaveIncident(ctx, inc))
	}

	t.Run("all sorted newest first", func(t *testing.T) {
		got, err := st.LoadIncidents(ctx, store.IncidentFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "inc-3", got[0].ID)
		assert.Equal(t, "inc-1", got[2].ID)
		assert.Equal(t, map[string]any{"pattern": "spam"}, got[2].Details)
	})

	t.Run("by chat", func(t *testing.T) {
		got, err := st.LoadIncidents(ctx, store.IncidentFilter{ChatID: "chat-1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
	})

	t.Run("by user and action", func(t *testing.T) {
		got, err := st.LoadIncidents(ctx, store.IncidentFilter{UserID: "user-1", Action: types.ActionBan})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "inc-3", got[0].ID)
	})

	t.Run("since cutoff", func(t *testing.T) {
		got, err := st.LoadIncidents(ctx, store.IncidentFilter{Since: base.Add(time.Minute)})
		require.NoError(t, err)
		require.Len(t, got, 2)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := st.LoadIncidents(ctx, store.IncidentFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "inc-3", got[0].ID)
	})
}

func TestSaveRejectsMissingIDs(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	err := st.SaveRule(ctx, &rules.Rule{Description: "anonymous"})
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeStoreInvalidInput))

	err = st.SaveIncident(ctx, &moderation.Incident{ChatID: "chat-1"})
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeStoreInvalidInput))
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.db")

	st, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveRule(ctx, &rules.Rule{
		ID:          "rule-1",
		Description: "persisted",
		Action:      types.ActionWarn,
		Stage:       types.StageContextual,
		Kind:        rules.KindContextual,
		Severity:    types.SeverityOther,
		CreatedAt:   time.Now().UTC(),
	}))
	require.NoError(t, st.Close())

	st, err = sqlite.New(path)
	require.NoError(t, err)
	defer st.Close()

	loaded, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "persisted", loaded[0].Description)
}
