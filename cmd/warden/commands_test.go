// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon serves canned daemon responses and records what the CLI sent.
type fakeDaemon struct {
	srv      *httptest.Server
	requests []string
	bodies   []string
}

func newFakeDaemon(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fakeDaemon {
	t.Helper()

	d := &fakeDaemon{}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.requests = append(d.requests, r.Method+" "+r.URL.String())
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		d.bodies = append(d.bodies, buf.String())
		handler(w, r)
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDaemon) addr() string {
	return strings.TrimPrefix(d.srv.URL, "http://")
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestRootCommand_AllSubcommands(t *testing.T) {
	out, err := runCommand(t, "--help")
	require.NoError(t, err)

	for _, cmd := range []string{"init", "start", "status", "rule", "stage", "version"} {
		assert.Contains(t, out, cmd, "root help should list %q subcommand", cmd)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "warden")
}

func TestStatusCommand(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			writeJSON(t, w, map[string]string{"status": "ok"})
		case "/api/v1/stages":
			writeJSON(t, w, map[string]any{
				"stages": []map[string]any{
					{"id": "pattern", "status": "active"},
					{"id": "classifier", "status": "paused", "reason": "degraded"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})

	out, err := runCommand(t, "status", "--address", daemon.addr())
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "pattern")
	assert.Contains(t, out, "degraded")
}

func TestStatusCommand_DaemonDown(t *testing.T) {
	// Reserve then release a port so nothing is listening on it.
	daemon := newFakeDaemon(t, func(http.ResponseWriter, *http.Request) {})
	addr := daemon.addr()
	daemon.srv.Close()

	out, err := runCommand(t, "status", "--address", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestRuleListCommand(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"rules": []map[string]any{
				{
					"id": "rule-1", "description": "no referral links",
					"action": "delete", "stage": "pattern",
				},
			},
		})
	})

	out, err := runCommand(t, "rule", "list", "--address", daemon.addr())
	require.NoError(t, err)
	assert.Contains(t, out, "rule-1")
	assert.Contains(t, out, "no referral links")
	assert.Contains(t, out, "global")
	assert.Equal(t, []string{"GET /api/v1/rules"}, daemon.requests)
}

func TestRuleListCommand_ForChat(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"rules": []map[string]any{}})
	})

	out, err := runCommand(t, "rule", "list", "--address", daemon.addr(), "--chat", "-1001")
	require.NoError(t, err)
	assert.Contains(t, out, "No rules.")
	assert.Equal(t, []string{"GET /api/v1/rules?chat_id=-1001"}, daemon.requests)
}

func TestRuleAddCommand(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		writeJSON(t, w, map[string]any{"id": "rule-1", "stage": "contextual"})
	})

	out, err := runCommand(t, "rule", "add", "no", "job", "offers",
		"--address", daemon.addr(), "--action", "mute", "--duration", "30m")
	require.NoError(t, err)
	assert.Contains(t, out, "Added rule rule-1")

	require.Len(t, daemon.bodies, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(daemon.bodies[0]), &body))
	assert.Equal(t, "no job offers", body["description"])
	assert.Equal(t, "mute", body["action"])
	assert.Equal(t, float64(1800), body["duration_seconds"])
}

func TestRuleAddCommand_BadDuration(t *testing.T) {
	daemon := newFakeDaemon(t, func(http.ResponseWriter, *http.Request) {})

	_, err := runCommand(t, "rule", "add", "no spam",
		"--address", daemon.addr(), "--duration", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad duration")
	assert.Empty(t, daemon.requests)
}

func TestRuleRemoveCommand(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"removed": "rule-1"})
	})

	out, err := runCommand(t, "rule", "remove", "rule-1", "--address", daemon.addr())
	require.NoError(t, err)
	assert.Contains(t, out, "Removed rule rule-1")
	assert.Equal(t, []string{"DELETE /api/v1/rules/rule-1"}, daemon.requests)
}

func TestStagePauseCommand(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"stage": "classifier", "status": "paused"})
	})

	out, err := runCommand(t, "stage", "pause", "classifier",
		"--address", daemon.addr(), "--reason", "provider outage")
	require.NoError(t, err)
	assert.Contains(t, out, "Stage classifier is paused")
	assert.Equal(t, []string{"POST /api/v1/stages/classifier/pause"}, daemon.requests)
	assert.Contains(t, daemon.bodies[0], "provider outage")
}

func TestStageResumeCommand(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"stage": "classifier", "status": "active"})
	})

	out, err := runCommand(t, "stage", "resume", "classifier", "--address", daemon.addr())
	require.NoError(t, err)
	assert.Contains(t, out, "Stage classifier is active")
}

func TestStageCommand_DaemonError(t *testing.T) {
	daemon := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Conflict"}`, http.StatusConflict)
	})

	_, err := runCommand(t, "stage", "resume", "pattern", "--address", daemon.addr())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
