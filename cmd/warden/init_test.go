// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// rerouteTransport sends every request to the test server regardless of host.
type rerouteTransport struct {
	target *url.URL
}

func (rt rerouteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func swapInitClient(t *testing.T, serverURL string) {
	t.Helper()
	target, err := url.Parse(serverURL)
	require.NoError(t, err)
	orig := initHTTPClient
	initHTTPClient = &http.Client{Transport: rerouteTransport{target: target}}
	t.Cleanup(func() { initHTTPClient = orig })
}

func TestInitWritesStarterConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")

	out, err := runCommand(t, "init", "--path", path, "--admin", "1001", "--admin", "1002")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg starterConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, defaultDaemonAddr, cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, []int64{1001, 1002}, cfg.Telegram.AdminIDs)
}

func TestInitRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0o600))

	_, err := runCommand(t, "init", "--path", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err := runCommand(t, "init", "--path", path, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
}

func TestInitValidatesTelegramToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	swapInitClient(t, srv.URL)

	path := filepath.Join(t.TempDir(), "warden.yaml")
	out, err := runCommand(t, "init", "--path", path, "--telegram-token", "123:abc")
	require.NoError(t, err)
	assert.Contains(t, out, "Telegram token validated.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg starterConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestInitRejectsBadTelegramToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	swapInitClient(t, srv.URL)

	path := filepath.Join(t.TempDir(), "warden.yaml")
	_, err := runCommand(t, "init", "--path", path, "--telegram-token", "123:bad")
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeChannelTokenInvalid))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
