// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package telegram_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/channel/telegram"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode wardenerr.Code
	}{
		{name: "valid token", status: http.StatusOK},
		{name: "unauthorized", status: http.StatusUnauthorized, wantCode: wardenerr.CodeChannelTokenInvalid},
		{name: "forbidden", status: http.StatusForbidden, wantCode: wardenerr.CodeChannelTokenInvalid},
		{name: "server error", status: http.StatusBadGateway, wantCode: wardenerr.CodeChannelTokenCheckFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer srv.Close()

			err := telegram.ValidateTokenWithURL(context.Background(), srv.Client(), srv.URL)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, wardenerr.HasCode(err, tt.wantCode),
				"want code %s, got %s", tt.wantCode, wardenerr.CodeOf(err))
		})
	}
}

func TestValidateTokenUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	err := telegram.ValidateTokenWithURL(context.Background(), http.DefaultClient, srv.URL)
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeChannelTokenCheckFailure))
}
