// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package telegram

import (
	"context"
	"io"
	"net/http"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// ValidateToken calls Telegram's getMe endpoint to verify the bot token.
func ValidateToken(ctx context.Context, client *http.Client, token string) error {
	return validateURL(ctx, client, "https://api.telegram.org/bot"+token+"/getMe")
}

// ValidateTokenWithURL is a testable version that uses the given URL directly
// instead of constructing the Telegram API URL from the token.
func ValidateTokenWithURL(ctx context.Context, client *http.Client, url string) error {
	return validateURL(ctx, client, url)
}

func validateURL(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return wardenerr.Errorf(wardenerr.CodeChannelTokenCheckFailure, "building Telegram validation request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return wardenerr.Errorf(wardenerr.CodeChannelTokenCheckFailure, "validating Telegram token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return wardenerr.Errorf(wardenerr.CodeChannelTokenInvalid, "invalid Telegram bot token (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return wardenerr.Errorf(wardenerr.CodeChannelTokenCheckFailure, "Telegram validation failed (HTTP %d)", resp.StatusCode)
	}

	return nil
}
