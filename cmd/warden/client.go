// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by daemon
// commands. Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// daemonClient provides HTTP access to a running warden daemon.
type daemonClient struct {
	baseURL string
	http    *http.Client
}

// newDaemonClient creates a client targeting the given host:port address.
func newDaemonClient(addr string) *daemonClient {
	return &daemonClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *daemonClient) getJSON(path string, dest any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeCLIRequestFailure, "building request")
	}
	return c.do(req, dest)
}

// postJSON performs a POST request with a JSON body and decodes the JSON
// response into dest.
func (c *daemonClient) postJSON(path string, body any, dest any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return wardenerr.Wrap(err, wardenerr.CodeCLIRequestFailure, "encoding request body")
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dest)
}

// del performs a DELETE request and decodes the JSON response into dest.
func (c *daemonClient) del(path string, dest any) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeCLIRequestFailure, "building request")
	}
	return c.do(req, dest)
}

func (c *daemonClient) do(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return wardenerr.New(wardenerr.CodeCLIDaemonNotRunning,
				"warden daemon is not running (connection refused)")
		}
		return wardenerr.Wrap(err, wardenerr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return wardenerr.Errorf(wardenerr.CodeCLIRequestFailure,
			"daemon returned status %d: %s", resp.StatusCode, string(body))
	}

	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
