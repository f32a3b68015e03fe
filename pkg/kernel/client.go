// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package kernel provides a typed HTTP client for the remote code kernel,
// plus the lifecycle manager and session snapshotter that sit on top of it.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
)

// Variable describes one entry in the kernel's variable namespace.
type Variable struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// ExecuteResult is the response shape of POST /exec.
type ExecuteResult struct {
	Output string   `json:"output"`
	Stderr string   `json:"stderr"`
	Vars   []string `json:"vars"`
}

// RestoreResult is the response shape of POST /snapshot/restore.
type RestoreResult struct {
	Restored []string `json:"restored"`
	Skipped  []string `json:"skipped"`
}

// Client is a typed HTTP client over the kernel's fixed endpoint contract.
// All methods are idempotent except Execute, Reset, and SnapshotRestore.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// requestTimeout must stay strictly greater than executeTimeout so an
	// overdue kernel produces a structured timeout error, never a bare
	// transport error from our own client giving up first.
	requestTimeout time.Duration
	executeTimeout time.Duration
}

// NewClient builds a Client against baseURL. requestTimeout must exceed
// executeTimeout; if it does not, requestTimeout is widened to
// executeTimeout+30s so the invariant always holds.
func NewClient(baseURL string, requestTimeout, executeTimeout time.Duration) *Client {
	if requestTimeout <= executeTimeout {
		requestTimeout = executeTimeout + 30*time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
		requestTimeout: requestTimeout,
		executeTimeout: executeTimeout,
	}
}

// Execute runs code in the kernel and returns its captured output. timeout,
// if zero, defaults to the client's configured execute timeout.
func (c *Client) Execute(ctx context.Context, code string, timeout time.Duration) (*ExecuteResult, error) {
	if timeout <= 0 {
		timeout = c.executeTimeout
	}
	body := map[string]any{"code": code, "timeout": timeout.Seconds()}
	var result ExecuteResult
	if err := c.doJSON(ctx, http.MethodPost, "/exec", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListVariables returns the kernel's current variable namespace summary.
func (c *Client) ListVariables(ctx context.Context) ([]Variable, error) {
	var result []Variable
	if err := c.doJSON(ctx, http.MethodGet, "/vars", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetVariable fetches a single variable's value, optionally narrowed by a
// sub-expression (e.g. "df.head()").
func (c *Client) GetVariable(ctx context.Context, name, expression string) (any, error) {
	path := "/var/" + name
	if expression != "" {
		path += "?expr=" + expression
	}
	var result struct {
		Value any `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// Reset clears the kernel's variable namespace.
func (c *Client) Reset(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/reset", nil, nil)
}

// SnapshotSave asks the kernel to serialize its namespace and returns the
// raw bytes.
func (c *Client) SnapshotSave(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/snapshot/save", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kerrors.NewNetworkError("failed to read snapshot body", err.Error(), "retry the request", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusErr(resp.StatusCode, data)
	}
	return data, nil
}

// SnapshotRestore pushes a previously saved snapshot into the kernel.
// Restoration is best-effort per variable: names that fail to deserialize
// are reported in Skipped rather than aborting the whole restore.
func (c *Client) SnapshotRestore(ctx context.Context, snapshot []byte) (*RestoreResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/snapshot/restore", bytes.NewReader(snapshot))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kerrors.NewNetworkError("failed to read restore response", err.Error(), "retry the request", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusErr(resp.StatusCode, data)
	}

	var result RestoreResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, kerrors.NewInternalError("malformed restore response", err.Error(), "this is a kernel protocol bug", err)
	}
	return &result, nil
}

// Health reports whether the kernel considers itself ready.
func (c *Client) Health(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return err
	}
	if result.Status != "ok" {
		return kerrors.NewUnavailableError("kernel unhealthy", fmt.Sprintf("status=%q", result.Status), "wait for the kernel to finish starting", nil)
	}
	return nil
}

// HealthWithBackoff retries Health with an exponential backoff, used by the
// lazy-start path so a just-launched kernel has a moment to come up.
func (c *Client) HealthWithBackoff(ctx context.Context, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	b.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(func() error {
		return c.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, kerrors.NewInternalError("failed to build kernel request", err.Error(), "this is a bug", err)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return kerrors.NewInternalError("failed to encode kernel request", err.Error(), "this is a bug", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return kerrors.NewNetworkError("failed to read kernel response", err.Error(), "retry the request", err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatusErr(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return kerrors.NewInternalError("malformed kernel response", err.Error(), "this is a kernel protocol bug", err)
	}
	return nil
}

// classifyTransportErr reports every transport failure (connection refused,
// reset, timeout, ...) as a timeout error. The request is not retried.
func classifyTransportErr(err error) error {
	return kerrors.NewTimeoutError("kernel request failed", err.Error(), "the kernel may be overloaded or unreachable; check that it is running and retry", err)
}

// classifyStatusErr maps a non-2xx kernel response to kernel-runtime,
// overload, or protocol errors.
func classifyStatusErr(status int, body []byte) error {
	switch status {
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return kerrors.NewUnavailableError("kernel is overloaded", string(body), "retry later", nil)
	case http.StatusUnprocessableEntity, http.StatusInternalServerError:
		return &kerrors.UserError{
			Message:  "kernel execution failed",
			Cause:    string(body),
			Kind:     kerrors.KindKernelRuntime,
			ExitCode: kerrors.ExitKernelRuntime,
		}
	default:
		return kerrors.NewInternalError("unexpected kernel response", fmt.Sprintf("status=%d body=%s", status, string(body)), "this is a kernel protocol bug", nil)
	}
}
