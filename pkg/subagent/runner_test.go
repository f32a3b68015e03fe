// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/kernel"
	"github.com/kraklabs/kbridge/pkg/llm"
)

func newFakeKernelServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(kernel.ExecuteResult{Output: "ok\n"})
	})
	return httptest.NewServer(mux)
}

func newTestKernelClient(t *testing.T, srv *httptest.Server) *kernel.Client {
	t.Helper()
	return kernel.NewClient(srv.URL, 30*time.Second, 10*time.Second)
}

func TestRunReturnsSubmittedOutputsImmediately(t *testing.T) {
	sig := Signature{Name: "summarize", InputFields: []string{"text"}, OutputFields: []string{"summary"}}

	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: `{"summary":"done"}`}}, nil
		},
	}

	r := NewRunner(provider, nil, nil)
	result, err := r.Run(context.Background(), sig, map[string]any{"text": "hello"}, DefaultLimits())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outputs["summary"] != "done" {
		t.Fatalf("expected the submitted output to be returned, got %v", result.Outputs)
	}
	if result.Iterations != 1 {
		t.Fatalf("expected exactly 1 iteration, got %d", result.Iterations)
	}
}

func TestRunExecutesCodeBlocksThroughTheKernel(t *testing.T) {
	srv := newFakeKernelServer(t)
	defer srv.Close()

	sig := Signature{Name: "search", InputFields: []string{"query"}, OutputFields: []string{"results"}}

	turn := 0
	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
			turn++
			if turn == 1 {
				return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "```python\nprint(1)\n```"}}, nil
			}
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: `{"results":["a"]}`}}, nil
		},
	}

	r := NewRunner(provider, newTestKernelClient(t, srv), nil)
	result, err := r.Run(context.Background(), sig, map[string]any{"query": "x"}, DefaultLimits())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trajectory) != 2 {
		t.Fatalf("expected 2 trajectory steps (one execute, one submit), got %d", len(result.Trajectory))
	}
	if result.Trajectory[0].Output != "ok\n" {
		t.Fatalf("expected the first step's output to come from the kernel, got %q", result.Trajectory[0].Output)
	}
}

func TestRunStopsAtMaxLLMCalls(t *testing.T) {
	sig := Signature{Name: "search", InputFields: []string{"query"}, OutputFields: []string{"results"}}

	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "not code, not json"}}, nil
		},
	}

	r := NewRunner(provider, nil, nil)
	_, err := r.Run(context.Background(), sig, map[string]any{"query": "x"}, Limits{MaxIterations: 100, MaxLLMCalls: 2, MaxOutputChars: 1000})
	if err == nil {
		t.Fatalf("expected an error when max_llm_calls is exhausted")
	}
	if kerrors.AsToolResult(err).ErrorKind == "" {
		t.Fatalf("expected a classified tool error")
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	srv := newFakeKernelServer(t)
	defer srv.Close()

	sig := Signature{Name: "search", InputFields: []string{"query"}, OutputFields: []string{"results"}}

	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "```python\nprint(1)\n```"}}, nil
		},
	}

	r := NewRunner(provider, newTestKernelClient(t, srv), nil)
	_, err := r.Run(context.Background(), sig, map[string]any{"query": "x"}, Limits{MaxIterations: 3, MaxLLMCalls: 1000, MaxOutputChars: 1000})
	if err == nil {
		t.Fatalf("expected an error when max_iterations is exhausted without a submission")
	}
}

func TestRunValidatesInputsBeforeCallingTheModel(t *testing.T) {
	called := false
	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
			called = true
			return &llm.ChatResponse{}, nil
		},
	}

	sig := Signature{InputFields: []string{"required"}}
	r := NewRunner(provider, nil, nil)
	_, err := r.Run(context.Background(), sig, map[string]any{}, DefaultLimits())
	if err == nil {
		t.Fatalf("expected an error for missing required input")
	}
	if called {
		t.Fatalf("expected input validation to short-circuit before any model call")
	}
}

func TestExtractCodeFindsFencedPythonBlock(t *testing.T) {
	code, ok := extractCode("leading text\n```python\nx = 1\n```\ntrailing text")
	if !ok {
		t.Fatalf("expected a fenced code block to be found")
	}
	if code != "x = 1" {
		t.Fatalf("unexpected extracted code: %q", code)
	}
}

func TestExtractCodeReturnsFalseForPlainText(t *testing.T) {
	if _, ok := extractCode("just a sentence with no code fence"); ok {
		t.Fatalf("expected no code to be extracted from plain text")
	}
}

func TestParseSubmissionRequiresAllDeclaredOutputFields(t *testing.T) {
	sig := Signature{OutputFields: []string{"a", "b"}}

	if _, ok := parseSubmission(`{"a": 1}`, sig); ok {
		t.Fatalf("expected an incomplete submission to be rejected")
	}
	if _, ok := parseSubmission(`not json`, sig); ok {
		t.Fatalf("expected non-JSON content to be rejected")
	}
	outputs, ok := parseSubmission(`{"a": 1, "b": 2}`, sig)
	if !ok {
		t.Fatalf("expected a complete submission to be accepted")
	}
	if outputs["a"].(float64) != 1 {
		t.Fatalf("unexpected outputs: %v", outputs)
	}
}

func TestTruncateRespectsMaxChars(t *testing.T) {
	if got := truncate("hello world", 5); got != "hello" {
		t.Fatalf("expected truncation to 5 chars, got %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected a short string to pass through unchanged, got %q", got)
	}
}
