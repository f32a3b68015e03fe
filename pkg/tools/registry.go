// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package tools implements the fixed tool surface exposed to the client:
// a name-to-handler registry, JSON-shaped argument decoding, and dispatch
// that never lets an uncaught error escape as anything but a structured
// {error_kind, message} result.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
)

// Handler is one tool's implementation. argsJSON is the raw argument
// object from the transport; the handler decodes it into its own typed
// struct. A returned error is normalized by Dispatch into a ToolResult —
// handlers never format error JSON themselves.
type Handler func(ctx context.Context, argsJSON json.RawMessage) (any, error)

// Registry maps tool name to Handler, the way the teacher's MCP transport
// dispatches tools/call by name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// Dispatch looks up name and invokes its handler. The return value is
// always JSON-marshalable: either the handler's success payload, or a
// kerrors.ToolResult carrying {error_kind, message} — this function never
// returns a Go error, matching the "tools do not stream; a single
// structured result" contract.
func (r *Registry) Dispatch(ctx context.Context, name string, argsJSON json.RawMessage) any {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return kerrors.AsToolResult(kerrors.NewNotFoundError(
			"unknown tool",
			name,
			"check the tool name against the registered surface",
		))
	}

	result, err := h(ctx, argsJSON)
	if err != nil {
		return kerrors.AsToolResult(err)
	}
	return result
}

// decode unmarshals argsJSON into dst, wrapping a malformed payload as a
// validation error rather than letting json.Unmarshal's error leak
// unnormalized.
func decode(argsJSON json.RawMessage, dst any) error {
	if len(argsJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(argsJSON, dst); err != nil {
		return kerrors.NewInputError("malformed tool arguments", err.Error(), "check the argument shape against the tool's schema")
	}
	return nil
}
