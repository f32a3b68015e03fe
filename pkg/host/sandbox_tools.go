// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"fmt"
	"net/url"
	"os"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/callback"
	"github.com/kraklabs/kbridge/pkg/knowledge"
	"github.com/kraklabs/kbridge/pkg/tools"
)

// sandboxTools builds the SANDBOX_TOOLS registry handed to the Callback
// Server: the minimum whitelist named in the component design, each one a
// read-only, idempotent wrapper around a host-owned collaborator. Mutating
// tools (exec, reset, sub_agent, ingest) are deliberately absent — they are
// simply never registered here, which is how the whitelist stays closed.
func (h *Host) sandboxTools() map[string]callback.ToolHandler {
	return map[string]callback.ToolHandler{
		"search_knowledge": h.sandboxSearchKnowledge,
		"ask_knowledge":    h.sandboxAskKnowledge,
		"fetch_url":        h.sandboxFetchURL,
		"load_file":        h.sandboxLoadFile,
		"apple_search":     h.sandboxAppleSearch,
	}
}

func stringArg(in map[string]any, key string) string {
	if v, ok := in[key].(string); ok {
		return v
	}
	return ""
}

func intArg(in map[string]any, key string) int {
	switch v := in[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolArg(in map[string]any, key string) bool {
	v, _ := in[key].(bool)
	return v
}

func (h *Host) sandboxSearchKnowledge(_ context.Context, in map[string]any) (any, error) {
	query := stringArg(in, "query")
	if query == "" {
		return nil, kerrors.NewInputError("search_knowledge requires query", "query was empty", "pass a non-empty query string")
	}
	store, err := h.Store(projectOrDefault(stringArg(in, "project")))
	if err != nil {
		return nil, err
	}
	topK := intArg(in, "top_k")
	if topK <= 0 {
		topK = 10
	}
	mode := knowledge.ModeHybrid
	if m := stringArg(in, "mode"); m != "" {
		mode = knowledge.SearchMode(m)
	}
	return store.Search(knowledge.SearchOptions{
		Query:  query,
		TopK:   topK,
		Mode:   mode,
		Thread: stringArg(in, "thread"),
		Label:  stringArg(in, "label"),
	})
}

func (h *Host) sandboxAskKnowledge(ctx context.Context, in map[string]any) (any, error) {
	question := stringArg(in, "question")
	if question == "" {
		return nil, kerrors.NewInputError("ask_knowledge requires question", "question was empty", "pass a non-empty question string")
	}
	store, err := h.Store(projectOrDefault(stringArg(in, "project")))
	if err != nil {
		return nil, err
	}
	var contextOnly *bool
	if v, ok := in["context_only"].(bool); ok {
		contextOnly = &v
	}
	return store.Ask(ctx, question, contextOnly, stringArg(in, "thread"))
}

func (h *Host) sandboxFetchURL(ctx context.Context, in map[string]any) (any, error) {
	target := stringArg(in, "url")
	if target == "" {
		return nil, kerrors.NewInputError("fetch_url requires url", "url was empty", "pass a non-empty url")
	}
	fetcher, err := h.Fetcher(projectOrDefault(stringArg(in, "project")))
	if err != nil {
		return nil, err
	}
	return fetcher.Fetch(ctx, target, boolArg(in, "force")), nil
}

func (h *Host) sandboxLoadFile(_ context.Context, in map[string]any) (any, error) {
	path := stringArg(in, "path")
	if path == "" {
		return nil, kerrors.NewInputError("load_file requires path", "path was empty", "pass a non-empty path")
	}
	if tools.IsDeniedPath(path, h.deniedPrefixes) {
		return nil, kerrors.NewPermissionError("path is denied", path, "load_file refuses credential directories and cloud configs")
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is denylist-checked above
	if err != nil {
		return nil, kerrors.NewNotFoundError("cannot read path", err.Error(), "check the path exists and is readable")
	}
	return map[string]any{"content": string(data), "bytes": len(data)}, nil
}

// sandboxAppleSearch is a thin, best-effort wrapper around the fetch
// cascade targeting Apple's developer documentation search, kept in the
// whitelist at the component design's stated minimum even though no
// dedicated Apple API is otherwise specified.
func (h *Host) sandboxAppleSearch(ctx context.Context, in map[string]any) (any, error) {
	query := stringArg(in, "query")
	if query == "" {
		return nil, kerrors.NewInputError("apple_search requires query", "query was empty", "pass a non-empty query string")
	}
	fetcher, err := h.Fetcher(projectOrDefault(stringArg(in, "project")))
	if err != nil {
		return nil, err
	}
	searchURL := fmt.Sprintf("https://developer.apple.com/search/?q=%s", url.QueryEscape(query))
	return fetcher.Fetch(ctx, searchURL, false), nil
}

func projectOrDefault(project string) string {
	if project == "" {
		return "default"
	}
	return project
}
