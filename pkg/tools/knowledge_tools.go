// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"time"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/knowledge"
)

func registerKnowledgeTools(reg *Registry, deps *Deps) {
	reg.Register("search", handleSearch(deps))
	reg.Register("ask", handleAsk(deps))
	reg.Register("timeline", handleTimeline(deps))
	reg.Register("ingest", handleIngest(deps))
}

type searchArgs struct {
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
	Mode    string `json:"mode"`
	Project string `json:"project"`
	Thread  string `json:"thread"`
	Label   string `json:"label"`
}

func handleSearch(deps *Deps) Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args searchArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Query == "" {
			return nil, kerrors.NewInputError("search requires query", "query was empty", "pass a non-empty query string")
		}
		store, err := deps.Projects.Store(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		mode := knowledge.ModeHybrid
		if args.Mode != "" {
			mode = knowledge.SearchMode(args.Mode)
		}
		topK := args.TopK
		if topK <= 0 {
			topK = 10
		}
		return store.Search(knowledge.SearchOptions{
			Query:  args.Query,
			TopK:   topK,
			Mode:   mode,
			Thread: args.Thread,
			Label:  args.Label,
		})
	}
}

type askArgs struct {
	Question     string `json:"question"`
	ContextOnly  *bool  `json:"context_only"`
	Project      string `json:"project"`
	Thread       string `json:"thread"`
}

func handleAsk(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args askArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Question == "" {
			return nil, kerrors.NewInputError("ask requires question", "question was empty", "pass a non-empty question string")
		}
		store, err := deps.Projects.Store(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		return store.Ask(ctx, args.Question, args.ContextOnly, args.Thread)
	}
}

type timelineArgs struct {
	Since   string `json:"since"`
	Until   string `json:"until"`
	Project string `json:"project"`
}

func handleTimeline(deps *Deps) Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args timelineArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		store, err := deps.Projects.Store(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		since, err := parseOptionalTime(args.Since)
		if err != nil {
			return nil, kerrors.NewInputError("invalid since", err.Error(), "use RFC3339 timestamps")
		}
		until, err := parseOptionalTime(args.Until)
		if err != nil {
			return nil, kerrors.NewInputError("invalid until", err.Error(), "use RFC3339 timestamps")
		}
		return store.Timeline(since, until), nil
	}
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type ingestArgs struct {
	Title   string `json:"title"`
	Label   string `json:"label"`
	Text    string `json:"text"`
	Thread  string `json:"thread"`
	Project string `json:"project"`
}

func handleIngest(deps *Deps) Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args ingestArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Title == "" || args.Text == "" {
			return nil, kerrors.NewInputError("ingest requires title and text", "one or both were empty", "pass both title and text")
		}
		store, err := deps.Projects.Store(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		return store.Ingest(knowledge.IngestOptions{
			Title:  args.Title,
			Label:  args.Label,
			Text:   args.Text,
			Thread: args.Thread,
		})
	}
}
