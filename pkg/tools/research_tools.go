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

	kerrors "github.com/kraklabs/kbridge/internal/errors"
)

func registerResearchTools(reg *Registry, deps *Deps) {
	reg.Register("research", handleResearch(deps))
	reg.Register("knowledge_status", handleKnowledgeStatus(deps))
	reg.Register("knowledge_clear", handleKnowledgeClear(deps))
}

type researchArgs struct {
	Topic    string   `json:"topic"`
	Project  string   `json:"project"`
	SeedURLs []string `json:"seed_urls"`
}

func handleResearch(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args researchArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Topic == "" {
			return nil, kerrors.NewInputError("research requires topic", "topic was empty", "pass a non-empty topic")
		}
		orchestrator, err := deps.Projects.Orchestrator(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		return orchestrator.Research(ctx, args.Topic, args.SeedURLs)
	}
}

type projectArgs struct {
	Project string `json:"project"`
}

func handleKnowledgeStatus(deps *Deps) Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args projectArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		store, err := deps.Projects.Store(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		return store.Status()
	}
}

func handleKnowledgeClear(deps *Deps) Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args projectArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		store, err := deps.Projects.Store(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		if err := store.Clear(); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true}, nil
	}
}
