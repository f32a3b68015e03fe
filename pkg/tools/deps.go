// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"sync"

	"github.com/kraklabs/kbridge/pkg/callback"
	"github.com/kraklabs/kbridge/pkg/fetch"
	"github.com/kraklabs/kbridge/pkg/kernel"
	"github.com/kraklabs/kbridge/pkg/knowledge"
	"github.com/kraklabs/kbridge/pkg/research"
	"github.com/kraklabs/kbridge/pkg/subagent"
)

// KernelAccessor is the narrow slice of the Kernel Manager the tool surface
// needs: lazy, lock-guarded start of the kernel, plus the lock a snapshot
// save serializes against so an execute can never straddle a save. Kept as
// an interface so this package does not depend on pkg/host, which composes
// it.
type KernelAccessor interface {
	EnsureStarted(ctx context.Context) (*kernel.Client, error)
	ExecLock() *sync.RWMutex

	// RunLock serializes sub-agent runs against the single shared kernel:
	// only one Runner.Run may drive the kernel at a time, per the
	// concurrency model's "sub-agent runs are serialized per kernel" rule.
	RunLock() *sync.Mutex
}

// ProjectAccessor resolves a project id to its per-project collaborators,
// opening them lazily and caching the instance, per the spec's "one
// Knowledge Store instance per project, cached in a mapping guarded by a
// mutex" resource note. Implemented by pkg/host.Host.
type ProjectAccessor interface {
	Store(project string) (*knowledge.Store, error)
	Fetcher(project string) (*fetch.Fetcher, error)
	Orchestrator(project string) (*research.Orchestrator, error)
}

// Deps bundles every collaborator the tool surface dispatches into.
type Deps struct {
	Kernel         KernelAccessor
	Projects       ProjectAccessor
	SubAgent       *subagent.Runner
	Ledger         *callback.Ledger
	DeniedPrefixes []string

	// DefaultProject is the project id used when a tool call omits the
	// optional "project" argument. Set by pkg/host.Host from the same
	// cfg.ProjectID that kbridge status/refresh/reset resolve, so every
	// surface agrees on which project a working directory defaults to.
	DefaultProject string
}

// projectOrDefault resolves a tool call's optional project argument against
// deps.DefaultProject, never a hardcoded literal, so the tool surface's
// notion of "the current project" matches the CLI's.
func (deps *Deps) projectOrDefault(project string) string {
	if project == "" {
		return deps.DefaultProject
	}
	return project
}
