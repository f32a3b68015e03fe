// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kraklabs/kbridge/pkg/callback"
	"github.com/kraklabs/kbridge/pkg/fetch"
	"github.com/kraklabs/kbridge/pkg/kernel"
	"github.com/kraklabs/kbridge/pkg/knowledge"
	"github.com/kraklabs/kbridge/pkg/research"
)

// errBoom is a sentinel used across tests to simulate a project-accessor
// resource failure without wiring a real broken store.
var errBoom = errors.New("boom")

// fakeKernelAccessor satisfies KernelAccessor against a pre-built client,
// standing in for pkg/host.Host's lazy-start behavior in tests that don't
// need to exercise the start-on-first-use path itself.
type fakeKernelAccessor struct {
	client  *kernel.Client
	lock    sync.RWMutex
	run     sync.Mutex
	startEr error
}

func (f *fakeKernelAccessor) EnsureStarted(_ context.Context) (*kernel.Client, error) {
	if f.startEr != nil {
		return nil, f.startEr
	}
	return f.client, nil
}

func (f *fakeKernelAccessor) ExecLock() *sync.RWMutex { return &f.lock }

func (f *fakeKernelAccessor) RunLock() *sync.Mutex { return &f.run }

// fakeProjectAccessor opens real collaborators on demand the way
// pkg/host.Host does, backed by temp-dir bbolt stores so tests exercise
// genuine Knowledge Store / Fetcher behavior rather than a mock.
type fakeProjectAccessor struct {
	mu        sync.Mutex
	dir       string
	embedder  knowledge.Embedder
	stores    map[string]*knowledge.Store
	fetchCfg  fetch.Config
	storeErr  error
	fetcherEr error
}

func newFakeProjectAccessor(t *testing.T) *fakeProjectAccessor {
	t.Helper()
	dir := t.TempDir()
	return &fakeProjectAccessor{
		dir:      dir,
		embedder: mockEmbedder{},
		stores:   make(map[string]*knowledge.Store),
	}
}

func (f *fakeProjectAccessor) Store(project string) (*knowledge.Store, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stores[project]; ok {
		return s, nil
	}
	path := filepath.Join(f.dir, project+".db")
	s, err := knowledge.Open(path, f.embedder, nil, true)
	if err != nil {
		return nil, err
	}
	f.stores[project] = s
	return s, nil
}

func (f *fakeProjectAccessor) Fetcher(project string) (*fetch.Fetcher, error) {
	if f.fetcherEr != nil {
		return nil, f.fetcherEr
	}
	store, err := f.Store(project)
	if err != nil {
		return nil, err
	}
	cfg := f.fetchCfg
	cfg.CacheRoot = filepath.Join(f.dir, project, "docs")
	return fetch.NewFetcher(cfg, store, nil), nil
}

func (f *fakeProjectAccessor) Orchestrator(project string) (*research.Orchestrator, error) {
	fetcher, err := f.Fetcher(project)
	if err != nil {
		return nil, err
	}
	return research.NewOrchestrator(nil, fetcher), nil
}

func (f *fakeProjectAccessor) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stores {
		_ = s.Close()
	}
}

// mockEmbedder produces cheap deterministic vectors for tool-layer tests
// that only need a working Knowledge Store, not a real embedding model.
type mockEmbedder struct{}

func (mockEmbedder) Dimensions() int { return 8 }

func (mockEmbedder) Embed(text string) ([]float32, error) {
	out := make([]float32, 8)
	for i := range out {
		out[i] = float32(len(text)%7) / 7.0
	}
	return out, nil
}

func newTestDeps(t *testing.T) (*Deps, *fakeProjectAccessor, func()) {
	t.Helper()
	projects := newFakeProjectAccessor(t)
	deps := &Deps{
		Kernel:         &fakeKernelAccessor{},
		Projects:       projects,
		Ledger:         callback.NewLedger(),
		DeniedPrefixes: DefaultDeniedPathPrefixes(),
		DefaultProject: "default",
	}
	return deps, projects, projects.closeAll
}
