// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kbridge/internal/config"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	cfg := config.DefaultConfig("test-project")
	cfg.LLM.Provider = "mock"
	cfg.Kernel.Tier = 1

	h, err := New(cfg, Options{WorkingDir: t.TempDir(), DataDir: t.TempDir()}, nil)
	require.NoError(t, err)
	return h
}

func TestNewConstructsRegistryWithoutStartingAnything(t *testing.T) {
	h := newTestHost(t)
	require.NotNil(t, h.Registry)

	names := h.Registry.Names()
	assert.Contains(t, names, "exec")
	assert.Contains(t, names, "search")
	assert.Contains(t, names, "fetch")
	assert.Contains(t, names, "research")
}

func TestStoreIsCachedPerProject(t *testing.T) {
	h := newTestHost(t)
	defer func() { _ = h.Stop(context.Background()) }()

	s1, err := h.Store("alpha")
	require.NoError(t, err)
	s2, err := h.Store("alpha")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	s3, err := h.Store("beta")
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
}

func TestFetcherCachesAndReusesStore(t *testing.T) {
	h := newTestHost(t)
	defer func() { _ = h.Stop(context.Background()) }()

	f1, err := h.Fetcher("gamma")
	require.NoError(t, err)
	f2, err := h.Fetcher("gamma")
	require.NoError(t, err)
	assert.Same(t, f1, f2)

	_, err = h.Store("gamma")
	require.NoError(t, err)
}

func TestOrchestratorIsCachedPerProject(t *testing.T) {
	h := newTestHost(t)
	defer func() { _ = h.Stop(context.Background()) }()

	o1, err := h.Orchestrator("delta")
	require.NoError(t, err)
	o2, err := h.Orchestrator("delta")
	require.NoError(t, err)
	assert.Same(t, o1, o2)
}

func TestStartAndStopLifecycle(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(context.Background()))
}

func TestStoreOpensUnderDataDirKnowledgeSubdir(t *testing.T) {
	dataDir := t.TempDir()
	cfg := config.DefaultConfig("test-project")
	cfg.LLM.Provider = "mock"
	h, err := New(cfg, Options{WorkingDir: t.TempDir(), DataDir: dataDir}, nil)
	require.NoError(t, err)
	defer func() { _ = h.Stop(context.Background()) }()

	_, err = h.Store("epsilon")
	require.NoError(t, err)

	expected := filepath.Join(dataDir, "knowledge", "epsilon.db")
	_, statErr := os.Stat(expected)
	require.NoError(t, statErr)
}
