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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/fetch"
)

func TestHandleFetchRequiresURL(t *testing.T) {
	deps, _, closeAll := newTestDeps(t)
	defer closeAll()

	h := handleFetch(deps)
	_, err := h(context.Background(), json.RawMessage(`{"url":""}`))
	require.Error(t, err)
}

func TestHandleFetchReturnsBlockedResultAsPayloadNotError(t *testing.T) {
	deps, projects, closeAll := newTestDeps(t)
	defer closeAll()
	projects.fetchCfg = fetch.Config{BlockedHosts: []string{"blocked.example.com"}}

	h := handleFetch(deps)
	args, err := json.Marshal(fetchArgs{URL: "https://blocked.example.com/page"})
	require.NoError(t, err)

	res, err := h(context.Background(), args)
	require.NoError(t, err)
	result, ok := res.(fetch.Result)
	require.True(t, ok)
	assert.Equal(t, kerrors.KindBlocked, result.ErrorKind)
}

func TestHandleLoadDirRequiresGlob(t *testing.T) {
	deps, _, closeAll := newTestDeps(t)
	defer closeAll()

	h := handleLoadDir(deps)
	_, err := h(context.Background(), json.RawMessage(`{"glob":""}`))
	require.Error(t, err)
}

func TestHandleLoadDirIngestsMatchingFiles(t *testing.T) {
	deps, _, closeAll := newTestDeps(t)
	defer closeAll()

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.md"), []byte("hello world"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.md"), []byte("goodbye world"), 0644))

	h := handleLoadDir(deps)
	args, err := json.Marshal(loadDirArgs{Glob: filepath.Join(srcDir, "*.md")})
	require.NoError(t, err)

	res, err := h(context.Background(), args)
	require.NoError(t, err)
	result, ok := res.(*fetch.DirLoadResult)
	require.True(t, ok)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 2, result.Ingested)
}

func TestHandleFetchSitemapRequiresURL(t *testing.T) {
	deps, _, closeAll := newTestDeps(t)
	defer closeAll()

	h := handleFetchSitemap(deps)
	_, err := h(context.Background(), json.RawMessage(`{"url":""}`))
	require.Error(t, err)
}
