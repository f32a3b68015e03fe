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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kbridge/pkg/kernel"
)

func newFakeKernelServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(kernel.ExecuteResult{Output: "42\n", Vars: []string{"x"}})
	})
	mux.HandleFunc("/vars", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]kernel.Variable{{Name: "x", Type: "int", Summary: "42"}})
	})
	mux.HandleFunc("/var/x", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": 42})
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestHandleExecRunsCodeThroughKernel(t *testing.T) {
	srv := newFakeKernelServer(t)
	defer srv.Close()

	deps, _, closeAll := newTestDeps(t)
	defer closeAll()
	deps.Kernel = &fakeKernelAccessor{client: kernel.NewClient(srv.URL, 30*time.Second, 10*time.Second)}

	exec := handleExec(deps)
	args, err := json.Marshal(execArgs{Code: "x = 42"})
	require.NoError(t, err)

	res, err := exec(context.Background(), args)
	require.NoError(t, err)
	result, ok := res.(*kernel.ExecuteResult)
	require.True(t, ok)
	assert.Equal(t, "42\n", result.Output)
}

func TestHandleExecRequiresCode(t *testing.T) {
	deps, _, closeAll := newTestDeps(t)
	defer closeAll()

	exec := handleExec(deps)
	_, err := exec(context.Background(), json.RawMessage(`{"code":""}`))
	require.Error(t, err)
}

func TestHandleVarsAndGetAndReset(t *testing.T) {
	srv := newFakeKernelServer(t)
	defer srv.Close()

	deps, _, closeAll := newTestDeps(t)
	defer closeAll()
	deps.Kernel = &fakeKernelAccessor{client: kernel.NewClient(srv.URL, 30*time.Second, 10*time.Second)}

	vars := handleVars(deps)
	res, err := vars(context.Background(), nil)
	require.NoError(t, err)
	list, ok := res.([]kernel.Variable)
	require.True(t, ok)
	assert.Len(t, list, 1)

	get := handleGet(deps)
	gArgs, err := json.Marshal(getArgs{Name: "x"})
	require.NoError(t, err)
	gres, err := get(context.Background(), gArgs)
	require.NoError(t, err)
	m, ok := gres.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 42, m["value"])

	reset := handleReset(deps)
	rres, err := reset(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reset": true}, rres)
}

func TestHandleLoadDeniesCredentialPaths(t *testing.T) {
	srv := newFakeKernelServer(t)
	defer srv.Close()

	deps, _, closeAll := newTestDeps(t)
	defer closeAll()
	deps.Kernel = &fakeKernelAccessor{client: kernel.NewClient(srv.URL, 30*time.Second, 10*time.Second)}

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	load := handleLoad(deps)
	args, err := json.Marshal(loadArgs{Path: filepath.Join(home, ".ssh", "id_rsa"), VarName: "key"})
	require.NoError(t, err)

	_, err = load(context.Background(), args)
	require.Error(t, err)
}

func TestHandleLoadReadsFileIntoKernel(t *testing.T) {
	srv := newFakeKernelServer(t)
	defer srv.Close()

	deps, _, closeAll := newTestDeps(t)
	defer closeAll()
	deps.Kernel = &fakeKernelAccessor{client: kernel.NewClient(srv.URL, 30*time.Second, 10*time.Second)}

	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	load := handleLoad(deps)
	args, err := json.Marshal(loadArgs{Path: path, VarName: "data"})
	require.NoError(t, err)

	res, err := load(context.Background(), args)
	require.NoError(t, err)
	m, ok := res.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["loaded"])
	assert.Equal(t, 5, m["bytes"])
}

func TestHandleUsageReportsAndResets(t *testing.T) {
	deps, _, closeAll := newTestDeps(t)
	defer closeAll()

	deps.Ledger.Record("mock", 10, 20)

	usage := handleUsage(deps)
	res, err := usage(context.Background(), json.RawMessage(`{"reset":true}`))
	require.NoError(t, err)
	_ = res

	calls, in, out := deps.Ledger.Snapshot()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, in)
	assert.Equal(t, 0, out)
}

func TestIsDeniedPath(t *testing.T) {
	prefixes := []string{"/etc/shadow", "/home/user/.ssh"}
	assert.True(t, IsDeniedPath("/etc/shadow", prefixes))
	assert.True(t, IsDeniedPath("/home/user/.ssh/id_rsa", prefixes))
	assert.False(t, IsDeniedPath("/home/user/project/main.go", prefixes))
}
