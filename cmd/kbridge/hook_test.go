// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsHookMarker(t *testing.T) {
	assert.True(t, containsHookMarker(postCommitHookContent))
	assert.False(t, containsHookMarker("#!/bin/sh\necho hi\n"))
}

func TestInstallHookWritesExecutableScript(t *testing.T) {
	dir := t.TempDir()
	hookPath := filepath.Join(dir, "hooks", "post-commit")

	require.NoError(t, installHook(hookPath, false))

	content, err := os.ReadFile(hookPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "kbridge refresh --quiet")

	info, err := os.Stat(hookPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100)
}

func TestInstallHookRefusesForeignHookWithoutForce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hooks"), 0755))
	hookPath := filepath.Join(dir, "hooks", "post-commit")
	require.NoError(t, os.WriteFile(hookPath, []byte("#!/bin/sh\necho some other hook\n"), 0755))

	err := installHook(hookPath, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInstallHookOverwritesForeignHookWithForce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hooks"), 0755))
	hookPath := filepath.Join(dir, "hooks", "post-commit")
	require.NoError(t, os.WriteFile(hookPath, []byte("#!/bin/sh\necho some other hook\n"), 0755))

	require.NoError(t, installHook(hookPath, true))

	content, err := os.ReadFile(hookPath)
	require.NoError(t, err)
	assert.True(t, containsHookMarker(string(content)))
}

func TestInstallHookIsIdempotentWithoutForce(t *testing.T) {
	dir := t.TempDir()
	hookPath := filepath.Join(dir, "hooks", "post-commit")

	require.NoError(t, installHook(hookPath, false))
	require.NoError(t, installHook(hookPath, false))
}

func TestRemoveHookDeletesKbridgeHook(t *testing.T) {
	dir := t.TempDir()
	hookPath := filepath.Join(dir, "hooks", "post-commit")
	require.NoError(t, installHook(hookPath, false))

	require.NoError(t, removeHook(hookPath))
	_, err := os.Stat(hookPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveHookRefusesForeignHook(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hooks"), 0755))
	hookPath := filepath.Join(dir, "hooks", "post-commit")
	require.NoError(t, os.WriteFile(hookPath, []byte("#!/bin/sh\necho some other hook\n"), 0755))

	err := removeHook(hookPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was not installed by kbridge")
}

func TestRemoveHookMissingFile(t *testing.T) {
	dir := t.TempDir()
	err := removeHook(filepath.Join(dir, "hooks", "post-commit"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hook found")
}

func TestFindGitDirWalksUpToRepoRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(cwd) }()

	require.NoError(t, os.Chdir(nested))
	gitDir, err := findGitDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".git"), gitDir)
}

func TestFindGitDirFollowsWorktreeGitFile(t *testing.T) {
	root := t.TempDir()
	realGitDir := filepath.Join(root, "main-repo", ".git", "worktrees", "feature")
	require.NoError(t, os.MkdirAll(realGitDir, 0755))

	worktreeDir := filepath.Join(root, "feature-worktree")
	require.NoError(t, os.MkdirAll(worktreeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(worktreeDir, ".git"), []byte("gitdir: "+realGitDir+"\n"), 0644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(cwd) }()

	require.NoError(t, os.Chdir(worktreeDir))
	gitDir, err := findGitDir()
	require.NoError(t, err)
	assert.Equal(t, realGitDir, gitDir)
}

func TestFindGitDirOutsideRepository(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(cwd) }()

	require.NoError(t, os.Chdir(dir))
	_, err = findGitDir()
	assert.Error(t, err)
}
