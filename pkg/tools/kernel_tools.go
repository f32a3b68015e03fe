// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/subagent"
)

// DefaultDeniedPathPrefixes names the credential directories and cloud
// configs load() refuses to read, expanded against the caller's home
// directory at registration time.
func DefaultDeniedPathPrefixes() []string {
	home, _ := os.UserHomeDir()
	rel := []string{
		".ssh", ".aws", ".config/gcloud", ".kube", ".docker/config.json",
		".netrc", ".npmrc", ".pypirc", ".gnupg",
	}
	out := make([]string, 0, len(rel)+2)
	out = append(out, "/etc/shadow", "/etc/passwd")
	for _, r := range rel {
		if home != "" {
			out = append(out, filepath.Join(home, r))
		}
	}
	return out
}

// IsDeniedPath reports whether path falls under one of prefixes (exact
// match or a path-separator-bounded prefix), after resolving it to an
// absolute path. Shared by the kernel load() tool and the sandbox
// load_file callback tool.
func IsDeniedPath(path string, prefixes []string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, p := range prefixes {
		if abs == p || strings.HasPrefix(abs, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func registerKernelTools(reg *Registry, deps *Deps) {
	reg.Register("exec", handleExec(deps))
	reg.Register("load", handleLoad(deps))
	reg.Register("get", handleGet(deps))
	reg.Register("vars", handleVars(deps))
	reg.Register("reset", handleReset(deps))
	reg.Register("sub_agent", handleSubAgent(deps))
	reg.Register("usage", handleUsage(deps))
}

type execArgs struct {
	Code          string `json:"code"`
	TimeoutSecond int    `json:"timeout"`
}

func handleExec(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args execArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Code == "" {
			return nil, kerrors.NewInputError("exec requires code", "code was empty", "pass a non-empty code string")
		}
		client, err := deps.Kernel.EnsureStarted(ctx)
		if err != nil {
			return nil, err
		}
		var timeout time.Duration
		if args.TimeoutSecond > 0 {
			timeout = time.Duration(args.TimeoutSecond) * time.Second
		}
		lock := deps.Kernel.ExecLock()
		lock.RLock()
		defer lock.RUnlock()
		return client.Execute(ctx, args.Code, timeout)
	}
}

type loadArgs struct {
	Path    string `json:"path"`
	VarName string `json:"var_name"`
}

func handleLoad(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args loadArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Path == "" || args.VarName == "" {
			return nil, kerrors.NewInputError("load requires path and var_name", "one or both were empty", "pass both path and var_name")
		}
		if IsDeniedPath(args.Path, deps.DeniedPrefixes) {
			return nil, kerrors.NewPermissionError("path is denied", args.Path, "load() refuses credential directories and cloud configs")
		}
		data, err := os.ReadFile(args.Path) //nolint:gosec // G304: path is operator-supplied and denylist-checked above
		if err != nil {
			return nil, kerrors.NewNotFoundError("cannot read path", err.Error(), "check the path exists and is readable")
		}

		client, err := deps.Kernel.EnsureStarted(ctx)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		code := fmt.Sprintf("import base64 as __kb_base64\n%s = __kb_base64.b64decode(%q).decode('utf-8', errors='replace')", args.VarName, encoded)
		lock := deps.Kernel.ExecLock()
		lock.RLock()
		_, err = client.Execute(ctx, code, 0)
		lock.RUnlock()
		if err != nil {
			return nil, err
		}
		return map[string]any{"loaded": true, "var_name": args.VarName, "bytes": len(data)}, nil
	}
}

type getArgs struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

func handleGet(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args getArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Name == "" {
			return nil, kerrors.NewInputError("get requires name", "name was empty", "pass the variable name")
		}
		client, err := deps.Kernel.EnsureStarted(ctx)
		if err != nil {
			return nil, err
		}
		value, err := client.GetVariable(ctx, args.Name, args.Query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": value}, nil
	}
}

func handleVars(deps *Deps) Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		client, err := deps.Kernel.EnsureStarted(ctx)
		if err != nil {
			return nil, err
		}
		return client.ListVariables(ctx)
	}
}

func handleReset(deps *Deps) Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		client, err := deps.Kernel.EnsureStarted(ctx)
		if err != nil {
			return nil, err
		}
		if err := client.Reset(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"reset": true}, nil
	}
}

type subAgentArgs struct {
	Signature string         `json:"signature"`
	Inputs    map[string]any `json:"inputs"`
	Limits    *limitsArgs    `json:"limits"`
}

type limitsArgs struct {
	MaxIterations  int `json:"max_iterations"`
	MaxLLMCalls    int `json:"max_llm_calls"`
	MaxOutputChars int `json:"max_output_chars"`
}

func handleSubAgent(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args subAgentArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Signature == "" {
			return nil, kerrors.NewInputError("sub_agent requires signature", "signature was empty", "pass a registered name or a shorthand spec")
		}
		sig, err := subagent.ResolveSignature(args.Signature)
		if err != nil {
			return nil, kerrors.NewInputError("unresolvable signature", err.Error(), "check the signature name or shorthand syntax")
		}

		limits := subagent.DefaultLimits()
		if args.Limits != nil {
			if args.Limits.MaxIterations > 0 {
				limits.MaxIterations = args.Limits.MaxIterations
			}
			if args.Limits.MaxLLMCalls > 0 {
				limits.MaxLLMCalls = args.Limits.MaxLLMCalls
			}
			if args.Limits.MaxOutputChars > 0 {
				limits.MaxOutputChars = args.Limits.MaxOutputChars
			}
		}

		// Ensure the kernel (and its injected helpers) exist before the
		// runner drives it.
		if _, err := deps.Kernel.EnsureStarted(ctx); err != nil {
			return nil, err
		}

		runLock := deps.Kernel.RunLock()
		runLock.Lock()
		defer runLock.Unlock()

		return deps.SubAgent.Run(ctx, sig, args.Inputs, limits)
	}
}

type usageArgs struct {
	Reset bool `json:"reset"`
}

func handleUsage(deps *Deps) Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args usageArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		report := deps.Ledger.Report()
		if args.Reset {
			deps.Ledger.Reset()
		}
		return report, nil
	}
}
