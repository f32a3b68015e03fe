// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/kernel"
	"github.com/kraklabs/kbridge/pkg/llm"
)

// Limits bounds a single Runner.Run call, all overridable by the caller.
type Limits struct {
	MaxIterations  int
	MaxLLMCalls    int
	MaxOutputChars int
}

// DefaultLimits matches the spec-mandated defaults.
func DefaultLimits() Limits {
	return Limits{MaxIterations: 20, MaxLLMCalls: 50, MaxOutputChars: 10000}
}

// UsageReader reports a point-in-time snapshot of the Callback Server's
// usage ledger as (calls, input tokens, output tokens), kept as a narrow
// interface so the Runner does not need to import the callback package
// directly.
type UsageReader interface {
	Snapshot() (calls, inputTokens, outputTokens int)
}

// Runner drives the bounded recursive sub-agent loop.
type Runner struct {
	mainModel llm.Provider
	kernel    *kernel.Client
	usage     UsageReader
	execLock  *sync.RWMutex
}

// NewRunner builds a Runner bound to the main language model and the kernel
// client it drives.
func NewRunner(mainModel llm.Provider, kernelClient *kernel.Client, usage UsageReader) *Runner {
	return &Runner{mainModel: mainModel, kernel: kernelClient, usage: usage}
}

// UpdateKernel rebinds the Runner to the kernel client currently active on
// the Kernel Manager, so a Tier 2 restart that changes the reachable
// address (a new container IP) is picked up before the next run.
func (r *Runner) UpdateKernel(c *kernel.Client) {
	r.kernel = c
}

// SetExecLock binds the Runner to the lock a snapshot save takes as a
// writer, so no code it executes inside the loop can straddle a save.
func (r *Runner) SetExecLock(lock *sync.RWMutex) {
	r.execLock = lock
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:python)?\\s*\\n(.*?)\\n```")

// Run executes one bounded sub-agent loop for the given signature and
// inputs, honoring limits (falling back to DefaultLimits for any zero
// field).
func (r *Runner) Run(ctx context.Context, sig Signature, inputs map[string]any, limits Limits) (*RunResult, error) {
	if limits.MaxIterations <= 0 {
		limits.MaxIterations = DefaultLimits().MaxIterations
	}
	if limits.MaxLLMCalls <= 0 {
		limits.MaxLLMCalls = DefaultLimits().MaxLLMCalls
	}
	if limits.MaxOutputChars <= 0 {
		limits.MaxOutputChars = DefaultLimits().MaxOutputChars
	}

	if err := sig.Validate(inputs); err != nil {
		return nil, kerrors.NewInputError("malformed signature inputs", err.Error(), "check the signature's declared input fields")
	}

	var beforeCalls, beforeIn, beforeOut int
	if r.usage != nil {
		beforeCalls, beforeIn, beforeOut = r.usage.Snapshot()
	}

	var trajectory []Step
	llmCalls := 0

	for iter := 1; iter <= limits.MaxIterations; iter++ {
		if llmCalls >= limits.MaxLLMCalls {
			return nil, kerrors.NewSandboxLimitError("sub-agent exceeded max_llm_calls", fmt.Sprintf("%d calls", llmCalls), "increase the limit or simplify the task")
		}

		resp, err := r.mainModel.Chat(ctx, r.buildChatRequest(sig, inputs, trajectory))
		llmCalls++
		if err != nil {
			if isRateLimited(err) {
				return nil, kerrors.NewRateLimitedError("sub-model rate limited", err.Error(), "do not retry automatically", err)
			}
			// A main-model error becomes part of the trajectory, not a
			// loop-ending condition, mirroring kernel runtime failures.
			trajectory = append(trajectory, Step{Iteration: iter, Output: "", Stderr: err.Error()})
			continue
		}

		if outputs, ok := parseSubmission(resp.Message.Content, sig); ok {
			trajectory = append(trajectory, Step{Iteration: iter, Submitted: true, Outputs: outputs})
			return &RunResult{
				Outputs:    outputs,
				Trajectory: trajectory,
				Iterations: iter,
				Usage:      r.diff(beforeCalls, beforeIn, beforeOut),
			}, nil
		}

		code, ok := extractCode(resp.Message.Content)
		if !ok {
			trajectory = append(trajectory, Step{Iteration: iter, Output: "", Stderr: "model response was neither code nor a valid submission"})
			continue
		}

		if r.execLock != nil {
			r.execLock.RLock()
		}
		execResult, err := r.kernel.Execute(ctx, code, 0)
		if r.execLock != nil {
			r.execLock.RUnlock()
		}
		step := Step{Iteration: iter, Code: code}
		if err != nil {
			// Kernel runtime errors stay in the trajectory for the model to
			// react to; they never end the loop on their own.
			step.Stderr = err.Error()
		} else {
			step.Output = truncate(execResult.Output, limits.MaxOutputChars)
			step.Stderr = truncate(execResult.Stderr, limits.MaxOutputChars)
		}
		trajectory = append(trajectory, step)
	}

	return nil, kerrors.NewSandboxLimitError("sub-agent exceeded max_iterations", fmt.Sprintf("%d iterations", limits.MaxIterations), "increase the limit or simplify the task")
}

func (r *Runner) buildChatRequest(sig Signature, inputs map[string]any, trajectory []Step) llm.ChatRequest {
	inputJSON, _ := json.Marshal(inputs)
	messages := []llm.Message{
		{Role: "system", Content: sig.Instructions},
		{Role: "user", Content: fmt.Sprintf("Inputs: %s\nExpected output fields: %s\nRespond with a ```python``` code block to execute, or a JSON object covering the output fields to submit.", inputJSON, strings.Join(sig.OutputFields, ", "))},
	}
	for _, step := range trajectory {
		if step.Submitted {
			continue
		}
		messages = append(messages, llm.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("```python\n%s\n```", step.Code),
		})
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("stdout: %s\nstderr: %s", step.Output, step.Stderr),
		})
	}
	return llm.ChatRequest{Messages: messages}
}

func extractCode(content string) (string, bool) {
	m := codeBlockRe.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseSubmission treats a bare JSON object response as a terminal
// submission if it covers every declared output field.
func parseSubmission(content string, sig Signature) (map[string]any, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var outputs map[string]any
	if err := json.Unmarshal([]byte(trimmed), &outputs); err != nil {
		return nil, false
	}
	if sig.ValidateOutputs(outputs) != nil {
		return nil, false
	}
	return outputs, true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func isRateLimited(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

func (r *Runner) diff(beforeCalls, beforeIn, beforeOut int) UsageDelta {
	if r.usage == nil {
		return UsageDelta{}
	}
	calls, in, out := r.usage.Snapshot()
	return UsageDelta{
		Calls:             calls - beforeCalls,
		TotalInputTokens:  in - beforeIn,
		TotalOutputTokens: out - beforeOut,
	}
}

// InjectHelpers is the subagent package's kernel.InjectorFunc: it renders
// the helper source and executes it so the functions are present in the
// kernel namespace for the duration of the session. lock, if non-nil, is
// held as a reader for the duration of the execute, the same lock a
// snapshot save takes as a writer.
func InjectHelpers(callbackURL string, timeout time.Duration, lock *sync.RWMutex) func(ctx context.Context, c *kernel.Client) error {
	return func(ctx context.Context, c *kernel.Client) error {
		source, err := RenderHelpers(callbackURL, int(timeout.Seconds()), 8)
		if err != nil {
			return err
		}
		if lock != nil {
			lock.RLock()
			defer lock.RUnlock()
		}
		_, err = c.Execute(ctx, source, timeout)
		return err
	}
}
