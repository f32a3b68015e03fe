// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package subagent implements the bounded recursive sub-agent loop: a
// named signature plus inputs drives alternating turns of main-model
// consultation and kernel execution until a terminal submission or a limit
// is hit.
package subagent

import (
	"fmt"
	"strings"
	"sync"
)

// Signature names an input/output field contract plus embedded
// instructions shown to the main model on every turn.
type Signature struct {
	Name         string
	InputFields  []string
	OutputFields []string
	Instructions string
}

// Validate checks that an input map covers every declared input field.
func (s Signature) Validate(inputs map[string]any) error {
	for _, f := range s.InputFields {
		if _, ok := inputs[f]; !ok {
			return fmt.Errorf("missing required input field %q", f)
		}
	}
	return nil
}

// ValidateOutputs checks a submission's shape against the declared output
// fields.
func (s Signature) ValidateOutputs(outputs map[string]any) error {
	for _, f := range s.OutputFields {
		if _, ok := outputs[f]; !ok {
			return fmt.Errorf("submission missing required output field %q", f)
		}
	}
	return nil
}

var (
	registryOnce sync.Once
	registry     map[string]Signature
)

// defaultRegistry lazily builds the named signature registry the first time
// it's needed, the way the teacher guards lazy construction of its metrics
// structs with sync.Once.
func defaultRegistry() map[string]Signature {
	registryOnce.Do(func() {
		registry = map[string]Signature{
			"search": {
				Name:         "search",
				InputFields:  []string{"query"},
				OutputFields: []string{"results"},
				Instructions: "Search the knowledge store for query and return matching passages.",
			},
			"extract": {
				Name:         "extract",
				InputFields:  []string{"text", "schema"},
				OutputFields: []string{"extracted"},
				Instructions: "Extract fields matching schema from text.",
			},
			"classify": {
				Name:         "classify",
				InputFields:  []string{"text", "labels"},
				OutputFields: []string{"label"},
				Instructions: "Choose the single best label for text from labels.",
			},
			"summarize": {
				Name:         "summarize",
				InputFields:  []string{"text"},
				OutputFields: []string{"summary"},
				Instructions: "Produce a concise summary of text.",
			},
			"deep_reasoning": {
				Name:         "deep_reasoning",
				InputFields:  []string{"question", "context"},
				OutputFields: []string{"answer"},
				Instructions: "Recon: inspect the context. Filter: deterministically narrow candidates in code. Aggregate: synthesize the answer from the filtered set.",
			},
			"deep_reasoning_multi": {
				Name:         "deep_reasoning_multi",
				InputFields:  []string{"questions", "context"},
				OutputFields: []string{"answers"},
				Instructions: "Recon: inspect the context. Filter: deterministically narrow candidates in code, once per question. Aggregate: synthesize each answer from its filtered set.",
			},
		}
	})
	return registry
}

// ResolveSignature resolves either a registered name or a string-shorthand
// ("input_a, input_b -> output: list[T]") through the same validator.
func ResolveSignature(spec string) (Signature, error) {
	if sig, ok := defaultRegistry()[spec]; ok {
		return sig, nil
	}
	return parseShorthand(spec)
}

// parseShorthand parses "input_a, input_b -> output_a, output_b" style
// signatures. Type annotations after ':' are accepted but not enforced —
// the kernel boundary only round-trips JSON.
func parseShorthand(spec string) (Signature, error) {
	parts := strings.SplitN(spec, "->", 2)
	if len(parts) != 2 {
		return Signature{}, fmt.Errorf("invalid signature shorthand: %q", spec)
	}
	return Signature{
		Name:         spec,
		InputFields:  splitFieldList(parts[0]),
		OutputFields: splitFieldList(parts[1]),
	}, nil
}

func splitFieldList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if idx := strings.Index(f, ":"); idx >= 0 {
			f = strings.TrimSpace(f[:idx])
		}
		out = append(out, f)
	}
	return out
}
