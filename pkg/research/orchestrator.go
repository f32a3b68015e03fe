// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package research implements the compound research(topic) operation:
// resolve candidate documentation URLs, fetch and ingest each with bounded
// concurrency, and report aggregate counts without returning content.
package research

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/kbridge/pkg/fetch"
)

// DocResolver resolves a topic string to a candidate set of documentation
// URLs. Left pluggable per the open design question of whether to hardcode
// an external catalog; the default implementation below deliberately does
// not.
type DocResolver interface {
	Resolve(ctx context.Context, topic string) ([]string, error)
}

// StaticResolver returns a small, fixed list of common documentation roots
// regardless of topic, the stubbed behavior named as acceptable when no
// external catalog is available.
type StaticResolver struct {
	Roots []string
}

// NewStaticResolver builds a StaticResolver with a minimal default root set.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		Roots: []string{
			"https://pkg.go.dev",
			"https://devdocs.io",
		},
	}
}

func (r *StaticResolver) Resolve(_ context.Context, _ string) ([]string, error) {
	out := make([]string, len(r.Roots))
	copy(out, r.Roots)
	return out, nil
}

// Result is the return shape of research().
type Result struct {
	Sources       int `json:"sources"`
	IndexedChunks int `json:"indexed_chunks"`
	Failed        int `json:"failed"`
}

// Orchestrator composes the Fetcher and a DocResolver into the research()
// compound operation.
type Orchestrator struct {
	resolver   DocResolver
	fetcher    *fetch.Fetcher
	maxWorkers int
}

// NewOrchestrator builds an Orchestrator bound to one project's Fetcher.
func NewOrchestrator(resolver DocResolver, fetcher *fetch.Fetcher) *Orchestrator {
	if resolver == nil {
		resolver = NewStaticResolver()
	}
	return &Orchestrator{resolver: resolver, fetcher: fetcher, maxWorkers: 4}
}

// Research resolves topic to candidate URLs (merged with any caller-supplied
// seed URLs), deduplicates, fetches each through the Fetcher with bounded
// concurrency, and aggregates success/failure counts.
func (o *Orchestrator) Research(ctx context.Context, topic string, seedURLs []string) (*Result, error) {
	candidates, err := o.resolver.Resolve(ctx, topic)
	if err != nil {
		return nil, err
	}
	candidates = dedupe(append(candidates, seedURLs...))

	result := &Result{Sources: len(candidates)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxWorkers)

	for _, u := range candidates {
		u := u
		g.Go(func() error {
			r := o.fetcher.Fetch(gctx, u, false)
			mu.Lock()
			defer mu.Unlock()
			if r.ErrorKind != "" {
				result.Failed++
			} else {
				result.IndexedChunks += r.IndexedChunks
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
