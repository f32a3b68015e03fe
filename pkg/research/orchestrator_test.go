// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kraklabs/kbridge/pkg/fetch"
	"github.com/kraklabs/kbridge/pkg/knowledge"
)

type fakeResolver struct {
	urls []string
	err  error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) ([]string, error) {
	return f.urls, f.err
}

func newTestFetcher(t *testing.T, handler http.Handler) (*fetch.Fetcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := knowledge.Open(filepath.Join(t.TempDir(), "project.db"), nil, nil, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := fetch.NewFetcher(fetch.Config{CacheRoot: t.TempDir()}, store, nil)
	return f, srv
}

func TestDedupeRemovesDuplicatesAndEmptyEntries(t *testing.T) {
	out := dedupe([]string{"a", "b", "a", "", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(out) != len(want) {
		t.Fatalf("got %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %v, want %v", out, want)
		}
	}
}

func TestStaticResolverReturnsDefaultRootsDefensively(t *testing.T) {
	r := NewStaticResolver()
	urls, err := r.Resolve(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 default roots, got %v", urls)
	}

	urls[0] = "mutated"
	again, _ := r.Resolve(context.Background(), "anything")
	if again[0] == "mutated" {
		t.Fatalf("expected Resolve to return a defensive copy, not the backing slice")
	}
}

func TestResearchAggregatesSuccessAndFailureCounts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Good\n\nEnough content to satisfy the markdown heuristic check here."))
	})
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f, srv := newTestFetcher(t, mux)

	resolver := &fakeResolver{urls: []string{srv.URL + "/good", srv.URL + "/bad"}}
	orch := NewOrchestrator(resolver, f)

	result, err := orch.Research(context.Background(), "topic", nil)
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if result.Sources != 2 {
		t.Fatalf("expected 2 sources, got %d", result.Sources)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failure, got %d", result.Failed)
	}
	if result.IndexedChunks == 0 {
		t.Fatalf("expected the successful fetch to contribute indexed chunks")
	}
}

func TestResearchDedupesResolverAndSeedURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Doc\n\nEnough content to satisfy the markdown heuristic check here."))
	})
	f, srv := newTestFetcher(t, mux)

	resolver := &fakeResolver{urls: []string{srv.URL + "/doc"}}
	orch := NewOrchestrator(resolver, f)

	result, err := orch.Research(context.Background(), "topic", []string{srv.URL + "/doc"})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if result.Sources != 1 {
		t.Fatalf("expected the duplicate seed URL to collapse to 1 source, got %d", result.Sources)
	}
}

func TestResearchPropagatesResolverError(t *testing.T) {
	orch := NewOrchestrator(&fakeResolver{err: errors.New("catalog unavailable")}, nil)

	if _, err := orch.Research(context.Background(), "topic", nil); err == nil {
		t.Fatalf("expected a resolver error to propagate")
	}
}

func TestResearchWithNoSourcesReturnsZeroCounts(t *testing.T) {
	orch := NewOrchestrator(&fakeResolver{urls: nil}, nil)

	result, err := orch.Research(context.Background(), "topic", nil)
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if result.Sources != 0 || result.Failed != 0 || result.IndexedChunks != 0 {
		t.Fatalf("expected all-zero counts for no candidates, got %+v", result)
	}
}
