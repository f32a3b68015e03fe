// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"path/filepath"
	"testing"
)

// stubEmbedder produces a cheap deterministic vector so vector/hybrid search
// paths are exercised without a real embedding backend.
type stubEmbedder struct{}

func (stubEmbedder) Dimensions() int { return 4 }

func (stubEmbedder) Embed(text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 7)
	}
	return v, nil
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.db")
	s, err := Open(path, stubEmbedder{}, nil, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestAndLexicalSearch(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Ingest(IngestOptions{Title: "doc1", Label: "docs", Text: "# Intro\nPostgres is a relational database."})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	hits, err := s.Search(SearchOptions{Query: "postgres", Mode: ModeLexical, TopK: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Title != "doc1" {
		t.Fatalf("expected hit from doc1, got %q", hits[0].Title)
	}
}

func TestIngestExactDuplicateCollapsesToNoOp(t *testing.T) {
	s := openTestStore(t)

	text := "# Guide\nSame content, ingested twice."
	r1, err := s.Ingest(IngestOptions{Title: "doc1", Label: "docs", Text: text})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if r1.Chunks == 0 {
		t.Fatalf("expected the first ingest to produce chunks")
	}

	r2, err := s.Ingest(IngestOptions{Title: "doc1", Label: "docs", Text: text})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if r2.Chunks != 0 {
		t.Fatalf("expected the duplicate (label, content_hash) ingest to collapse to a no-op, got %d chunks", r2.Chunks)
	}

	status, err := s.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.DocCount != 1 {
		t.Fatalf("expected exactly 1 doc after collapsing a duplicate, got %d", status.DocCount)
	}
}

func TestIngestNearDuplicateIsTaggedNotDropped(t *testing.T) {
	s := openTestStore(t)

	text := "# Notes\nThe kernel executes code and reports stdout and stderr."
	if _, err := s.Ingest(IngestOptions{Title: "doc1", Label: "docs", Text: text}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Re-ingesting the identical body under a different label/title bypasses
	// the exact (label, content_hash) dedup key but is still, by
	// construction, a simhash "near"-duplicate (Hamming distance 0) of the
	// first chunk.
	r2, err := s.Ingest(IngestOptions{Title: "doc2", Label: "other-docs", Text: text})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if r2.Chunks == 0 {
		t.Fatalf("expected a near-duplicate under a different label to still be stored, not collapsed")
	}

	hits, err := s.Search(SearchOptions{Query: "kernel", Mode: ModeLexical, TopK: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	var tagged bool
	for _, h := range hits {
		if h.Title == "doc2" {
			if dupOf, ok := h.Metadata["near_duplicate_of"]; ok && dupOf != "" {
				tagged = true
			}
		}
	}
	if !tagged {
		t.Fatalf("expected doc2's chunk to carry a near_duplicate_of tag, hits=%+v", hits)
	}
}

func TestKeywordSearchMode(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Ingest(IngestOptions{Title: "doc1", Label: "docs", Text: "# About\nKubernetes orchestrates containers at scale."}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	hits, err := s.Search(SearchOptions{Query: "Kubernetes", Mode: ModeKeyword, TopK: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 keyword hit, got %d", len(hits))
	}
}

func TestSearchInvalidModeIsRejected(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Search(SearchOptions{Query: "x", Mode: "bogus"}); err == nil {
		t.Fatalf("expected an error for an unrecognized search mode")
	}
}

func TestTimelineOrdersByIngestTime(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Ingest(IngestOptions{Title: "first", Label: "docs", Text: "content one"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := s.Ingest(IngestOptions{Title: "second", Label: "docs", Text: "content two"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	entries := s.Timeline(nil, nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(entries))
	}
	if entries[0].Title != "first" || entries[1].Title != "second" {
		t.Fatalf("expected timeline ordered by ingest time, got %+v", entries)
	}
}

func TestClearResetsStoreAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Ingest(IngestOptions{Title: "doc1", Label: "docs", Text: "some content"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("first Clear: %v", err)
	}
	status, err := s.Status()
	if err != nil {
		t.Fatalf("Status after clear: %v", err)
	}
	if status.DocCount != 0 || status.ChunkCount != 0 {
		t.Fatalf("expected an empty store after Clear, got %+v", status)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear should also succeed: %v", err)
	}
}
