// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package knowledge

import "testing"

func TestBM25IndexRanksExactTermMatchAbove(t *testing.T) {
	idx := newBM25Index()
	idx.Add("a", "the quick brown fox jumps over the lazy dog")
	idx.Add("b", "completely unrelated text about gardening and soil")

	hits := idx.Search("fox", 10)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit for a term present in only one doc, got %d", len(hits))
	}
	if hits[0].ChunkID != "a" {
		t.Fatalf("expected chunk a to match, got %s", hits[0].ChunkID)
	}
}

func TestBM25IndexRewardsHigherTermFrequency(t *testing.T) {
	idx := newBM25Index()
	idx.Add("rare", "kubernetes kubernetes kubernetes orchestrates containers")
	idx.Add("common", "kubernetes is one of several container orchestration tools")

	hits := idx.Search("kubernetes", 10)
	if len(hits) != 2 {
		t.Fatalf("expected both docs to match, got %d", len(hits))
	}
	if hits[0].ChunkID != "rare" {
		t.Fatalf("expected the higher-term-frequency doc to rank first, got %s", hits[0].ChunkID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("expected a strictly higher score for the repeated-term doc: %v vs %v", hits[0].Score, hits[1].Score)
	}
}

func TestBM25IndexNoMatchReturnsNil(t *testing.T) {
	idx := newBM25Index()
	idx.Add("a", "some document about databases")

	if hits := idx.Search("nonexistentterm", 10); hits != nil {
		t.Fatalf("expected nil for a query with no postings, got %v", hits)
	}
	if hits := idx.Search("", 10); hits != nil {
		t.Fatalf("expected nil for an empty query, got %v", hits)
	}
}

func TestBM25IndexRemoveDropsContribution(t *testing.T) {
	idx := newBM25Index()
	idx.Add("a", "postgres is a relational database")
	idx.Add("b", "postgres also supports json columns")

	idx.Remove("a")

	hits := idx.Search("postgres", 10)
	if len(hits) != 1 || hits[0].ChunkID != "b" {
		t.Fatalf("expected only chunk b to remain indexed, got %v", hits)
	}
	if idx.totalDocs != 1 {
		t.Fatalf("expected totalDocs to decrement to 1, got %d", idx.totalDocs)
	}
}

func TestTopScoredRespectsTopKAndDescendingOrder(t *testing.T) {
	scores := map[string]float64{"a": 0.5, "b": 0.9, "c": 0.1, "d": 0.7}
	hits := topScored(scores, 2)
	if len(hits) != 2 {
		t.Fatalf("expected topK=2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "b" || hits[1].ChunkID != "d" {
		t.Fatalf("expected [b, d] in descending score order, got %v", hits)
	}
}

func TestTopScoredZeroMeansUnbounded(t *testing.T) {
	scores := map[string]float64{"a": 1, "b": 2, "c": 3}
	hits := topScored(scores, 0)
	if len(hits) != 3 {
		t.Fatalf("expected topK=0 to return every scored hit, got %d", len(hits))
	}
}
