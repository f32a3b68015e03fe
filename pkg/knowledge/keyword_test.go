// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package knowledge

import "testing"

func TestExtractKeywordsFindsCapitalizedRuns(t *testing.T) {
	kws := extractKeywords("Kubernetes is built on Google Cloud infrastructure.")
	want := map[string]bool{"kubernetes": true, "google cloud": true}
	if len(kws) != len(want) {
		t.Fatalf("expected %d keywords, got %v", len(want), kws)
	}
	for _, k := range kws {
		if !want[k] {
			t.Fatalf("unexpected keyword %q extracted from %v", k, kws)
		}
	}
}

func TestExtractKeywordsDedupes(t *testing.T) {
	kws := extractKeywords("Docker runs containers. Docker is widely used.")
	count := 0
	for _, k := range kws {
		if k == "docker" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected Docker to be deduplicated to one entry, got %d occurrences in %v", count, kws)
	}
}

func TestExtractKeywordsIgnoresLowercaseText(t *testing.T) {
	if kws := extractKeywords("this sentence has no capitalized words at all"); len(kws) != 0 {
		t.Fatalf("expected no keywords extracted from an all-lowercase sentence, got %v", kws)
	}
}

func TestKeywordIndexAddLookupRemove(t *testing.T) {
	idx := newKeywordIndex()
	idx.Add("chunk1", "Kubernetes orchestrates containers.")
	idx.Add("chunk2", "Kubernetes also supports rolling updates.")

	ids := idx.Lookup("Kubernetes")
	if len(ids) != 2 {
		t.Fatalf("expected both chunks indexed under kubernetes, got %v", ids)
	}

	idx.Remove("chunk1")
	ids = idx.Lookup("kubernetes")
	if len(ids) != 1 || ids[0] != "chunk2" {
		t.Fatalf("expected only chunk2 to remain after removing chunk1, got %v", ids)
	}
}

func TestKeywordIndexLookupIsCaseInsensitive(t *testing.T) {
	idx := newKeywordIndex()
	idx.Add("chunk1", "Amazon Web Services hosts the cluster.")

	for _, query := range []string{"amazon web services", "Amazon Web Services", "AMAZON WEB SERVICES"} {
		if ids := idx.Lookup(query); len(ids) != 1 {
			t.Fatalf("expected a case-insensitive match for %q, got %v", query, ids)
		}
	}
}

func TestKeywordIndexLookupMissReturnsNil(t *testing.T) {
	idx := newKeywordIndex()
	idx.Add("chunk1", "Kubernetes orchestrates containers.")

	if ids := idx.Lookup("Nonexistent Term"); ids != nil {
		t.Fatalf("expected nil for a keyword never indexed, got %v", ids)
	}
}
