// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"math"
	"regexp"
	"strings"
)

// bm25k1 and bm25b are the standard Okapi BM25 tuning constants.
const (
	bm25k1 = 1.2
	bm25b  = 0.75
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lower-cases and splits on non-alphanumeric boundaries. Shared by
// indexing and querying so scores are computed over the same vocabulary.
func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// bm25Index is an in-memory inverted index over chunk text, rebuilt from the
// segment's postings on open and kept incrementally current on ingest. It
// implements the lexical (BM25-style) postings sub-index described for the
// Index Segment.
type bm25Index struct {
	postings    map[string]map[string]int // term -> chunkID -> term frequency
	docLen      map[string]int            // chunkID -> token count
	totalDocs   int
	totalLength int
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int),
	}
}

// Add indexes a chunk's tokens.
func (idx *bm25Index) Add(chunkID, text string) {
	tokens := tokenize(text)
	idx.totalDocs++
	idx.totalLength += len(tokens)
	idx.docLen[chunkID] = len(tokens)

	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
	}
	for term, count := range tf {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]int)
		}
		idx.postings[term][chunkID] = count
	}
}

// Remove drops a chunk's contribution from the index, used when clearing or
// collapsing a duplicate.
func (idx *bm25Index) Remove(chunkID string) {
	if l, ok := idx.docLen[chunkID]; ok {
		idx.totalDocs--
		idx.totalLength -= l
		delete(idx.docLen, chunkID)
	}
	for term, postings := range idx.postings {
		if _, ok := postings[chunkID]; ok {
			delete(postings, chunkID)
			if len(postings) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

func (idx *bm25Index) avgDocLen() float64 {
	if idx.totalDocs == 0 {
		return 0
	}
	return float64(idx.totalLength) / float64(idx.totalDocs)
}

// scoredHit pairs a chunk ID with its raw score on one sub-index, before
// cross-index fusion.
type scoredHit struct {
	ChunkID string
	Score   float64
}

// Search scores every chunk containing at least one query term and returns
// the top results by BM25 score, descending.
func (idx *bm25Index) Search(query string, topK int) []scoredHit {
	terms := tokenize(query)
	if len(terms) == 0 || idx.totalDocs == 0 {
		return nil
	}
	avgLen := idx.avgDocLen()
	scores := make(map[string]float64)

	for _, term := range terms {
		postings, ok := idx.postings[term]
		if !ok {
			continue
		}
		n := len(postings)
		idf := math.Log(1 + (float64(idx.totalDocs)-float64(n)+0.5)/(float64(n)+0.5))
		for chunkID, tf := range postings {
			dl := float64(idx.docLen[chunkID])
			norm := float64(tf) * (bm25k1 + 1) / (float64(tf) + bm25k1*(1-bm25b+bm25b*dl/avgLen))
			scores[chunkID] += idf * norm
		}
	}

	if len(scores) == 0 {
		return nil
	}
	return topScored(scores, topK)
}

func topScored(scores map[string]float64, topK int) []scoredHit {
	hits := make([]scoredHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, scoredHit{ChunkID: id, Score: score})
	}
	// simple insertion sort is fine; result sets from a single query are small
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
