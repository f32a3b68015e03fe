// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package knowledge implements the per-project persistent knowledge store:
// ingest, hybrid lexical/vector search, timeline, and status, backed by a
// single bbolt file per project with incremental commit.
package knowledge

import "time"

// Document is an ingested unit of text before chunking.
type Document struct {
	Title        string         `json:"title"`
	Label        string         `json:"label"`
	Text         string         `json:"text"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IngestedAt   time.Time      `json:"ingested_at"`
	ContentHash  string         `json:"content_hash"`
}

// Chunk is a bounded slice of a Document, the unit of retrieval. It inherits
// parent metadata and adds its position within the document.
type Chunk struct {
	ID          string         `json:"id"`
	ParentTitle string         `json:"parent_title"`
	ChunkIndex  int            `json:"chunk_index"`
	Label       string         `json:"label"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IngestedAt  time.Time      `json:"ingested_at"`
	ContentHash string         `json:"content_hash"`
}

// SearchMode selects which sub-index search() consults.
type SearchMode string

const (
	ModeLexical SearchMode = "lexical"
	ModeVector  SearchMode = "vector"
	ModeHybrid  SearchMode = "hybrid"
	ModeKeyword SearchMode = "keyword"
)

// Hit is one ranked search result.
type Hit struct {
	Title      string         `json:"title"`
	Label      string         `json:"label"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
}

// SearchOptions parameterizes search().
type SearchOptions struct {
	Query  string
	TopK   int
	Mode   SearchMode
	Thread string
	Label  string
}

// IngestOptions parameterizes ingest().
type IngestOptions struct {
	Title    string
	Label    string
	Text     string
	Metadata map[string]any
	Thread   string
}

// IngestResult reports how many chunks a single ingest produced.
type IngestResult struct {
	Chunks int `json:"chunks"`
}

// Status summarizes a project's store.
type Status struct {
	DocCount   int            `json:"doc_count"`
	ChunkCount int            `json:"chunk_count"`
	SizeBytes  int64          `json:"size_bytes"`
	Labels     map[string]int `json:"labels"`
	Threads    map[string]int `json:"threads"`
}

// TimelineEntry is one row of timeline().
type TimelineEntry struct {
	Title      string    `json:"title"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Embedder produces a dense vector for a chunk of text. The embedding model
// itself is an external collaborator; the store only requires this contract.
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}
