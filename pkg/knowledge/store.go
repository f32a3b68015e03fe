// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/llm"
)

var (
	bucketChunks = []byte("chunks")
	bucketDocs   = []byte("docs") // key = label|content_hash -> title, for dedup + doc_count
)

// Store is a single project's persistent index: one bbolt file holding the
// chunk bucket and dedup bucket (the on-disk write-ahead-log-backed segment
// the spec calls the Index Segment), plus the in-memory lexical, vector,
// simhash, time-ordered, and coarse keyword/entity sub-indexes rebuilt from
// it on open.
//
// One writer at a time per project. Searches run concurrently with each
// other, but an ingest holds the store's write lock for its whole duration
// (it updates the in-memory sub-indexes too), so searches wait while an
// ingest is in progress.
type Store struct {
	path       string
	db         *bolt.DB
	embedder   Embedder
	subModel   llm.Provider
	defaultCtx bool // DefaultContextOnly for ask()

	mu sync.RWMutex // guards the in-memory sub-indexes below

	lexical  *bm25Index
	simhash  *simhashIndex
	keyword  *keywordIndex
	vectors  map[string][]float32
	chunkLen map[string]int
	labels   map[string]string // chunkID -> label
	parent   map[string]string // chunkID -> parent title
	meta     map[string]Chunk  // chunkID -> full chunk, for hit assembly
	ordered  []string          // chunk IDs ordered by ingest time, for timeline
}

// Open opens or creates the index file at path. embedder and subModel may be
// nil; vector search and ask()'s RAG mode degrade gracefully without them.
func Open(path string, embedder Embedder, subModel llm.Provider, defaultContextOnly bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, kerrors.NewPermissionError("cannot create knowledge directory", err.Error(), "check filesystem permissions", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, kerrors.NewDatabaseError("cannot open knowledge index", err.Error(), "close other kbridge instances holding this project", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDocs)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, kerrors.NewDatabaseError("cannot initialize knowledge index schema", err.Error(), "the index file may be corrupt; consider knowledge_clear", err)
	}

	s := &Store{
		path:       path,
		db:         db,
		embedder:   embedder,
		subModel:   subModel,
		defaultCtx: defaultContextOnly,
		lexical:    newBM25Index(),
		simhash:    newSimhashIndex(),
		keyword:    newKeywordIndex(),
		vectors:    make(map[string][]float32),
		chunkLen:   make(map[string]int),
		labels:     make(map[string]string),
		parent:     make(map[string]string),
		meta:       make(map[string]Chunk),
	}
	if err := s.rebuildFromDisk(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// rebuildFromDisk replays the persisted chunk bucket into the in-memory
// sub-indexes. bbolt's own B+tree and write-ahead commit semantics give us
// the crash-safety; this just reconstructs the derived indexes atop it.
func (s *Store) rebuildFromDisk() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		var chunks []Chunk
		err := b.ForEach(func(k, v []byte) error {
			var c Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode chunk %s: %w", k, err)
			}
			chunks = append(chunks, c)
			return nil
		})
		if err != nil {
			return err
		}
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].IngestedAt.Before(chunks[j].IngestedAt) })
		for _, c := range chunks {
			s.indexChunkLocked(c)
		}
		return nil
	})
}

// indexChunkLocked updates every in-memory sub-index for a chunk already
// persisted to bbolt. Caller must hold s.mu for writing, or call during
// single-threaded rebuild.
func (s *Store) indexChunkLocked(c Chunk) {
	s.lexical.Add(c.ID, c.Text)
	s.simhash.Add(c.ID, c.Text)
	s.keyword.Add(c.ID, c.Text)
	s.chunkLen[c.ID] = len(c.Text)
	s.labels[c.ID] = c.Label
	s.parent[c.ID] = c.ParentTitle
	s.meta[c.ID] = c
	s.ordered = append(s.ordered, c.ID)
	if s.embedder != nil {
		if v, err := s.embedder.Embed(c.Text); err == nil {
			s.vectors[c.ID] = v
		}
	}
}

// Ingest normalizes, chunks, dedupes, and commits a single document. Either
// all its chunks are appended and the commit succeeds, or none are: the
// bbolt write happens inside one transaction so a mid-document I/O failure
// leaves prior documents untouched.
func (s *Store) Ingest(opts IngestOptions) (*IngestResult, error) {
	return s.ingestOne(opts)
}

// IngestMany is the batched variant: every document is prepared first, then
// all are committed in a single bbolt transaction. A failure partway through
// preserves documents already committed in prior calls, and the whole batch
// either lands or none of it does.
func (s *Store) IngestMany(docs []IngestOptions) ([]IngestResult, error) {
	results := make([]IngestResult, 0, len(docs))
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, d := range docs {
			n, err := s.commitDocumentLocked(tx, d)
			if err != nil {
				return err
			}
			results = append(results, IngestResult{Chunks: n})
		}
		return nil
	})
	if err != nil {
		return nil, kerrors.NewDatabaseError("ingest_many failed", err.Error(), "check underlying storage", err)
	}
	return results, nil
}

func (s *Store) ingestOne(opts IngestOptions) (*IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		n, err = s.commitDocumentLocked(tx, opts)
		return err
	})
	if err != nil {
		return nil, kerrors.NewDatabaseError("ingest failed", err.Error(), "check underlying storage", err)
	}
	return &IngestResult{Chunks: n}, nil
}

// commitDocumentLocked performs the chunk-and-dedup-and-write work for one
// document inside an already-open bbolt transaction. Caller holds s.mu.
func (s *Store) commitDocumentLocked(tx *bolt.Tx, opts IngestOptions) (int, error) {
	hash := ContentHash(opts.Text)
	docsBucket := tx.Bucket(bucketDocs)
	dedupKey := []byte(opts.Label + "|" + hash)
	if existing := docsBucket.Get(dedupKey); existing != nil {
		// Same (label, content_hash) already ingested: collapse to a no-op
		// per the duplicate-collapsing invariant.
		return 0, nil
	}

	pieces := ChunkText(opts.Text, 3072)
	chunksBucket := tx.Bucket(bucketChunks)

	now := time.Now()
	metadata := map[string]any{}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if opts.Thread != "" {
		metadata["thread"] = opts.Thread
	}

	for i, piece := range pieces {
		chunkMeta := map[string]any{}
		for k, v := range metadata {
			chunkMeta[k] = v
		}
		// Exact-hash dedup above only catches a whole document re-ingested
		// verbatim; a chunk that merely reads near-identically to one already
		// indexed (a trailing timestamp, a reflowed code fence) is flagged via
		// the simhash index rather than collapsed, since only exact (label,
		// content_hash) matches are spec'd to be dropped outright.
		if dupID, ok := s.simhash.NearDuplicateOf(piece); ok {
			chunkMeta["near_duplicate_of"] = dupID
		}
		c := Chunk{
			ID:          uuid.NewString(),
			ParentTitle: opts.Title,
			ChunkIndex:  i,
			Label:       opts.Label,
			Text:        piece,
			Metadata:    chunkMeta,
			IngestedAt:  now,
			ContentHash: hash,
		}
		data, err := json.Marshal(c)
		if err != nil {
			return 0, fmt.Errorf("marshal chunk: %w", err)
		}
		if err := chunksBucket.Put([]byte(c.ID), data); err != nil {
			return 0, fmt.Errorf("put chunk: %w", err)
		}
		s.indexChunkLocked(c)
	}

	if err := docsBucket.Put(dedupKey, []byte(opts.Title)); err != nil {
		return 0, fmt.Errorf("put dedup marker: %w", err)
	}
	return len(pieces), nil
}

// Search runs lexical, vector, or hybrid retrieval, applying thread/label
// filters post-retrieval since the underlying index lacks pre-filters.
func (s *Store) Search(opts SearchOptions) ([]Hit, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []scoredHit
	switch opts.Mode {
	case ModeLexical:
		scored = s.lexical.Search(opts.Query, opts.TopK*4)
	case ModeVector:
		scored = s.vectorSearchLocked(opts.Query, opts.TopK*4)
	case ModeHybrid:
		lex := s.lexical.Search(opts.Query, opts.TopK*4)
		vec := s.vectorSearchLocked(opts.Query, opts.TopK*4)
		scored = reciprocalRankFusion(lex, vec)
		scored = lengthAndLabelReweight(scored, s.chunkLen, s.labels, nil)
	case ModeKeyword:
		scored = s.keywordSearchLocked(opts.Query, opts.TopK*4)
	default:
		return nil, kerrors.NewInputError("invalid search mode", string(opts.Mode), "use lexical, vector, hybrid, or keyword")
	}

	hits := make([]Hit, 0, opts.TopK)
	for _, sh := range scored {
		c, ok := s.meta[sh.ChunkID]
		if !ok {
			continue
		}
		if opts.Thread != "" && metaString(c.Metadata, "thread") != opts.Thread {
			continue
		}
		if opts.Label != "" && c.Label != opts.Label {
			continue
		}
		hits = append(hits, Hit{
			Title:      c.ParentTitle,
			Label:      c.Label,
			Text:       c.Text,
			Score:      sh.Score,
			Metadata:   c.Metadata,
			ChunkIndex: c.ChunkIndex,
		})
		if len(hits) >= opts.TopK {
			break
		}
	}
	return hits, nil
}

func (s *Store) vectorSearchLocked(query string, topK int) []scoredHit {
	if s.embedder == nil || len(s.vectors) == 0 {
		return nil
	}
	qv, err := s.embedder.Embed(query)
	if err != nil {
		return nil
	}
	scores := make(map[string]float64, len(s.vectors))
	for id, v := range s.vectors {
		scores[id] = cosineSimilarity(qv, v)
	}
	return topScored(scores, topK)
}

// keywordSearchLocked does an exact, case-insensitive lookup against the
// coarse entity/keyword index rather than BM25 term scoring: every chunk
// whose extracted keywords include the (normalized) query scores equally,
// since the index carries no frequency weighting by design.
func (s *Store) keywordSearchLocked(query string, topK int) []scoredHit {
	ids := s.keyword.Lookup(query)
	if len(ids) == 0 {
		return nil
	}
	scores := make(map[string]float64, len(ids))
	for _, id := range ids {
		scores[id] = 1
	}
	return topScored(scores, topK)
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// AskResult is the response shape of ask().
type AskResult struct {
	Answer string `json:"answer,omitempty"`
	Hits   []Hit  `json:"hits"`
}

// Ask retrieves top chunks and either returns them verbatim with source
// citations (context_only) or composes a retrieval-augmented answer via the
// sub-language-model. Falls back to plain search() when no sub-model is
// configured, regardless of context_only.
func (s *Store) Ask(ctx context.Context, question string, contextOnly *bool, thread string) (*AskResult, error) {
	hits, err := s.Search(SearchOptions{Query: question, TopK: 8, Mode: ModeHybrid, Thread: thread})
	if err != nil {
		return nil, err
	}

	useContextOnly := s.defaultCtx
	if contextOnly != nil {
		useContextOnly = *contextOnly
	}
	if useContextOnly || s.subModel == nil {
		return &AskResult{Hits: hits}, nil
	}

	prompt := composeRAGPrompt(question, hits)
	resp, err := s.subModel.Generate(ctx, llm.GenerateRequest{Prompt: prompt})
	if err != nil {
		return &AskResult{Hits: hits}, nil
	}
	return &AskResult{Answer: resp.Text, Hits: hits}, nil
}

func composeRAGPrompt(question string, hits []Hit) string {
	var b []byte
	b = append(b, "Answer the question using only the sources below. Cite sources by title.\n\n"...)
	for _, h := range hits {
		b = append(b, fmt.Sprintf("### %s\n%s\n\n", h.Title, h.Text)...)
	}
	b = append(b, fmt.Sprintf("Question: %s\n", question)...)
	return string(b)
}

// Timeline returns ingested titles ordered by ingest time, optionally
// bounded by since/until.
func (s *Store) Timeline(since, until *time.Time) []TimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TimelineEntry
	for _, id := range s.ordered {
		c := s.meta[id]
		if since != nil && c.IngestedAt.Before(*since) {
			continue
		}
		if until != nil && c.IngestedAt.After(*until) {
			continue
		}
		out = append(out, TimelineEntry{Title: c.ParentTitle, IngestedAt: c.IngestedAt})
	}
	return out
}

// Status reports doc/chunk counts, size on disk, and label/thread breakdown.
func (s *Store) Status() (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docCount int
	err := s.db.View(func(tx *bolt.Tx) error {
		docCount = tx.Bucket(bucketDocs).Stats().KeyN
		return nil
	})
	if err != nil {
		return nil, kerrors.NewDatabaseError("status failed", err.Error(), "", err)
	}

	fi, err := os.Stat(s.path)
	var size int64
	if err == nil {
		size = fi.Size()
	}

	labels := make(map[string]int)
	threads := make(map[string]int)
	for _, c := range s.meta {
		labels[c.Label]++
		if t := metaString(c.Metadata, "thread"); t != "" {
			threads[t]++
		}
	}

	return &Status{
		DocCount:   docCount,
		ChunkCount: len(s.meta),
		SizeBytes:  size,
		Labels:     labels,
		Threads:    threads,
	}, nil
}

// Clear closes the index, deletes its file, and resets in-memory caches.
// Calling Clear twice is safe: the second call finds no file and no open
// handle, and still succeeds.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return kerrors.NewDatabaseError("clear failed", err.Error(), "", err)
	}

	s.lexical = newBM25Index()
	s.simhash = newSimhashIndex()
	s.keyword = newKeywordIndex()
	s.vectors = make(map[string][]float32)
	s.chunkLen = make(map[string]int)
	s.labels = make(map[string]string)
	s.parent = make(map[string]string)
	s.meta = make(map[string]Chunk)
	s.ordered = nil

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return kerrors.NewDatabaseError("cannot reopen knowledge index after clear", err.Error(), "", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDocs)
		return err
	})
	if err != nil {
		_ = db.Close()
		return kerrors.NewDatabaseError("cannot reinitialize knowledge index schema", err.Error(), "", err)
	}
	s.db = db
	return nil
}

// Close releases the underlying bbolt handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
