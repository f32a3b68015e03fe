// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"os"
	"path/filepath"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/knowledge"
)

// DirLoadResult summarizes a local directory ingest.
type DirLoadResult struct {
	Matched int      `json:"matched"`
	Ingested int     `json:"ingested"`
	Failed  []string `json:"failed,omitempty"`
}

// LoadDir ingests every file matching glob with its relative path as the
// title and label "local", bypassing the network cascade entirely. Files
// that fail to read are skipped before the batch commit; everything that
// was readable lands in one IngestMany transaction so the directory load
// as a whole either fully commits or fully fails, never half-indexed.
func (f *Fetcher) LoadDir(glob string) (*DirLoadResult, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, kerrors.NewInputError("invalid glob pattern", err.Error(), "check the glob syntax")
	}

	result := &DirLoadResult{Matched: len(matches)}
	base, _ := os.Getwd()

	docs := make([]knowledge.IngestOptions, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			result.Failed = append(result.Failed, path)
			continue
		}
		rel := path
		if base != "" {
			if r, err := filepath.Rel(base, path); err == nil {
				rel = r
			}
		}
		docs = append(docs, knowledge.IngestOptions{
			Title: rel,
			Label: "local",
			Text:  string(data),
		})
	}

	if len(docs) == 0 {
		return result, nil
	}

	if _, err := f.store.IngestMany(docs); err != nil {
		for _, d := range docs {
			result.Failed = append(result.Failed, d.Title)
		}
		return result, nil
	}
	result.Ingested = len(docs)

	return result, nil
}
