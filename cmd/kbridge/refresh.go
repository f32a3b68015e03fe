// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/internal/ui"
	"github.com/kraklabs/kbridge/pkg/fetch"
	"github.com/kraklabs/kbridge/pkg/knowledge"
	"github.com/kraklabs/kbridge/pkg/llm"
)

// runRefresh executes the 'refresh' CLI command: re-fetches every
// previously ingested document. A document's title is either the URL it
// was fetched from or the local path it was loaded from, so refresh walks
// the knowledge store's timeline and re-runs the cascade or a local
// re-read for each one, bypassing the freshness cache.
func runRefresh(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	project := fs.String("project", "", "Project id (default: from project.yaml)")
	force := fs.Bool("force", true, "Bypass the freshness cache for web documents")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbridge refresh [options]

Re-fetches every document previously ingested into the project's knowledge
store: URLs are re-fetched through the cascade, local files are re-read
from disk. Intended to run from the post-commit hook installed by
'kbridge install-hook', or on demand after source documents change.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfigOrDefault(globals.Config)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"cannot load project configuration",
			err.Error(),
			"run 'kbridge init' to create .kbridge/project.yaml",
			err,
		), globals.JSON)
	}

	projectID := *project
	if projectID == "" {
		projectID = cfg.ProjectID
	}

	storePath, docsDir, err := dataPathsFor(projectID)
	if err != nil {
		errors.FatalError(errors.NewInternalError("cannot resolve data directory", err.Error(), "", err), globals.JSON)
	}

	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		if !globals.Quiet {
			ui.Info(fmt.Sprintf("Project '%s' has no knowledge store yet; nothing to refresh", projectID))
		}
		return
	}

	embedder, err := llm.NewEmbedder(cfg.LLM.Provider)
	if err != nil {
		errors.FatalError(errors.NewConfigError("cannot construct embedder", err.Error(), "check the llm.provider value", err), globals.JSON)
	}

	store, err := knowledge.Open(storePath, embedder, nil, cfg.Knowledge.DefaultContextOnly)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError("cannot open knowledge store", err.Error(), "", err), globals.JSON)
	}
	defer func() { _ = store.Close() }()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	fetcher := fetch.NewFetcher(fetch.Config{
		ProxyBaseURL:       cfg.Fetch.ProxyBaseURL,
		Freshness:          cfg.Fetch.Freshness(),
		BlockedHosts:       cfg.Fetch.BlockedHosts,
		SitemapConcurrency: cfg.Fetch.SitemapConcurrency,
		CacheRoot:          docsDir,
	}, store, log)

	entries := store.Timeline(nil, nil)
	if len(entries) == 0 {
		if !globals.Quiet {
			ui.Info("No previously ingested documents to refresh")
		}
		return
	}

	bar := NewProgressBar(NewProgressConfig(globals), int64(len(entries)), "Refreshing documents")

	refreshed, failed := 0, 0
	ctx := context.Background()
	for _, entry := range entries {
		if strings.HasPrefix(entry.Title, "http://") || strings.HasPrefix(entry.Title, "https://") {
			result := fetcher.Fetch(ctx, entry.Title, *force)
			if result.ErrorKind != "" {
				failed++
				ui.Warning(fmt.Sprintf("refresh failed for %s: %s", entry.Title, result.Message))
			} else {
				refreshed++
			}
			if bar != nil {
				_ = bar.Add(1)
			}
			continue
		}

		data, err := os.ReadFile(filepath.Clean(entry.Title)) //nolint:gosec // G304: title is a previously-ingested local path
		if err != nil {
			failed++
			ui.Warning(fmt.Sprintf("refresh failed for %s: %v", entry.Title, err))
			if bar != nil {
				_ = bar.Add(1)
			}
			continue
		}
		if _, err := store.Ingest(knowledge.IngestOptions{Title: entry.Title, Label: "local", Text: string(data)}); err != nil {
			failed++
			ui.Warning(fmt.Sprintf("refresh failed for %s: %v", entry.Title, err))
		} else {
			refreshed++
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if globals.Quiet {
		return
	}
	ui.Success(fmt.Sprintf("Refreshed %d document(s)", refreshed))
	if failed > 0 {
		ui.Warning(fmt.Sprintf("%d document(s) failed to refresh", failed))
	}
}
