// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbridge/pkg/knowledge"
	"github.com/kraklabs/kbridge/pkg/llm"
)

// StatusResult represents the project knowledge-store status for JSON output.
type StatusResult struct {
	ProjectID  string         `json:"project_id"`
	DataDir    string         `json:"data_dir"`
	Connected  bool           `json:"connected"`
	DocCount   int            `json:"doc_count"`
	ChunkCount int            `json:"chunk_count"`
	SizeBytes  int64          `json:"size_bytes"`
	Labels     map[string]int `json:"labels,omitempty"`
	Threads    map[string]int `json:"threads,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// runStatus executes the 'status' CLI command, opening the project's
// knowledge store read-only and reporting its document and chunk counts.
func runStatus(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", globals.JSON, "Output as JSON")
	project := fs.String("project", "", "Project id (default: from project.yaml)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbridge status [options]

Shows the local knowledge-store status for a project.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	projectID := *project
	if projectID == "" {
		cfg, err := loadConfigOrDefault(globals.Config)
		if err != nil {
			emitStatusError("", err, *jsonOutput)
			os.Exit(1)
		}
		projectID = cfg.ProjectID
	}

	storePath, _, err := dataPathsFor(projectID)
	if err != nil {
		emitStatusError(projectID, err, *jsonOutput)
		os.Exit(1)
	}

	result := &StatusResult{
		ProjectID: projectID,
		DataDir:   storePath,
		Timestamp: time.Now(),
	}

	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		result.Connected = false
		result.Error = "project has no knowledge store yet. Run 'kbridge start' and fetch or search once."
		if *jsonOutput {
			outputStatusJSON(result)
		} else {
			fmt.Printf("Project '%s' has no knowledge store yet.\n", projectID)
		}
		os.Exit(0)
	}

	embedder, err := llm.NewEmbedder("ollama")
	if err != nil {
		emitStatusError(projectID, err, *jsonOutput)
		os.Exit(1)
	}

	store, err := knowledge.Open(storePath, embedder, nil, true)
	if err != nil {
		result.Connected = false
		result.Error = fmt.Sprintf("cannot open knowledge store: %v", err)
		if *jsonOutput {
			outputStatusJSON(result)
		} else {
			fmt.Fprintf(os.Stderr, "Error: cannot open knowledge store: %v\n", err)
		}
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	status, err := store.Status()
	if err != nil {
		result.Connected = false
		result.Error = fmt.Sprintf("cannot read status: %v", err)
		if *jsonOutput {
			outputStatusJSON(result)
		} else {
			fmt.Fprintf(os.Stderr, "Error: cannot read status: %v\n", err)
		}
		os.Exit(1)
	}

	result.Connected = true
	result.DocCount = status.DocCount
	result.ChunkCount = status.ChunkCount
	result.SizeBytes = status.SizeBytes
	result.Labels = status.Labels
	result.Threads = status.Threads

	if *jsonOutput {
		outputStatusJSON(result)
	} else {
		printLocalStatus(result)
	}
}

func emitStatusError(projectID string, err error, jsonOutput bool) {
	if jsonOutput {
		outputStatusJSON(&StatusResult{
			ProjectID: projectID,
			Connected: false,
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func outputStatusJSON(result *StatusResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

func printLocalStatus(result *StatusResult) {
	fmt.Println("kbridge Project Status")
	fmt.Println("=======================")
	fmt.Printf("Project ID:    %s\n", result.ProjectID)
	fmt.Printf("Data Dir:      %s\n", filepath.Dir(result.DataDir))
	fmt.Println()

	fmt.Println("Knowledge Store:")
	fmt.Printf("  Documents:     %d\n", result.DocCount)
	fmt.Printf("  Chunks:        %d\n", result.ChunkCount)
	fmt.Printf("  Size:          %d bytes\n", result.SizeBytes)

	if len(result.Labels) > 0 {
		fmt.Println("  Labels:")
		for label, count := range result.Labels {
			fmt.Printf("    %-20s %d\n", label, count)
		}
	}
	if len(result.Threads) > 0 {
		fmt.Println("  Threads:")
		for thread, count := range result.Threads {
			fmt.Printf("    %-20s %d\n", thread, count)
		}
	}

	if result.Error != "" {
		fmt.Printf("\nWarning: %s\n", result.Error)
	}
}
