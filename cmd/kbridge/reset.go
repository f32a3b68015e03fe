// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbridge/internal/config"
)

// runReset executes the 'reset' CLI command: deletes the local knowledge
// store and cached documents for a project.
func runReset(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	project := fs.String("project", "", "Project id (default: from project.yaml)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbridge reset [options]

Deletes the local knowledge store and cached documents for a project.

WARNING: This operation is destructive and cannot be undone!

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		fmt.Fprintf(os.Stderr, "Error: you must pass --yes to confirm the reset\n")
		fmt.Fprintf(os.Stderr, "This will delete all local knowledge data for the project.\n")
		os.Exit(1)
	}

	projectID := *project
	if projectID == "" {
		cfg, err := loadConfigOrDefault(globals.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		projectID = cfg.ProjectID
	}

	storePath, docsDir, err := dataPathsFor(projectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		fmt.Printf("No local data found for project %s\n", projectID)
		os.Exit(0)
	}

	fmt.Printf("Resetting project %s (deleting %s)...\n", projectID, storePath)

	if err := os.RemoveAll(storePath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to delete knowledge store: %v\n", err)
		os.Exit(1)
	}
	if err := os.RemoveAll(docsDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to delete cached documents: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Reset complete. All local knowledge data has been deleted.")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  kbridge start    Start a fresh host for this project")
}

// loadConfigOrDefault loads project.yaml from configPath, or from the
// working directory's default location.
func loadConfigOrDefault(configPath string) (*config.Config, error) {
	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("cannot get current directory: %w", err)
		}
		configPath = config.ConfigPath(cwd)
	}
	return config.Load(configPath)
}

// dataPathsFor returns the per-project knowledge store file and cached-docs
// directory under the user's kbridge data home, mirroring pkg/host.Host's
// layout.
func dataPathsFor(projectID string) (storePath, docsDir string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("cannot get home directory: %w", err)
	}
	knowledgeDir := filepath.Join(home, ".kbridge", "knowledge")
	storePath = filepath.Join(knowledgeDir, projectID+".db")
	docsDir = filepath.Join(knowledgeDir, projectID, "docs")
	return storePath, docsDir, nil
}
