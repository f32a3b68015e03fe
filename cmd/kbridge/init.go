// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbridge/internal/config"
)

// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive, noHook, withHook bool
	projectID, kernelTier, kernelImage      string
	llmProvider, llmBaseURL, llmModel       string
}

func runInit(args []string) {
	flags := parseInitFlags(args)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot get current directory: %v\n", err)
		os.Exit(1)
	}

	configPath := config.ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Use --force to overwrite.\n", configPath)
		os.Exit(1)
	}

	cfg := createInitConfig(cwd, flags)
	reader := bufio.NewReader(os.Stdin)

	if !flags.nonInteractive {
		runInteractiveConfig(reader, cfg)
	}

	saveInitConfig(cwd, configPath, cfg)
	handleHookInstallation(reader, flags)
	printNextSteps(flags.noHook)
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite existing configuration")
	fs.BoolVarP(&f.nonInteractive, "yes", "y", false, "Non-interactive mode (use defaults)")
	fs.StringVar(&f.projectID, "project-id", "", "Project identifier")
	fs.StringVar(&f.kernelTier, "tier", "", "Kernel isolation tier: 1 (bare) or 2 (container)")
	fs.StringVar(&f.kernelImage, "kernel-image", "", "Container image for tier 2")
	fs.StringVar(&f.llmProvider, "llm-provider", "", "LLM provider (ollama, openai-compatible)")
	fs.StringVar(&f.llmBaseURL, "llm-url", "", "LLM API base URL")
	fs.StringVar(&f.llmModel, "llm-model", "", "LLM model name")
	fs.BoolVar(&f.noHook, "no-hook", false, "Skip git hook installation (hook is installed by default)")
	fs.BoolVar(&f.withHook, "hook", false, "Install git hook without prompting (for scripts)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbridge init [options]

Creates .kbridge/project.yaml configuration file.

Examples:
  kbridge init                       # Interactive setup
  kbridge init -y                    # Non-interactive with defaults
  kbridge init --tier 2 --kernel-image kbridge/kernel:latest
  kbridge init --hook                # Also install git hook

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	return f
}

func createInitConfig(cwd string, f initFlags) *config.Config {
	pid := f.projectID
	if pid == "" {
		pid = filepath.Base(cwd)
	}
	cfg := config.DefaultConfig(pid)
	if f.kernelTier != "" {
		if f.kernelTier == "2" {
			cfg.Kernel.Tier = 2
		} else {
			cfg.Kernel.Tier = 1
		}
	}
	if f.kernelImage != "" {
		cfg.Kernel.Image = f.kernelImage
	}
	if f.llmProvider != "" {
		cfg.LLM.Provider = f.llmProvider
	}
	if f.llmBaseURL != "" {
		cfg.LLM.BaseURL = f.llmBaseURL
	}
	if f.llmModel != "" {
		cfg.LLM.Model = f.llmModel
	}
	return cfg
}

func runInteractiveConfig(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("kbridge Project Configuration")
	fmt.Println("=============================")
	fmt.Println()

	cfg.ProjectID = prompt(reader, "Project ID", cfg.ProjectID)

	fmt.Println()
	fmt.Println("Kernel isolation tier: 1 (bare subprocess), 2 (container)")
	tierStr := prompt(reader, "Kernel tier", fmt.Sprintf("%d", cfg.Kernel.Tier))
	if tierStr == "2" {
		cfg.Kernel.Tier = 2
		cfg.Kernel.Image = prompt(reader, "Container image", cfg.Kernel.Image)
	} else {
		cfg.Kernel.Tier = 1
	}

	fmt.Println()
	fmt.Println("LLM Providers: ollama, openai-compatible")
	cfg.LLM.Provider = prompt(reader, "LLM provider", cfg.LLM.Provider)
	if cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = prompt(reader, "Ollama URL", "http://localhost:11434")
	} else {
		cfg.LLM.BaseURL = prompt(reader, "LLM API base URL", cfg.LLM.BaseURL)
	}
	cfg.LLM.Model = prompt(reader, "LLM model", cfg.LLM.Model)
	fmt.Println()
}

func saveInitConfig(cwd, configPath string, cfg *config.Config) {
	dir := config.ConfigDir(cwd)
	if err := os.MkdirAll(dir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create .kbridge directory: %v\n", err)
		os.Exit(1)
	}
	if err := config.SaveConfig(cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot save configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %s\n", configPath)
	addToGitignore(cwd)
}

func handleHookInstallation(reader *bufio.Reader, f initFlags) {
	if f.noHook {
		return
	}
	shouldInstall := f.withHook
	if !f.withHook && !f.nonInteractive {
		fmt.Println()
		hookAnswer := prompt(reader, "Install git hook to refresh stale docs after each commit? (Y/n)", "y")
		hookAnswer = strings.ToLower(strings.TrimSpace(hookAnswer))
		shouldInstall = hookAnswer != "n" && hookAnswer != "no"
	} else if f.nonInteractive {
		shouldInstall = true
	}

	if !shouldInstall {
		return
	}
	gitDir, err := findGitDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot find .git directory: %v\n", err)
		return
	}
	hookPath := filepath.Join(gitDir, "hooks", "post-commit")
	if err := installHook(hookPath, false); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot install git hook: %v\n", err)
	} else {
		fmt.Printf("Git hook installed: %s\n", hookPath)
	}
}

func printNextSteps(noHook bool) {
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit .kbridge/project.yaml if needed")
	fmt.Println("  2. Run 'kbridge start' to bring up the host")
	fmt.Println("  3. Run 'kbridge status' to check the knowledge store")
	if noHook {
		fmt.Println()
		fmt.Println("Tip: Run 'kbridge install-hook' to refresh fetched docs on each commit")
	}
}

// prompt displays an interactive prompt and reads user input from stdin,
// returning defaultValue when the user presses Enter without typing.
func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

// addToGitignore adds .kbridge/ to the project's .gitignore file if not
// already present. Silently returns if .gitignore does not exist.
func addToGitignore(dir string) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	content, err := os.ReadFile(gitignorePath) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}

	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == ".kbridge/" || line == ".kbridge" || line == "/.kbridge/" || line == "/.kbridge" {
			return
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}

	_, _ = f.WriteString("\n# kbridge configuration\n.kbridge/\n")
	fmt.Println("Added .kbridge/ to .gitignore")
}
