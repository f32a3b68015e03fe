// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package main implements the kbridge CLI: a sandboxed-execution bridge
// that gives a language model a persistent Python kernel, a per-project
// knowledge store, and a bounded sub-agent loop, fronted by a JSON-RPC
// tool surface over stdio.
//
// Usage:
//
//	kbridge init                  Create .kbridge/project.yaml configuration
//	kbridge start                 Start the host and serve the tool surface over stdio
//	kbridge stop                  Stop any orphaned kernel containers
//	kbridge status [--json]       Show project knowledge-store status
//	kbridge reset                 Delete local project data (destructive!)
//	kbridge refresh               Re-fetch ingested local documents
//	kbridge install-hook          Install a git post-commit refresh hook
//	kbridge completion <shell>    Generate shell completion scripts
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds flags that apply across every subcommand.
type GlobalFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
	Verbose int
	Config  string
}

func main() {
	var globals GlobalFlags
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.BoolVar(&globals.JSON, "json", false, "Output as JSON where applicable")
	flag.BoolVarP(&globals.Quiet, "quiet", "q", false, "Suppress non-essential output")
	flag.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	flag.CountVarP(&globals.Verbose, "verbose", "v", "Increase log verbosity (repeatable)")
	flag.StringVar(&globals.Config, "config", "", "Path to .kbridge/project.yaml (default: ./.kbridge/project.yaml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `kbridge - sandboxed kernel bridge for language-model agents

Usage:
  kbridge <command> [options]

Commands:
  init          Create .kbridge/project.yaml configuration
  start         Start the host and serve the tool surface over stdio
  stop          Stop any orphaned kernel containers
  status        Show project knowledge-store status
  reset         Delete local project data (destructive!)
  refresh       Re-fetch ingested local documents
  install-hook  Install a git post-commit refresh hook
  completion    Generate shell completion scripts

Global Options:
  --config      Path to .kbridge/project.yaml
  --json        Output as JSON where applicable
  -q, --quiet   Suppress non-essential output
  --no-color    Disable colored output
  -v            Increase log verbosity (repeatable)
  --version     Show version and exit

Data Storage:
  Data is stored locally in ~/.kbridge/knowledge/<project>.db and
  ~/.kbridge/sessions/<session>/.

Environment Variables:
  OLLAMA_HOST          Ollama URL (default: http://localhost:11434)
  OLLAMA_EMBED_MODEL   Embedding model (default: nomic-embed-text)
  KBRIDGE_KERNEL_URL   Pre-existing kernel URL to attach to instead of spawning one
  KBRIDGE_CALLBACK_PORT  Fixed port for the callback server (default: random)

`)
	}

	flag.Parse()
	if globals.JSON {
		globals.Quiet = true
	}

	if *showVersion {
		fmt.Printf("kbridge version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs)
	case "start":
		runStart(cmdArgs, globals)
	case "stop":
		runStop(cmdArgs, globals)
	case "status":
		runStatus(cmdArgs, globals)
	case "reset":
		runReset(cmdArgs, globals)
	case "refresh":
		runRefresh(cmdArgs, globals)
	case "install-hook":
		runInstallHook(cmdArgs, globals.Config)
	case "completion":
		runCompletion(cmdArgs, globals.Config)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
