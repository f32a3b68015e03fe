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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbridge/internal/errors"
)

// bashCompletionTemplate is the bash completion script for kbridge.
const bashCompletionTemplate = `#!/bin/bash

# Bash completion script for kbridge
# Installation:
#   source <(kbridge completion bash)
#   Or add to ~/.bashrc:
#   echo 'source <(kbridge completion bash)' >> ~/.bashrc

_kbridge_completion() {
    local cur prev commands
    commands="init start stop status reset refresh install-hook completion"

    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    if [[ ${cur} == -* ]] ; then
        COMPREPLY=( $(compgen -W "--version --config --json --quiet --no-color" -- ${cur}) )
        return 0
    fi

    if [ $COMP_CWORD -eq 1 ]; then
        COMPREPLY=( $(compgen -W "${commands}" -- ${cur}) )
        return 0
    fi

    local cmd="${COMP_WORDS[1]}"
    case "${cmd}" in
        start)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--timeout" -- ${cur}) )
            fi
            ;;
        status)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--json --project" -- ${cur}) )
            fi
            ;;
        reset)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--yes --project" -- ${cur}) )
            fi
            ;;
        refresh)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--project --force" -- ${cur}) )
            fi
            ;;
        install-hook)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--force --remove" -- ${cur}) )
            fi
            ;;
        completion)
            if [ $COMP_CWORD -eq 2 ]; then
                COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            fi
            ;;
    esac
}

complete -F _kbridge_completion kbridge
`

// zshCompletionTemplate is the zsh completion script for kbridge.
const zshCompletionTemplate = `#compdef kbridge

# Zsh completion script for kbridge
# Installation:
#   1. Ensure compinit is loaded (add to ~/.zshrc if not present):
#      autoload -U compinit; compinit
#   2. Save this script to a directory in your fpath:
#      kbridge completion zsh > "${fpath[1]}/_kbridge"
#   3. Reload completions:
#      rm -f ~/.zcompdump; compinit

_kbridge() {
    local -a commands
    commands=(
        'init:Create .kbridge/project.yaml configuration'
        'start:Start the host and serve the tool surface over stdio'
        'stop:Stop any orphaned kernel containers'
        'status:Show project knowledge-store status'
        'reset:Reset local project data'
        'refresh:Re-fetch ingested local documents'
        'install-hook:Install git post-commit refresh hook'
        'completion:Generate shell completion script'
    )

    _arguments -C \
        '(- *)--version[Show version and exit]' \
        '--config[Path to .kbridge/project.yaml]:config file:_files -g "*.yaml"' \
        '--json[Output as JSON where applicable]' \
        '(-q --quiet)'{-q,--quiet}'[Suppress non-essential output]' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe 'command' commands
            ;;
        args)
            case $words[1] in
                start)
                    _arguments \
                        '--timeout[Total startup timeout]:duration:'
                    ;;
                status)
                    _arguments \
                        '--json[Output as JSON]' \
                        '--project[Project id]:project:'
                    ;;
                reset)
                    _arguments \
                        '--yes[Confirm the reset (required)]' \
                        '--project[Project id]:project:'
                    ;;
                refresh)
                    _arguments \
                        '--project[Project id]:project:' \
                        '--force[Ignore freshness window]'
                    ;;
                install-hook)
                    _arguments \
                        '--force[Overwrite existing hook]' \
                        '--remove[Remove the hook]'
                    ;;
                completion)
                    _arguments \
                        '1:shell:(bash zsh fish)'
                    ;;
            esac
            ;;
    esac
}

_kbridge
`

// fishCompletionTemplate is the fish completion script for kbridge.
const fishCompletionTemplate = `# Fish completion script for kbridge
# Installation:
#   1. Load completions for current session:
#      kbridge completion fish | source
#   2. Install permanently:
#      kbridge completion fish > ~/.config/fish/completions/kbridge.fish

# Commands
complete -c kbridge -f -n "__fish_use_subcommand" -a "init" -d "Create .kbridge/project.yaml configuration"
complete -c kbridge -f -n "__fish_use_subcommand" -a "start" -d "Start the host and serve the tool surface over stdio"
complete -c kbridge -f -n "__fish_use_subcommand" -a "stop" -d "Stop any orphaned kernel containers"
complete -c kbridge -f -n "__fish_use_subcommand" -a "status" -d "Show project knowledge-store status"
complete -c kbridge -f -n "__fish_use_subcommand" -a "reset" -d "Reset local project data (destructive!)"
complete -c kbridge -f -n "__fish_use_subcommand" -a "refresh" -d "Re-fetch ingested local documents"
complete -c kbridge -f -n "__fish_use_subcommand" -a "install-hook" -d "Install git post-commit refresh hook"
complete -c kbridge -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion script"

# Global flags
complete -c kbridge -l version -d "Show version and exit"
complete -c kbridge -l config -d "Path to .kbridge/project.yaml" -r
complete -c kbridge -l json -d "Output as JSON where applicable"
complete -c kbridge -s q -l quiet -d "Suppress non-essential output"

# start command flags
complete -c kbridge -n "__fish_seen_subcommand_from start" -l timeout -d "Total startup timeout" -r

# status command flags
complete -c kbridge -n "__fish_seen_subcommand_from status" -l json -d "Output as JSON"
complete -c kbridge -n "__fish_seen_subcommand_from status" -l project -d "Project id" -r

# reset command flags
complete -c kbridge -n "__fish_seen_subcommand_from reset" -l yes -d "Confirm the reset (required)"
complete -c kbridge -n "__fish_seen_subcommand_from reset" -l project -d "Project id" -r

# refresh command flags
complete -c kbridge -n "__fish_seen_subcommand_from refresh" -l project -d "Project id" -r
complete -c kbridge -n "__fish_seen_subcommand_from refresh" -l force -d "Ignore freshness window"

# install-hook command flags
complete -c kbridge -n "__fish_seen_subcommand_from install-hook" -l force -d "Overwrite existing hook"
complete -c kbridge -n "__fish_seen_subcommand_from install-hook" -l remove -d "Remove the hook"

# completion command arguments
complete -c kbridge -n "__fish_seen_subcommand_from completion" -f -a "bash" -d "Generate bash completion script"
complete -c kbridge -n "__fish_seen_subcommand_from completion" -f -a "zsh" -d "Generate zsh completion script"
complete -c kbridge -n "__fish_seen_subcommand_from completion" -f -a "fish" -d "Generate fish completion script"
`

// runCompletion executes the 'completion' CLI command, generating
// shell-specific completion scripts for bash, zsh, or fish.
func runCompletion(args []string, configPath string) {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbridge completion <shell>

Generate shell completion scripts for bash, zsh, or fish.

Examples:
  kbridge completion bash
  source <(kbridge completion bash)
  kbridge completion zsh > "${fpath[1]}/_kbridge"
  kbridge completion fish > ~/.config/fish/completions/kbridge.fish

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		errors.FatalError(errors.NewInputError(
			"Invalid arguments",
			"The completion command requires exactly one argument: the shell name",
			"Run 'kbridge completion bash', 'kbridge completion zsh', or 'kbridge completion fish'",
		), false)
	}

	shell := fs.Arg(0)

	switch shell {
	case "bash":
		fmt.Print(bashCompletionTemplate)
	case "zsh":
		fmt.Print(zshCompletionTemplate)
	case "fish":
		fmt.Print(fishCompletionTemplate)
	default:
		errors.FatalError(errors.NewInputError(
			"Unsupported shell",
			fmt.Sprintf("Shell '%s' is not supported. Valid options: bash, zsh, fish", shell),
			"Run 'kbridge completion bash', 'kbridge completion zsh', or 'kbridge completion fish'",
		), false)
	}
}
