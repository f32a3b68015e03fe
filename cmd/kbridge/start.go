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
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/internal/ui"
	"github.com/kraklabs/kbridge/pkg/host"
)

// runStart executes the 'start' CLI command: brings up a Host for the
// current project and serves its tool surface as JSON-RPC 2.0 over stdio
// until the process receives a termination signal or stdin closes.
func runStart(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	startTimeout := fs.Duration("timeout", 30*time.Second, "Timeout for bringing the host up")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbridge start [options]

Description:
  Start the kbridge host for the current project and serve its tool
  surface as JSON-RPC 2.0 over stdio. The kernel itself starts lazily on
  the first tool call that needs it.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !globals.Quiet {
		ui.Header("Starting kbridge")
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

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"cannot get current directory",
			err.Error(),
			"",
			err,
		), globals.JSON)
	}

	logLevel := slog.LevelWarn
	switch {
	case globals.Verbose >= 2:
		logLevel = slog.LevelDebug
	case globals.Verbose == 1:
		logLevel = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	h, err := host.New(cfg, host.Options{WorkingDir: cwd}, log)
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"cannot construct host",
			err.Error(),
			"check the llm and kernel sections of project.yaml",
			err,
		), globals.JSON)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), *startTimeout)
	defer cancelStart()
	if err := h.Start(startCtx); err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if !globals.Quiet {
		ui.Success("kbridge host is ready")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		serveStdio(ctx, h.Registry)
		close(done)
	}()

	select {
	case <-ctx.Done():
		if !globals.Quiet {
			ui.Info("Shutting down...")
		}
	case <-done:
		if !globals.Quiet {
			ui.Info("stdin closed, shutting down...")
		}
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	if err := h.Stop(stopCtx); err != nil {
		ui.Warning(fmt.Sprintf("shutdown error: %v", err))
	}
}
