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
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbridge/internal/ui"
)

// runStop executes the 'stop' CLI command. kbridge has no long-lived daemon
// of its own (the host runs in-process for the lifetime of 'kbridge start'),
// so this is a best-effort sweep for Tier 2 kernel containers left behind
// by a process that was killed before it could call Host.Stop.
func runStop(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbridge stop [options]

Description:
  Stop any orphaned Tier 2 kernel containers for this project's configured
  kernel image. A 'kbridge start' process stops its own kernel container on
  clean shutdown; this command is for recovering from a crash or kill -9.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ui.Header("Stopping orphaned kernel containers")

	cfg, err := loadConfigOrDefault(globals.Config)
	if err != nil {
		ui.Error(fmt.Sprintf("cannot load configuration: %v", err))
		os.Exit(1)
	}
	if cfg.Kernel.Tier != 2 {
		ui.Info("Kernel tier is not 2 (container); nothing to stop")
		return
	}

	stopped, err := stopOrphanedKernelContainers(cfg.Kernel.Image)
	if err != nil {
		ui.Error(fmt.Sprintf("cannot reach docker: %v", err))
		os.Exit(1)
	}
	if stopped == 0 {
		ui.Info("No orphaned kernel containers found")
		return
	}
	ui.Success(fmt.Sprintf("Stopped %d orphaned kernel container(s)", stopped))
}

// stopOrphanedKernelContainers stops every running container created from
// image, regardless of which kbridge process started it, since the Kernel
// Manager does not currently label the containers it creates.
func stopOrphanedKernelContainers(image string) (int, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return 0, err
	}
	defer func() { _ = cli.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("ancestor", image)),
	})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}

	stopTimeout := 10
	stopped := 0
	for _, c := range containers {
		if err := cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &stopTimeout}); err != nil {
			ui.Warning(fmt.Sprintf("failed to stop container %s: %v", c.ID[:12], err))
			continue
		}
		stopped++
	}
	return stopped, nil
}
