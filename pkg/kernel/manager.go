// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sony/gobreaker"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
)

// Tier identifies an isolation tier for the managed kernel process.
type Tier int

const (
	// TierBare runs the kernel as a bare subprocess in its own process
	// group. No filesystem or network restriction is applied.
	TierBare Tier = 1

	// TierContainer runs the kernel in a container with null DNS, bounded
	// memory/CPU, and a mounted workspace.
	TierContainer Tier = 2

	// TierNested is reserved for a stronger nested isolation tier that may
	// be absent in a given deployment.
	TierNested Tier = 3
)

// InjectorFunc renders and executes the helper-function source that the
// Sub-Agent Runner needs present in the kernel namespace after every
// (re)start. The Manager does not know the kernel's language; it only knows
// that this closure can push source into a running kernel.
type InjectorFunc func(ctx context.Context, c *Client) error

// RestartHook is invoked after the Manager restarts a failed kernel.
type RestartHook func(tier Tier)

// ManagerConfig configures tier selection and health-loop behavior.
type ManagerConfig struct {
	RequestedTier   Tier
	NoContainer     bool
	ContainerImage  string
	Workspace       string
	KernelURL       string // overrides process management entirely when set
	RequestTimeout  time.Duration
	ExecuteTimeout  time.Duration
	HealthInterval  time.Duration
	ConsecutiveFail int // failures before a restart is attempted
}

// Manager owns the external kernel process across its lifetime: lazy start,
// tier selection and fallback, a health loop backed by a circuit breaker,
// and helper re-injection after every (re)start.
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	injector InjectorFunc
	onRestart RestartHook

	mu        sync.Mutex
	client    *Client
	tier      Tier
	cmd       *exec.Cmd
	dockerID  string
	docker    *client.Client
	started   bool
	startOnce sync.Once
	startErr  error

	breaker *gobreaker.CircuitBreaker

	stopHealth context.CancelFunc
}

// NewManager constructs a Manager. The health loop and kernel process are
// not started until Start (directly, or lazily via EnsureStarted) is called.
func NewManager(cfg ManagerConfig, logger *slog.Logger, injector InjectorFunc, onRestart RestartHook) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	if cfg.ConsecutiveFail <= 0 {
		cfg.ConsecutiveFail = 3
	}
	kernelMetrics.init()
	m := &Manager{cfg: cfg, logger: logger, injector: injector, onRestart: onRestart}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kernel-health",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.HealthInterval * time.Duration(cfg.ConsecutiveFail),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.ConsecutiveFail)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("kernel.breaker.state_change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return m
}

// EnsureStarted performs a lazy, once-only start. Concurrent first callers
// share the single start attempt and all observe its result.
func (m *Manager) EnsureStarted(ctx context.Context) (*Client, error) {
	m.startOnce.Do(func() {
		m.startErr = m.start(ctx)
	})
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client, nil
}

func (m *Manager) start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.KernelURL != "" {
		m.logger.Info("kernel.manager.start.external", "url", m.cfg.KernelURL)
		m.client = NewClient(m.cfg.KernelURL, m.cfg.RequestTimeout, m.cfg.ExecuteTimeout)
		m.tier = TierBare
		m.started = true
		return m.afterStartLocked(ctx)
	}

	requested := m.cfg.RequestedTier
	if m.cfg.NoContainer && requested == TierContainer {
		requested = TierBare
	}

	switch requested {
	case TierContainer:
		url, err := m.startContainer(ctx)
		if err != nil {
			m.logger.Warn("kernel.manager.tier2.unavailable", "err", err, "fallback", "tier1")
			return m.startBare(ctx)
		}
		m.client = NewClient(url, m.cfg.RequestTimeout, m.cfg.ExecuteTimeout)
		m.tier = TierContainer
	default:
		return m.startBare(ctx)
	}

	m.started = true
	return m.afterStartLocked(ctx)
}

// startBare launches the kernel as a bare subprocess under a restrictive
// process group, the Tier 1 fast path.
func (m *Manager) startBare(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "kbridge-kernel", "--listen", "127.0.0.1:0")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	if err := cmd.Start(); err != nil {
		return kerrors.NewInternalError("failed to start bare kernel process", err.Error(), "ensure kbridge-kernel is on PATH", err)
	}
	m.cmd = cmd
	m.tier = TierBare
	m.started = true
	// The bare kernel announces its bound port over its own startup
	// protocol; here we assume the conventional default used by the
	// reference kernel binary.
	m.client = NewClient("http://127.0.0.1:8765", m.cfg.RequestTimeout, m.cfg.ExecuteTimeout)
	return m.afterStartLocked(ctx)
}

// startContainer launches the kernel in a container with null DNS, bounded
// resources, and the workspace mounted read-write. Returns the URL the host
// can reach it at.
func (m *Manager) startContainer(ctx context.Context) (string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("docker client: %w", err)
	}
	m.docker = cli

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: m.cfg.ContainerImage,
		Cmd:   []string{"--listen", "0.0.0.0:8765"},
	}, &container.HostConfig{
		DNS:        []string{},
		NetworkMode: "bridge",
		Resources: container.Resources{
			Memory:   512 * 1024 * 1024,
			NanoCPUs: 1_000_000_000,
		},
		Binds: []string{m.cfg.Workspace + ":/workspace:rw"},
	}, &network.NetworkingConfig{}, &ocispec.Platform{}, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	m.dockerID = resp.ID

	inspect, err := cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return "", fmt.Errorf("container inspect: %w", err)
	}
	ip := inspect.NetworkSettings.IPAddress
	if ip == "" {
		return "", fmt.Errorf("container has no assigned IP yet")
	}
	return fmt.Sprintf("http://%s:8765", ip), nil
}

// afterStartLocked re-injects helpers and launches the health loop. Caller
// must hold m.mu.
func (m *Manager) afterStartLocked(ctx context.Context) error {
	if err := m.client.HealthWithBackoff(ctx, 30*time.Second); err != nil {
		return fmt.Errorf("kernel did not become healthy: %w", err)
	}
	if m.injector != nil {
		if err := m.injector(ctx, m.client); err != nil {
			m.logger.Error("kernel.manager.inject.failed", "err", err)
		}
	}
	healthCtx, cancel := context.WithCancel(context.Background())
	m.stopHealth = cancel
	go m.healthLoop(healthCtx)
	return nil
}

// healthLoop polls /health on an interval, routing failures through the
// circuit breaker. When the breaker trips, the kernel is restarted and the
// restart hook fires.
func (m *Manager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kernelMetrics.healthChecks.Inc()
			_, err := m.breaker.Execute(func() (any, error) {
				return nil, m.client.Health(ctx)
			})
			if err != nil {
				kernelMetrics.healthFails.Inc()
			}
			if err != nil && m.breaker.State() == gobreaker.StateOpen {
				m.logger.Warn("kernel.manager.restarting", "reason", err)
				if rerr := m.restart(ctx); rerr != nil {
					m.logger.Error("kernel.manager.restart_failed", "err", rerr)
					continue
				}
				kernelMetrics.restarts.WithLabelValues(tierLabel(m.tier)).Inc()
				if m.onRestart != nil {
					m.onRestart(m.tier)
				}
			}
		}
	}
}

func tierLabel(t Tier) string {
	switch t {
	case TierBare:
		return "bare"
	case TierContainer:
		return "container"
	case TierNested:
		return "nested"
	default:
		return "unknown"
	}
}

func (m *Manager) restart(ctx context.Context) error {
	m.mu.Lock()
	m.teardownLocked(ctx)
	m.startOnce = sync.Once{}
	m.mu.Unlock()

	_, err := m.EnsureStarted(ctx)
	return err
}

// Client returns the currently active kernel client, or nil if not started.
func (m *Manager) Client() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Stop gracefully tears down the kernel process or container and the health
// loop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopHealth != nil {
		m.stopHealth()
	}
	m.teardownLocked(ctx)
	return nil
}

func (m *Manager) teardownLocked(ctx context.Context) {
	if m.docker != nil && m.dockerID != "" {
		timeout := 5
		_ = m.docker.ContainerStop(ctx, m.dockerID, container.StopOptions{Timeout: &timeout})
		_ = m.docker.ContainerRemove(ctx, m.dockerID, container.RemoveOptions{Force: true})
		m.dockerID = ""
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = syscall.Kill(-m.cmd.Process.Pid, syscall.SIGTERM)
		m.cmd = nil
	}
	m.started = false
}
