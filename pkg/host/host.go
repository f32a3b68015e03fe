// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package host composes every component into the running process: the
// shared HTTP client, the lazily-started kernel, per-project Knowledge
// Stores and Fetchers, the Callback Server, and the tool registry, the way
// the teacher's internal/bootstrap composes one acquired resource at a
// time with a matching release path.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kraklabs/kbridge/internal/config"
	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/callback"
	"github.com/kraklabs/kbridge/pkg/fetch"
	"github.com/kraklabs/kbridge/pkg/kernel"
	"github.com/kraklabs/kbridge/pkg/knowledge"
	"github.com/kraklabs/kbridge/pkg/llm"
	"github.com/kraklabs/kbridge/pkg/research"
	"github.com/kraklabs/kbridge/pkg/subagent"
	"github.com/kraklabs/kbridge/pkg/tools"
)

// Host owns every long-lived resource for one process.
type Host struct {
	cfg     *config.Config
	log     *slog.Logger
	dataDir string

	httpClient *http.Client
	mainModel  llm.Provider
	subModel   llm.Provider
	embedder   llm.Embedder

	execLock    sync.RWMutex
	runLock     sync.Mutex
	kernelMgr   *kernel.Manager
	snapshotter *kernel.Snapshotter
	sessionID   string
	stopSnap    func()

	callbackSrv *callback.Server
	runner      *subagent.Runner
	ledger      *callback.Ledger

	mu            sync.Mutex
	stores        map[string]*knowledge.Store
	fetchers      map[string]*fetch.Fetcher
	orchestrators map[string]*research.Orchestrator

	deniedPrefixes []string

	Registry *tools.Registry
}

// Options parameterizes New beyond what lives in config.Config: the working
// directory the session id is derived from, and the base data directory
// (defaults to ~/.kbridge).
type Options struct {
	WorkingDir string
	DataDir    string
}

// New constructs a Host without starting anything: no kernel process, no
// callback server. Call Start to bring the process up.
func New(cfg *config.Config, opts Options, log *slog.Logger) (*Host, error) {
	if log == nil {
		log = slog.Default()
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, kerrors.NewConfigError("cannot resolve data directory", err.Error(), "pass an explicit data directory", err)
		}
		dataDir = filepath.Join(home, ".kbridge")
	}

	mainModel, err := llm.NewProvider(llm.ProviderConfig{
		Type:         cfg.LLM.Provider,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		MaxRetries:   cfg.LLM.MaxRetries,
		Timeout:      time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, kerrors.NewConfigError("cannot construct main language model provider", err.Error(), "check the llm section of project.yaml", err)
	}

	embedder, err := llm.NewEmbedder(cfg.LLM.Provider)
	if err != nil {
		return nil, kerrors.NewConfigError("cannot construct embedder", err.Error(), "check the llm.provider value or set an embedding-capable provider", err)
	}

	h := &Host{
		cfg:            cfg,
		log:            log,
		dataDir:        dataDir,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
		mainModel:      mainModel,
		subModel:       mainModel,
		embedder:       embedder,
		stores:         make(map[string]*knowledge.Store),
		fetchers:       make(map[string]*fetch.Fetcher),
		orchestrators:  make(map[string]*research.Orchestrator),
		sessionID:      kernel.SessionID(opts.WorkingDir),
		deniedPrefixes: tools.DefaultDeniedPathPrefixes(),
	}

	h.ledger = callback.NewLedger()
	h.snapshotter = kernel.NewSnapshotter(filepath.Join(dataDir, "sessions"), time.Duration(cfg.Snapshot.IntervalSeconds)*time.Second, &h.execLock, log)

	h.callbackSrv = callback.NewServer(h.callbackAddr(), mainModel, h.sandboxTools(), log)

	h.kernelMgr = kernel.NewManager(kernel.ManagerConfig{
		RequestedTier:   kernel.Tier(cfg.Kernel.Tier),
		NoContainer:     cfg.Kernel.NoContainer,
		ContainerImage:  cfg.Kernel.Image,
		Workspace:       opts.WorkingDir,
		KernelURL:       cfg.Kernel.URL,
		RequestTimeout:  cfg.Kernel.RequestTimeout(),
		ExecuteTimeout:  cfg.Kernel.ExecuteTimeout(),
		HealthInterval:  time.Duration(cfg.Kernel.HealthIntervalSeconds) * time.Second,
		ConsecutiveFail: 3,
	}, log, h.onKernelStart, h.onKernelRestart)

	h.runner = subagent.NewRunner(mainModel, nil, h.ledger)
	h.runner.SetExecLock(&h.execLock)

	h.Registry = tools.NewRegistry()
	tools.Register(h.Registry, &tools.Deps{
		Kernel:         h,
		Projects:       h,
		SubAgent:       h.runner,
		Ledger:         h.ledger,
		DeniedPrefixes: h.deniedPrefixes,
		DefaultProject: cfg.ProjectID,
	})

	return h, nil
}

func (h *Host) callbackAddr() string {
	if h.cfg.Callback.Port == 0 {
		return "127.0.0.1:0"
	}
	return fmt.Sprintf("127.0.0.1:%d", h.cfg.Callback.Port)
}

// onKernelStart is the Kernel Manager's InjectorFunc: after every (re)start
// it re-injects the sub-agent helper functions and pushes the saved snapshot
// for this session before any tool dispatch can reach it; the periodic
// snapshot saver is started only the first time.
func (h *Host) onKernelStart(ctx context.Context, c *kernel.Client) error {
	h.runner.UpdateKernel(c)

	inject := subagent.InjectHelpers(h.callbackSrv.URL(), h.cfg.Kernel.ExecuteTimeout(), &h.execLock)
	if err := inject(ctx, c); err != nil {
		return fmt.Errorf("inject sub-agent helpers: %w", err)
	}

	if _, err := h.snapshotter.Restore(ctx, c, h.sessionID); err != nil {
		h.log.Warn("host.snapshot.restore_failed", "err", err)
	}

	if h.stopSnap == nil {
		h.stopSnap = h.snapshotter.StartPeriodic(c, h.sessionID)
	}
	return nil
}

func (h *Host) onKernelRestart(tier kernel.Tier) {
	h.log.Warn("host.kernel.restarted", "tier", tier)
}

// EnsureStarted implements tools.KernelAccessor.
func (h *Host) EnsureStarted(ctx context.Context) (*kernel.Client, error) {
	return h.kernelMgr.EnsureStarted(ctx)
}

// ExecLock implements tools.KernelAccessor: the same lock the Snapshotter
// takes as a writer around a save, so an in-flight execute and a snapshot
// save can never overlap.
func (h *Host) ExecLock() *sync.RWMutex {
	return &h.execLock
}

// RunLock implements tools.KernelAccessor: the mutex handleSubAgent holds
// for the duration of one sub-agent run, so two concurrent sub_agent tool
// calls cannot interleave their kernel executions against the same kernel
// session.
func (h *Host) RunLock() *sync.Mutex {
	return &h.runLock
}

// Store implements tools.ProjectAccessor: it opens (or returns the cached)
// Knowledge Store for project, guarded by h.mu per the "one Knowledge Store
// instance per project, cached in a mapping guarded by a mutex" resource
// note.
func (h *Host) Store(project string) (*knowledge.Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.storeLocked(project)
}

// Fetcher implements tools.ProjectAccessor.
func (h *Host) Fetcher(project string) (*fetch.Fetcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if f, ok := h.fetchers[project]; ok {
		return f, nil
	}

	store, err := h.storeLocked(project)
	if err != nil {
		return nil, err
	}

	cacheRoot := filepath.Join(h.dataDir, "knowledge", project, "docs")
	f := fetch.NewFetcher(fetch.Config{
		ProxyBaseURL:       h.cfg.Fetch.ProxyBaseURL,
		Freshness:          h.cfg.Fetch.Freshness(),
		BlockedHosts:       h.cfg.Fetch.BlockedHosts,
		SitemapConcurrency: h.cfg.Fetch.SitemapConcurrency,
		CacheRoot:          cacheRoot,
	}, store, h.log)
	h.fetchers[project] = f
	return f, nil
}

// Orchestrator implements tools.ProjectAccessor.
func (h *Host) Orchestrator(project string) (*research.Orchestrator, error) {
	h.mu.Lock()
	if o, ok := h.orchestrators[project]; ok {
		h.mu.Unlock()
		return o, nil
	}
	h.mu.Unlock()

	f, err := h.Fetcher(project)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.orchestrators[project]; ok {
		return o, nil
	}
	o := research.NewOrchestrator(research.NewStaticResolver(), f)
	h.orchestrators[project] = o
	return o, nil
}

// storeLocked is Store's body without re-acquiring h.mu, for callers that
// already hold it.
func (h *Host) storeLocked(project string) (*knowledge.Store, error) {
	if s, ok := h.stores[project]; ok {
		return s, nil
	}
	dir := filepath.Join(h.dataDir, "knowledge")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, kerrors.NewDatabaseError("cannot create knowledge directory", err.Error(), "check permissions on the data directory", err)
	}
	path := filepath.Join(dir, project+".db")
	store, err := knowledge.Open(path, h.embedder, h.subModel, h.cfg.Knowledge.DefaultContextOnly)
	if err != nil {
		return nil, kerrors.NewDatabaseError("cannot open knowledge store", err.Error(), "check the knowledge directory is writable", err)
	}
	h.stores[project] = store
	return store, nil
}

// Start brings up the Callback Server; the tool surface is already
// registered by New. The kernel itself is not started here: the first kernel-using tool call
// triggers lazy start, per the lifecycle contract.
func (h *Host) Start(_ context.Context) error {
	h.log.Info("host.start")
	if err := h.callbackSrv.Start(); err != nil {
		return kerrors.NewNetworkError("cannot start callback server", err.Error(), "check the callback.port setting is free", err)
	}
	h.log.Info("host.start.callback_ready", "url", h.callbackSrv.URL())
	return nil
}

// Stop drains the callback server, triggers a final snapshot if the kernel
// was ever started, stops the kernel, and closes every open Knowledge
// Store, in that order, even if an earlier step fails.
func (h *Host) Stop(ctx context.Context) error {
	h.log.Info("host.stop")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.callbackSrv.Shutdown(shutdownCtx); err != nil {
		h.log.Warn("host.stop.callback_failed", "err", err)
	}

	if h.stopSnap != nil {
		h.stopSnap()
	}
	if c := h.kernelMgr.Client(); c != nil {
		if err := h.snapshotter.Save(ctx, c, h.sessionID); err != nil {
			h.log.Warn("host.stop.snapshot_failed", "err", err)
		}
	}

	if err := h.kernelMgr.Stop(ctx); err != nil {
		h.log.Warn("host.stop.kernel_failed", "err", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for project, store := range h.stores {
		if err := store.Close(); err != nil {
			h.log.Warn("host.stop.store_close_failed", "project", project, "err", err)
		}
	}
	return nil
}
