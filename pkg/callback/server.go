// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package callback implements the loopback HTTP server the kernel calls
// back into: llm_query forwarding to the configured sub-language-model,
// and tool_call dispatch through a whitelisted, read-only tool registry.
package callback

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/kbridge/pkg/llm"
)

// State is the Callback Server's lifecycle state.
type State string

const (
	StateStarted  State = "started"
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// ToolHandler implements one entry of the SANDBOX_TOOLS whitelist: a
// read-only, idempotent operation reachable from inside the kernel.
type ToolHandler func(ctx context.Context, input map[string]any) (any, error)

// Server is an echo-based HTTP server bound to loopback, reachable by the
// kernel at a stable URL (loopback port for Tier 1, a host-from-container
// hostname for Tier 2), grounded on the teacher's use of echo as its HTTP
// framework for every inbound surface.
type Server struct {
	echo      *echo.Echo
	model     llm.Provider
	ledger    *Ledger
	tools     map[string]ToolHandler
	log       *slog.Logger
	addr      string
	listener  net.Listener
	mu        sync.Mutex
	state     State
}

// NewServer constructs a Server bound to addr (host:port). tools is the
// SANDBOX_TOOLS registry; entries not present here are rejected with a
// 4xx, which is also how mutating tools (execute, reset, sub_agent,
// ingest) stay unreachable — they are simply never registered.
func NewServer(addr string, model llm.Provider, tools map[string]ToolHandler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		model:  model,
		ledger: NewLedger(),
		tools:  tools,
		log:    log,
		addr:   addr,
		state:  StateStarted,
	}

	e.POST("/llm_query", s.handleLLMQuery)
	e.POST("/tool_call", s.handleToolCall)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// URL returns the loopback URL the kernel should be given, valid only
// after Start has bound a listener.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.echo.Listener = ln

	s.mu.Lock()
	s.listener = ln
	s.state = StateReady
	s.mu.Unlock()

	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.log.Error("callback.server.serve_failed", "err", err)
		}
	}()
	s.log.Info("callback.server.started", "addr", ln.Addr().String())
	return nil
}

// Shutdown drains in-flight requests and stops accepting new ones, the way
// echo's graceful Shutdown is documented to behave.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateDraining
	s.mu.Unlock()

	err := s.echo.Shutdown(ctx)

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return err
}

// Ledger exposes the usage ledger for the usage() tool and the Sub-Agent
// Runner's pre/post-run diffing.
func (s *Server) Ledger() *Ledger {
	return s.ledger
}

type llmQueryRequest struct {
	Prompt string `json:"prompt"`
}

type llmQueryUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type llmQueryResponse struct {
	Response string        `json:"response"`
	Usage    llmQueryUsage `json:"usage"`
}

func (s *Server) handleLLMQuery(c echo.Context) error {
	if s.draining() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server is draining"})
	}

	var req llmQueryRequest
	if err := c.Bind(&req); err != nil || req.Prompt == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	resp, err := s.model.Generate(ctx, llm.GenerateRequest{Prompt: req.Prompt})
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	s.ledger.Record(resp.Model, resp.PromptTokens, resp.OutputTokens)
	return c.JSON(http.StatusOK, llmQueryResponse{
		Response: resp.Text,
		Usage:    llmQueryUsage{InputTokens: resp.PromptTokens, OutputTokens: resp.OutputTokens},
	})
}

type toolCallRequest struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

type toolCallResponse struct {
	Result any `json:"result"`
}

func (s *Server) handleToolCall(c echo.Context) error {
	if s.draining() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server is draining"})
	}

	var req toolCallRequest
	if err := c.Bind(&req); err != nil || req.Tool == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tool is required"})
	}

	handler, ok := s.tools[req.Tool]
	if !ok {
		cbMetrics.init()
		cbMetrics.toolDenied.WithLabelValues(req.Tool).Inc()
		return c.JSON(http.StatusForbidden, map[string]string{"error": "tool not in SANDBOX_TOOLS whitelist: " + req.Tool})
	}

	cbMetrics.init()
	cbMetrics.toolCalls.WithLabelValues(req.Tool).Inc()

	result, err := handler(c.Request().Context(), req.Input)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, toolCallResponse{Result: result})
}

func (s *Server) draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDraining || s.state == StateStopped
}
