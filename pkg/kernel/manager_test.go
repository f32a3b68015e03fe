// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTierLabel(t *testing.T) {
	cases := map[Tier]string{
		TierBare:      "bare",
		TierContainer: "container",
		TierNested:    "nested",
		Tier(99):      "unknown",
	}
	for tier, want := range cases {
		if got := tierLabel(tier); got != want {
			t.Fatalf("tierLabel(%d) = %q, want %q", tier, got, want)
		}
	}
}

func TestEnsureStartedWithKernelURLBypassesProcessManagement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var injected bool
	injector := func(_ context.Context, _ *Client) error {
		injected = true
		return nil
	}

	m := NewManager(ManagerConfig{
		KernelURL:      srv.URL,
		RequestTimeout: 5 * time.Second,
		ExecuteTimeout: time.Second,
		HealthInterval: time.Hour,
	}, nil, injector, nil)

	client, err := m.EnsureStarted(context.Background())
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if client == nil {
		t.Fatalf("expected a non-nil client")
	}
	if client.BaseURL != srv.URL {
		t.Fatalf("expected the client to target the overriding KernelURL, got %s", client.BaseURL)
	}
	if !injected {
		t.Fatalf("expected the injector to run after a successful start")
	}
	if m.Client() != client {
		t.Fatalf("expected Client() to return the same client EnsureStarted returned")
	}

	_ = m.Stop(context.Background())
}

func TestEnsureStartedIsOnceOnlyAcrossConcurrentCallers(t *testing.T) {
	var starts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		starts++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	m := NewManager(ManagerConfig{
		KernelURL:      srv.URL,
		RequestTimeout: 5 * time.Second,
		ExecuteTimeout: time.Second,
		HealthInterval: time.Hour,
	}, nil, nil, nil)

	const n = 5
	results := make(chan *Client, n)
	for i := 0; i < n; i++ {
		go func() {
			c, err := m.EnsureStarted(context.Background())
			if err != nil {
				t.Errorf("EnsureStarted: %v", err)
			}
			results <- c
		}()
	}

	var first *Client
	for i := 0; i < n; i++ {
		c := <-results
		if first == nil {
			first = c
		} else if c != first {
			t.Fatalf("expected every concurrent caller to observe the same client instance")
		}
	}

	_ = m.Stop(context.Background())
}
