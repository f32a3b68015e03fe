// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/kbridge/pkg/knowledge"
)

func openTestStore(t *testing.T) *knowledge.Store {
	t.Helper()
	s, err := knowledge.Open(filepath.Join(t.TempDir(), "project.db"), nil, nil, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBlocklistMatchesSuffixAfterStrippingKnownPrefixes(t *testing.T) {
	bl := NewBlocklist([]string{"evil.example.com"})

	cases := map[string]bool{
		"evil.example.com":      true,
		"www.evil.example.com":  true,
		"docs.evil.example.com": true,
		"sub.evil.example.com":  true,
		"notevil.example.com":   false,
		"example.com":           false,
	}
	for host, want := range cases {
		if got := bl.Blocked(host); got != want {
			t.Fatalf("Blocked(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestLooksLikeMarkdownHeuristic(t *testing.T) {
	short := []byte("# hi")
	if looksLikeMarkdown(short) {
		t.Fatalf("expected a short body to fail the minimum-size check")
	}

	noMarkers := []byte(fmt.Sprintf("%200s", "plain text with no markdown markers at all padded out"))
	if looksLikeMarkdown(noMarkers) {
		t.Fatalf("expected text without headings, lists, or fences to fail")
	}

	withHeading := []byte("# Title\n\nSome long enough paragraph content to pass the size floor here.")
	if !looksLikeMarkdown(withHeading) {
		t.Fatalf("expected a heading-containing body to pass")
	}
}

func TestDeriveLabelStripsSubdomainPrefixes(t *testing.T) {
	cases := map[string]string{
		"docs.example.com": "example",
		"www.example.com":  "example",
		"example.com":      "example",
	}
	for host, want := range cases {
		if got := deriveLabel(host); got != want {
			t.Fatalf("deriveLabel(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestFetchBlockedHostNeverReachesNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hostname, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}

	store := openTestStore(t)
	f := NewFetcher(Config{CacheRoot: t.TempDir(), BlockedHosts: []string{hostname.Hostname()}}, store, nil)

	res := f.Fetch(context.Background(), srv.URL+"/doc", false)
	if res.ErrorKind == "" {
		t.Fatalf("expected a blocked fetch to report an error kind")
	}
	if called {
		t.Fatalf("expected the blocklist to short-circuit before any network call")
	}
}

func TestFetchNegotiatedTierIngestsMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Heading\n\nSome body content long enough to pass the markdown heuristic check."))
	}))
	defer srv.Close()

	store := openTestStore(t)
	f := NewFetcher(Config{CacheRoot: t.TempDir()}, store, nil)

	res := f.Fetch(context.Background(), srv.URL+"/doc", false)
	if res.ErrorKind != "" {
		t.Fatalf("expected success, got error kind %s: %s", res.ErrorKind, res.Message)
	}
	if res.MarkdownSource != SourceNegotiated {
		t.Fatalf("expected the negotiated tier to have served the document, got %s", res.MarkdownSource)
	}
	if res.IndexedChunks == 0 {
		t.Fatalf("expected the fetched document to be ingested into the knowledge store")
	}
}

func TestFetchFreshnessCacheSkipsNetworkOnSecondCall(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Heading\n\nBody content long enough to pass the markdown heuristic check here."))
	}))
	defer srv.Close()

	store := openTestStore(t)
	f := NewFetcher(Config{CacheRoot: t.TempDir(), Freshness: time.Hour}, store, nil)

	first := f.Fetch(context.Background(), srv.URL+"/doc", false)
	if first.ErrorKind != "" {
		t.Fatalf("expected first fetch to succeed: %s", first.Message)
	}

	second := f.Fetch(context.Background(), srv.URL+"/doc", false)
	if !second.FromCache {
		t.Fatalf("expected the second fetch within the freshness window to be served from cache")
	}
	if hits != 1 {
		t.Fatalf("expected exactly 1 network call, got %d", hits)
	}
}

func TestFetchForceBypassesFreshnessCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Heading\n\nBody content long enough to pass the markdown heuristic check here."))
	}))
	defer srv.Close()

	store := openTestStore(t)
	f := NewFetcher(Config{CacheRoot: t.TempDir(), Freshness: time.Hour}, store, nil)

	_ = f.Fetch(context.Background(), srv.URL+"/doc", false)
	second := f.Fetch(context.Background(), srv.URL+"/doc", true)
	if second.FromCache {
		t.Fatalf("expected force=true to bypass the freshness cache")
	}
	if hits != 2 {
		t.Fatalf("expected force to trigger a second network call, got %d hits", hits)
	}
}

func TestFetchSitemapSingleFailureDoesNotAbortTheRest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/good1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Good One\n\nEnough body content to satisfy the markdown heuristic here."))
	})
	mux.HandleFunc("/good2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Good Two\n\nEnough body content to satisfy the markdown heuristic here."))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openTestStore(t)
	f := NewFetcher(Config{CacheRoot: t.TempDir()}, store, nil)

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		body := fmt.Sprintf(`<?xml version="1.0"?><urlset>
			<url><loc>%s/good1</loc></url>
			<url><loc>%s/missing</loc></url>
			<url><loc>%s/good2</loc></url>
		</urlset>`, srv.URL, srv.URL, srv.URL)
		_, _ = w.Write([]byte(body))
	})

	result, err := f.FetchSitemap(context.Background(), srv.URL+"/sitemap.xml")
	if err != nil {
		t.Fatalf("FetchSitemap: %v", err)
	}
	if result.Discovered != 3 {
		t.Fatalf("expected 3 discovered URLs, got %d", result.Discovered)
	}
	if result.Fetched != 2 {
		t.Fatalf("expected 2 successful fetches despite one failure, got %d", result.Fetched)
	}
	if result.Failed != 1 {
		t.Fatalf("expected exactly 1 failed URL, got %d", result.Failed)
	}
}

func TestFetchSitemapRecursesOneLevelIntoSitemapIndex(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		body := fmt.Sprintf(`<?xml version="1.0"?><sitemapindex>
			<sitemap><loc>%s/child.xml</loc></sitemap>
		</sitemapindex>`, srv.URL)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/child.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		body := fmt.Sprintf(`<?xml version="1.0"?><urlset>
			<url><loc>%s/page</loc></url>
		</urlset>`, srv.URL)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Page\n\nEnough content to satisfy the markdown heuristic check here."))
	})

	store := openTestStore(t)
	f := NewFetcher(Config{CacheRoot: t.TempDir()}, store, nil)

	result, err := f.FetchSitemap(context.Background(), srv.URL+"/index.xml")
	if err != nil {
		t.Fatalf("FetchSitemap: %v", err)
	}
	if result.Discovered != 1 || result.Fetched != 1 {
		t.Fatalf("expected the nested sitemap's single page to be discovered and fetched, got %+v", result)
	}
}
