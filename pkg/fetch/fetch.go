// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package fetch implements the three-tier markdown acquisition cascade:
// content negotiation, a proxy fallback, and local HTML-to-markdown
// conversion, with a raw-file cache, freshness checks, and a blocklist
// applied ahead of every outbound request.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/knowledge"
)

// MarkdownSource names which cascade tier produced a document's markdown.
type MarkdownSource string

const (
	SourceNegotiated MarkdownSource = "negotiated"
	SourceProxy      MarkdownSource = "markdown_new"
	SourceHTML2Text  MarkdownSource = "html2text"
)

// Meta is the sidecar JSON written next to every cached raw document.
type Meta struct {
	URL             string         `json:"url"`
	FetchedAt       time.Time      `json:"fetched_at"`
	ContentHash     string         `json:"content_hash"`
	SizeBytes       int            `json:"size_bytes"`
	MarkdownSource  MarkdownSource `json:"markdown_source"`
	MarkdownTokens  int            `json:"markdown_tokens,omitempty"`
}

// Result is the outcome of a single fetch() call.
type Result struct {
	URL            string         `json:"url"`
	FromCache      bool           `json:"from_cache"`
	MarkdownSource MarkdownSource `json:"markdown_source,omitempty"`
	Bytes          int            `json:"bytes,omitempty"`
	IndexedChunks  int            `json:"indexed_chunks,omitempty"`
	ErrorKind      kerrors.Kind   `json:"error_kind,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// SitemapResult summarizes a bounded-concurrency sitemap expansion.
type SitemapResult struct {
	Discovered int      `json:"discovered"`
	Fetched    int      `json:"fetched"`
	Failed     int      `json:"failed"`
	FailedURLs []string `json:"failed_urls,omitempty"`
}

// Config parameterizes a Fetcher.
type Config struct {
	ProxyBaseURL       string
	Freshness          time.Duration
	BlockedHosts       []string
	SitemapConcurrency int
	CacheRoot          string // <project>/docs
}

// Fetcher drives the three-tier cascade and dual storage into a Knowledge
// Store, the way the teacher's own HTTP-backed clients share one
// *http.Client across calls.
type Fetcher struct {
	http      *http.Client
	store     *knowledge.Store
	blocklist *Blocklist
	cfg       Config
	log       *slog.Logger
}

// NewFetcher constructs a Fetcher bound to one project's cache root and
// Knowledge Store.
func NewFetcher(cfg Config, store *knowledge.Store, log *slog.Logger) *Fetcher {
	if cfg.Freshness <= 0 {
		cfg.Freshness = 7 * 24 * time.Hour
	}
	if cfg.SitemapConcurrency <= 0 {
		cfg.SitemapConcurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		http:      &http.Client{Timeout: 30 * time.Second},
		store:     store,
		blocklist: NewBlocklist(cfg.BlockedHosts),
		cfg:       cfg,
		log:       log,
	}
}

// Fetch converts a URL to markdown, caches it, and ingests it into the
// Knowledge Store, honoring freshness unless force is set. It never raises:
// every failure path is reported in the returned Result's ErrorKind.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, force bool) Result {
	host, err := hostOf(rawURL)
	if err != nil {
		return Result{URL: rawURL, ErrorKind: kerrors.KindValidation, Message: "invalid URL"}
	}
	if f.blocklist.Blocked(host) {
		f.log.Warn("fetch.blocked", "url", rawURL, "host", host)
		return Result{URL: rawURL, ErrorKind: kerrors.KindBlocked, Message: fmt.Sprintf("%s is blocklisted", host)}
	}

	cachePath := f.cachePathFor(rawURL)
	if !force {
		if meta, ok := f.readCacheMeta(cachePath); ok && time.Since(meta.FetchedAt) < f.cfg.Freshness {
			return Result{URL: rawURL, FromCache: true}
		}
	}

	body, source, tokens, err := f.runCascade(ctx, rawURL)
	if err != nil {
		return resultFromError(rawURL, err)
	}

	hash := sha256.Sum256(body)
	meta := Meta{
		URL:            rawURL,
		FetchedAt:      time.Now(),
		ContentHash:    hex.EncodeToString(hash[:]),
		SizeBytes:      len(body),
		MarkdownSource: source,
		MarkdownTokens: tokens,
	}
	if err := f.writeCache(cachePath, body, meta); err != nil {
		return Result{URL: rawURL, ErrorKind: kerrors.KindInternal, Message: "failed to cache fetched document"}
	}

	label := deriveLabel(host)
	ingestResult, err := f.store.Ingest(knowledge.IngestOptions{
		Title: rawURL,
		Label: label,
		Text:  string(body),
	})
	if err != nil {
		f.log.Error("fetch.ingest.failed", "url", rawURL, "err", err)
		return Result{URL: rawURL, MarkdownSource: source, Bytes: len(body), ErrorKind: kerrors.KindStorage, Message: "fetched but failed to index"}
	}

	return Result{URL: rawURL, MarkdownSource: source, Bytes: len(body), IndexedChunks: ingestResult.Chunks}
}

// runCascade tries negotiated, proxy, then local HTML conversion in order,
// stopping at the first response whose body is plausibly markdown.
func (f *Fetcher) runCascade(ctx context.Context, rawURL string) ([]byte, MarkdownSource, int, error) {
	if body, tokens, err := f.tryNegotiated(ctx, rawURL); err == nil {
		return body, SourceNegotiated, tokens, nil
	}

	if f.cfg.ProxyBaseURL != "" {
		if body, tokens, err := f.tryProxy(ctx, rawURL); err == nil {
			return body, SourceProxy, tokens, nil
		}
	}

	body, err := f.tryHTMLConversion(ctx, rawURL)
	if err != nil {
		return nil, "", 0, err
	}
	return body, SourceHTML2Text, 0, nil
}

func (f *Fetcher) tryNegotiated(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "text/markdown")
	return f.doAndValidate(req)
}

func (f *Fetcher) tryProxy(ctx context.Context, rawURL string) ([]byte, int, error) {
	proxied := strings.TrimRight(f.cfg.ProxyBaseURL, "/") + "/" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxied, nil)
	if err != nil {
		return nil, 0, err
	}
	return f.doAndValidate(req)
}

func (f *Fetcher) doAndValidate(req *http.Request) ([]byte, int, error) {
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, 0, kerrors.NewNetworkError("fetch request failed", err.Error(), "check connectivity or try with force", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, kerrors.NewNetworkError("fetch returned a non-2xx status", fmt.Sprintf("status %d", resp.StatusCode), "the source may be unavailable", nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, 0, kerrors.NewNetworkError("failed reading fetch response", err.Error(), "", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/markdown") && !looksLikeMarkdown(body) {
		return nil, 0, kerrors.NewUnavailableError("response did not look like markdown", contentType, "falling through to the next cascade tier", nil)
	}

	tokens := 0
	if h := resp.Header.Get("x-markdown-tokens"); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			tokens = n
		}
	}
	return body, tokens, nil
}

func (f *Fetcher) tryHTMLConversion(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, kerrors.NewNetworkError("fetch request failed", err.Error(), "check connectivity", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, kerrors.NewNetworkError("fetch returned a non-2xx status", fmt.Sprintf("status %d", resp.StatusCode), "the source may be unavailable", nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, kerrors.NewNetworkError("failed reading fetch response", err.Error(), "", err)
	}

	md, err := HTMLToMarkdown(body)
	if err != nil {
		return nil, kerrors.NewUnavailableError("failed to convert HTML to markdown", err.Error(), "", err)
	}
	return []byte(md), nil
}

// looksLikeMarkdown applies the minimal markdown heuristic: presence of
// headings, list markers, or fenced code, above a minimum size.
func looksLikeMarkdown(body []byte) bool {
	if len(body) < 64 {
		return false
	}
	s := string(body)
	hasHeading := strings.Contains(s, "\n#") || strings.HasPrefix(s, "#")
	hasList := strings.Contains(s, "\n- ") || strings.Contains(s, "\n* ")
	hasFence := strings.Contains(s, "```")
	return hasHeading || hasList || hasFence
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}
	return u.Hostname(), nil
}

// deriveLabel strips common subdomain prefixes to produce a library-like
// label from a hostname, e.g. "docs.example.com" -> "example".
func deriveLabel(host string) string {
	h := strings.TrimPrefix(strings.TrimPrefix(host, "www."), "docs.")
	parts := strings.Split(h, ".")
	if len(parts) == 0 {
		return h
	}
	return parts[0]
}

func (f *Fetcher) cachePathFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	name := hex.EncodeToString(sum[:16])
	u, _ := url.Parse(rawURL)
	dir := "misc"
	if u != nil && u.Hostname() != "" {
		dir = u.Hostname()
	}
	return filepath.Join(f.cfg.CacheRoot, dir, name+".md")
}

func (f *Fetcher) readCacheMeta(cachePath string) (Meta, bool) {
	data, err := os.ReadFile(cachePath + ".json")
	if err != nil {
		return Meta{}, false
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, false
	}
	return meta, true
}

// writeCache atomically writes the raw markdown and its sidecar metadata,
// following the teacher's write-temp-then-rename convention.
func (f *Fetcher) writeCache(cachePath string, body []byte, meta Meta) error {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0750); err != nil {
		return err
	}
	if err := atomicWrite(cachePath, body); err != nil {
		return err
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(cachePath+".json", metaJSON)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func resultFromError(rawURL string, err error) Result {
	tr := kerrors.AsToolResult(err)
	return Result{URL: rawURL, ErrorKind: tr.ErrorKind, Message: tr.Message}
}
