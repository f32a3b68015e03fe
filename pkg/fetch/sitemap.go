// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
)

// urlSet mirrors the minimal subset of the sitemap protocol's XML schema
// this cascade needs: a flat or nested list of <loc> entries. No
// sitemap-specific library appears anywhere in the retrieved example pack,
// so this uses the standard library's encoding/xml directly.
type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []locEntry `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name   `xml:"sitemapindex"`
	Sitemaps []locEntry `xml:"sitemap"`
}

type locEntry struct {
	Loc string `xml:"loc"`
}

// FetchSitemap parses a sitemap URL's nested <loc> entries and enqueues a
// bounded-concurrency fetch of each, returning a summary. A single failed
// URL never aborts the rest of the expansion.
func (f *Fetcher) FetchSitemap(ctx context.Context, sitemapURL string) (*SitemapResult, error) {
	locs, err := f.resolveSitemapLocs(ctx, sitemapURL, 0)
	if err != nil {
		return nil, err
	}

	result := &SitemapResult{Discovered: len(locs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.SitemapConcurrency)

	for _, loc := range locs {
		loc := loc
		g.Go(func() error {
			r := f.Fetch(gctx, loc, false)
			mu.Lock()
			defer mu.Unlock()
			if r.ErrorKind != "" {
				result.Failed++
				result.FailedURLs = append(result.FailedURLs, loc)
			} else {
				result.Fetched++
			}
			return nil // never abort the group on a single failed URL
		})
	}
	_ = g.Wait()

	return result, nil
}

// resolveSitemapLocs fetches and parses a sitemap URL, recursing one level
// into a sitemap index if that's what's returned.
func (f *Fetcher) resolveSitemapLocs(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	body, err := f.fetchRaw(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		locs := make([]string, 0, len(set.URLs))
		for _, u := range set.URLs {
			if u.Loc != "" {
				locs = append(locs, u.Loc)
			}
		}
		return locs, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 && depth == 0 {
		var all []string
		for _, sm := range index.Sitemaps {
			nested, err := f.resolveSitemapLocs(ctx, sm.Loc, depth+1)
			if err != nil {
				continue
			}
			all = append(all, nested...)
		}
		return all, nil
	}

	return nil, kerrors.NewInputError("sitemap contained no recognizable <loc> entries", sitemapURL, "confirm the URL points to a sitemap.xml")
}

func (f *Fetcher) fetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, kerrors.NewNetworkError("failed to fetch sitemap", err.Error(), "check connectivity", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, kerrors.NewNetworkError("sitemap returned a non-2xx status", fmt.Sprintf("status %d", resp.StatusCode), "", nil)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
