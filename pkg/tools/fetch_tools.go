// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"

	kerrors "github.com/kraklabs/kbridge/internal/errors"
)

func registerFetchTools(reg *Registry, deps *Deps) {
	reg.Register("fetch", handleFetch(deps))
	reg.Register("load_dir", handleLoadDir(deps))
	reg.Register("fetch_sitemap", handleFetchSitemap(deps))
}

type fetchArgs struct {
	URL     string `json:"url"`
	Force   bool   `json:"force"`
	Project string `json:"project"`
}

func handleFetch(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args fetchArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.URL == "" {
			return nil, kerrors.NewInputError("fetch requires url", "url was empty", "pass a non-empty url")
		}
		fetcher, err := deps.Projects.Fetcher(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		// Fetch never raises by contract; its Result already carries
		// {error_kind, message} on failure, so it is returned as a
		// success payload rather than a Go error.
		return fetcher.Fetch(ctx, args.URL, args.Force), nil
	}
}

type loadDirArgs struct {
	Glob    string `json:"glob"`
	Project string `json:"project"`
}

func handleLoadDir(deps *Deps) Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var args loadDirArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.Glob == "" {
			return nil, kerrors.NewInputError("load_dir requires glob", "glob was empty", "pass a non-empty glob pattern")
		}
		fetcher, err := deps.Projects.Fetcher(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		return fetcher.LoadDir(args.Glob)
	}
}

type fetchSitemapArgs struct {
	URL     string `json:"url"`
	Project string `json:"project"`
}

func handleFetchSitemap(deps *Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args fetchSitemapArgs
		if err := decode(raw, &args); err != nil {
			return nil, err
		}
		if args.URL == "" {
			return nil, kerrors.NewInputError("fetch_sitemap requires url", "url was empty", "pass a non-empty sitemap url")
		}
		fetcher, err := deps.Projects.Fetcher(deps.projectOrDefault(args.Project))
		if err != nil {
			return nil, err
		}
		return fetcher.FetchSitemap(ctx, args.URL)
	}
}
