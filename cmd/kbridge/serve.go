// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kraklabs/kbridge/internal/errors"
	"github.com/kraklabs/kbridge/pkg/tools"
)

const (
	serverVersion = "0.1.0"
	serverName    = "kbridge"
)

// bridgeInstructions is sent to the client on initialize, describing the
// tool surface and the overall model of the bridge.
const bridgeInstructions = `kbridge gives you a persistent Python kernel, a per-project knowledge store, and a bounded sub-agent loop.

## Kernel tools
- exec: run Python in the persistent kernel. Variables survive between calls.
- load: read a local file and bind its contents to a kernel variable (credential paths are denied).
- get: read back a kernel variable, optionally projected with a dotted/bracketed query.
- vars: list currently bound kernel variable names.
- reset: wipe kernel state and start a fresh interpreter.
- sub_agent: run a bounded tool-using loop against the main language model for a named task signature.
- usage: report cumulative token and call usage, optionally resetting the counters.

## Knowledge tools
- search: hybrid lexical/vector search over a project's ingested documents.
- ask: answer a question from the knowledge store, either as raw context or a composed answer.
- timeline: list ingested documents in a time range.
- ingest: add a document directly to the knowledge store.

## Fetch tools
- fetch: retrieve a URL through the negotiated-markdown/markdown-proxy/HTML-conversion cascade and ingest it.
- load_dir: ingest local files matching a glob.
- fetch_sitemap: expand and fetch every URL in a sitemap.

## Research tools
- research: run a bounded multi-source research pass over a topic.
- knowledge_status: report document/chunk counts for a project's knowledge store.
- knowledge_clear: delete a project's knowledge store.`

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type capabilities struct {
	Tools map[string]any `json:"tools,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    capabilities `json:"capabilities"`
	ServerInfo      serverInfo   `json:"serverInfo"`
	Instructions    string       `json:"instructions"`
}

type toolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolSchema `json:"tools"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// serveStdio runs the JSON-RPC 2.0 stdio loop, dispatching tools/call
// requests into reg and everything else into a fixed handshake.
func serveStdio(ctx context.Context, reg *tools.Registry) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			ue := errors.NewInputError(
				"invalid JSON-RPC request",
				err.Error(),
				"check the client's request encoding",
			)
			fmt.Fprintf(os.Stderr, "%s\n", ue.Format(false))
			continue
		}

		resp := handleRequest(ctx, reg, req)
		if resp.ID == nil && resp.Result == nil && resp.Error == nil {
			continue
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot encode response: %v\n", err)
			continue
		}
		_, _ = fmt.Fprintf(os.Stdout, "%s\n", respBytes)
	}
}

func handleRequest(ctx context.Context, reg *tools.Registry, req jsonRPCRequest) jsonRPCResponse {
	switch req.Method {
	case "initialize":
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: initializeResult{
				ProtocolVersion: "2024-11-05",
				Capabilities:    capabilities{Tools: map[string]any{"listChanged": false}},
				ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
				Instructions:    bridgeInstructions,
			},
		}

	case "notifications/initialized":
		return jsonRPCResponse{}

	case "tools/list":
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  toolsListResult{Tools: toolSchemas()},
		}

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &rpcError{Code: -32602, Message: "invalid params", Data: err.Error()},
			}
		}
		argsJSON, err := json.Marshal(params.Arguments)
		if err != nil {
			return jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &rpcError{Code: -32602, Message: "invalid arguments", Data: err.Error()},
			}
		}
		result := reg.Dispatch(ctx, params.Name, argsJSON)
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}

	default:
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: -32601, Message: "method not found", Data: req.Method},
		}
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func strProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

// toolSchemas describes the fixed tool surface for tools/list. Kept
// alongside pkg/tools's Registry rather than generated from it, since the
// registry only carries a name-to-Handler map, not per-field schemas.
func toolSchemas() []toolSchema {
	return []toolSchema{
		{
			Name:        "exec",
			Description: "Execute Python code in the persistent kernel. Variables and imports persist across calls.",
			InputSchema: objectSchema(map[string]any{
				"code":    strProp("Python source to execute"),
				"timeout": intProp("Execute timeout in seconds (defaults to the kernel's configured timeout)"),
			}, "code"),
		},
		{
			Name:        "load",
			Description: "Read a local file and bind its contents to a kernel variable as UTF-8 text (base64-encoded in transit; invalid bytes are replaced). Credential and cloud-config paths are refused.",
			InputSchema: objectSchema(map[string]any{
				"path":     strProp("Filesystem path to read"),
				"var_name": strProp("Kernel variable name to assign"),
			}, "path", "var_name"),
		},
		{
			Name:        "get",
			Description: "Read back a kernel variable, optionally projected with a dotted/bracketed query path.",
			InputSchema: objectSchema(map[string]any{
				"name":  strProp("Kernel variable name"),
				"query": strProp("Optional dotted/bracketed projection, e.g. 'result[0].value'"),
			}, "name"),
		},
		{
			Name:        "vars",
			Description: "List the names of variables currently bound in the kernel.",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name:        "reset",
			Description: "Wipe kernel state and start a fresh interpreter.",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name:        "sub_agent",
			Description: "Run a bounded tool-using loop against the main language model for a named task signature.",
			InputSchema: objectSchema(map[string]any{
				"signature": strProp("Registered sub-agent task signature"),
				"inputs":    map[string]any{"type": "object", "description": "Named inputs for the signature"},
				"limits": map[string]any{
					"type":        "object",
					"description": "Optional override of max_iterations, max_llm_calls, max_output_chars",
				},
			}, "signature"),
		},
		{
			Name:        "usage",
			Description: "Report cumulative token and call usage, optionally resetting the counters.",
			InputSchema: objectSchema(map[string]any{
				"reset": boolProp("Reset counters after reporting"),
			}),
		},
		{
			Name:        "search",
			Description: "Hybrid lexical/vector search over a project's ingested documents.",
			InputSchema: objectSchema(map[string]any{
				"query":   strProp("Search query"),
				"top_k":   intProp("Maximum results to return (default 10)"),
				"mode":    strProp("Search mode: hybrid, lexical, vector, or keyword"),
				"project": strProp("Project id (default: the configured project)"),
				"thread":  strProp("Restrict to a thread id"),
				"label":   strProp("Restrict to a label"),
			}, "query"),
		},
		{
			Name:        "ask",
			Description: "Answer a question from the knowledge store, either as raw retrieved context or a composed answer from the sub-language-model.",
			InputSchema: objectSchema(map[string]any{
				"question":     strProp("Question to answer"),
				"context_only": boolProp("Return raw retrieved chunks instead of a composed answer"),
				"project":      strProp("Project id (default: the configured project)"),
				"thread":       strProp("Restrict to a thread id"),
			}, "question"),
		},
		{
			Name:        "timeline",
			Description: "List ingested documents within a time range, oldest first.",
			InputSchema: objectSchema(map[string]any{
				"since":   strProp("RFC3339 lower bound (inclusive)"),
				"until":   strProp("RFC3339 upper bound (inclusive)"),
				"project": strProp("Project id (default: the configured project)"),
			}),
		},
		{
			Name:        "ingest",
			Description: "Add a document directly to the knowledge store without fetching it.",
			InputSchema: objectSchema(map[string]any{
				"title":   strProp("Document title"),
				"label":   strProp("Document label"),
				"text":    strProp("Document body"),
				"thread":  strProp("Thread id to group this document under"),
				"project": strProp("Project id (default: the configured project)"),
			}, "title", "text"),
		},
		{
			Name:        "fetch",
			Description: "Retrieve a URL through the negotiated-markdown/markdown-proxy/HTML-conversion cascade, ingest the result, and report the outcome.",
			InputSchema: objectSchema(map[string]any{
				"url":     strProp("URL to fetch"),
				"force":   boolProp("Bypass the freshness cache"),
				"project": strProp("Project id (default: the configured project)"),
			}, "url"),
		},
		{
			Name:        "load_dir",
			Description: "Ingest local files matching a glob pattern.",
			InputSchema: objectSchema(map[string]any{
				"glob":    strProp("Glob pattern relative to the workspace"),
				"project": strProp("Project id (default: the configured project)"),
			}, "glob"),
		},
		{
			Name:        "fetch_sitemap",
			Description: "Expand a sitemap.xml URL and fetch every URL it lists.",
			InputSchema: objectSchema(map[string]any{
				"url":     strProp("Sitemap URL"),
				"project": strProp("Project id (default: the configured project)"),
			}, "url"),
		},
		{
			Name:        "research",
			Description: "Run a bounded multi-source research pass over a topic, fetching and ingesting its sources.",
			InputSchema: objectSchema(map[string]any{
				"topic":     strProp("Research topic or question"),
				"project":   strProp("Project id (default: the configured project)"),
				"seed_urls": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Known URLs to prioritize"},
			}, "topic"),
		},
		{
			Name:        "knowledge_status",
			Description: "Report document and chunk counts for a project's knowledge store.",
			InputSchema: objectSchema(map[string]any{
				"project": strProp("Project id (default: the configured project)"),
			}),
		},
		{
			Name:        "knowledge_clear",
			Description: "Delete a project's knowledge store entirely.",
			InputSchema: objectSchema(map[string]any{
				"project": strProp("Project id (default: the configured project)"),
			}),
		},
	}
}
