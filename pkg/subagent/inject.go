// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"bytes"
	"text/template"
)

// helperTemplates renders one Python source snippet per injected helper, a
// capability contract: the kernel only needs to execute the templated
// calls and round-trip JSON, never to know the host's implementation
// language.
var helperTemplates = map[string]*template.Template{
	"llm_query": template.Must(template.New("llm_query").Parse(`
import json as _kb_json
import urllib.request as _kb_urllib

def llm_query(prompt):
    req = _kb_urllib.Request(
        "{{.CallbackURL}}/llm_query",
        data=_kb_json.dumps({"prompt": prompt}).encode("utf-8"),
        headers={"Content-Type": "application/json"},
        method="POST",
    )
    with _kb_urllib.urlopen(req, timeout={{.TimeoutSeconds}}) as resp:
        return _kb_json.loads(resp.read())["response"]
`)),
	"llm_query_batch": template.Must(template.New("llm_query_batch").Parse(`
import concurrent.futures as _kb_futures

def llm_query_batch(prompts):
    results = [None] * len(prompts)
    with _kb_futures.ThreadPoolExecutor(max_workers={{.MaxWorkers}}) as pool:
        futures = {pool.submit(llm_query, p): i for i, p in enumerate(prompts)}
        for future in _kb_futures.as_completed(futures):
            i = futures[future]
            try:
                results[i] = future.result()
            except Exception as exc:
                results[i] = "error: " + str(exc)
    return results
`)),
	"tool_call": template.Must(template.New("tool_call").Parse(`
import json as _kb_json
import urllib.request as _kb_urllib

def {{.FuncName}}(**kwargs):
    req = _kb_urllib.Request(
        "{{.CallbackURL}}/tool_call",
        data=_kb_json.dumps({"tool": "{{.ToolName}}", "input": kwargs}).encode("utf-8"),
        headers={"Content-Type": "application/json"},
        method="POST",
    )
    with _kb_urllib.urlopen(req, timeout={{.TimeoutSeconds}}) as resp:
        return _kb_json.loads(resp.read())["result"]
`)),
}

// sandboxToolNames are the callable names wrapped as tool_call stubs,
// matching the Callback Server's SANDBOX_TOOLS whitelist.
var sandboxToolNames = []string{"search_knowledge", "ask_knowledge", "fetch_url", "load_file", "apple_search"}

// RenderHelpers renders the full set of helper source snippets to inject
// into the kernel namespace on start or restart.
func RenderHelpers(callbackURL string, timeoutSeconds, maxBatchWorkers int) (string, error) {
	var out bytes.Buffer

	if err := helperTemplates["llm_query"].Execute(&out, map[string]any{
		"CallbackURL":    callbackURL,
		"TimeoutSeconds": timeoutSeconds,
	}); err != nil {
		return "", err
	}
	if err := helperTemplates["llm_query_batch"].Execute(&out, map[string]any{
		"MaxWorkers": maxBatchWorkers,
	}); err != nil {
		return "", err
	}
	for _, tool := range sandboxToolNames {
		if err := helperTemplates["tool_call"].Execute(&out, map[string]any{
			"FuncName":       tool,
			"ToolName":       tool,
			"CallbackURL":    callbackURL,
			"TimeoutSeconds": timeoutSeconds,
		}); err != nil {
			return "", err
		}
	}
	return out.String(), nil
}
