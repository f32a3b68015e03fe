// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package callback

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsCallback holds Prometheus metrics for the loopback server,
// mirroring the teacher's per-subsystem counter-struct pattern.
type metricsCallback struct {
	once sync.Once

	llmQueries     prometheus.Counter
	llmInputTokens prometheus.Counter
	llmOutputTokens prometheus.Counter
	toolCalls      *prometheus.CounterVec
	toolDenied     *prometheus.CounterVec
}

var cbMetrics metricsCallback

func (m *metricsCallback) init() {
	m.once.Do(func() {
		m.llmQueries = prometheus.NewCounter(prometheus.CounterOpts{Name: "kbridge_cb_llm_queries_total", Help: "llm_query calls served"})
		m.llmInputTokens = prometheus.NewCounter(prometheus.CounterOpts{Name: "kbridge_cb_llm_input_tokens_total", Help: "Cumulative input tokens reported by the sub-model"})
		m.llmOutputTokens = prometheus.NewCounter(prometheus.CounterOpts{Name: "kbridge_cb_llm_output_tokens_total", Help: "Cumulative output tokens reported by the sub-model"})
		m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kbridge_cb_tool_calls_total", Help: "tool_call dispatches by tool name"}, []string{"tool"})
		m.toolDenied = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kbridge_cb_tool_denied_total", Help: "tool_call requests rejected as not whitelisted"}, []string{"tool"})

		prometheus.MustRegister(m.llmQueries, m.llmInputTokens, m.llmOutputTokens, m.toolCalls, m.toolDenied)
	})
}
