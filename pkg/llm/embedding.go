// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Embedder produces dense vectors for text, matching the contract the
// Knowledge Store needs for its vector sub-index. Kept here next to
// Provider since both are sub-language-model concerns configured the same
// way (environment-driven base URL, model name, timeout).
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}

// NewEmbedder creates an Embedder based on provider type.
// Supported types: "ollama", "openai", "mock".
//
// Environment variables:
//   - OLLAMA_HOST: Ollama server URL (default: http://localhost:11434)
//   - OLLAMA_EMBED_MODEL: embedding model name (default: nomic-embed-text)
//   - OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_EMBED_MODEL
func NewEmbedder(providerType string) (Embedder, error) {
	switch strings.ToLower(providerType) {
	case "ollama", "local", "":
		baseURL := os.Getenv("OLLAMA_HOST")
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := os.Getenv("OLLAMA_EMBED_MODEL")
		if model == "" {
			model = "nomic-embed-text"
		}
		return &ollamaEmbedder{baseURL: baseURL, model: model, httpClient: &http.Client{Timeout: 120 * time.Second}}, nil

	case "openai", "openai-compatible":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embedder")
		}
		baseURL := os.Getenv("OPENAI_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := os.Getenv("OPENAI_EMBED_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
		return &openaiEmbedder{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: &http.Client{Timeout: 60 * time.Second}}, nil

	case "mock":
		return &mockEmbedder{dimensions: 256}, nil

	default:
		return nil, fmt.Errorf("unknown embedder type: %s (supported: ollama, openai, mock)", providerType)
	}
}

type ollamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func (o *ollamaEmbedder) Dimensions() int { return 768 }

func (o *ollamaEmbedder) Embed(text string) ([]float32, error) {
	prompt := text
	if strings.Contains(strings.ToLower(o.model), "nomic") {
		prompt = "search_document: " + text
	}

	body, err := json.Marshal(map[string]string{"model": o.model, "prompt": prompt})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request (is Ollama running at %s?): %w", o.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed error (status %d): %s", resp.StatusCode, string(data))
	}

	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return normalize(toFloat32(out.Embedding)), nil
}

type openaiEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func (o *openaiEmbedder) Dimensions() int { return 1536 }

func (o *openaiEmbedder) Embed(text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"input": text, "model": o.model, "encoding_format": "float"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai embed error (status %d): %s", resp.StatusCode, string(data))
	}

	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned an empty embedding")
	}
	return normalize(toFloat32(out.Data[0].Embedding)), nil
}

// mockEmbedder produces deterministic, non-semantic embeddings for tests
// and the default offline configuration.
type mockEmbedder struct {
	dimensions int
}

func (m *mockEmbedder) Dimensions() int { return m.dimensions }

func (m *mockEmbedder) Embed(text string) ([]float32, error) {
	var hash uint64 = 5381
	for _, c := range text {
		hash = ((hash << 5) + hash) + uint64(c)
	}
	out := make([]float32, m.dimensions)
	for i := range out {
		v := float32((hash+uint64(i)*7919)%10000) / 10000.0
		out[i] = v*2 - 1
	}
	return normalize(out), nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
