// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves the per-project kbridge configuration file
// (.kbridge/project.yaml), with environment variable overrides for secrets
// and deployment-specific values that should never be written to disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// KernelConfig configures the Kernel Manager's isolation tier and endpoints.
type KernelConfig struct {
	// Tier requested at startup: 1 (bare subprocess sandbox), 2 (container), or 3.
	Tier int `yaml:"tier"`

	// URL is the kernel's own HTTP endpoint, when not managed by this process
	// (e.g. --kernel-url was passed).
	URL string `yaml:"url,omitempty"`

	// NoContainer forces Tier 1 even if a container runtime is available.
	NoContainer bool `yaml:"no_container,omitempty"`

	// Image is the container image used for Tier 2.
	Image string `yaml:"image,omitempty"`

	// HealthIntervalSeconds is the period between health checks.
	HealthIntervalSeconds int `yaml:"health_interval_seconds"`

	// RequestTimeoutSeconds bounds a single HTTP call to the kernel. Must stay
	// strictly greater than ExecuteTimeoutSeconds.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// ExecuteTimeoutSeconds is the timeout passed to the kernel for /exec.
	ExecuteTimeoutSeconds int `yaml:"execute_timeout_seconds"`
}

// SnapshotConfig configures the Session Snapshotter.
type SnapshotConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// KnowledgeConfig configures the per-project Knowledge Store.
type KnowledgeConfig struct {
	// Dir is the directory holding per-project index files and raw doc caches.
	Dir string `yaml:"dir"`

	// DefaultContextOnly decides ask()'s default mode when the caller omits
	// context_only: true returns raw retrieved chunks, false composes a
	// retrieval-augmented answer via the sub-language-model.
	DefaultContextOnly bool `yaml:"default_context_only"`

	// ChunkTargetBytes is the target chunk size before a document is split.
	ChunkTargetBytes int `yaml:"chunk_target_bytes"`
}

// FetchConfig configures the Fetcher's cascade and freshness policy.
type FetchConfig struct {
	// ProxyBaseURL is the known HTML-to-markdown proxy's base URL.
	ProxyBaseURL string `yaml:"proxy_base_url"`

	// FreshnessDays is how long a cached raw file is trusted without refetch.
	FreshnessDays int `yaml:"freshness_days"`

	// BlockedHosts is the set of host suffixes refused outright. May be
	// extended (not replaced) by the KBRIDGE_BLOCKED_HOSTS environment
	// variable, a comma-separated list.
	BlockedHosts []string `yaml:"blocked_hosts"`

	// SitemapConcurrency bounds concurrent fetches during sitemap expansion.
	SitemapConcurrency int `yaml:"sitemap_concurrency"`
}

// CallbackConfig configures the loopback Callback Server.
type CallbackConfig struct {
	// Port is the loopback TCP port. 0 selects an ephemeral port.
	Port int `yaml:"port"`

	// ContainerHostname is the host-from-container name Tier 2 kernels use to
	// reach the callback server (e.g. "host.docker.internal").
	ContainerHostname string `yaml:"container_hostname"`
}

// LLMConfig configures the sub-language-model used by ask() and llm_query.
//
// APIKey is intentionally absent: per the external interface contract, the
// main-model credential is read from the environment and never written to
// any artifact.
type LLMConfig struct {
	Provider     string `yaml:"provider"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"`
	MaxTokens    int    `yaml:"max_tokens,omitempty"`
	MaxRetries   int    `yaml:"max_retries,omitempty"`
	TimeoutSecs  int    `yaml:"timeout_seconds,omitempty"`
}

// SubAgentConfig configures default Sub-Agent Runner limits.
type SubAgentConfig struct {
	MaxIterations  int `yaml:"max_iterations"`
	MaxLLMCalls    int `yaml:"max_llm_calls"`
	MaxOutputChars int `yaml:"max_output_chars"`
}

// Config is the full project configuration persisted at .kbridge/project.yaml.
type Config struct {
	ProjectID string          `yaml:"project_id"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Callback  CallbackConfig  `yaml:"callback"`
	LLM       LLMConfig       `yaml:"llm"`
	SubAgent  SubAgentConfig  `yaml:"sub_agent"`
}

// DefaultConfig returns a Config with the reference defaults from the
// component design, scoped to projectID.
func DefaultConfig(projectID string) *Config {
	return &Config{
		ProjectID: projectID,
		Kernel: KernelConfig{
			Tier:                  1,
			Image:                 "kbridge/kernel:latest",
			HealthIntervalSeconds: 10,
			RequestTimeoutSeconds: 90,
			ExecuteTimeoutSeconds: 60,
		},
		Snapshot: SnapshotConfig{
			IntervalSeconds: 300,
		},
		Knowledge: KnowledgeConfig{
			Dir:                 filepath.Join("knowledge"),
			DefaultContextOnly:  true,
			ChunkTargetBytes:    3072,
		},
		Fetch: FetchConfig{
			ProxyBaseURL:       "https://r.jina.ai",
			FreshnessDays:      7,
			BlockedHosts:       []string{"pinterest.com", "quora.com", "scribd.com"},
			SitemapConcurrency: 4,
		},
		Callback: CallbackConfig{
			Port:              0,
			ContainerHostname: "host.docker.internal",
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama3.1",
			MaxTokens:   2000,
			MaxRetries:  3,
			TimeoutSecs: 120,
		},
		SubAgent: SubAgentConfig{
			MaxIterations:  20,
			MaxLLMCalls:    50,
			MaxOutputChars: 10000,
		},
	}
}

// ConfigDir returns the .kbridge directory under the given project root.
func ConfigDir(root string) string {
	return filepath.Join(root, ".kbridge")
}

// ConfigPath returns the project.yaml path under the given project root.
func ConfigPath(root string) string {
	return filepath.Join(ConfigDir(root), "project.yaml")
}

// Load reads and parses a Config from path, then applies environment
// overrides via ApplyEnv.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()
	return &cfg, nil
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment-variable overrides onto cfg. These are the
// only values the external interface contract allows to bypass the config
// file: the kernel URL (for --kernel-url-equivalent automation), the
// blocked-domain list extension, and the callback server port. The main-model credential is read directly
// by the llm package from its own provider-specific environment variable and
// is never staged through Config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("KBRIDGE_KERNEL_URL"); v != "" {
		c.Kernel.URL = v
	}
	if v := os.Getenv("KBRIDGE_BLOCKED_HOSTS"); v != "" {
		c.Fetch.BlockedHosts = append(c.Fetch.BlockedHosts, splitAndTrim(v)...)
	}
	if v := os.Getenv("KBRIDGE_CALLBACK_PORT"); v != "" {
		if p, err := parsePositiveInt(v); err == nil {
			c.Callback.Port = p
		}
	}
}

// RequestTimeout returns the kernel HTTP request timeout as a duration.
func (c *KernelConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ExecuteTimeout returns the kernel execute timeout as a duration.
func (c *KernelConfig) ExecuteTimeout() time.Duration {
	return time.Duration(c.ExecuteTimeoutSeconds) * time.Second
}

// Freshness returns the fetch cache freshness window as a duration.
func (c *FetchConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessDays) * 24 * time.Hour
}

func splitAndTrim(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := trimSpace(s[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a digit: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
