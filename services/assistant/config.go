// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the assistant service.
//
// # Description
//
// Config is populated from an optional YAML file and then from environment
// variables (see LoadConfig). Zero values are replaced by applyConfigDefaults
// when the service is built.
//
// # Fields
//
//   - Port: HTTP listen port (default: 12310)
//   - LLMBackend: "openai" or "ollama" (default: "ollama")
//   - WeaviateURL: Passage store URL. Empty disables retrieval.
//   - CheckpointPath: Badger directory for conversation state. Empty keeps
//     state in memory.
//   - LLMCachePath: Badger directory for the response cache. Empty disables
//     caching.
//   - OTelEndpoint: OTLP gRPC collector. Empty disables trace export.
type Config struct {
	Port       int    `yaml:"port"`
	LLMBackend string `yaml:"llm_backend"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OllamaURL     string `yaml:"ollama_url"`
	OllamaModel   string `yaml:"ollama_model"`

	WeaviateURL    string `yaml:"weaviate_url"`
	RetrievalLimit int    `yaml:"retrieval_limit"`

	CheckpointPath string        `yaml:"checkpoint_path"`
	LLMCachePath   string        `yaml:"llm_cache_path"`
	LLMCacheTTL    time.Duration `yaml:"llm_cache_ttl"`

	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	StreamChunkSize   int           `yaml:"stream_chunk_size"`
	MaxContentChars   int           `yaml:"max_content_chars"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	OTelEndpoint string `yaml:"otel_endpoint"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
	LogDir   string `yaml:"log_dir"`
}

// LoadConfig reads configuration from path (optional) and the environment.
//
// # Description
//
// An empty path skips the file. Environment variables always win over file
// values. Malformed numeric or duration variables are reported rather than
// silently ignored.
//
// # Inputs
//
//   - path: YAML file path, or "".
//
// # Outputs
//
//   - Config: Loaded configuration. Defaults are not applied here.
//   - error: Non-nil if the file cannot be read or parsed, or an
//     environment variable is malformed.
//
// # Examples
//
//	cfg, err := assistant.LoadConfig("/etc/ccnl/assistant.yaml")
//	if err != nil {
//	    return err
//	}
//	svc, err := assistant.New(cfg)
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("ASSISTANT_PORT", &cfg.Port)
	str("LLM_BACKEND_TYPE", &cfg.LLMBackend)
	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("OPENAI_MODEL", &cfg.OpenAIModel)
	str("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	str("OLLAMA_URL", &cfg.OllamaURL)
	str("OLLAMA_MODEL", &cfg.OllamaModel)
	str("WEAVIATE_SERVICE_URL", &cfg.WeaviateURL)
	str("CHECKPOINT_PATH", &cfg.CheckpointPath)
	str("LLM_CACHE_PATH", &cfg.LLMCachePath)
	dur("LLM_CACHE_TTL", &cfg.LLMCacheTTL)
	dur("KEEPALIVE_INTERVAL", &cfg.KeepaliveInterval)
	num("STREAM_CHUNK_SIZE", &cfg.StreamChunkSize)
	num("MAX_CONTENT_CHARS", &cfg.MaxContentChars)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTelEndpoint)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		} else {
			cfg.RateLimitRPS = rps
		}
	}
	if v, ok := lookup("LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_JSON: %w", err))
		} else {
			cfg.LogJSON = b
		}
	}

	return errors.Join(errs...)
}

// applyConfigDefaults fills in missing configuration values.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.LLMCacheTTL == 0 {
		cfg.LLMCacheTTL = 24 * time.Hour
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 5 * time.Second
	}
	if cfg.StreamChunkSize <= 0 {
		cfg.StreamChunkSize = 40
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 16000
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = 5
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 2
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}
