// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm abstracts the chat-completion backends used by the assistant.
//
// Provider selection happens once at startup (see NewClient). Callers see a
// single LLMClient with a buffered Chat call and a token-streaming
// ChatStream call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a backend answers with no choices.
var ErrEmptyResponse = errors.New("llm: backend returned no choices")

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams holds optional sampling settings. Nil fields use the
// backend default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Response is a completed (buffered) chat answer.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Cached       bool   `json:"-"`
}

// =============================================================================
// Streaming
// =============================================================================

// StreamEventType distinguishes streaming callback events.
type StreamEventType string

const (
	// StreamEventToken carries a generated text fragment.
	StreamEventToken StreamEventType = "token"

	// StreamEventError reports a backend failure mid-stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is delivered to a StreamCallback for each backend event.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives streaming events in generation order. Returning
// an error aborts the stream and ChatStream returns that error.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Client Interface
// =============================================================================

// LLMClient is the contract every backend implements.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type LLMClient interface {
	// Chat runs a buffered completion and returns the whole answer.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error)

	// ChatStream runs a streaming completion, invoking callback for each
	// token. It returns when the stream ends, the callback fails or ctx is
	// cancelled.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error

	// Model returns the model identifier requests are sent to.
	Model() string
}

// =============================================================================
// Factory
// =============================================================================

// Backend names accepted by NewClient.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// ClientConfig selects and configures a backend.
type ClientConfig struct {
	// Backend is "openai" or "ollama".
	Backend string

	// OpenAIAPIKey, OpenAIModel and OpenAIBaseURL configure the OpenAI backend.
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// OllamaURL and OllamaModel configure the Ollama backend.
	OllamaURL   string
	OllamaModel string
}

// NewClient builds the backend named by cfg.Backend.
//
// # Outputs
//
//   - LLMClient: The configured backend.
//   - error: Non-nil for unknown backends or missing credentials.
func NewClient(cfg ClientConfig) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendOpenAI:
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	case "", BackendOllama:
		return NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
}
