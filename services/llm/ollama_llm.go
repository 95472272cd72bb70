// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ccnl-assistant.llm.ollama")

const defaultOllamaModel = "llama3.1"

// OllamaClient talks to an Ollama server through langchaingo.
type OllamaClient struct {
	llm     *ollama.LLM
	baseURL string
	model   string
}

var _ LLMClient = (*OllamaClient)(nil)

// NewOllamaClient creates an Ollama backend.
//
// # Inputs
//
//   - baseURL: Server URL, e.g. "http://localhost:11434". Required.
//   - model: Model tag. Empty defaults to llama3.1.
//
// # Outputs
//
//   - *OllamaClient: Ready for use.
//   - error: Non-nil if baseURL is empty or the client cannot be built.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_URL not set")
	}
	if model == "" {
		model = defaultOllamaModel
		slog.Warn("OLLAMA_MODEL not set, using default", slog.String("model", model))
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	llm, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
		ollama.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}

	slog.Info("initializing Ollama client", slog.String("base_url", baseURL), slog.String("model", model))
	return &OllamaClient{llm: llm, baseURL: baseURL, model: model}, nil
}

// Model implements LLMClient.
func (o *OllamaClient) Model() string {
	return o.model
}

// Chat implements LLMClient.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.messages", len(messages)))

	resp, err := o.llm.GenerateContent(ctx, toMessageContent(messages), callOptions(params)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	return &Response{
		Content:      choice.Content,
		Model:        o.model,
		FinishReason: choice.StopReason,
	}, nil
}

// ChatStream implements LLMClient.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	opts := append(callOptions(params), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return callback(StreamEvent{Type: StreamEventToken, Content: string(chunk)})
	}))

	if _, err := o.llm.GenerateContent(ctx, toMessageContent(messages), opts...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		return fmt.Errorf("ollama chat stream: %w", err)
	}
	return nil
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func callOptions(params GenerationParams) []llms.CallOption {
	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.TopK != nil {
		opts = append(opts, llms.WithTopK(*params.TopK))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}
