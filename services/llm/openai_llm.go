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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openAISecretPath   = "/run/secrets/openai_api_key"
)

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI backend.
//
// # Description
//
// An empty apiKey falls back to the container secret at
// /run/secrets/openai_api_key. An empty model defaults to gpt-4o-mini.
// baseURL overrides the API endpoint (OpenAI-compatible gateways).
//
// # Outputs
//
//   - *OpenAIClient: Ready for use.
//   - error: Non-nil when no API key is available.
func NewOpenAIClient(apiKey, model, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		data, err := os.ReadFile(openAISecretPath)
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY not set and secret %s not readable", openAISecretPath)
		}
		apiKey = strings.TrimSpace(string(data))
		slog.Info("read OpenAI API key from secret file")
	}
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OPENAI_MODEL not set, using default", slog.String("model", model))
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	slog.Info("initializing OpenAI client", slog.String("model", model))
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Model implements LLMClient.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Chat implements LLMClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(messages, params, false))
	if err != nil {
		return nil, fmt.Errorf("OpenAI chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// ChatStream implements LLMClient.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(messages, params, true))
	if err != nil {
		return fmt.Errorf("OpenAI chat stream: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			_ = callback(StreamEvent{Type: StreamEventError, Error: "generation failed"})
			return fmt.Errorf("OpenAI stream receive: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := callback(StreamEvent{Type: StreamEventToken, Content: delta}); err != nil {
				return err
			}
		}
	}
}

func (o *OpenAIClient) buildRequest(messages []Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}
