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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewClient_SelectsBackend(t *testing.T) {
	client, err := NewClient(ClientConfig{Backend: "openai", OpenAIAPIKey: "sk-test", OpenAIModel: "gpt-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)
	assert.Equal(t, "gpt-test", client.Model())

	client, err = NewClient(ClientConfig{Backend: "OLLAMA", OllamaURL: "http://localhost:11434/", OllamaModel: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, client)

	_, err = NewClient(ClientConfig{Backend: "claude"})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{Backend: "ollama"})
	assert.Error(t, err)
}

// =============================================================================
// OpenAI Tests
// =============================================================================

// newMockOpenAIServer serves /v1/chat/completions. Streaming requests get an
// SSE body with one chunk per token; buffered requests get a single answer.
func newMockOpenAIServer(t *testing.T, tokens []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var req struct {
			Stream bool `json:"stream"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`,
				strings.Join(tokens, ""))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range tokens {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-test\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIClient_Chat(t *testing.T) {
	server := newMockOpenAIServer(t, []string{"Il TFR ", "matura ogni anno."})
	defer server.Close()

	client, err := NewOpenAIClient("sk-test", "gpt-test", server.URL+"/v1")
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "TFR?"}}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "Il TFR matura ogni anno.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	server := newMockOpenAIServer(t, []string{"Ci", "ao", "!"})
	defer server.Close()

	client, err := NewOpenAIClient("sk-test", "gpt-test", server.URL+"/v1")
	require.NoError(t, err)

	var got []string
	err = client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "ciao"}}, GenerationParams{},
		func(event StreamEvent) error {
			if event.Type == StreamEventToken {
				got = append(got, event.Content)
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ci", "ao", "!"}, got)
}

func TestOpenAIClient_ChatStream_CallbackErrorAborts(t *testing.T) {
	server := newMockOpenAIServer(t, []string{"a", "b", "c"})
	defer server.Close()

	client, err := NewOpenAIClient("sk-test", "gpt-test", server.URL+"/v1")
	require.NoError(t, err)

	stop := fmt.Errorf("client gone")
	calls := 0
	err = client.ChatStream(context.Background(), nil, GenerationParams{}, func(StreamEvent) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// Ollama Tests
// =============================================================================

func TestOllamaClient_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, tok := range []string{"Buon", "giorno"} {
			fmt.Fprintf(w, "{\"model\":\"m\",\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":false}\n", tok)
		}
		fmt.Fprint(w, "{\"model\":\"m\",\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true,\"done_reason\":\"stop\"}\n")
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL, "m")
	require.NoError(t, err)

	var sb strings.Builder
	err = client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "ciao"}}, GenerationParams{},
		func(event StreamEvent) error {
			sb.WriteString(event.Content)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "Buongiorno", sb.String())
}

func TestNewOllamaClient_RequiresURL(t *testing.T) {
	_, err := NewOllamaClient("", "m")
	assert.Error(t, err)
}

func TestToMessageContent_MapsRoles(t *testing.T) {
	parts := toMessageContent([]Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleAssistant, Content: "a"},
	})
	require.Len(t, parts, 3)
	assert.Equal(t, "system", string(parts[0].Role))
	assert.Equal(t, "human", string(parts[1].Role))
	assert.Equal(t, "ai", string(parts[2].Role))
}
