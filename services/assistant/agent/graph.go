// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs one assistant turn: retrieval, prompting, a buffered
// LLM call and the checkpoint write.
//
// The graph is the only writer of session state. It produces at most one
// BufferedLLMResult per turn; the streaming layer decides from that result
// whether a live fallback call is needed.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/checkpoint"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/conversation"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/knowledge"
	"github.com/AleutianAI/ccnl-assistant/services/llm"
)

var graphTracer = otel.Tracer("ccnl.assistant.agent")

// ErrMissingThreadID is returned when Invoke is called without a thread.
var ErrMissingThreadID = errors.New("agent: run config has no thread id")

// =============================================================================
// Contract
// =============================================================================

// Input is the state handed to the graph for one turn.
type Input struct {
	// Messages is the merged history ending with the new user turn.
	Messages []datatypes.ConversationTurn

	// Attachments scopes retrieval to these documents when non-empty.
	Attachments []datatypes.AttachmentRef
}

// RunConfig carries per-invocation settings.
type RunConfig struct {
	// ThreadID is the session ID under which state is checkpointed.
	ThreadID string
}

// LLMResponse is the buffered answer produced by the graph.
type LLMResponse struct {
	Content  string
	Model    string
	Metadata map[string]any
}

// BufferedLLMResult is the graph's single LLM outcome for a turn.
//
// # Description
//
// Response is normally a *LLMResponse. Older graph versions stored a
// map[string]any with a "content" key; consumers accept both.
type BufferedLLMResult struct {
	Success  bool
	Response any
	Error    string
}

// Result is the graph's final state for a turn.
type Result struct {
	// Messages is the history as checkpointed, including the assistant
	// answer when the buffered call succeeded.
	Messages []datatypes.ConversationTurn

	Attachments []datatypes.AttachmentRef

	// Passages is the retrieved context.
	Passages []knowledge.Passage

	// Prompt is the provider prompt the graph used. A fallback call reuses it.
	Prompt []llm.Message

	// LLM is nil when the graph made no buffered call.
	LLM *BufferedLLMResult
}

// Graph is the agent graph contract.
//
// # Thread Safety
//
// Implementations must be safe for concurrent invocations on different
// threads.
type Graph interface {
	Invoke(ctx context.Context, in Input, cfg RunConfig) (*Result, error)
}

// =============================================================================
// ChatGraph
// =============================================================================

// ChatGraphConfig holds ChatGraph dependencies.
type ChatGraphConfig struct {
	// LLM answers the buffered call. Required.
	LLM llm.LLMClient

	// Store receives the checkpoint. Required.
	Store checkpoint.Store

	// Retriever supplies CCNL context. Optional.
	Retriever knowledge.Retriever

	// RetrievalLimit caps retrieved passages. Zero uses knowledge.DefaultLimit.
	RetrievalLimit int

	// Params are the generation settings for the buffered call.
	Params llm.GenerationParams

	Logger *slog.Logger
}

// ChatGraph is the production Graph.
//
// # Description
//
// Steps, in order:
//
//  1. Retrieve passages for the latest user question. Failures are logged
//     and the turn continues without context.
//  2. Build the prompt.
//  3. Run one buffered Chat call. A provider failure becomes an
//     unsuccessful BufferedLLMResult, not an error, so the caller can fall
//     back to live streaming.
//  4. Checkpoint the history, with the answer appended on success.
//
// Only a checkpoint write failure or cancellation makes Invoke fail.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChatGraph struct {
	llm            llm.LLMClient
	store          checkpoint.Store
	retriever      knowledge.Retriever
	retrievalLimit int
	params         llm.GenerationParams
	logger         *slog.Logger
	now            func() time.Time
}

var _ Graph = (*ChatGraph)(nil)

// NewChatGraph creates a ChatGraph. Panics if LLM or Store is nil.
func NewChatGraph(cfg ChatGraphConfig) *ChatGraph {
	if cfg.LLM == nil {
		panic("agent.NewChatGraph: LLM must not be nil")
	}
	if cfg.Store == nil {
		panic("agent.NewChatGraph: Store must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = knowledge.DefaultLimit
	}
	return &ChatGraph{
		llm:            cfg.LLM,
		store:          cfg.Store,
		retriever:      cfg.Retriever,
		retrievalLimit: cfg.RetrievalLimit,
		params:         cfg.Params,
		logger:         cfg.Logger,
		now:            time.Now,
	}
}

// Invoke implements Graph.
func (g *ChatGraph) Invoke(ctx context.Context, in Input, cfg RunConfig) (*Result, error) {
	ctx, span := graphTracer.Start(ctx, "ChatGraph.Invoke")
	defer span.End()

	if cfg.ThreadID == "" {
		span.RecordError(ErrMissingThreadID)
		span.SetStatus(codes.Error, "missing thread id")
		return nil, ErrMissingThreadID
	}
	span.SetAttributes(
		attribute.String("session.id", cfg.ThreadID),
		attribute.Int("history.length", len(in.Messages)),
		attribute.Int("attachments.count", len(in.Attachments)),
	)
	logger := g.logger.With(slog.String("session_id", cfg.ThreadID))

	passages := g.retrieve(ctx, in, logger)
	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))

	prompt := BuildMessages(in.Messages, passages)
	result := &Result{
		Messages:    in.Messages,
		Attachments: in.Attachments,
		Passages:    passages,
		Prompt:      prompt,
	}

	resp, err := g.llm.Chat(ctx, prompt, g.params)
	switch {
	case err != nil && ctx.Err() != nil:
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "cancelled during generation")
		return nil, ctx.Err()
	case err != nil:
		logger.Warn("buffered generation failed",
			slog.String("model", g.llm.Model()),
			slog.String("error", err.Error()))
		span.RecordError(err)
		result.LLM = &BufferedLLMResult{Success: false, Error: err.Error()}
	default:
		result.LLM = &BufferedLLMResult{
			Success: true,
			Response: &LLMResponse{
				Content: resp.Content,
				Model:   resp.Model,
				Metadata: map[string]any{
					"finish_reason": resp.FinishReason,
					"cached":        resp.Cached,
					"passages":      len(passages),
				},
			},
		}
		if resp.Content != "" {
			result.Messages = appendTurn(in.Messages, datatypes.ConversationTurn{
				Role:    datatypes.RoleAssistant,
				Content: resp.Content,
			})
		}
		span.SetAttributes(
			attribute.Int("llm.response_length", len(resp.Content)),
			attribute.Bool("llm.cached", resp.Cached),
		)
	}

	state := &checkpoint.State{
		SessionID:   cfg.ThreadID,
		Messages:    conversation.ToStoredAll(result.Messages),
		Attachments: conversation.AttachmentsToStored(result.Attachments),
		UpdatedAt:   g.now().UTC(),
	}
	if err := g.store.PutState(ctx, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkpoint failed")
		return nil, fmt.Errorf("checkpoint session %s: %w", cfg.ThreadID, err)
	}

	logger.Debug("turn checkpointed",
		slog.Int("messages", len(result.Messages)),
		slog.Bool("llm_success", result.LLM.Success))
	return result, nil
}

func (g *ChatGraph) retrieve(ctx context.Context, in Input, logger *slog.Logger) []knowledge.Passage {
	if g.retriever == nil {
		return nil
	}
	query := lastUserContent(in.Messages)
	if query == "" {
		return nil
	}

	ids := make([]string, len(in.Attachments))
	for i, a := range in.Attachments {
		ids[i] = string(a)
	}

	passages, err := g.retriever.Retrieve(ctx, query, ids, g.retrievalLimit)
	if err != nil {
		logger.Warn("retrieval failed, answering without context",
			slog.String("error", err.Error()))
		return nil
	}
	return passages
}

func appendTurn(turns []datatypes.ConversationTurn, turn datatypes.ConversationTurn) []datatypes.ConversationTurn {
	out := make([]datatypes.ConversationTurn, 0, len(turns)+1)
	out = append(out, turns...)
	return append(out, turn)
}
