// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the assistant's gin handlers.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/agent"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/conversation"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/middleware"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/observability"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/sse"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/streaming"
)

var handlerTracer = otel.Tracer("ccnl.assistant.handlers")

// HeaderSessionID carries the session ID of a streamed turn.
const HeaderSessionID = "X-Session-Id"

// ChatStreamer runs one streamed turn. *streaming.Orchestrator implements it.
type ChatStreamer interface {
	Stream(ctx context.Context, w sse.Writer, sessionID string, in agent.Input) (streaming.Outcome, error)
}

// StreamingChatHandler serves POST /v1/chat/stream.
type StreamingChatHandler interface {
	// HandleChatStream validates the request, merges it with the stored
	// conversation and streams the answer as SSE.
	//
	// # Outputs
	//
	//   - 400 JSON (datatypes.ErrorResponse) when the body is malformed or
	//     fails validation. Nothing is streamed.
	//   - 200 text/event-stream otherwise: keepalives, content frames and
	//     one done frame. X-Session-Id names the session.
	HandleChatStream(c *gin.Context)
}

type streamingChatHandler struct {
	validator *datatypes.ChatValidator
	merger    *conversation.Merger
	streamer  ChatStreamer
	metrics   *observability.StreamingMetrics
	logger    *slog.Logger
}

// NewStreamingChatHandler creates the streaming chat handler.
//
// # Inputs
//
//   - validator: Request validator. Must not be nil.
//   - merger: Loads prior conversation state. Must not be nil.
//   - streamer: Runs the turn. Must not be nil.
//   - metrics: Optional.
//   - logger: Nil uses slog.Default().
func NewStreamingChatHandler(
	validator *datatypes.ChatValidator,
	merger *conversation.Merger,
	streamer ChatStreamer,
	metrics *observability.StreamingMetrics,
	logger *slog.Logger,
) StreamingChatHandler {
	if validator == nil {
		panic("handlers.NewStreamingChatHandler: validator must not be nil")
	}
	if merger == nil {
		panic("handlers.NewStreamingChatHandler: merger must not be nil")
	}
	if streamer == nil {
		panic("handlers.NewStreamingChatHandler: streamer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &streamingChatHandler{
		validator: validator,
		merger:    merger,
		streamer:  streamer,
		metrics:   metrics,
		logger:    logger,
	}
}

func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	ctx, span := handlerTracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	logger := h.logger.With(slog.String("request_id", middleware.GetRequestID(c)))

	// Step 1: Parse and validate
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		h.metrics.RecordValidationError()
		logger.Warn("invalid chat request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.validator.ValidateRequest(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		h.metrics.RecordValidationError()
		logger.Warn("chat request rejected", slog.String("error", err.Error()))

		resp := datatypes.ErrorResponse{Error: "validation failed"}
		var vErr *datatypes.ValidationError
		if errors.As(err, &vErr) {
			resp.Details = vErr.Details()
		}
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	// Step 2: Resolve the session and merge history
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger = logger.With(slog.String("session_id", sessionID))
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("request.message_count", len(req.Messages)),
	)

	prior := h.merger.LoadPriorStateOrEmpty(ctx, sessionID)
	input := agent.Input{
		Messages:    conversation.Merge(prior.Messages, req.Messages),
		Attachments: conversation.ResolveAttachments(req.AttachmentIDs, prior.Attachments),
	}

	// Step 3: Stream
	sse.SetSSEHeaders(c.Writer)
	c.Header(HeaderSessionID, sessionID)
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming unsupported")
		logger.Error("response writer cannot stream", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	outcome, err := h.streamer.Stream(ctx, writer, sessionID, input)
	span.SetAttributes(attribute.String("stream.path", outcome.Path))

	var genErr *streaming.GenerationError
	switch {
	case err == nil:
	case errors.As(err, &genErr):
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
	case errors.Is(err, context.Canceled):
		logger.Debug("client disconnected during stream")
	default:
		span.RecordError(err)
		logger.Warn("stream aborted", slog.String("error", err.Error()))
	}
}
