// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package streaming drives one chat turn from agent graph to SSE frames.
//
// A turn moves through WAITING_FOR_GRAPH, then STREAMING_BUFFERED or
// STREAMING_FALLBACK, then DONE. The buffered path replays the answer the
// graph already generated; the fallback path makes a single live streaming
// call. The choice is made once per turn, so a turn never costs two
// generations.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/agent"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/observability"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/sse"
	"github.com/AleutianAI/ccnl-assistant/services/llm"
)

var streamTracer = otel.Tracer("ccnl.assistant.streaming")

// DefaultKeepaliveInterval is the keepalive cadence while the graph runs.
const DefaultKeepaliveInterval = 5 * time.Second

// =============================================================================
// State
// =============================================================================

// State is the orchestrator state for one turn.
type State int

const (
	StateWaitingForGraph State = iota
	StateStreamingBuffered
	StateStreamingFallback
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateWaitingForGraph:
		return "WAITING_FOR_GRAPH"
	case StateStreamingBuffered:
		return "STREAMING_BUFFERED"
	case StateStreamingFallback:
		return "STREAMING_FALLBACK"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// =============================================================================
// Errors
// =============================================================================

// Stages reported by GenerationError.
const (
	StageGraph    = "graph"
	StageFallback = "fallback"
)

// GenerationError reports a failed graph invocation or fallback call.
//
// # Description
//
// By the time it is returned the stream has already been terminated with a
// done frame, after any content produced before the failure. It is for
// logging; it is never written to the client as content.
type GenerationError struct {
	SessionID string
	Stage     string
	Err       error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed in %s for session %s: %v", e.Stage, e.SessionID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Outcome
// =============================================================================

// Outcome summarises a streamed turn.
type Outcome struct {
	// Path is one of the observability path labels.
	Path string

	// FinalState is StateDone unless the turn was cancelled.
	FinalState State

	KeepalivesSent int
	ContentFrames  int

	// Content is the concatenation of all content frames sent.
	Content string

	// FallbackCalls is 0 or 1.
	FallbackCalls int

	TimeToFirstContent time.Duration
	Duration           time.Duration
}

// =============================================================================
// Orchestrator
// =============================================================================

// Config holds Orchestrator dependencies and tuning.
type Config struct {
	// Graph runs the turn. Required.
	Graph agent.Graph

	// LLM serves the fallback streaming call. Required.
	LLM llm.LLMClient

	// Params are used for the fallback call.
	Params llm.GenerationParams

	// KeepaliveInterval defaults to DefaultKeepaliveInterval.
	KeepaliveInterval time.Duration

	// ChunkSize is in runes and defaults to DefaultChunkSize.
	ChunkSize int

	// Metrics may be nil.
	Metrics *observability.StreamingMetrics

	Logger *slog.Logger
}

// Orchestrator streams chat turns.
//
// # Thread Safety
//
// Safe for concurrent use. Each Stream call owns its own turn state.
type Orchestrator struct {
	graph             agent.Graph
	llm               llm.LLMClient
	params            llm.GenerationParams
	keepaliveInterval time.Duration
	chunkSize         int
	metrics           *observability.StreamingMetrics
	logger            *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Panics if Graph or LLM is nil.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Graph == nil {
		panic("streaming.NewOrchestrator: Graph must not be nil")
	}
	if cfg.LLM == nil {
		panic("streaming.NewOrchestrator: LLM must not be nil")
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		graph:             cfg.Graph,
		llm:               cfg.LLM,
		params:            cfg.Params,
		keepaliveInterval: cfg.KeepaliveInterval,
		chunkSize:         cfg.ChunkSize,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
	}
}

// graphOutcome carries the graph task's return values to the wait loop.
type graphOutcome struct {
	result *agent.Result
	err    error
}

// turn is the per-call state of Stream.
type turn struct {
	o         *Orchestrator
	w         sse.Writer
	sessionID string
	logger    *slog.Logger
	start     time.Time
	state     State
	outcome   Outcome
	content   strings.Builder
}

// Stream runs one turn and writes its frames to w.
//
// # Description
//
// The graph runs as a task in an errgroup scope while this goroutine waits,
// sending a keepalive each KeepaliveInterval. Once the graph returns no
// further keepalive is sent. A non-empty buffered answer is replayed in
// ChunkSize-rune frames; otherwise exactly one ChatStream call is made and
// each token is forwarded. Every non-cancelled turn ends with one done
// frame.
//
// All frames are written from the calling goroutine.
//
// # Inputs
//
//   - ctx: Request context. Cancellation stops the graph, the keepalive
//     loop and any fallback call, and no further frames are written.
//   - w: Frame sink.
//   - sessionID: Thread the graph checkpoints under.
//   - in: Merged history and attachments.
//
// # Outputs
//
//   - Outcome: Always populated, including on error.
//   - error: *GenerationError when generation failed (the stream is already
//     closed cleanly), the context error on cancellation, or a write error
//     when the transport failed.
//
// # Examples
//
//	outcome, err := orch.Stream(c.Request.Context(), writer, sessionID, input)
//	var genErr *streaming.GenerationError
//	if errors.As(err, &genErr) {
//	    logger.Error("turn failed", slog.String("error", err.Error()))
//	}
func (o *Orchestrator) Stream(ctx context.Context, w sse.Writer, sessionID string, in agent.Input) (Outcome, error) {
	ctx, span := streamTracer.Start(ctx, "Orchestrator.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	t := &turn{
		o:         o,
		w:         w,
		sessionID: sessionID,
		logger:    o.logger.With(slog.String("session_id", sessionID)),
		start:     time.Now(),
		state:     StateWaitingForGraph,
	}

	err := t.run(ctx, in)
	t.finish(err)

	span.SetAttributes(
		attribute.String("stream.path", t.outcome.Path),
		attribute.Int("stream.keepalives", t.outcome.KeepalivesSent),
		attribute.Int("stream.content_frames", t.outcome.ContentFrames),
		attribute.Int("stream.fallback_calls", t.outcome.FallbackCalls),
	)
	if err != nil && !isCancellation(ctx, err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
	}
	return t.outcome, err
}

func (t *turn) run(ctx context.Context, in agent.Input) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan graphOutcome, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := t.o.graph.Invoke(gctx, in, agent.RunConfig{ThreadID: t.sessionID})
		results <- graphOutcome{result: res, err: err}
		return nil
	})

	got, waitErr := t.waitForGraph(ctx, results)
	if waitErr != nil {
		// Cancel before joining so the graph task returns promptly.
		cancel()
		_ = g.Wait()
		return waitErr
	}
	_ = g.Wait()

	if got.err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return t.fail(StageGraph, got.err)
	}

	var buffered *agent.BufferedLLMResult
	if got.result != nil {
		buffered = got.result.LLM
	}
	if content := BufferedContent(buffered); content != "" {
		return t.streamBuffered(ctx, content)
	}
	return t.streamFallback(ctx, in, got.result)
}

// waitForGraph sends keepalives until the graph reports or ctx ends.
func (t *turn) waitForGraph(ctx context.Context, results <-chan graphOutcome) (graphOutcome, error) {
	ticker := time.NewTicker(t.o.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case got := <-results:
			return got, nil
		case <-ctx.Done():
			return graphOutcome{}, ctx.Err()
		case <-ticker.C:
			// A ready result wins over a pending tick.
			select {
			case got := <-results:
				return got, nil
			default:
			}
			if err := t.w.WriteKeepAlive(); err != nil {
				return graphOutcome{}, fmt.Errorf("write keepalive: %w", err)
			}
			t.outcome.KeepalivesSent++
			t.o.metrics.RecordKeepalive()
			t.logger.Debug("keepalive sent", slog.Int("keepalives", t.outcome.KeepalivesSent))
		}
	}
}

func (t *turn) streamBuffered(ctx context.Context, content string) error {
	t.transition(StateStreamingBuffered)
	for _, chunk := range ChunkRunes(ValidText(content), t.o.chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.writeContent(chunk); err != nil {
			return err
		}
	}
	return t.writeDone()
}

func (t *turn) streamFallback(ctx context.Context, in agent.Input, result *agent.Result) error {
	t.transition(StateStreamingFallback)

	var prompt []llm.Message
	if result != nil {
		prompt = result.Prompt
	}
	if len(prompt) == 0 {
		prompt = agent.BuildMessages(in.Messages, nil)
	}

	t.outcome.FallbackCalls++
	var writeErr error
	err := t.o.llm.ChatStream(ctx, prompt, t.o.params, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventError:
			return errors.New(event.Error)
		case llm.StreamEventToken:
			if event.Content == "" {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.writeContent(ValidText(event.Content)); err != nil {
				writeErr = err
				return err
			}
		}
		return nil
	})

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case writeErr != nil:
		return writeErr
	case err != nil:
		return t.fail(StageFallback, err)
	}
	return t.writeDone()
}

// fail closes the stream after a generation failure.
func (t *turn) fail(stage string, cause error) error {
	genErr := &GenerationError{SessionID: t.sessionID, Stage: stage, Err: cause}
	if err := t.writeDone(); err != nil {
		t.logger.Warn("could not close stream after generation failure",
			slog.String("error", err.Error()))
	}
	return genErr
}

func (t *turn) writeContent(chunk string) error {
	if err := t.w.WriteChunk(chunk); err != nil {
		return fmt.Errorf("write content frame: %w", err)
	}
	if t.outcome.ContentFrames == 0 {
		t.outcome.TimeToFirstContent = time.Since(t.start)
		t.o.metrics.RecordFirstContent(t.outcome.TimeToFirstContent)
	}
	t.outcome.ContentFrames++
	t.content.WriteString(chunk)
	t.o.metrics.RecordContentFrame()
	return nil
}

func (t *turn) writeDone() error {
	if err := t.w.WriteDone(); err != nil {
		return fmt.Errorf("write done frame: %w", err)
	}
	t.transition(StateDone)
	return nil
}

func (t *turn) transition(next State) {
	t.logger.Debug("stream state transition",
		slog.String("from", t.state.String()),
		slog.String("to", next.String()))
	t.state = next
}

// finish fills the outcome, records metrics and logs the turn.
func (t *turn) finish(err error) {
	t.outcome.FinalState = t.state
	t.outcome.Content = t.content.String()
	t.outcome.Duration = time.Since(t.start)

	var genErr *GenerationError
	switch {
	case errors.As(err, &genErr):
		t.outcome.Path = observability.PathError
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		t.outcome.Path = observability.PathCancelled
	case err != nil:
		// Transport failure: the client is gone.
		t.outcome.Path = observability.PathCancelled
	case t.outcome.FallbackCalls > 0:
		t.outcome.Path = observability.PathFallback
	default:
		t.outcome.Path = observability.PathBuffered
	}
	t.o.metrics.RecordTurn(t.outcome.Path, t.outcome.Duration)

	attrs := []any{
		slog.String("path", t.outcome.Path),
		slog.String("final_state", t.outcome.FinalState.String()),
		slog.Int("keepalives", t.outcome.KeepalivesSent),
		slog.Int("content_frames", t.outcome.ContentFrames),
		slog.Duration("duration", t.outcome.Duration),
	}
	switch t.outcome.Path {
	case observability.PathError:
		t.logger.Error("stream turn failed", append(attrs, slog.String("error", err.Error()))...)
	case observability.PathCancelled:
		t.logger.Info("stream turn cancelled", attrs...)
	default:
		t.logger.Info("stream turn completed", attrs...)
	}
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
