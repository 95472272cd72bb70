// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned for any write after the done frame.
var ErrStreamClosed = errors.New("sse: stream already closed by done frame")

// =============================================================================
// Interface Definition
// =============================================================================

// Writer is the transport sink for one SSE response.
//
// # Description
//
// Writer accepts fully encoded frames, validates them against the wire
// format, writes them to the response and flushes immediately. After a done
// frame has been written every further write fails with ErrStreamClosed, so a
// turn can never emit more than one terminal frame.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Writes are serialised so
// frames are never interleaved on the wire.
type Writer interface {
	// WriteFrame validates and writes a pre-encoded frame. Keepalive
	// comments are accepted verbatim; every other frame must pass
	// ValidateFrame.
	WriteFrame(frame string) error

	// WriteChunk encodes content as a content frame and writes it.
	WriteChunk(content string) error

	// WriteDone writes the terminal frame and closes the stream.
	WriteDone() error

	// WriteKeepAlive writes the keepalive comment.
	WriteKeepAlive() error

	// Closed reports whether the done frame has been written.
	Closed() bool
}

// =============================================================================
// Struct Definition
// =============================================================================

// httpWriter implements Writer over an http.ResponseWriter.
//
// # Fields
//
//   - out: Underlying response writer.
//   - flusher: Flushes each frame to the client.
//   - closed: Set once the done frame is written.
//   - mu: Serialises writes.
type httpWriter struct {
	out     io.Writer
	flusher http.Flusher
	closed  bool
	mu      sync.Mutex
}

var _ Writer = (*httpWriter)(nil)

// NewWriter creates a Writer for the given ResponseWriter.
//
// # Description
//
// The caller must set SSE headers (see SetSSEHeaders) before the first
// write.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - Writer: Ready to write frames.
//   - error: Non-nil if the ResponseWriter cannot flush.
//
// # Examples
//
//	sse.SetSSEHeaders(c.Writer)
//	writer, err := sse.NewWriter(c.Writer)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
//	    return
//	}
//	writer.WriteChunk("Ciao")
//	writer.WriteDone()
func NewWriter(w http.ResponseWriter) (Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &httpWriter{out: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *httpWriter) WriteFrame(frame string) error {
	done := false
	if !IsKeepalive(frame) {
		chunk, err := DecodeChunk(frame)
		if err != nil {
			return err
		}
		done = chunk.Done
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrStreamClosed
	}
	if _, err := io.WriteString(w.out, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()

	if done {
		w.closed = true
	}
	return nil
}

func (w *httpWriter) WriteChunk(content string) error {
	frame, err := EncodeChunk(content, false)
	if err != nil {
		return err
	}
	return w.WriteFrame(frame)
}

func (w *httpWriter) WriteDone() error {
	frame, err := EncodeDone()
	if err != nil {
		return err
	}
	return w.WriteFrame(frame)
}

func (w *httpWriter) WriteKeepAlive() error {
	return w.WriteFrame(EncodeKeepalive())
}

func (w *httpWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// =============================================================================
// Headers
// =============================================================================

// SetSSEHeaders sets the response headers required for SSE streaming.
//
// # Description
//
// Sets:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx response buffering)
//
// Must be called before the first frame is written.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
