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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noFlushWriter is a ResponseWriter without http.Flusher.
type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header        { return w.header }
func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(int)             {}

func TestNewWriter_RequiresFlusher(t *testing.T) {
	_, err := NewWriter(&noFlushWriter{header: http.Header{}})
	assert.Error(t, err)
}

func TestWriter_WritesFramesInOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	require.NoError(t, writer.WriteChunk("Ciao "))
	require.NoError(t, writer.WriteChunk("mondo"))
	require.NoError(t, writer.WriteDone())

	want := ": keepalive\n\n" +
		"data: {\"content\":\"Ciao \",\"done\":false}\n\n" +
		"data: {\"content\":\"mondo\",\"done\":false}\n\n" +
		"data: {\"content\":\"\",\"done\":true}\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.True(t, writer.Closed())
}

func TestWriter_RefusesWritesAfterDone(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteDone())
	before := rec.Body.String()

	assert.True(t, errors.Is(writer.WriteChunk("late"), ErrStreamClosed))
	assert.True(t, errors.Is(writer.WriteKeepAlive(), ErrStreamClosed))
	assert.True(t, errors.Is(writer.WriteDone(), ErrStreamClosed))
	assert.Equal(t, before, rec.Body.String())
}

func TestWriter_RejectsMalformedFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)

	err = writer.WriteFrame("data: {\"content\":\"a\"}\n")

	var formatErr *FormatError
	assert.True(t, errors.As(err, &formatErr))
	assert.Empty(t, rec.Body.String())
	assert.False(t, writer.Closed())
}

func TestWriter_ConcurrentWritesDoNotInterleave(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = writer.WriteChunk(strings.Repeat("z", 64))
		}()
	}
	wg.Wait()

	scanner := NewFrameScanner(strings.NewReader(rec.Body.String()))
	count := 0
	for scanner.Scan() {
		require.True(t, IsValidFrame(scanner.Text()))
		count++
	}
	assert.Equal(t, 20, count)
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
