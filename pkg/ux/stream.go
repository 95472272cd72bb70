// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/sse"
)

// ErrStreamTruncated is returned when the stream ends before a done frame.
var ErrStreamTruncated = errors.New("stream ended without a done frame")

// StreamResult contains the complete result of processing a stream.
type StreamResult struct {
	Answer     string
	Keepalives int
	Frames     int
}

// StreamProcessor defines the interface for processing streaming responses.
type StreamProcessor interface {
	// Process reads frames from reader until the done frame.
	Process(reader io.Reader) (*StreamResult, error)
}

// sseStreamProcessor renders assistant SSE frames.
type sseStreamProcessor struct {
	writer  io.Writer
	level   Level
	answer  strings.Builder
	waiting bool
	result  StreamResult
}

// NewStreamProcessor creates a stream processor writing to w.
//
// # Description
//
// Content is printed as it arrives. In LevelRich a muted dot is printed for
// every keepalive received before the first content frame. In LevelMachine
// the answer is buffered and printed once as "ANSWER: ...".
func NewStreamProcessor(w io.Writer, level Level) StreamProcessor {
	return &sseStreamProcessor{writer: w, level: level}
}

// Process implements StreamProcessor.
//
// # Outputs
//
//   - *StreamResult: The answer so far. Never nil.
//   - error: A *sse.FormatError for a malformed frame, ErrStreamTruncated
//     if reader ends before the done frame, or a read error.
func (p *sseStreamProcessor) Process(reader io.Reader) (*StreamResult, error) {
	scanner := sse.NewFrameScanner(reader)
	for scanner.Scan() {
		frame := scanner.Text()
		if sse.IsComment(frame) {
			if sse.IsKeepalive(frame) {
				p.handleKeepalive()
			}
			continue
		}
		if sse.IsDoneFrame(frame) {
			p.finalize()
			return p.snapshot(), nil
		}
		content, err := sse.ExtractContent(frame)
		if err != nil {
			p.finalize()
			return p.snapshot(), err
		}
		p.handleContent(content)
	}

	p.finalize()
	if err := scanner.Err(); err != nil {
		return p.snapshot(), err
	}
	return p.snapshot(), ErrStreamTruncated
}

func (p *sseStreamProcessor) handleKeepalive() {
	p.result.Keepalives++
	if p.level == LevelRich && p.answer.Len() == 0 {
		fmt.Fprint(p.writer, Styles.Muted.Render("."))
		p.waiting = true
	}
}

func (p *sseStreamProcessor) handleContent(content string) {
	p.result.Frames++
	if p.waiting {
		fmt.Fprintln(p.writer)
		p.waiting = false
	}
	p.answer.WriteString(content)
	if p.level == LevelMachine {
		return
	}
	fmt.Fprint(p.writer, content)
}

func (p *sseStreamProcessor) finalize() {
	if p.waiting {
		fmt.Fprintln(p.writer)
		p.waiting = false
	}
	if p.level == LevelMachine {
		if p.answer.Len() > 0 {
			fmt.Fprintf(p.writer, "ANSWER: %s\n", p.answer.String())
		}
		return
	}
	if p.answer.Len() > 0 && !strings.HasSuffix(p.answer.String(), "\n") {
		fmt.Fprintln(p.writer)
	}
}

func (p *sseStreamProcessor) snapshot() *StreamResult {
	res := p.result
	res.Answer = p.answer.String()
	return &res
}
