// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sse implements the Server-Sent Events wire protocol used by the
// streaming chat endpoint.
//
// # Wire Format
//
// Exactly three frame shapes exist on the wire:
//
//	data: {"content":"<json-escaped string>","done":false}\n\n   content frame
//	data: {"content":"","done":true}\n\n                          done frame
//	: keepalive\n\n                                               keepalive comment
//
// The EventSource protocol is prefix- and whitespace-sensitive: a dropped
// newline silently merges two events on the client. The codec therefore
// treats every deviation as a hard *FormatError instead of attempting a
// best-effort parse, and the encoder validates its own output before
// returning it.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// dataPrefix starts every content and done frame.
	dataPrefix = "data: "

	// frameTerminator ends every frame. Exactly two newlines, never more.
	frameTerminator = "\n\n"

	// commentPrefix starts SSE comment lines (keepalives).
	commentPrefix = ":"

	// keepaliveFrame is the fixed liveness sentinel.
	keepaliveFrame = ": keepalive\n\n"

	// maxFrameInError caps how much of a bad frame is echoed in errors.
	maxFrameInError = 120
)

// =============================================================================
// Types
// =============================================================================

// StreamChunk is the payload of a content or done frame.
//
// # Description
//
// Receivers reconstruct the full answer by concatenating Content of every
// non-done chunk in emission order. Exactly one chunk with Done=true ends a
// turn. Once encoded, a chunk is never modified.
//
// # Fields
//
//   - Content: Partial or full answer text. May be empty.
//   - Done: Terminal marker.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// FormatError reports a frame that does not conform to the wire format.
//
// # Fields
//
//   - Frame: The offending frame, truncated for logging.
//   - Reason: Human-readable description of the violation.
//   - Err: Underlying cause (e.g. a JSON syntax error), may be nil.
type FormatError struct {
	Frame  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sse: malformed frame %q: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("sse: malformed frame %q: %s", e.Frame, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *FormatError) Unwrap() error {
	return e.Err
}

func newFormatError(frame, reason string, err error) *FormatError {
	if len(frame) > maxFrameInError {
		frame = frame[:maxFrameInError] + "..."
	}
	return &FormatError{Frame: frame, Reason: reason, Err: err}
}

// =============================================================================
// Encoding
// =============================================================================

// EncodeChunk serializes a StreamChunk into a wire frame.
//
// # Description
//
// Produces "data: " + compact JSON + "\n\n". The produced frame is validated
// before it is returned so that any future drift in the encoder surfaces as
// an error at the producer instead of a corrupted stream at the client.
//
// # Inputs
//
//   - content: Text payload. Any valid UTF-8 string, including "".
//   - done: Terminal marker.
//
// # Outputs
//
//   - string: The frame, e.g. `data: {"content":"Hello","done":false}` + "\n\n".
//   - error: *FormatError if content is not valid UTF-8 or the produced
//     frame fails validation.
//
// # Examples
//
//	frame, err := sse.EncodeChunk("Ciao", false)
//	if err != nil {
//	    return err
//	}
//	sink.WriteFrame(frame)
func EncodeChunk(content string, done bool) (string, error) {
	// json.Marshal would substitute U+FFFD and the client would see text
	// that differs from what was sent.
	if !utf8.ValidString(content) {
		return "", newFormatError(content, "content is not valid UTF-8", nil)
	}
	payload, err := json.Marshal(StreamChunk{Content: content, Done: done})
	if err != nil {
		return "", newFormatError(content, "marshal chunk", err)
	}

	frame := dataPrefix + string(payload) + frameTerminator
	if err := ValidateFrame(frame); err != nil {
		return "", err
	}
	return frame, nil
}

// EncodeDone returns the terminal frame. Equivalent to EncodeChunk("", true).
func EncodeDone() (string, error) {
	return EncodeChunk("", true)
}

// EncodeKeepalive returns the keepalive comment frame ": keepalive\n\n".
//
// Comment frames are ignored by EventSource clients and by any consumer that
// only scans for "data: " lines, so they keep intermediaries from timing out
// without ever being mistaken for content.
func EncodeKeepalive() string {
	return keepaliveFrame
}

// =============================================================================
// Validation and Decoding
// =============================================================================

// ValidateFrame checks that frame is a well-formed content or done frame.
//
// # Description
//
// Fails when:
//   - the frame does not start with "data: "
//   - the frame does not end with exactly "\n\n" (one newline or three fail)
//   - the payload contains a raw line break (it would split the SSE event)
//   - the payload is not JSON
//   - the payload is not StreamChunk-shaped: a JSON object whose "content",
//     when present, is a string and whose "done", when present, is a boolean
//
// Extra keys are tolerated. Keepalive comments are not valid data frames.
//
// # Outputs
//
//   - error: *FormatError describing the first violation, nil if valid.
func ValidateFrame(frame string) error {
	_, err := DecodeChunk(frame)
	return err
}

// IsValidFrame reports whether ValidateFrame would succeed.
func IsValidFrame(frame string) bool {
	return ValidateFrame(frame) == nil
}

// DecodeChunk validates frame and returns its StreamChunk.
//
// # Description
//
// Absent keys take their defaults: content "" and done false. An explicit
// JSON null for either key is rejected, since no producer emits it.
//
// # Outputs
//
//   - StreamChunk: Decoded payload.
//   - error: *FormatError if the frame is malformed.
func DecodeChunk(frame string) (StreamChunk, error) {
	if !strings.HasPrefix(frame, dataPrefix) {
		return StreamChunk{}, newFormatError(frame, `missing "data: " prefix`, nil)
	}
	if !strings.HasSuffix(frame, frameTerminator) {
		return StreamChunk{}, newFormatError(frame, `frame must end with exactly two newlines`, nil)
	}

	payload := frame[len(dataPrefix) : len(frame)-len(frameTerminator)]
	if strings.HasSuffix(payload, "\n") {
		return StreamChunk{}, newFormatError(frame, `frame must end with exactly two newlines`, nil)
	}
	if strings.ContainsAny(payload, "\r\n") {
		return StreamChunk{}, newFormatError(frame, "payload contains a line break", nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return StreamChunk{}, newFormatError(frame, "payload is not a JSON object", err)
	}
	if fields == nil {
		return StreamChunk{}, newFormatError(frame, "payload is not a JSON object", nil)
	}

	var chunk StreamChunk
	if raw, ok := fields["content"]; ok {
		if isJSONNull(raw) {
			return StreamChunk{}, newFormatError(frame, `"content" must be a string`, nil)
		}
		if err := json.Unmarshal(raw, &chunk.Content); err != nil {
			return StreamChunk{}, newFormatError(frame, `"content" must be a string`, err)
		}
	}
	if raw, ok := fields["done"]; ok {
		if isJSONNull(raw) {
			return StreamChunk{}, newFormatError(frame, `"done" must be a boolean`, nil)
		}
		if err := json.Unmarshal(raw, &chunk.Done); err != nil {
			return StreamChunk{}, newFormatError(frame, `"done" must be a boolean`, err)
		}
	}

	return chunk, nil
}

// ExtractContent validates frame and returns its content field.
//
// # Outputs
//
//   - string: The content, "" for done frames.
//   - error: *FormatError if the frame is malformed, including keepalives.
func ExtractContent(frame string) (string, error) {
	chunk, err := DecodeChunk(frame)
	if err != nil {
		return "", err
	}
	return chunk.Content, nil
}

// IsDoneFrame reports whether frame is a valid frame with done == true.
//
// Never fails: comment lines, non-data lines, malformed frames and frames
// whose done field is false or absent all return false. Comment lines are
// rejected before any JSON parsing is attempted.
func IsDoneFrame(frame string) bool {
	if IsComment(frame) {
		return false
	}
	chunk, err := DecodeChunk(frame)
	if err != nil {
		return false
	}
	return chunk.Done
}

// IsComment reports whether frame is an SSE comment (starts with ':').
func IsComment(frame string) bool {
	return strings.HasPrefix(frame, commentPrefix)
}

// IsKeepalive reports whether frame is exactly the keepalive sentinel.
func IsKeepalive(frame string) bool {
	return frame == keepaliveFrame
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
