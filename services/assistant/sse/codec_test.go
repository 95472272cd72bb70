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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Encoding Tests
// =============================================================================

func TestEncodeChunk_ExactFrame(t *testing.T) {
	frame, err := EncodeChunk("Hello", false)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"content\":\"Hello\",\"done\":false}\n\n", frame)
	assert.True(t, IsValidFrame(frame))
}

func TestEncodeChunk_RejectsInvalidUTF8(t *testing.T) {
	frame, err := EncodeChunk("ab\xffcd", false)

	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Contains(t, formatErr.Reason, "UTF-8")
	assert.Empty(t, frame)
}

func TestEncodeDone_ExactFrame(t *testing.T) {
	frame, err := EncodeDone()
	require.NoError(t, err)
	assert.Equal(t, "data: {\"content\":\"\",\"done\":true}\n\n", frame)
	assert.True(t, IsDoneFrame(frame))
}

func TestEncodeKeepalive(t *testing.T) {
	assert.Equal(t, ": keepalive\n\n", EncodeKeepalive())
	assert.True(t, IsKeepalive(EncodeKeepalive()))
	assert.True(t, IsComment(EncodeKeepalive()))
}

func TestEncodeChunk_RoundTrip(t *testing.T) {
	contents := []string{
		"",
		"Ciao",
		"perché è così? Il TFR matura ogni mese.",
		`virgolette "doppie" e \backslash\`,
		"riga uno\nriga due\r\n",
		"<b>grassetto</b> & altro",
		"emoji 👍 e tab\t",
		strings.Repeat("x", 5000),
	}

	for _, content := range contents {
		for _, done := range []bool{false, true} {
			frame, err := EncodeChunk(content, done)
			require.NoError(t, err)
			require.NoError(t, ValidateFrame(frame))

			got, err := ExtractContent(frame)
			require.NoError(t, err)
			assert.Equal(t, content, got)
			assert.Equal(t, done, IsDoneFrame(frame))

			assert.True(t, strings.HasPrefix(frame, "data: "))
			assert.True(t, strings.HasSuffix(frame, "\n\n"))
			assert.False(t, strings.HasSuffix(frame, "\n\n\n"))
		}
	}
}

func TestEncodeChunk_ConcatenationReproducesFragments(t *testing.T) {
	fragments := []string{"Il ", "periodo ", "di prova ", "è ", "di 30 giorni."}

	var frames []string
	for _, f := range fragments {
		frame, err := EncodeChunk(f, false)
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	done, err := EncodeDone()
	require.NoError(t, err)
	frames = append(frames, done)

	var sb strings.Builder
	for _, frame := range frames {
		if IsDoneFrame(frame) {
			continue
		}
		content, err := ExtractContent(frame)
		require.NoError(t, err)
		sb.WriteString(content)
	}
	assert.Equal(t, strings.Join(fragments, ""), sb.String())
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidateFrame_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"empty", ""},
		{"missing prefix", "{\"content\":\"a\",\"done\":false}\n\n"},
		{"prefix without space", "data:{\"content\":\"a\",\"done\":false}\n\n"},
		{"event line", "event: message\n\n"},
		{"single newline", "data: {\"content\":\"a\",\"done\":false}\n"},
		{"no newline", "data: {\"content\":\"a\",\"done\":false}"},
		{"three newlines", "data: {\"content\":\"a\",\"done\":false}\n\n\n"},
		{"crlf terminator", "data: {\"content\":\"a\",\"done\":false}\r\n\r\n"},
		{"not json", "data: hello\n\n"},
		{"empty payload", "data: \n\n"},
		{"json array", "data: [1,2]\n\n"},
		{"json string", "data: \"hello\"\n\n"},
		{"json null", "data: null\n\n"},
		{"content not string", "data: {\"content\":42,\"done\":false}\n\n"},
		{"content null", "data: {\"content\":null,\"done\":false}\n\n"},
		{"done not bool", "data: {\"content\":\"a\",\"done\":\"true\"}\n\n"},
		{"done null", "data: {\"content\":\"a\",\"done\":null}\n\n"},
		{"raw newline in payload", "data: {\"content\":\"a\",\n\"done\":false}\n\n"},
		{"keepalive", ": keepalive\n\n"},
		{"comment", ": anything\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrame(tt.frame)
			require.Error(t, err)

			var formatErr *FormatError
			assert.True(t, errors.As(err, &formatErr))
			assert.NotEmpty(t, formatErr.Reason)

			assert.False(t, IsValidFrame(tt.frame))
			assert.False(t, IsDoneFrame(tt.frame))
		})
	}
}

func TestValidateFrame_TolerantShapes(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		wantContent string
		wantDone    bool
	}{
		{"extra keys", "data: {\"content\":\"x\",\"done\":false,\"id\":7}\n\n", "x", false},
		{"absent done", "data: {\"content\":\"x\"}\n\n", "x", false},
		{"absent content", "data: {\"done\":true}\n\n", "", true},
		{"empty object", "data: {}\n\n", "", false},
		{"spaced json", "data: { \"content\" : \"x\" , \"done\" : true }\n\n", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := DecodeChunk(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, chunk.Content)
			assert.Equal(t, tt.wantDone, chunk.Done)
			assert.Equal(t, tt.wantDone, IsDoneFrame(tt.frame))
		})
	}
}

func TestExtractContent_RejectsKeepalive(t *testing.T) {
	_, err := ExtractContent(EncodeKeepalive())

	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Contains(t, formatErr.Error(), "data: ")
}

func TestIsDoneFrame(t *testing.T) {
	content, err := EncodeChunk("ciao", false)
	require.NoError(t, err)
	done, err := EncodeDone()
	require.NoError(t, err)

	assert.False(t, IsDoneFrame(EncodeKeepalive()))
	assert.False(t, IsDoneFrame(": anything\n\n"))
	assert.False(t, IsDoneFrame(": {\"done\":true}\n\n"))
	assert.False(t, IsDoneFrame(content))
	assert.False(t, IsDoneFrame("data: {\"done\":true}\n"))
	assert.True(t, IsDoneFrame(done))
}

func TestFormatError_TruncatesLongFrames(t *testing.T) {
	frame := "data: " + strings.Repeat("a", 500) + "\n\n"
	err := ValidateFrame(frame)

	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.LessOrEqual(t, len(formatErr.Frame), maxFrameInError+3)
	assert.NotNil(t, formatErr.Unwrap())
}
