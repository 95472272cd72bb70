// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package streaming

import (
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/agent"
)

// DefaultChunkSize is the number of runes per buffered content frame.
const DefaultChunkSize = 40

// ChunkRunes splits s into consecutive pieces of at most size runes.
//
// # Description
//
// Splits only on rune boundaries, so accented Italian text and multi-byte
// symbols are never cut. Concatenating the result reproduces s exactly.
// An empty s yields no chunks. A size <= 0 uses DefaultChunkSize.
//
// # Examples
//
//	ChunkRunes("perché sì", 4) // ["perc", "hé s", "ì"]
func ChunkRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([]string, 0, utf8.RuneCountInString(s)/size+1)
	start, count := 0, 0
	for i := range s {
		if count == size {
			chunks = append(chunks, s[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, s[start:])
}

// ValidText replaces each run of invalid UTF-8 bytes in s with U+FFFD.
//
// # Description
//
// Model output is cleaned once before it is chunked or framed, so the frames
// the client receives concatenate to exactly the text that was sent. Valid
// input is returned unchanged.
func ValidText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// contentProvider is implemented by response objects that expose their
// text through a method.
type contentProvider interface {
	GetContent() string
}

// BufferedContent returns the text of a successful buffered result.
//
// # Description
//
// Returns "" when the result is nil, unsuccessful or has no content. Two
// response shapes are accepted: an object (agent.LLMResponse or anything
// with GetContent) and a map with a "content" string.
func BufferedContent(r *agent.BufferedLLMResult) string {
	if r == nil || !r.Success {
		return ""
	}
	switch v := r.Response.(type) {
	case *agent.LLMResponse:
		if v == nil {
			return ""
		}
		return v.Content
	case agent.LLMResponse:
		return v.Content
	case contentProvider:
		return v.GetContent()
	case map[string]any:
		s, _ := v["content"].(string)
		return s
	case map[string]string:
		return v["content"]
	default:
		return ""
	}
}
