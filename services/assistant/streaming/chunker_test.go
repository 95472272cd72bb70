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
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/agent"
)

func TestChunkRunes(t *testing.T) {
	assert.Nil(t, ChunkRunes("", 10))
	assert.Equal(t, []string{"abc"}, ChunkRunes("abc", 10))
	assert.Equal(t, []string{"ab", "cd", "e"}, ChunkRunes("abcde", 2))
	assert.Equal(t, []string{"perc", "hé s", "ì"}, ChunkRunes("perché sì", 4))

	long := strings.Repeat("x", 100)
	assert.Len(t, ChunkRunes(long, 0), 3)
}

func TestChunkRunes_Reassembles(t *testing.T) {
	inputs := []string{
		"Il TFR è pari alla retribuzione annua divisa per 13,5.",
		"€€€ àèìòù ÀÈÌÒÙ 日本語 🙂🙂",
		strings.Repeat("ferie ", 50),
	}
	for _, in := range inputs {
		for _, size := range []int{1, 3, 7, 40, 1000} {
			chunks := ChunkRunes(in, size)
			assert.Equal(t, in, strings.Join(chunks, ""))
			for _, c := range chunks {
				assert.True(t, utf8.ValidString(c))
				assert.LessOrEqual(t, utf8.RuneCountInString(c), size)
				assert.NotEmpty(t, c)
			}
		}
	}
}

func TestValidText(t *testing.T) {
	assert.Equal(t, "perché", ValidText("perché"))
	assert.Equal(t, "ab\uFFFDcd", ValidText("ab\xffcd"))
	assert.Equal(t, "a\uFFFDb", ValidText("a\xff\xfeb"), "a run of bad bytes becomes one replacement")

	clean := ValidText("ab\xffcd")
	assert.Equal(t, clean, strings.Join(ChunkRunes(clean, 2), ""))
}

type textResponse struct{ text string }

func (r textResponse) GetContent() string { return r.text }

func TestBufferedContent(t *testing.T) {
	cases := []struct {
		name   string
		result *agent.BufferedLLMResult
		want   string
	}{
		{"nil", nil, ""},
		{"unsuccessful", &agent.BufferedLLMResult{Success: false, Response: &agent.LLMResponse{Content: "x"}}, ""},
		{"pointer", &agent.BufferedLLMResult{Success: true, Response: &agent.LLMResponse{Content: "a"}}, "a"},
		{"nil pointer", &agent.BufferedLLMResult{Success: true, Response: (*agent.LLMResponse)(nil)}, ""},
		{"value", &agent.BufferedLLMResult{Success: true, Response: agent.LLMResponse{Content: "b"}}, "b"},
		{"method", &agent.BufferedLLMResult{Success: true, Response: textResponse{"c"}}, "c"},
		{"map any", &agent.BufferedLLMResult{Success: true, Response: map[string]any{"content": "d"}}, "d"},
		{"map wrong type", &agent.BufferedLLMResult{Success: true, Response: map[string]any{"content": 5}}, ""},
		{"map string", &agent.BufferedLLMResult{Success: true, Response: map[string]string{"content": "e"}}, "e"},
		{"nil response", &agent.BufferedLLMResult{Success: true}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BufferedContent(tc.result))
		})
	}
}
