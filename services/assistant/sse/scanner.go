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
	"bufio"
	"bytes"
	"io"
)

// maxFrameSize bounds a single frame on the client side.
const maxFrameSize = 1 << 20

// NewFrameScanner returns a bufio.Scanner that yields one SSE frame per
// Scan, terminator included, so each token can be passed straight to
// DecodeChunk, IsKeepalive or IsDoneFrame.
//
// Trailing bytes at EOF without a blank-line terminator are returned as a
// final token; they will fail validation, which is the intended outcome for
// a truncated stream.
//
// Example:
//
//	scanner := sse.NewFrameScanner(resp.Body)
//	for scanner.Scan() {
//	    frame := scanner.Text()
//	    if sse.IsComment(frame) {
//	        continue
//	    }
//	    chunk, err := sse.DecodeChunk(frame)
//	    ...
//	}
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)
	scanner.Split(splitFrames)
	return scanner
}

func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte(frameTerminator)); i >= 0 {
		end := i + len(frameTerminator)
		return end, data[:end], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
