// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders assistant output in the terminal.
package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level defines the richness of CLI output.
type Level string

const (
	// LevelRich enables colors, boxes and the waiting indicator.
	LevelRich Level = "rich"

	// LevelPlain prints answer text only, no styling.
	LevelPlain Level = "plain"

	// LevelMachine prints prefixed lines suitable for scripting and parsing.
	LevelMachine Level = "machine"
)

// ParseLevel converts a string to a Level. Unknown values are plain.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "r":
		return LevelRich
	case "machine", "quiet", "q":
		return LevelMachine
	default:
		return LevelPlain
	}
}

// DetectLevel picks a Level for w.
//
// # Description
//
// CCNL_OUTPUT overrides detection. Otherwise a terminal gets LevelRich and
// anything else (pipes, files, buffers) gets LevelMachine.
func DetectLevel(w io.Writer) Level {
	if env := os.Getenv("CCNL_OUTPUT"); env != "" {
		return ParseLevel(env)
	}
	if isTerminal(w) {
		return LevelRich
	}
	return LevelMachine
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
