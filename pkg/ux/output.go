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
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorPrimary = lipgloss.Color("#20B9B4")
	ColorBright  = lipgloss.Color("#2CD7C7")
	ColorDeep    = lipgloss.Color("#16858E")
	ColorSlate   = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorBright),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Printer writes status lines styled for its Level.
//
// # Description
//
// LevelRich renders icons and colors, LevelPlain renders the bare text and
// LevelMachine prefixes each line with its kind (SUCCESS:, ERROR:, ...) so
// scripts can match on it.
type Printer struct {
	w     io.Writer
	level Level
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, level Level) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's output level.
func (p *Printer) Level() Level {
	return p.level
}

// Title prints a styled title.
func (p *Printer) Title(text string) {
	p.line("TITLE", "", Styles.Title, text)
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.line("SUCCESS", IconSuccess, Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.line("WARNING", IconWarning, Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.line("ERROR", IconError, Styles.Error, text)
}

// Muted prints de-emphasized text.
func (p *Printer) Muted(text string) {
	p.line("INFO", "", Styles.Muted, text)
}

// Box prints content in a bordered box under title.
func (p *Printer) Box(title, content string) {
	if p.level != LevelRich {
		if title != "" {
			p.Title(title)
		}
		fmt.Fprintln(p.w, content)
		return
	}
	body := content
	if title != "" {
		body = Styles.Title.Render(title) + "\n" + content
	}
	fmt.Fprintln(p.w, Styles.Box.Render(body))
}

func (p *Printer) line(kind string, icon Icon, style lipgloss.Style, text string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "%s: %s\n", kind, text)
	case LevelRich:
		if icon != "" {
			fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
			return
		}
		fmt.Fprintln(p.w, style.Render(text))
	default:
		fmt.Fprintln(p.w, text)
	}
}
