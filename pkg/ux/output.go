// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the autofix CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette, deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	case IconPending:
		return Styles.Muted
	default:
		return lipgloss.NewStyle()
	}
}

// machineTag is the line prefix used for icons in ModeMachine.
func (i Icon) machineTag() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "ERROR"
	case IconPending:
		return "PENDING"
	default:
		return "INFO"
	}
}

// =============================================================================
// PRINTER
// =============================================================================

// Printer writes mode-aware output to one destination.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer. Use DetectMode for the default mode.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Writer returns the destination.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Style renders text with s in ModeRich and returns it unchanged otherwise.
func (p *Printer) Style(s lipgloss.Style, text string) string {
	if p.mode != ModeRich {
		return text
	}
	return s.Render(text)
}

// Icon renders an icon for the current mode.
func (p *Printer) Icon(i Icon) string {
	return p.Style(i.style(), string(i))
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.Style(Styles.Title, text))
}

// Status prints one status line.
func (p *Printer) Status(i Icon, text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s: %s\n", i.machineTag(), text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(i), text)
}

// Success prints a success line.
func (p *Printer) Success(text string) { p.Status(IconSuccess, text) }

// Warning prints a warning line.
func (p *Printer) Warning(text string) { p.Status(IconWarning, text) }

// Error prints an error line.
func (p *Printer) Error(text string) { p.Status(IconError, text) }

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.Style(Styles.Muted, "│"), text)
}

// Muted prints secondary text. Machine mode omits it.
func (p *Printer) Muted(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.Style(Styles.Muted, text))
}

// Box prints a titled block. Plain mode indents the content instead of
// drawing a border; machine mode prints "title: line" pairs.
func (p *Printer) Box(title string, lines []string) {
	p.box(Styles.Box, Styles.Title, title, lines)
}

// WarningBox is Box with warning colors.
func (p *Printer) WarningBox(title string, lines []string) {
	p.box(Styles.WarningBox, Styles.Warning.Bold(true), title, lines)
}

func (p *Printer) box(frame, heading lipgloss.Style, title string, lines []string) {
	switch p.mode {
	case ModeMachine:
		for _, line := range lines {
			fmt.Fprintf(p.w, "%s: %s\n", title, line)
		}
	case ModePlain:
		fmt.Fprintln(p.w, title)
		for _, line := range lines {
			fmt.Fprintf(p.w, "  %s\n", line)
		}
	default:
		body := heading.Render(title)
		if len(lines) > 0 {
			body += "\n" + strings.Join(lines, "\n")
		}
		fmt.Fprintln(p.w, frame.Render(body))
	}
}

// KeyValues prints aligned "key  value" rows.
func (p *Printer) KeyValues(rows [][2]string) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	for _, r := range rows {
		if p.mode == ModeMachine {
			fmt.Fprintf(p.w, "%s=%s\n", r[0], r[1])
			continue
		}
		key := fmt.Sprintf("%-*s", width, r[0])
		fmt.Fprintf(p.w, "  %s  %s\n", p.Style(Styles.Muted, key), r[1])
	}
}

// ProgressBar renders a progress bar, or "current/total" in machine mode.
func (p *Printer) ProgressBar(current, total, width int) string {
	if p.mode == ModeMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	pct = min(max(pct, 0), 1)
	filled := int(pct * float64(width))
	bar := p.Style(Styles.Success, strings.Repeat("█", filled)) +
		p.Style(Styles.Muted, strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
