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
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how much styling the CLI output carries.
type Mode string

const (
	// ModeRich enables colors, icons and boxes.
	ModeRich Mode = "rich"

	// ModePlain keeps icons and layout but drops color.
	ModePlain Mode = "plain"

	// ModeMachine outputs line-oriented text suitable for scripts.
	ModeMachine Mode = "machine"
)

// ParseMode converts a flag value to a Mode. Unknown values return
// ModeRich and false.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "":
		return ModeRich, true
	case "plain", "minimal", "min":
		return ModePlain, true
	case "machine", "quiet", "q":
		return ModeMachine, true
	default:
		return ModeRich, false
	}
}

// DetectMode picks a Mode for w.
//
// Description:
//
//	AUTOFIX_OUTPUT wins when set. Otherwise a writer that is not a
//	terminal gets ModeMachine, and NO_COLOR downgrades a terminal to
//	ModePlain.
//
// Inputs:
//
//	w - The output destination. Only *os.File can be a terminal.
//
// Outputs:
//
//	Mode - The detected mode
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv("AUTOFIX_OUTPUT"); env != "" {
		if m, ok := ParseMode(env); ok {
			return m
		}
	}
	if !IsTerminal(w) {
		return ModeMachine
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return ModePlain
	}
	return ModeRich
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
