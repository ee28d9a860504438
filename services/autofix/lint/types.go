// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"time"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// =============================================================================
// LINTER CONFIG
// =============================================================================

// LinterConfig configures how to run a specific linter.
//
// Thread Safety: Treat as immutable after creation.
type LinterConfig struct {
	// Language is the language this linter handles (e.g., "go", "python").
	Language string `yaml:"language"`

	// Command is the linter executable name (e.g., "golangci-lint").
	Command string `yaml:"command"`

	// Args are the arguments to pass to the linter.
	// Should include flags for JSON output.
	Args []string `yaml:"args"`

	// Extensions are file extensions this linter handles (e.g., []string{".go"}).
	Extensions []string `yaml:"extensions"`

	// Timeout is the maximum time to wait for the linter.
	Timeout time.Duration `yaml:"timeout"`

	// FixArgs are arguments for running the linter in fix mode.
	// Empty if the linter doesn't support auto-fix.
	FixArgs []string `yaml:"fix_args"`
}

// Clone returns a deep copy of the config.
func (c *LinterConfig) Clone() *LinterConfig {
	clone := *c
	clone.Args = append([]string(nil), c.Args...)
	clone.Extensions = append([]string(nil), c.Extensions...)
	clone.FixArgs = append([]string(nil), c.FixArgs...)
	return &clone
}

// SupportsFix reports whether the linter has a fix mode.
func (c *LinterConfig) SupportsFix() bool {
	return len(c.FixArgs) > 0
}

// =============================================================================
// FINDING
// =============================================================================

// Finding is a single problem reported by a linter, before normalization
// into an issue.Issue.
//
// Thread Safety: Immutable after creation.
type Finding struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	EndColumn int    `json:"end_column,omitempty"`

	// Rule is the linter rule that triggered (e.g., "errcheck", "E501").
	Rule    string `json:"rule"`
	RuleURL string `json:"rule_url,omitempty"`

	Severity issue.Severity `json:"severity"`
	Message  string         `json:"message"`

	// Suggestion is the linter's human-readable fix description.
	Suggestion string `json:"suggestion,omitempty"`

	// Fix is the machine-applicable fix, if the linter offered one.
	Fix *Fix `json:"fix,omitempty"`

	// Linter is the name of the linter that found this issue.
	Linter string `json:"linter,omitempty"`
}

// CanAutoFix reports whether the finding carries an applicable fix.
func (f *Finding) CanAutoFix() bool {
	return f.Fix != nil && (len(f.Fix.Edits) > 0 || len(f.Fix.Offsets) > 0)
}

// Location returns the finding's position as an issue.Location.
func (f *Finding) Location() issue.Location {
	return issue.Location{File: f.File, Line: f.Line, Column: f.Column}
}

// Fix is a linter-provided fix.
//
// Linters report fixes either as line/column ranges (ruff, golangci-lint)
// or as byte offsets into the file (eslint).
type Fix struct {
	Edits   []issue.RangeReplacement `json:"edits,omitempty"`
	Offsets []OffsetEdit             `json:"offsets,omitempty"`

	// Safe is false when the linter marks the fix as possibly changing behavior.
	Safe    bool   `json:"safe"`
	Message string `json:"message,omitempty"`
}

// OffsetEdit replaces bytes [Start, End) with Text.
type OffsetEdit struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// =============================================================================
// RESULT
// =============================================================================

// Result contains the outcome of running a linter on one file.
//
// Thread Safety: Immutable after creation by the runner.
type Result struct {
	// Valid is true if no blocking findings were reported.
	Valid bool `json:"valid"`

	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
	Infos    []Finding `json:"infos,omitempty"`

	Duration time.Duration `json:"duration"`
	Linter   string        `json:"linter"`
	Language string        `json:"language"`

	// FilePath is the file that was linted (may be "<content>").
	FilePath string `json:"file_path,omitempty"`

	// LinterAvailable is false when the linter was not found. The result
	// is then empty and Valid.
	LinterAvailable bool `json:"linter_available"`
}

// HasErrors returns true if there are any blocking findings.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// All returns every finding, errors first.
func (r *Result) All() []Finding {
	out := make([]Finding, 0, len(r.Errors)+len(r.Warnings)+len(r.Infos))
	out = append(out, r.Errors...)
	out = append(out, r.Warnings...)
	out = append(out, r.Infos...)
	return out
}

// Count returns the total number of findings.
func (r *Result) Count() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Infos)
}

// Diagnostics converts the findings into validator diagnostics.
func (r *Result) Diagnostics() []issue.Diagnostic {
	all := r.All()
	out := make([]issue.Diagnostic, 0, len(all))
	for _, f := range all {
		out = append(out, issue.Diagnostic{
			File:     f.File,
			Line:     f.Line,
			Column:   f.Column,
			Rule:     f.Rule,
			Severity: f.Severity,
			Message:  f.Message,
			Source:   r.Linter,
		})
	}
	return out
}

func emptyResult(language, linter, path string, available bool, d time.Duration) *Result {
	return &Result{
		Valid:           true,
		Errors:          make([]Finding, 0),
		Warnings:        make([]Finding, 0),
		Duration:        d,
		Linter:          linter,
		Language:        language,
		FilePath:        path,
		LinterAvailable: available,
	}
}
