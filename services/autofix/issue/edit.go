// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Sentinel errors for the issue package.
var (
	// ErrInvalidIssue indicates a malformed issue record.
	ErrInvalidIssue = errors.New("invalid issue")

	// ErrInvalidEdit indicates a proposed edit that cannot be applied.
	ErrInvalidEdit = errors.New("invalid edit")
)

// =============================================================================
// PROPOSED EDIT
// =============================================================================

// EditKind describes how a ProposedEdit expresses the new content.
type EditKind int

const (
	EditKindNone EditKind = iota
	EditKindContent
	EditKindReplacements
	EditKindPatch
)

// RangeReplacement replaces the text between two positions.
//
// Positions are 1-indexed. Columns count bytes within the line. The end
// position is exclusive, so StartLine==EndLine && StartColumn==EndColumn
// is a pure insertion.
type RangeReplacement struct {
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
	NewText     string `json:"new_text"`
}

// ProposedEdit is a strategy's proposal for one file.
//
// Exactly one of Content, Replacements or Patch is used. Content wins when
// several are set.
//
// Thread Safety: Immutable after creation.
type ProposedEdit struct {
	// File is the target file. May be empty, in which case the caller's
	// target path is used.
	File string `json:"file"`

	// Content is the full new file content.
	Content []byte `json:"content,omitempty"`

	// Replacements are ordered, non-overlapping range replacements.
	Replacements []RangeReplacement `json:"replacements,omitempty"`

	// Patch is a unified diff touching only File.
	Patch string `json:"patch,omitempty"`

	// BaseDigest is the ContentDigest of the file the edit was computed
	// against. When set, the edit is refused if the file has changed since.
	// Positional edits built from collection-time locations must set it.
	BaseDigest string `json:"base_digest,omitempty"`

	// Rationale explains the edit for the audit trail.
	Rationale string `json:"rationale"`
}

// ContentDigest returns the hex SHA-256 of content.
func ContentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Kind returns which representation the edit uses.
func (e *ProposedEdit) Kind() EditKind {
	switch {
	case e == nil:
		return EditKindNone
	case e.Content != nil:
		return EditKindContent
	case len(e.Replacements) > 0:
		return EditKindReplacements
	case e.Patch != "":
		return EditKindPatch
	default:
		return EditKindNone
	}
}

// Validate checks the structural shape of the edit.
//
// Description:
//
//	Verifies that the edit carries content and that replacement ranges
//	are well formed and ordered. Whether the ranges fit the target file
//	is checked only when the edit is assembled against real content.
//
// Outputs:
//
//	error - Wraps ErrInvalidEdit when malformed
func (e *ProposedEdit) Validate() error {
	if e.Kind() == EditKindNone {
		return fmt.Errorf("%w: edit carries no content", ErrInvalidEdit)
	}
	if e.Kind() != EditKindReplacements {
		return nil
	}
	prevLine, prevCol := 0, 0
	for i, r := range e.Replacements {
		if r.StartLine < 1 || r.StartColumn < 1 || r.EndLine < 1 || r.EndColumn < 1 {
			return fmt.Errorf("%w: replacement %d has non-positive position", ErrInvalidEdit, i)
		}
		if r.EndLine < r.StartLine || (r.EndLine == r.StartLine && r.EndColumn < r.StartColumn) {
			return fmt.Errorf("%w: replacement %d ends before it starts", ErrInvalidEdit, i)
		}
		if r.StartLine < prevLine || (r.StartLine == prevLine && r.StartColumn < prevCol) {
			return fmt.Errorf("%w: replacement %d overlaps or is out of order", ErrInvalidEdit, i)
		}
		prevLine, prevCol = r.EndLine, r.EndColumn
	}
	return nil
}

// =============================================================================
// DIAGNOSTIC
// =============================================================================

// Diagnostic is one finding reported by a validator.
type Diagnostic struct {
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Rule     string   `json:"rule,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// Source names the validator that produced the diagnostic.
	Source string `json:"source,omitempty"`
}

// Blocking reports whether the diagnostic fails validation.
func (d Diagnostic) Blocking() bool {
	return d.Severity >= SeverityError
}

// String formats the diagnostic as "file:line: [source/rule] message".
func (d Diagnostic) String() string {
	loc := Location{File: d.File, Line: d.Line, Column: d.Column}.String()
	tag := d.Source
	if d.Rule != "" {
		if tag != "" {
			tag += "/"
		}
		tag += d.Rule
	}
	if tag != "" {
		return fmt.Sprintf("%s: [%s] %s", loc, tag, d.Message)
	}
	return fmt.Sprintf("%s: %s", loc, d.Message)
}

// AnyBlocking reports whether any diagnostic is blocking.
func AnyBlocking(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Blocking() {
			return true
		}
	}
	return false
}
