// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package issue holds the records shared by every stage of the autofix engine.
//
// Issues are values. The engine never mutates an Issue after it has been
// collected; an issue is considered resolved when it is absent from the next
// collection.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// =============================================================================
// CATEGORY
// =============================================================================

// Category is the closed set of issue categories strategies can declare.
//
// The zero value means "missing" and is never produced by ParseCategory.
type Category string

const (
	CategoryLint        Category = "lint"
	CategoryTypeError   Category = "type_error"
	CategorySecurity    Category = "security"
	CategoryTestFailure Category = "test_failure"
	CategoryImportError Category = "import_error"
	CategorySyntaxError Category = "syntax_error"
	CategoryFormat      Category = "format"

	// CategoryOther is for analyzer findings that map to no specific category.
	CategoryOther Category = "other"
)

var allCategories = []Category{
	CategoryLint,
	CategoryTypeError,
	CategorySecurity,
	CategoryTestFailure,
	CategoryImportError,
	CategorySyntaxError,
	CategoryFormat,
	CategoryOther,
}

// Categories returns every valid category in declaration order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a string to a Category.
//
// Description:
//
//	Accepts the canonical lower-case names only. Unknown names are an
//	error rather than silently mapping to CategoryOther, so config typos
//	surface at startup.
//
// Inputs:
//
//	s - Category name (e.g., "import_error")
//
// Outputs:
//
//	Category - The parsed category
//	error - Non-nil if s is not a known category
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidIssue, s)
	}
	return c, nil
}

// =============================================================================
// SEVERITY
// =============================================================================

// Severity represents the severity level of an issue or diagnostic.
type Severity int

const (
	// SeverityInfo represents informational/style findings.
	SeverityInfo Severity = iota

	// SeverityWarning represents findings that should be noted.
	SeverityWarning

	// SeverityError represents blocking findings.
	SeverityError
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = SeverityFromString(string(text))
	return nil
}

// SeverityFromString parses common severity strings from different tools.
// Unknown values default to SeverityWarning.
func SeverityFromString(s string) Severity {
	switch s {
	case "error", "err", "fatal", "critical":
		return SeverityError
	case "warning", "warn":
		return SeverityWarning
	case "info", "note", "style", "hint":
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// =============================================================================
// LOCATION
// =============================================================================

// Location identifies where an issue was reported.
type Location struct {
	// File is the path as reported by the collector.
	File string `json:"file"`

	// Line is 1-indexed. Zero when the tool reports a file-level finding.
	Line int `json:"line"`

	// Column is 1-indexed. Zero when unknown.
	Column int `json:"column,omitempty"`
}

// IsZero reports whether the location carries no file.
func (l Location) IsZero() bool {
	return l.File == ""
}

// String returns file:line:col, omitting unknown parts.
func (l Location) String() string {
	switch {
	case l.Line > 0 && l.Column > 0:
		return l.File + ":" + strconv.Itoa(l.Line) + ":" + strconv.Itoa(l.Column)
	case l.Line > 0:
		return l.File + ":" + strconv.Itoa(l.Line)
	default:
		return l.File
	}
}

// =============================================================================
// ISSUE
// =============================================================================

// Issue is the normalized record of one detected problem.
//
// Thread Safety: Immutable after creation. Meta must not be modified once
// the issue has been handed to the engine.
type Issue struct {
	// Fingerprint is the stable identity of the issue across iterations.
	Fingerprint string `json:"fingerprint"`

	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Location Location `json:"location"`

	// Rule is the analyzer rule code (e.g., "F401", "errcheck").
	Rule string `json:"rule,omitempty"`

	Message string `json:"message"`

	// Meta is opaque raw-tool metadata. Strategies may read it.
	Meta map[string]string `json:"meta,omitempty"`

	// DetectedAt is the loop iteration that produced this record.
	DetectedAt int `json:"detected_at"`
}

// New creates an issue and computes its fingerprint.
//
// Inputs:
//
//	category - Issue category
//	loc - Where the issue was reported
//	rule - Analyzer rule code
//	message - Human-readable description
//
// Outputs:
//
//	Issue - The issue with Fingerprint set and SeverityWarning
func New(category Category, loc Location, rule, message string) Issue {
	return Issue{
		Fingerprint: Fingerprint(loc, rule),
		Category:    category,
		Severity:    SeverityWarning,
		Location:    loc,
		Rule:        rule,
		Message:     message,
	}
}

// MetaValue returns a metadata value or "" when absent.
func (i Issue) MetaValue(key string) string {
	if i.Meta == nil {
		return ""
	}
	return i.Meta[key]
}

// WithIteration returns a copy of the issue stamped with the iteration index.
func (i Issue) WithIteration(iteration int) Issue {
	i.DetectedAt = iteration
	return i
}

// Fingerprint computes the stable identity of an issue.
//
// The hash covers file, line, column and rule code only, so the same finding
// reported in two iterations produces the same fingerprint even if the tool
// rewords the message.
func Fingerprint(loc Location, rule string) string {
	h := sha256.New()
	h.Write([]byte(loc.File))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(loc.Line)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(loc.Column)))
	h.Write([]byte{0})
	h.Write([]byte(rule))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
