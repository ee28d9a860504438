// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategies

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
)

// SuggestionReplaceID is the strategy ID of SuggestionReplace.
const SuggestionReplaceID = "linter-suggestion"

// Confidence levels for linter-provided fixes.
const (
	SafeSuggestionConfidence   = 0.92
	UnsafeSuggestionConfidence = 0.55
)

// SuggestionReplace applies the fix a linter attached to a finding.
//
// Description:
//
//	Reads the fix stored by lint.Collector in the issue's metadata.
//	Line/column edits (golangci-lint, ruff) become range replacements
//	directly. Offset edits (eslint) are converted against the current
//	file content; eslint offsets count UTF-16 code units.
//
//	Fixes the linter marks unsafe score UnsafeSuggestionConfidence,
//	below the default routing threshold.
//
// Thread Safety: Safe for concurrent use.
type SuggestionReplace struct {
	root string
}

// NewSuggestionReplace creates the strategy. Relative issue paths resolve
// against root.
func NewSuggestionReplace(root string) *SuggestionReplace {
	return &SuggestionReplace{root: root}
}

// ID implements registry.Strategy.
func (s *SuggestionReplace) ID() string { return SuggestionReplaceID }

// Capabilities implements registry.Strategy.
func (s *SuggestionReplace) Capabilities() []issue.Category {
	return []issue.Category{
		issue.CategoryLint,
		issue.CategoryFormat,
		issue.CategoryImportError,
		issue.CategoryTypeError,
		issue.CategorySecurity,
		issue.CategoryOther,
	}
}

// Confidence implements registry.Strategy.
func (s *SuggestionReplace) Confidence(iss issue.Issue) (float64, error) {
	fix, err := lint.DecodeFix(iss)
	if err != nil {
		return 0, err
	}
	if fix == nil || (len(fix.Edits) == 0 && len(fix.Offsets) == 0) {
		return 0, nil
	}
	if fix.Safe {
		return SafeSuggestionConfidence, nil
	}
	return UnsafeSuggestionConfidence, nil
}

// Apply implements registry.Strategy.
func (s *SuggestionReplace) Apply(_ context.Context, iss issue.Issue) (*issue.ProposedEdit, error) {
	fix, err := lint.DecodeFix(iss)
	if err != nil {
		return nil, err
	}
	if fix == nil || (len(fix.Edits) == 0 && len(fix.Offsets) == 0) {
		return nil, ErrNoFix
	}

	reps := append([]issue.RangeReplacement(nil), fix.Edits...)
	if len(reps) == 0 {
		_, content, err := readTarget(s.root, iss)
		if err != nil {
			return nil, err
		}
		reps, err = offsetsToRanges(content, fix.Offsets)
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(reps, func(i, j int) bool {
		if reps[i].StartLine != reps[j].StartLine {
			return reps[i].StartLine < reps[j].StartLine
		}
		return reps[i].StartColumn < reps[j].StartColumn
	})

	rationale := fix.Message
	if rationale == "" {
		rationale = fmt.Sprintf("apply %s suggestion for %s", iss.MetaValue(lint.MetaLinter), iss.Rule)
	}
	return &issue.ProposedEdit{
		File:         iss.Location.File,
		Replacements: reps,
		BaseDigest:   iss.MetaValue(lint.MetaDigest),
		Rationale:    rationale,
	}, nil
}

// offsetsToRanges converts UTF-16 offset edits into line/byte-column ranges.
func offsetsToRanges(content []byte, edits []lint.OffsetEdit) ([]issue.RangeReplacement, error) {
	type pos struct{ line, col int }
	wanted := make(map[int]pos, len(edits)*2)
	for _, e := range edits {
		if e.Start < 0 || e.End < e.Start {
			return nil, fmt.Errorf("%w: offset edit [%d,%d)", issue.ErrInvalidEdit, e.Start, e.End)
		}
		wanted[e.Start] = pos{}
		wanted[e.End] = pos{}
	}

	found := 0
	line, col, u16 := 1, 1, 0
	mark := func() {
		if _, ok := wanted[u16]; ok {
			wanted[u16] = pos{line, col}
			found++
		}
	}
	for i := 0; i < len(content); {
		mark()
		r, size := utf8.DecodeRune(content[i:])
		n := utf16.RuneLen(r)
		if n < 1 {
			n = 1
		}
		u16 += n
		if r == '\n' {
			line++
			col = 1
		} else {
			col += size
		}
		i += size
	}
	mark()
	if found != len(wanted) {
		return nil, fmt.Errorf("%w: offset outside file or inside a character", issue.ErrInvalidEdit)
	}

	out := make([]issue.RangeReplacement, 0, len(edits))
	for _, e := range edits {
		from, to := wanted[e.Start], wanted[e.End]
		out = append(out, issue.RangeReplacement{
			StartLine:   from.line,
			StartColumn: from.col,
			EndLine:     to.line,
			EndColumn:   to.col,
			NewText:     e.Text,
		})
	}
	return out, nil
}
