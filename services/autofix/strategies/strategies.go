// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategies provides the built-in fixers.
//
//   - SuggestionReplace applies the replacement a linter attached to the
//     finding. Highest confidence, touches only the reported range.
//   - LinterAutoFix runs the linter's own fix mode on a copy of the file.
//   - LLMRewrite asks an OpenAI-compatible model for a corrected file.
//
// Whole-file strategies emit unified diffs rather than full content, so an
// edit computed from a stale read fails its context check in the editor
// instead of overwriting a concurrent fix to the same file.
//
// None of the strategies write to disk.
package strategies

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// Sentinel errors for strategies.
var (
	// ErrNoChange indicates the strategy produced content identical to the file.
	ErrNoChange = errors.New("strategy produced no change")

	// ErrNoFix indicates the issue carries no linter-provided fix.
	ErrNoFix = errors.New("issue carries no fix")

	// ErrFileTooLarge indicates the file exceeds the strategy's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrMalformedResponse indicates a model reply without a usable code block.
	ErrMalformedResponse = errors.New("malformed model response")
)

// patchContext is the number of context lines in generated diffs.
const patchContext = 3

// readTarget reads the issue's file, resolving relative paths against root.
func readTarget(root string, iss issue.Issue) (string, []byte, error) {
	path := iss.Location.File
	if path == "" {
		return "", nil, fmt.Errorf("%w: issue has no file", issue.ErrInvalidIssue)
	}
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return path, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return path, data, nil
}

// unifiedPatch returns a unified diff from before to after for file.
//
// Description:
//
//	Lines are split after each newline. A final line without a newline
//	is terminated so both sides compare equal; the editor keeps the
//	file's existing end-of-file newline state.
//
// Outputs:
//
//	string - The diff
//	error - ErrNoChange when before and after are identical
func unifiedPatch(file string, before, after []byte) (string, error) {
	if string(before) == string(after) {
		return "", ErrNoChange
	}
	patch, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(string(before)),
		B:        splitLines(string(after)),
		FromFile: "a/" + filepath.ToSlash(file),
		ToFile:   "b/" + filepath.ToSlash(file),
		Context:  patchContext,
	})
	if err != nil {
		return "", fmt.Errorf("computing diff: %w", err)
	}
	if patch == "" {
		return "", ErrNoChange
	}
	return patch, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}
