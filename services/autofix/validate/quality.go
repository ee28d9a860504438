// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
)

// LintQuality runs the file's linter as the quality check.
//
// Description:
//
//	Findings that the language's rule policy marks as blocking fail the
//	edit when the file did not already have them. Files without a configured linter, or whose linter is not
//	installed, pass with no diagnostics.
//
// Thread Safety: Safe for concurrent use.
type LintQuality struct {
	runner *lint.Runner
}

// NewLintQuality creates a quality check over runner.
func NewLintQuality(runner *lint.Runner) *LintQuality {
	return &LintQuality{runner: runner}
}

// QualityCheck lints the file at path.
func (q *LintQuality) QualityCheck(ctx context.Context, path string) ([]issue.Diagnostic, error) {
	res, err := q.runner.Lint(ctx, path)
	if errors.Is(err, lint.ErrUnsupportedLanguage) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quality check %s: %w", path, err)
	}
	return res.Diagnostics(), nil
}

// Chain runs a syntax check and then a quality check.
//
// Either half may be nil, in which case it passes. Chain implements the
// editor's Validator interface.
type Chain struct {
	Syntax interface {
		SyntaxCheck(ctx context.Context, path string) (bool, []issue.Diagnostic, error)
	}
	Quality interface {
		QualityCheck(ctx context.Context, path string) ([]issue.Diagnostic, error)
	}
}

// NewChain builds the standard tree-sitter plus linter validator.
func NewChain(runner *lint.Runner) *Chain {
	c := &Chain{Syntax: NewSyntaxValidator()}
	if runner != nil {
		c.Quality = NewLintQuality(runner)
	}
	return c
}

// SyntaxCheck delegates to the syntax half.
func (c *Chain) SyntaxCheck(ctx context.Context, path string) (bool, []issue.Diagnostic, error) {
	if c.Syntax == nil {
		return true, nil, nil
	}
	return c.Syntax.SyntaxCheck(ctx, path)
}

// QualityCheck delegates to the quality half.
func (c *Chain) QualityCheck(ctx context.Context, path string) ([]issue.Diagnostic, error) {
	if c.Quality == nil {
		return nil, nil
	}
	return c.Quality.QualityCheck(ctx, path)
}
