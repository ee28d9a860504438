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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
)

// LinterAutoFixID is the strategy ID of LinterAutoFix.
const LinterAutoFixID = "linter-autofix"

// DefaultAutoFixConfidence is LinterAutoFix's confidence for findings the
// linter marks as safely fixable.
const DefaultAutoFixConfidence = 0.85

// LinterAutoFix runs the linter's fix mode on a copy of the file.
//
// Description:
//
//	Only findings the linter itself reports as safely auto-fixable are
//	scored; the fix mode does not apply unsafe fixes. The fix mode
//	rewrites every fixable finding in the file, so one successful edit
//	can resolve several issues.
//
// Thread Safety: Safe for concurrent use.
type LinterAutoFix struct {
	runner     *lint.Runner
	root       string
	confidence float64
	logger     *slog.Logger
}

// AutoFixOption configures LinterAutoFix.
type AutoFixOption func(*LinterAutoFix)

// WithAutoFixConfidence overrides DefaultAutoFixConfidence.
func WithAutoFixConfidence(c float64) AutoFixOption {
	return func(s *LinterAutoFix) {
		if c >= 0 && c <= 1 {
			s.confidence = c
		}
	}
}

// WithAutoFixLogger sets the strategy's logger.
func WithAutoFixLogger(l *slog.Logger) AutoFixOption {
	return func(s *LinterAutoFix) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewLinterAutoFix creates the strategy.
//
// Inputs:
//
//	runner - Linter runner; must not be nil
//	root - Directory relative issue paths resolve against
//
// Outputs:
//
//	*LinterAutoFix - The strategy
//	error - lint.ErrInvalidInput if runner is nil
func NewLinterAutoFix(runner *lint.Runner, root string, opts ...AutoFixOption) (*LinterAutoFix, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: runner must not be nil", lint.ErrInvalidInput)
	}
	s := &LinterAutoFix{
		runner:     runner,
		root:       root,
		confidence: DefaultAutoFixConfidence,
		logger:     slog.Default().With("component", "strategies.autofix"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID implements registry.Strategy.
func (s *LinterAutoFix) ID() string { return LinterAutoFixID }

// Capabilities implements registry.Strategy.
func (s *LinterAutoFix) Capabilities() []issue.Category {
	return []issue.Category{
		issue.CategoryLint,
		issue.CategoryFormat,
		issue.CategoryImportError,
	}
}

// Confidence implements registry.Strategy.
func (s *LinterAutoFix) Confidence(iss issue.Issue) (float64, error) {
	if iss.MetaValue(lint.MetaAutofixable) != "true" || iss.MetaValue(lint.MetaFixSafe) != "true" {
		return 0, nil
	}
	language := s.language(iss)
	cfg := s.runner.Configs().Get(language)
	if cfg == nil || !cfg.SupportsFix() || !s.runner.IsAvailable(language) {
		return 0, nil
	}
	return s.confidence, nil
}

// Apply implements registry.Strategy.
func (s *LinterAutoFix) Apply(ctx context.Context, iss issue.Issue) (*issue.ProposedEdit, error) {
	_, content, err := readTarget(s.root, iss)
	if err != nil {
		return nil, err
	}
	language := s.language(iss)

	fixed, err := s.runner.AutoFixContent(ctx, content, language)
	if err != nil {
		if errors.Is(err, lint.ErrLinterNotInstalled) {
			s.logger.Warn("Linter disappeared since routing",
				slog.String("language", language),
				slog.String("rule", iss.Rule),
			)
		}
		return nil, err
	}

	patch, err := unifiedPatch(iss.Location.File, content, fixed)
	if err != nil {
		return nil, err
	}
	return &issue.ProposedEdit{
		File:      iss.Location.File,
		Patch:     patch,
		Rationale: fmt.Sprintf("%s fix mode for %s", s.linterName(language), iss.Rule),
	}, nil
}

func (s *LinterAutoFix) language(iss issue.Issue) string {
	if lang := iss.MetaValue(lint.MetaLanguage); lang != "" {
		return lang
	}
	return s.runner.Configs().LanguageFor(iss.Location.File)
}

func (s *LinterAutoFix) linterName(language string) string {
	if cfg := s.runner.Configs().Get(language); cfg != nil {
		return cfg.Command
	}
	return "linter"
}
