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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// Issue metadata keys written by the Collector.
const (
	MetaLinter      = "linter"
	MetaLanguage    = "language"
	MetaRuleURL     = "rule_url"
	MetaSuggestion  = "suggestion"
	MetaFix         = "fix"
	MetaAutofixable = "autofixable"
	MetaFixSafe     = "fix_safe"

	// MetaDigest is the issue.ContentDigest of the file as it was linted.
	MetaDigest = "content_digest"
)

// Collector turns linter findings over a source tree into issues.
//
// Description:
//
//	Each Collect call lints every supported file under the root (or the
//	explicit file list), normalizes findings to issues with paths relative
//	to the root, and maps each rule to a category. Fix data is carried in
//	Meta as JSON for the linter-driven strategies.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	runner       *Runner
	root         string
	files        []string
	includeInfos bool
	logger       *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithFiles restricts collection to the given files (relative to root).
func WithFiles(files ...string) CollectorOption {
	return func(c *Collector) {
		c.files = append([]string(nil), files...)
	}
}

// WithInfos includes info-severity findings.
func WithInfos(include bool) CollectorOption {
	return func(c *Collector) {
		c.includeInfos = include
	}
}

// WithCollectorLogger sets the collector's logger.
func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCollector creates a collector over root using runner.
func NewCollector(runner *Runner, root string, opts ...CollectorOption) (*Collector, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: runner must not be nil", ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	c := &Collector{
		runner: runner,
		root:   abs,
		logger: slog.Default().With("component", "lint_collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root returns the absolute collection root.
func (c *Collector) Root() string {
	return c.root
}

// Collect lints the tree and returns the current issues.
//
// Outputs:
//
//	[]issue.Issue - Issues sorted as the linters reported them, per file
//	error - Non-nil if any linter failed; no partial set is returned
//
// Thread Safety: Safe for concurrent use.
func (c *Collector) Collect(ctx context.Context) ([]issue.Issue, error) {
	files, err := c.targets()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	results, err := c.runner.LintFiles(ctx, files)
	if err != nil {
		return nil, err
	}

	var out []issue.Issue
	for _, res := range results {
		if res == nil {
			continue
		}
		findings := append(append([]Finding(nil), res.Errors...), res.Warnings...)
		if c.includeInfos {
			findings = append(findings, res.Infos...)
		}
		if len(findings) == 0 {
			continue
		}
		digest := c.digest(res.FilePath)
		for _, f := range findings {
			iss := c.toIssue(res, f)
			if digest != "" {
				iss.Meta[MetaDigest] = digest
			}
			out = append(out, iss)
		}
	}

	recordCollected(ctx, len(out))
	c.logger.Debug("Collected issues",
		slog.Int("files", len(files)),
		slog.Int("issues", len(out)),
	)
	return out, nil
}

func (c *Collector) targets() ([]string, error) {
	if len(c.files) == 0 {
		return c.runner.SupportedFiles(c.root)
	}
	out := make([]string, 0, len(c.files))
	for _, f := range c.files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(c.root, f)
		}
		out = append(out, f)
	}
	return out, nil
}

// digest hashes the linted file. Positions in its findings are only valid
// against this content. An unreadable file yields "".
func (c *Collector) digest(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Debug("Cannot digest linted file",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return issue.ContentDigest(data)
}

// toIssue normalizes a finding. Linters report paths relative to their
// working directory, so relative paths inherit the linted file's path.
func (c *Collector) toIssue(res *Result, f Finding) issue.Issue {
	file := f.File
	if file == "" || !filepath.IsAbs(file) {
		file = res.FilePath
	}
	loc := issue.Location{File: c.rel(file), Line: f.Line, Column: f.Column}

	iss := issue.New(Categorize(res.Language, f.Rule), loc, f.Rule, f.Message)
	iss.Severity = f.Severity

	meta := map[string]string{
		MetaLinter:      res.Linter,
		MetaLanguage:    res.Language,
		MetaAutofixable: strconv.FormatBool(f.CanAutoFix()),
	}
	if f.RuleURL != "" {
		meta[MetaRuleURL] = f.RuleURL
	}
	if f.Suggestion != "" {
		meta[MetaSuggestion] = f.Suggestion
	}
	if f.Fix != nil {
		if raw, err := json.Marshal(f.Fix); err == nil {
			meta[MetaFix] = string(raw)
		}
		meta[MetaFixSafe] = strconv.FormatBool(f.Fix.Safe)
	}
	iss.Meta = meta
	return iss
}

// rel returns path relative to the root, slash-separated. Paths outside
// the root are returned unchanged.
func (c *Collector) rel(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	r, err := filepath.Rel(c.root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(r)
}

// DecodeFix reads the fix stored in an issue's metadata.
//
// Outputs:
//
//	*Fix - The fix, or nil when the issue carries none
//	error - Non-nil if the stored fix is malformed
func DecodeFix(iss issue.Issue) (*Fix, error) {
	raw := iss.MetaValue(MetaFix)
	if raw == "" {
		return nil, nil
	}
	var fix Fix
	if err := json.Unmarshal([]byte(raw), &fix); err != nil {
		return nil, fmt.Errorf("%w: decoding fix: %v", ErrInvalidInput, err)
	}
	return &fix, nil
}
