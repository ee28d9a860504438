// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package converge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/services/autofix/batch"
	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/events"
	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/registry"
)

var marker = []byte("BROKEN")

// markerCollector reports one issue per file that still contains the marker.
type markerCollector struct {
	root       string
	categories map[string]issue.Category
}

func (c *markerCollector) Collect(context.Context) ([]issue.Issue, error) {
	names := make([]string, 0, len(c.categories))
	for name := range c.categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []issue.Issue
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(c.root, name))
		if err != nil {
			return nil, err
		}
		if bytes.Contains(data, marker) {
			out = append(out, issue.New(c.categories[name],
				issue.Location{File: name, Line: 1, Column: 1}, "marker", "file is broken"))
		}
	}
	return out, nil
}

// markerStrategy removes the marker from import errors.
type markerStrategy struct {
	root string
}

func (s *markerStrategy) ID() string { return "S" }

func (s *markerStrategy) Capabilities() []issue.Category {
	return []issue.Category{issue.CategoryImportError}
}

func (s *markerStrategy) Confidence(issue.Issue) (float64, error) { return 0.9, nil }

func (s *markerStrategy) Apply(_ context.Context, iss issue.Issue) (*issue.ProposedEdit, error) {
	data, err := os.ReadFile(filepath.Join(s.root, iss.Location.File))
	if err != nil {
		return nil, err
	}
	return &issue.ProposedEdit{
		Content:   bytes.ReplaceAll(data, marker, []byte("fixed")),
		Rationale: "remove marker",
	}, nil
}

// Issues {A: import error, B: import error, C: no capable strategy}. The
// single strategy fixes A and B in iteration 1; C is carried forward with
// no progress until the loop stalls.
func TestRun_ABCScenarioStallsWithUnroutableRemainder(t *testing.T) {
	root := t.TempDir()
	categories := map[string]issue.Category{
		"a.py": issue.CategoryImportError,
		"b.py": issue.CategoryImportError,
		"c.py": issue.CategorySecurity,
	}
	for name := range categories {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("import BROKEN\n"), 0o644))
	}

	reg := registry.New()
	require.NoError(t, reg.Register(&markerStrategy{root: root}))
	reg.Freeze()

	ed, err := editor.New(root, editor.NopValidator{})
	require.NoError(t, err)
	exec, err := batch.New(reg, ed)
	require.NoError(t, err)

	rec := events.NewRecorder()
	loop, err := New(&markerCollector{root: root, categories: categories}, exec, WithEvents(rec))
	require.NoError(t, err)

	res, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateStalled, res.TerminalState)
	require.Len(t, res.Iterations, 4)
	assert.Equal(t, 1, res.FinalIssueCount)

	first := res.Iterations[0]
	assert.Equal(t, 3, first.IssuesBefore)
	assert.Equal(t, 1, first.IssuesAfter)
	assert.Equal(t, 2, first.FixesApplied)
	assert.Equal(t, 1, first.Skipped)
	for _, it := range res.Iterations[1:] {
		assert.Zero(t, it.Progress)
		assert.Zero(t, it.FixesApplied)
	}
	assert.Equal(t, 3, res.Iterations[3].NoProgressStreak)

	require.Len(t, res.Fixed, 2)
	for _, f := range res.Fixed {
		assert.Equal(t, "S", f.StrategyID)
		assert.Equal(t, 1, f.Iteration)
	}

	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "c.py", res.Unresolved[0].Issue.Location.File)
	assert.Equal(t, ReasonUnroutable, res.Unresolved[0].Reason)

	for _, name := range []string{"a.py", "b.py"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		require.NoError(t, err)
		assert.Equal(t, "import fixed\n", string(data))
	}
	data, err := os.ReadFile(filepath.Join(root, "c.py"))
	require.NoError(t, err)
	assert.Equal(t, "import BROKEN\n", string(data), "unroutable issues are never edited")

	assert.Len(t, rec.EventsByType(events.TypeIterationComplete), 4)
}

// A strategy whose edits always fail validation makes no progress, so the
// loop stalls after exactly three iterations and leaves files untouched.
func TestRun_AlwaysRolledBackStallsAtThree(t *testing.T) {
	root := t.TempDir()
	categories := map[string]issue.Category{"a.py": issue.CategoryImportError}
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("import BROKEN\n"), 0o644))

	reg := registry.New()
	require.NoError(t, reg.Register(&markerStrategy{root: root}))
	reg.Freeze()

	ed, err := editor.New(root, rejectAll{})
	require.NoError(t, err)
	exec, err := batch.New(reg, ed)
	require.NoError(t, err)

	loop, err := New(&markerCollector{root: root, categories: categories}, exec)
	require.NoError(t, err)

	res, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStalled, res.TerminalState)
	assert.Len(t, res.Iterations, 3)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, ReasonValidationExhausted, res.Unresolved[0].Reason)

	data, err := os.ReadFile(filepath.Join(root, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, "import BROKEN\n", string(data))
}

type rejectAll struct{}

func (rejectAll) SyntaxCheck(_ context.Context, path string) (bool, []issue.Diagnostic, error) {
	return false, []issue.Diagnostic{{File: path, Line: 1, Severity: issue.SeverityError, Message: "rejected"}}, nil
}

func (rejectAll) QualityCheck(context.Context, string) ([]issue.Diagnostic, error) {
	return nil, nil
}
