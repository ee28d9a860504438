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
	"bytes"
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
)

// ruffFixExec emulates `ruff check --fix` by dropping `import os` lines from
// the file passed as the last argument.
func ruffFixExec(_ context.Context, _, _ string, args []string) ([]byte, []byte, error) {
	if !slices.Contains(args, "--fix") {
		return []byte("[]"), nil, nil
	}
	path := args[len(args)-1]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	fixed := bytes.ReplaceAll(data, []byte("import os\n"), nil)
	return []byte("[]"), nil, os.WriteFile(path, fixed, 0o644)
}

func autofixIssue(file string) issue.Issue {
	iss := issue.New(issue.CategoryImportError, issue.Location{File: file, Line: 1, Column: 8}, "F401", "`os` imported but unused")
	iss.Meta = map[string]string{
		lint.MetaLinter:      "ruff",
		lint.MetaLanguage:    "python",
		lint.MetaAutofixable: "true",
		lint.MetaFixSafe:     "true",
	}
	return iss
}

func newAutoFix(t *testing.T, root string, exec lint.Executor) (*LinterAutoFix, *lint.Runner) {
	t.Helper()
	runner := lint.NewRunner(lint.WithExecutor(exec))
	runner.SetAvailable("python", true)
	s, err := NewLinterAutoFix(runner, root)
	require.NoError(t, err)
	return s, runner
}

func TestNewLinterAutoFix_NilRunner(t *testing.T) {
	_, err := NewLinterAutoFix(nil, "")
	assert.ErrorIs(t, err, lint.ErrInvalidInput)
}

func TestLinterAutoFix_Confidence(t *testing.T) {
	s, runner := newAutoFix(t, "", ruffFixExec)

	c, err := s.Confidence(autofixIssue("a.py"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAutoFixConfidence, c)

	unsafe := autofixIssue("a.py")
	unsafe.Meta[lint.MetaFixSafe] = "false"
	c, _ = s.Confidence(unsafe)
	assert.Zero(t, c, "fix mode skips unsafe fixes")

	manual := autofixIssue("a.py")
	manual.Meta[lint.MetaAutofixable] = "false"
	c, _ = s.Confidence(manual)
	assert.Zero(t, c)

	unknown := autofixIssue("a.txt")
	unknown.Meta[lint.MetaLanguage] = "cobol"
	c, _ = s.Confidence(unknown)
	assert.Zero(t, c)

	runner.SetAvailable("python", false)
	c, _ = s.Confidence(autofixIssue("a.py"))
	assert.Zero(t, c, "linter not installed")
}

func TestLinterAutoFix_LanguageFromExtension(t *testing.T) {
	s, _ := newAutoFix(t, "", ruffFixExec)
	iss := autofixIssue("pkg/mod.py")
	delete(iss.Meta, lint.MetaLanguage)
	c, err := s.Confidence(iss)
	require.NoError(t, err)
	assert.Equal(t, DefaultAutoFixConfidence, c)
}

func TestLinterAutoFix_Apply(t *testing.T) {
	root := writeRoot(t, "app.py", "import os\nimport sys\n\nprint(sys.argv)\n")
	s, _ := newAutoFix(t, root, ruffFixExec)

	edit, err := s.Apply(context.Background(), autofixIssue("app.py"))
	require.NoError(t, err)
	assert.Equal(t, issue.EditKindPatch, edit.Kind())
	assert.Equal(t, "ruff fix mode for F401", edit.Rationale)
	assert.Equal(t, "import os\nimport sys\n\nprint(sys.argv)\n", readRoot(t, root, "app.py"), "strategies never write")

	out := applyEdit(t, root, "app.py", edit)
	require.Equal(t, editor.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "import sys\n\nprint(sys.argv)\n", readRoot(t, root, "app.py"))
}

func TestLinterAutoFix_NoChange(t *testing.T) {
	root := writeRoot(t, "app.py", "import sys\n")
	s, _ := newAutoFix(t, root, ruffFixExec)
	_, err := s.Apply(context.Background(), autofixIssue("app.py"))
	assert.ErrorIs(t, err, ErrNoChange)
}

func TestLinterAutoFix_LinterFailure(t *testing.T) {
	root := writeRoot(t, "app.py", "import os\n")
	s, runner := newAutoFix(t, root, func(context.Context, string, string, []string) ([]byte, []byte, error) {
		return nil, []byte("boom"), errors.New("exit status 2")
	})

	_, err := s.Apply(context.Background(), autofixIssue("app.py"))
	assert.ErrorIs(t, err, lint.ErrLinterFailed)

	runner.SetAvailable("python", false)
	_, err = s.Apply(context.Background(), autofixIssue("app.py"))
	assert.ErrorIs(t, err, lint.ErrLinterNotInstalled)
}
