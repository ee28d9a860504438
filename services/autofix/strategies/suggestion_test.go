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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
)

func lintIssue(file string) issue.Issue {
	return issue.New(issue.CategoryLint, issue.Location{File: file, Line: 1, Column: 1}, "R1", "problem")
}

func TestSuggestionReplace_Confidence(t *testing.T) {
	s := NewSuggestionReplace("")
	edit := []issue.RangeReplacement{{StartLine: 1, StartColumn: 1, EndLine: 1, EndColumn: 2}}

	c, err := s.Confidence(lintIssue("a.py"))
	require.NoError(t, err)
	assert.Zero(t, c, "no fix attached")

	c, err = s.Confidence(withFix(lintIssue("a.py"), lint.Fix{Edits: edit, Safe: true}))
	require.NoError(t, err)
	assert.Equal(t, SafeSuggestionConfidence, c)

	c, err = s.Confidence(withFix(lintIssue("a.py"), lint.Fix{Edits: edit}))
	require.NoError(t, err)
	assert.Equal(t, UnsafeSuggestionConfidence, c)

	c, err = s.Confidence(withFix(lintIssue("a.py"), lint.Fix{Safe: true}))
	require.NoError(t, err)
	assert.Zero(t, c, "a fix without edits is not usable")

	broken := lintIssue("a.py")
	broken.Meta = map[string]string{lint.MetaFix: "{not json"}
	_, err = s.Confidence(broken)
	assert.ErrorIs(t, err, lint.ErrInvalidInput)
}

func TestSuggestionReplace_LineColumnEdits(t *testing.T) {
	root := writeRoot(t, "app.py", "import os\nimport sys\nprint(sys.argv)\n")
	iss := withFix(lintIssue("app.py"), lint.Fix{
		Edits: []issue.RangeReplacement{
			{StartLine: 1, StartColumn: 1, EndLine: 2, EndColumn: 1, NewText: ""},
		},
		Safe:    true,
		Message: "Remove unused import: `os`",
	})

	edit, err := NewSuggestionReplace(root).Apply(context.Background(), iss)
	require.NoError(t, err)
	assert.Equal(t, "app.py", edit.File)
	assert.Equal(t, "Remove unused import: `os`", edit.Rationale)
	require.Len(t, edit.Replacements, 1)

	out := applyEdit(t, root, "app.py", edit)
	require.Equal(t, editor.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "import sys\nprint(sys.argv)\n", readRoot(t, root, "app.py"))
}

func TestSuggestionReplace_StaleEditIsRejected(t *testing.T) {
	const linted = "import os\nimport os\nx = 1\ny = 2\n"
	root := writeRoot(t, "app.py", linted)
	digest := issue.ContentDigest([]byte(linted))

	removeLine := func(line int) issue.Issue {
		iss := withFix(lintIssue("app.py"), lint.Fix{
			Edits: []issue.RangeReplacement{{StartLine: line, StartColumn: 1, EndLine: line + 1, EndColumn: 1}},
			Safe:  true,
		})
		iss.Meta[lint.MetaDigest] = digest
		return iss
	}
	s := NewSuggestionReplace(root)

	first, err := s.Apply(context.Background(), removeLine(1))
	require.NoError(t, err)
	assert.Equal(t, digest, first.BaseDigest)
	second, err := s.Apply(context.Background(), removeLine(2))
	require.NoError(t, err)

	out := applyEdit(t, root, "app.py", first)
	require.Equal(t, editor.StatusSuccess, out.Status, out.Message)

	out = applyEdit(t, root, "app.py", second)
	assert.Equal(t, editor.StatusRejected, out.Status)
	assert.Contains(t, out.Message, "changed since")
	assert.Equal(t, "import os\nx = 1\ny = 2\n", readRoot(t, root, "app.py"))
}

func TestSuggestionReplace_SortsEdits(t *testing.T) {
	iss := withFix(lintIssue("a.go"), lint.Fix{
		Edits: []issue.RangeReplacement{
			{StartLine: 3, StartColumn: 1, EndLine: 3, EndColumn: 2, NewText: "c"},
			{StartLine: 1, StartColumn: 5, EndLine: 1, EndColumn: 6, NewText: "b"},
			{StartLine: 1, StartColumn: 1, EndLine: 1, EndColumn: 2, NewText: "a"},
		},
		Safe: true,
	})
	edit, err := NewSuggestionReplace("").Apply(context.Background(), iss)
	require.NoError(t, err)
	require.NoError(t, edit.Validate())
	assert.Equal(t, "a", edit.Replacements[0].NewText)
	assert.Equal(t, "b", edit.Replacements[1].NewText)
	assert.Equal(t, "c", edit.Replacements[2].NewText)
}

func TestSuggestionReplace_OffsetEdits(t *testing.T) {
	content := "let s = \"é\";;\nlet t = 1;\n"
	root := writeRoot(t, "index.js", content)

	// eslint offsets count UTF-16 code units: the second ';' is unit 12.
	iss := withFix(lintIssue("index.js"), lint.Fix{
		Offsets: []lint.OffsetEdit{{Start: 12, End: 13, Text: ""}},
		Safe:    true,
	})
	edit, err := NewSuggestionReplace(root).Apply(context.Background(), iss)
	require.NoError(t, err)
	require.Len(t, edit.Replacements, 1)
	assert.Equal(t, issue.RangeReplacement{StartLine: 1, StartColumn: 14, EndLine: 1, EndColumn: 15}, edit.Replacements[0])

	out := applyEdit(t, root, "index.js", edit)
	require.Equal(t, editor.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "let s = \"é\";\nlet t = 1;\n", readRoot(t, root, "index.js"))
}

func TestSuggestionReplace_OffsetOnSecondLine(t *testing.T) {
	root := writeRoot(t, "index.js", "a;\nvar b = 1\n")
	iss := withFix(lintIssue("index.js"), lint.Fix{
		Offsets: []lint.OffsetEdit{{Start: 3, End: 6, Text: "let"}},
		Safe:    true,
	})
	edit, err := NewSuggestionReplace(root).Apply(context.Background(), iss)
	require.NoError(t, err)

	out := applyEdit(t, root, "index.js", edit)
	require.Equal(t, editor.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "a;\nlet b = 1\n", readRoot(t, root, "index.js"))
}

func TestSuggestionReplace_Errors(t *testing.T) {
	root := writeRoot(t, "index.js", "x;\n")
	s := NewSuggestionReplace(root)

	_, err := s.Apply(context.Background(), lintIssue("index.js"))
	assert.ErrorIs(t, err, ErrNoFix)

	_, err = s.Apply(context.Background(), withFix(lintIssue("index.js"), lint.Fix{
		Offsets: []lint.OffsetEdit{{Start: 2, End: 40}},
	}))
	assert.ErrorIs(t, err, issue.ErrInvalidEdit)

	_, err = s.Apply(context.Background(), withFix(lintIssue("index.js"), lint.Fix{
		Offsets: []lint.OffsetEdit{{Start: 2, End: 1}},
	}))
	assert.ErrorIs(t, err, issue.ErrInvalidEdit)

	_, err = s.Apply(context.Background(), withFix(lintIssue("missing.js"), lint.Fix{
		Offsets: []lint.OffsetEdit{{Start: 0, End: 1}},
	}))
	assert.Error(t, err)
}
