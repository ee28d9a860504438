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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
	"github.com/AleutianAI/autofix/services/autofix/registry"
)

var (
	_ registry.Strategy = (*SuggestionReplace)(nil)
	_ registry.Strategy = (*LinterAutoFix)(nil)
	_ registry.Strategy = (*LLMRewrite)(nil)
)

// writeRoot creates root/name with content and returns root.
func writeRoot(t *testing.T, name, content string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	return root
}

func readRoot(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	return string(data)
}

// applyEdit runs the edit through a real editor and returns the outcome.
func applyEdit(t *testing.T, root, file string, edit *issue.ProposedEdit) *editor.Outcome {
	t.Helper()
	ed, err := editor.New(root, editor.NopValidator{})
	require.NoError(t, err)
	out, err := ed.Apply(context.Background(), file, *edit)
	require.NoError(t, err)
	return out
}

func withFix(iss issue.Issue, fix lint.Fix) issue.Issue {
	raw, err := json.Marshal(fix)
	if err != nil {
		panic(err)
	}
	if iss.Meta == nil {
		iss.Meta = map[string]string{}
	}
	iss.Meta[lint.MetaFix] = string(raw)
	iss.Meta[lint.MetaLinter] = "ruff"
	return iss
}

func TestUnifiedPatch_AppliesThroughEditor(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
	}{
		{"single line change", "a\nb\nc\n", "a\nB\nc\n"},
		{"change near end of file", "1\n2\n3\n4\n5\n", "1\n2\n3\n4\nfive\n"},
		{"delete first line", "import os\nx = 1\n", "x = 1\n"},
		{"insert lines", "a\nd\n", "a\nb\nc\nd\n"},
		{"distant hunks", "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n", "one\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\ntwelve\n"},
		{"no trailing newline", "a\nb", "a\nc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeRoot(t, "f.txt", tt.before)
			patch, err := unifiedPatch("f.txt", []byte(tt.before), []byte(tt.after))
			require.NoError(t, err)
			assert.Contains(t, patch, "--- a/f.txt")
			assert.Contains(t, patch, "+++ b/f.txt")

			out := applyEdit(t, root, "f.txt", &issue.ProposedEdit{Patch: patch})
			require.Equal(t, editor.StatusSuccess, out.Status, out.Message)
			assert.Equal(t, tt.after, readRoot(t, root, "f.txt"))
		})
	}
}

func TestUnifiedPatch_NoChange(t *testing.T) {
	_, err := unifiedPatch("f.txt", []byte("same\n"), []byte("same\n"))
	assert.ErrorIs(t, err, ErrNoChange)
}

func TestUnifiedPatch_StaleBaseIsRejected(t *testing.T) {
	root := writeRoot(t, "f.txt", "a\nb\nc\n")
	patch, err := unifiedPatch("f.txt", []byte("a\nb\nc\n"), []byte("a\nB\nc\n"))
	require.NoError(t, err)

	// A concurrent fix changed the file after the strategy read it.
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("a\nx\nc\n"), 0o644))

	out := applyEdit(t, root, "f.txt", &issue.ProposedEdit{Patch: patch})
	assert.Equal(t, editor.StatusRejected, out.Status)
	assert.Equal(t, "a\nx\nc\n", readRoot(t, root, "f.txt"))
}

func TestRouting_PrefersTargetedFixes(t *testing.T) {
	root := writeRoot(t, "app.py", "import os\n")
	runner := lint.NewRunner(lint.WithExecutor(noopExec))
	runner.SetAvailable("python", true)

	autofix, err := NewLinterAutoFix(runner, root)
	require.NoError(t, err)
	llm, err := NewLLMRewrite(newTestClient(t, "http://127.0.0.1:1"), root)
	require.NoError(t, err)

	reg := registry.New()
	reg.MustRegister(llm, autofix, NewSuggestionReplace(root))
	reg.Freeze()

	iss := issue.New(issue.CategoryImportError, issue.Location{File: "app.py", Line: 1, Column: 1}, "F401", "unused")
	iss = withFix(iss, lint.Fix{
		Edits: []issue.RangeReplacement{{StartLine: 1, StartColumn: 1, EndLine: 2, EndColumn: 1}},
		Safe:  true,
	})
	iss.Meta[lint.MetaLanguage] = "python"
	iss.Meta[lint.MetaAutofixable] = "true"
	iss.Meta[lint.MetaFixSafe] = "true"

	d := reg.Route(iss)
	require.False(t, d.Unroutable())
	ids := make([]string, 0, len(d.Remaining))
	for _, c := range d.Remaining {
		ids = append(ids, c.Strategy.ID())
	}
	assert.Equal(t, []string{SuggestionReplaceID, LinterAutoFixID, LLMRewriteID}, ids)
}

func noopExec(context.Context, string, string, []string) ([]byte, []byte, error) {
	return nil, nil, nil
}
