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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// ruffFixture returns ruff JSON reporting one F401 finding with a safe fix
// for the given file.
func ruffFixture(file string) []byte {
	return []byte(fmt.Sprintf(`[{
		"code": "F401",
		"filename": %q,
		"location": {"row": 1, "column": 1},
		"end_location": {"row": 1, "column": 10},
		"message": "'os' imported but unused",
		"url": "https://docs.astral.sh/ruff/rules/unused-import",
		"fix": {"applicability": "safe", "message": "Remove unused import",
			"edits": [{"content": "", "location": {"row": 1, "column": 1}, "end_location": {"row": 2, "column": 1}}]}
	}, {
		"code": "B006",
		"filename": %q,
		"location": {"row": 3, "column": 12},
		"end_location": {"row": 3, "column": 14},
		"message": "Do not use mutable data structures for argument defaults",
		"fix": null
	}]`, file, file))
}

// fakeExec records invocations and serves canned ruff output for the last arg.
type fakeExec struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(ctx context.Context, args []string) ([]byte, []byte, error)
}

func (f *fakeExec) exec(ctx context.Context, _ string, command string, args []string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{command}, args...))
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, args)
	}
	return ruffFixture(args[len(args)-1]), nil, nil
}

func newTestRunner(t *testing.T, fe *fakeExec, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithExecutor(fe.exec)}, opts...)
	r := NewRunner(opts...)
	r.SetAvailable("python", true)
	return r
}

func TestRunner_DetectAvailableLinters(t *testing.T) {
	r := NewRunner(WithLookPath(func(name string) (string, error) {
		if name == "ruff" {
			return "/usr/bin/ruff", nil
		}
		return "", errors.New("not found")
	}))

	got := r.DetectAvailableLinters()

	assert.True(t, got["python"])
	assert.False(t, got["go"])
	assert.True(t, r.IsAvailable("python"))
	assert.False(t, r.IsAvailable("typescript"))
}

func TestRunner_Lint(t *testing.T) {
	fe := &fakeExec{}
	r := newTestRunner(t, fe)
	path := filepath.Join(t.TempDir(), "app.py")

	res, err := r.Lint(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, res.LinterAvailable)
	assert.False(t, res.Valid, "F401 is blocking under the default python policy")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "F401", res.Errors[0].Rule)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "B006", res.Warnings[0].Rule)
	assert.Equal(t, "ruff", res.Linter)

	require.Len(t, fe.calls, 1)
	assert.Equal(t, "ruff", fe.calls[0][0])
	assert.Equal(t, path, fe.calls[0][len(fe.calls[0])-1])

	diags := res.Diagnostics()
	require.Len(t, diags, 2)
	assert.True(t, diags[0].Blocking())
	assert.Equal(t, "ruff", diags[0].Source)
}

func TestRunner_Lint_Errors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		r := newTestRunner(t, &fakeExec{})
		_, err := r.Lint(context.Background(), "README.md")
		assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	})

	t.Run("linter unavailable yields empty valid result", func(t *testing.T) {
		fe := &fakeExec{}
		r := newTestRunner(t, fe)
		res, err := r.Lint(context.Background(), "main.go")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.False(t, res.LinterAvailable)
		assert.Empty(t, fe.calls)
	})

	t.Run("process failure without output", func(t *testing.T) {
		fe := &fakeExec{fn: func(context.Context, []string) ([]byte, []byte, error) {
			return nil, []byte("boom"), errors.New("exit status 2")
		}}
		r := newTestRunner(t, fe)
		_, err := r.Lint(context.Background(), "/tmp/x.py")
		assert.ErrorIs(t, err, ErrLinterFailed)

		var le *LinterError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "boom", le.Output)
	})

	t.Run("non-zero exit with output is not a failure", func(t *testing.T) {
		fe := &fakeExec{fn: func(_ context.Context, args []string) ([]byte, []byte, error) {
			return ruffFixture(args[len(args)-1]), nil, errors.New("exit status 1")
		}}
		r := newTestRunner(t, fe)
		res, err := r.Lint(context.Background(), "/tmp/x.py")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count())
	})

	t.Run("malformed output", func(t *testing.T) {
		fe := &fakeExec{fn: func(context.Context, []string) ([]byte, []byte, error) {
			return []byte("not json"), nil, nil
		}}
		r := newTestRunner(t, fe)
		_, err := r.Lint(context.Background(), "/tmp/x.py")
		assert.ErrorIs(t, err, ErrParseOutput)
	})

	t.Run("timeout", func(t *testing.T) {
		fe := &fakeExec{fn: func(ctx context.Context, _ []string) ([]byte, []byte, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}}
		r := newTestRunner(t, fe)
		cfg := DefaultPythonConfig.Clone()
		cfg.Timeout = 10 * time.Millisecond
		r.Configs().Register(cfg)

		_, err := r.Lint(context.Background(), "/tmp/x.py")
		assert.ErrorIs(t, err, ErrLinterTimeout)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		fe := &fakeExec{fn: func(ctx context.Context, _ []string) ([]byte, []byte, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}}
		r := newTestRunner(t, fe)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Lint(ctx, "/tmp/x.py")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunner_LintContent(t *testing.T) {
	fe := &fakeExec{}
	r := newTestRunner(t, fe)

	res, err := r.LintContent(context.Background(), []byte("import os\n"), "python")
	require.NoError(t, err)

	assert.Equal(t, "<content>", res.FilePath)
	for _, f := range res.All() {
		assert.Equal(t, "<content>", f.File)
	}

	tmp := fe.calls[0][len(fe.calls[0])-1]
	assert.True(t, strings.HasSuffix(tmp, ".py"))
	_, statErr := os.Stat(tmp)
	assert.True(t, os.IsNotExist(statErr), "temp file should be removed")

	empty, err := r.LintContent(context.Background(), nil, "python")
	require.NoError(t, err)
	assert.True(t, empty.Valid)
}

func TestRunner_AutoFixContent(t *testing.T) {
	fe := &fakeExec{fn: func(_ context.Context, args []string) ([]byte, []byte, error) {
		path := args[len(args)-1]
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		fixed := strings.ReplaceAll(string(data), "import os\n", "")
		return []byte("[]"), nil, os.WriteFile(path, []byte(fixed), 0o600)
	}}
	r := newTestRunner(t, fe)

	out, err := r.AutoFixContent(context.Background(), []byte("import os\nx = 1\n"), "python")
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(out))
	assert.Contains(t, fe.calls[0], "--fix")

	t.Run("no fix mode", func(t *testing.T) {
		cfg := DefaultPythonConfig.Clone()
		cfg.FixArgs = nil
		r.Configs().Register(cfg)
		_, err := r.AutoFixContent(context.Background(), []byte("x"), "python")
		assert.ErrorIs(t, err, ErrNoFixMode)
	})

	t.Run("unavailable", func(t *testing.T) {
		r := NewRunner(WithExecutor(fe.exec))
		_, err := r.AutoFixContent(context.Background(), []byte("x"), "go")
		assert.ErrorIs(t, err, ErrLinterNotInstalled)
	})
}

func TestRunner_LintFiles(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex
	fe := &fakeExec{fn: func(_ context.Context, args []string) ([]byte, []byte, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return ruffFixture(args[len(args)-1]), nil, nil
	}}
	r := newTestRunner(t, fe, WithMaxConcurrent(2))

	paths := []string{"/t/a.py", "/t/b.py", "/t/c.py", "/t/d.py", "/t/e.py"}
	results, err := r.LintFiles(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, results, len(paths))
	for i, res := range results {
		assert.Equal(t, paths[i], res.FilePath)
	}
	assert.LessOrEqual(t, maxInFlight, 2)
}

func TestRunner_LintFiles_FirstErrorReturned(t *testing.T) {
	fe := &fakeExec{fn: func(_ context.Context, args []string) ([]byte, []byte, error) {
		if strings.HasSuffix(args[len(args)-1], "bad.py") {
			return nil, nil, errors.New("crash")
		}
		return []byte("[]"), nil, nil
	}}
	r := newTestRunner(t, fe)

	_, err := r.LintFiles(context.Background(), []string{"/t/ok.py", "/t/bad.py"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLinterFailed)
	assert.Contains(t, err.Error(), "bad.py")
}

func TestRunner_SupportedFiles(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"a.py", "pkg/b.py", "main.go", ".venv/c.py", "node_modules/d.py", "vendor/e.py", "notes.txt"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x = 1\n"), 0o644))
	}

	r := newTestRunner(t, &fakeExec{})
	files, err := r.SupportedFiles(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		p, _ := filepath.Rel(root, f)
		rel = append(rel, filepath.ToSlash(p))
	}
	sort.Strings(rel)
	assert.Equal(t, []string{"a.py", "pkg/b.py"}, rel, "go linter is unavailable; hidden and vendor dirs skipped")
}

func TestResult_EmptyHelpers(t *testing.T) {
	res := emptyResult("go", "golangci-lint", "x.go", false, 0)
	assert.True(t, res.Valid)
	assert.False(t, res.HasErrors())
	assert.Zero(t, res.Count())
	assert.False(t, issue.AnyBlocking(res.Diagnostics()))
}
