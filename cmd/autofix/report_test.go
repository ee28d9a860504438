// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/pkg/ux"
	"github.com/AleutianAI/autofix/services/autofix/config"
	"github.com/AleutianAI/autofix/services/autofix/converge"
	"github.com/AleutianAI/autofix/services/autofix/events"
	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/ledger"
	"github.com/AleutianAI/autofix/services/autofix/lint"
	"github.com/AleutianAI/autofix/services/autofix/watch"
)

func stalledResult() *converge.Result {
	unresolved := issue.New(issue.CategorySecurity,
		issue.Location{File: "app.py", Line: 3, Column: 5}, "B105", "hardcoded password")
	return &converge.Result{
		RunID:           "run-1",
		TerminalState:   converge.StateStalled,
		FinalIssueCount: 1,
		Iterations: []converge.IterationRecord{
			{Iteration: 1, IssuesBefore: 3, IssuesAfter: 1, FixesApplied: 2, Skipped: 1, Progress: 2},
			{Iteration: 2, IssuesBefore: 1, IssuesAfter: 1, NoProgressStreak: 1},
		},
		Fixed: []converge.FixedIssue{
			{Fingerprint: "a", StrategyID: "suggestion", Iteration: 1},
			{Fingerprint: "b", StrategyID: "suggestion", Iteration: 1},
		},
		Unresolved: []converge.UnresolvedIssue{
			{Issue: unresolved, Reason: converge.ReasonUnroutable},
		},
		StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Elapsed:   1500 * time.Millisecond,
	}
}

// =============================================================================
// Rendering
// =============================================================================

func TestRenderResult_Machine(t *testing.T) {
	var buf bytes.Buffer
	renderResult(ux.NewPrinter(&buf, ux.ModeMachine), stalledResult())
	out := buf.String()

	assert.Contains(t, out, "WARN: STALLED: no progress, 1 issues remain\n")
	assert.Contains(t, out, "iterations=2\n")
	assert.Contains(t, out, "fixed=2\n")
	assert.Contains(t, out, "remaining=1\n")
	assert.Contains(t, out, "elapsed=1.5s\n")
	assert.Contains(t, out, "iterations: #1  3 → 1  fixes 2  failed 0  skipped 1\n")
	assert.Contains(t, out, "fixed by strategy: suggestion: 2\n")
	assert.Contains(t, out, "unresolved: unroutable: 1\n")
	assert.Contains(t, out, "unresolved: • app.py:3:5 B105 [unroutable]\n")
	assert.NotContains(t, out, "autofix run-1", "machine mode has no title")
}

func TestRenderResult_ConvergedPlain(t *testing.T) {
	res := &converge.Result{
		RunID:         "run-2",
		TerminalState: converge.StateConverged,
		Fixed:         []converge.FixedIssue{{StrategyID: "autofix"}},
	}
	var buf bytes.Buffer
	renderResult(ux.NewPrinter(&buf, ux.ModePlain), res)
	out := buf.String()

	assert.Contains(t, out, "autofix run-2\n")
	assert.Contains(t, out, "✓ CONVERGED: all issues fixed (1)\n")
	assert.NotContains(t, out, "unresolved")
}

func TestRenderResult_TruncatesUnresolved(t *testing.T) {
	res := &converge.Result{RunID: "r", TerminalState: converge.StateExhausted}
	for i := range maxListed + 5 {
		res.Unresolved = append(res.Unresolved, converge.UnresolvedIssue{
			Issue:  issue.New(issue.CategoryLint, issue.Location{File: "f.go", Line: i + 1, Column: 1}, "x", "m"),
			Reason: converge.ReasonStrategyFailure,
		})
	}
	var buf bytes.Buffer
	renderResult(ux.NewPrinter(&buf, ux.ModeMachine), res)
	assert.Contains(t, buf.String(), "unresolved: ... 5 more\n")
	assert.Equal(t, maxListed, strings.Count(buf.String(), "unresolved: • "))
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	p := ux.NewPrinter(&buf, ux.ModePlain)
	renderHistory(p, nil)
	assert.Equal(t, "no recorded runs\n", buf.String())

	buf.Reset()
	renderHistory(p, []ledger.Entry{{Root: "/src/app", Result: stalledResult()}})
	out := buf.String()
	assert.Contains(t, out, "⚠ ")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "STALLED")
	assert.Contains(t, out, "fixed 2  remaining 1  iterations 2  /src/app")
}

func TestCountLines_Ordering(t *testing.T) {
	got := countLines(map[string]int{"b": 1, "a": 1, "c": 3})
	assert.Equal(t, []string{"c: 3", "a: 1", "b: 1"}, got)
}

func TestProgressMessage(t *testing.T) {
	msg, ok := progressMessage(&events.Event{Data: events.RunStartData{InitialIssues: 4}})
	assert.True(t, ok)
	assert.Equal(t, "4 issues found, fixing", msg)

	msg, ok = progressMessage(&events.Event{Data: converge.IterationRecord{Iteration: 2, IssuesBefore: 4, IssuesAfter: 1}})
	assert.True(t, ok)
	assert.Equal(t, "iteration 2: 4 → 1 issues", msg)

	msg, ok = progressMessage(&events.Event{Iteration: 3, Data: events.StateTransitionData{To: string(converge.StateRechecking)}})
	assert.True(t, ok)
	assert.Equal(t, "iteration 3: re-checking", msg)

	_, ok = progressMessage(&events.Event{Data: events.StateTransitionData{To: string(converge.StateFixing)}})
	assert.False(t, ok)
	_, ok = progressMessage(&events.Event{Data: events.ErrorData{Error: "x"}})
	assert.False(t, ok)
}

// =============================================================================
// Exit status
// =============================================================================

func TestExitFor(t *testing.T) {
	tests := map[converge.State]int{
		converge.StateConverged: ExitConverged,
		converge.StateStalled:   ExitNotConverged,
		converge.StateExhausted: ExitNotConverged,
		converge.StateFailed:    ExitFailure,
		converge.StateCancelled: ExitCancelled,
	}
	for state, want := range tests {
		assert.Equal(t, want, exitFor(&converge.Result{TerminalState: state}), state)
	}
	assert.NoError(t, exitStatus(&converge.Result{TerminalState: converge.StateConverged}))

	var ee *ExitError
	require.ErrorAs(t, exitStatus(&converge.Result{TerminalState: converge.StateStalled}), &ee)
	assert.Equal(t, ExitNotConverged, ee.Code)
	assert.Nil(t, ee.Err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, ExitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, ExitNotConverged, exitCode(&ExitError{Code: ExitNotConverged}))
	assert.Equal(t, ExitCancelled, exitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: ExitCancelled})))
}

// =============================================================================
// Flags and watch helpers
// =============================================================================

func TestRunOptions_Apply(t *testing.T) {
	cfg := config.DefaultConfig()
	ro := &runOptions{maxIterations: 9, stallWindow: 2, maxParallel: 1, llm: true, noLedger: true}
	require.NoError(t, ro.apply(&cfg))
	assert.Equal(t, 9, cfg.Loop.MaxIterations)
	assert.Equal(t, 2, cfg.Loop.StallWindow)
	assert.Equal(t, 1, cfg.Loop.MaxParallel)
	assert.True(t, cfg.Strategies.LLM.Enabled)
	assert.False(t, cfg.Ledger.Enabled)

	require.NoError(t, (&runOptions{noLLM: true}).apply(&cfg))
	assert.False(t, cfg.Strategies.LLM.Enabled)
	assert.Equal(t, 9, cfg.Loop.MaxIterations, "zero flags keep the config value")
}

func TestChangedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	kept := filepath.Join(root, "pkg", "a.py")
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0o644))

	got := changedFiles(root, []watch.Change{
		{Path: kept, Op: fsnotify.Write},
		{Path: filepath.Join(root, "gone.py"), Op: fsnotify.Remove},
		{Path: filepath.Join(root, "pkg"), Op: fsnotify.Create},
	})
	assert.Equal(t, []string{filepath.Join("pkg", "a.py")}, got)
}

func TestLintable(t *testing.T) {
	runner := lint.NewRunner()
	runner.SetAvailable("python", true)
	runner.SetAvailable("go", false)
	accept := lintable(runner)

	assert.True(t, accept("/src/app.py"))
	assert.False(t, accept("/src/main.go"))
	assert.False(t, accept("/src/README.md"))
}

// =============================================================================
// Commands
// =============================================================================

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AUTOFIX_OUTPUT", "")
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCmd(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, "init", root)
	require.NoError(t, err)
	path := filepath.Join(root, config.FileName)
	assert.Equal(t, "OK: wrote "+path+"\n", out)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Loop, cfg.Loop)

	_, err = execute(t, "init", root)
	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitFailure, ee.Code)
}

func TestHistoryCmd(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "ledger")
	cfgPath := filepath.Join(t.TempDir(), "autofix.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(
		"ledger:\n  enabled: true\n  path: %s\n  retention: 10\n", dbPath)), 0o644))

	abs, err := filepath.Abs(root)
	require.NoError(t, err)

	db, err := ledger.OpenDB(ledger.DBConfig{Path: dbPath})
	require.NoError(t, err)
	store, err := ledger.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), abs, stalledResult()))
	other := stalledResult()
	other.RunID = "run-other"
	require.NoError(t, store.Save(t.Context(), "/elsewhere", other))
	require.NoError(t, db.Close())

	t.Run("lists the project's runs", func(t *testing.T) {
		out, err := execute(t, "history", root, "--config", cfgPath, "--output", "machine")
		require.NoError(t, err)
		assert.Contains(t, out, "run-1")
		assert.NotContains(t, out, "run-other")
	})

	t.Run("all projects as json", func(t *testing.T) {
		out, err := execute(t, "history", root, "--config", cfgPath, "--all", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"run_id": "run-1"`)
		assert.Contains(t, out, `"run_id": "run-other"`)
	})

	t.Run("one run", func(t *testing.T) {
		out, err := execute(t, "history", root, "--config", cfgPath, "--run", "run-1", "--output", "machine")
		require.NoError(t, err)
		assert.Contains(t, out, "WARN: STALLED")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, "history", root, "--config", cfgPath, "--run", "nope")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestRunCmd_RejectsMissingRoot(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing"))
	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitFailure, ee.Code)
	assert.Contains(t, ee.Error(), "is not a directory")
}
