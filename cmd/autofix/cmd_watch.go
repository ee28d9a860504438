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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autofix/services/autofix"
	"github.com/AleutianAI/autofix/services/autofix/lint"
	"github.com/AleutianAI/autofix/services/autofix/watch"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	ro := &runOptions{}
	var debounce time.Duration
	var skipInitial bool

	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Re-run autofix on the files that change under root",
		Long: `Runs once over the whole project, then watches root and re-runs the loop
on the changed files after each burst of edits settles. Edits made by autofix
itself do not trigger another run. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, g, ro, args, debounce, skipInitial)
		},
	}
	f := cmd.Flags()
	f.IntVar(&ro.maxIterations, "max-iterations", 0, "override loop.max_iterations")
	f.IntVar(&ro.stallWindow, "stall-window", 0, "override loop.stall_window")
	f.BoolVar(&ro.noLLM, "no-llm", false, "disable the LLM rewrite strategy")
	f.BoolVar(&ro.noLedger, "no-ledger", false, "do not record runs in the history")
	f.DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a re-run")
	f.BoolVar(&skipInitial, "skip-initial", false, "wait for the first change instead of running immediately")
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalOptions, ro *runOptions, args []string, debounce time.Duration, skipInitial bool) error {
	ctx := cmd.Context()
	e, err := g.setup(ctx, cmd, args, !ro.noLedger)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	defer e.Close()

	if err := ro.apply(e.cfg); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	baseOpts := []autofix.Option{autofix.WithLogger(e.logger)}
	if e.store != nil {
		baseOpts = append(baseOpts, autofix.WithStore(e.store))
	}
	first, err := autofix.New(e.root, e.cfg, baseOpts...)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	// Later runs reuse the detected linters.
	runner := first.Runner()
	baseOpts = append(baseOpts, autofix.WithRunner(runner))

	if !skipInitial {
		res, _ := runWithProgress(ctx, cmd, g, first)
		if err := report(e.printer, g, res); err != nil {
			return &ExitError{Code: ExitFailure, Err: err}
		}
	}

	handler := func(ctx context.Context, changes []watch.Change) {
		files := changedFiles(e.root, changes)
		if len(files) == 0 {
			return
		}
		e.printer.Info(fmt.Sprintf("%d changed file(s), re-running", len(files)))
		engine, err := autofix.New(e.root, e.cfg, append(baseOpts, autofix.WithFiles(files...))...)
		if err != nil {
			e.printer.Error(err.Error())
			return
		}
		res, runErr := runWithProgress(ctx, cmd, g, engine)
		if err := report(e.printer, g, res); err != nil {
			e.logger.Warn("Printing report failed", slog.String("error", err.Error()))
		}
		if runErr != nil && ctx.Err() == nil {
			e.printer.Error(runErr.Error())
		}
	}

	w, err := watch.New(e.root, handler, watch.Options{
		Debounce: debounce,
		Filter:   lintable(runner),
		Logger:   e.logger.With("component", "watch"),
	})
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	e.printer.Muted("watching " + e.root)
	if err := w.Run(ctx); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	return nil
}

// lintable accepts files some available linter handles.
func lintable(runner *lint.Runner) func(string) bool {
	return func(path string) bool {
		lang := runner.Configs().LanguageFor(path)
		return lang != "" && runner.IsAvailable(lang)
	}
}

// changedFiles returns the root-relative paths of changes that still exist
// as regular files.
func changedFiles(root string, changes []watch.Change) []string {
	var out []string
	for _, c := range changes {
		info, err := os.Stat(c.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(root, c.Path)
		if err != nil {
			continue
		}
		out = append(out, rel)
	}
	return out
}
