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
	"errors"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autofix/pkg/ux"
	"github.com/AleutianAI/autofix/services/autofix"
	"github.com/AleutianAI/autofix/services/autofix/config"
	"github.com/AleutianAI/autofix/services/autofix/converge"
	"github.com/AleutianAI/autofix/services/autofix/events"
)

// runOptions are the flags that override config for one run.
type runOptions struct {
	files         []string
	maxIterations int
	stallWindow   int
	maxParallel   int
	llm           bool
	noLLM         bool
	noLedger      bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [root]",
		Short: "Fix lint findings under root until the project converges",
		Long: `Runs the convergence loop once over root (default: the current directory).

Exit status is 0 when every issue is fixed, 1 when the run stalls or spends
its iteration budget, 2 on failure and 130 when interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, g, ro, args)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&ro.files, "files", nil, "limit collection to these files (relative to root)")
	f.IntVar(&ro.maxIterations, "max-iterations", 0, "override loop.max_iterations")
	f.IntVar(&ro.stallWindow, "stall-window", 0, "override loop.stall_window")
	f.IntVar(&ro.maxParallel, "parallel", 0, "override loop.max_parallel")
	f.BoolVar(&ro.llm, "llm", false, "enable the LLM rewrite strategy")
	f.BoolVar(&ro.noLLM, "no-llm", false, "disable the LLM rewrite strategy")
	f.BoolVar(&ro.noLedger, "no-ledger", false, "do not record this run in the history")
	cmd.MarkFlagsMutuallyExclusive("llm", "no-llm")
	return cmd
}

// apply overlays the flags on cfg and validates the result.
func (ro *runOptions) apply(cfg *config.Config) error {
	if ro.maxIterations > 0 {
		cfg.Loop.MaxIterations = ro.maxIterations
	}
	if ro.stallWindow > 0 {
		cfg.Loop.StallWindow = ro.stallWindow
	}
	if ro.maxParallel > 0 {
		cfg.Loop.MaxParallel = ro.maxParallel
	}
	if ro.llm {
		cfg.Strategies.LLM.Enabled = true
	}
	if ro.noLLM {
		cfg.Strategies.LLM.Enabled = false
	}
	if ro.noLedger {
		cfg.Ledger.Enabled = false
	}
	return config.Validate(cfg)
}

func runOnce(cmd *cobra.Command, g *globalOptions, ro *runOptions, args []string) error {
	ctx := cmd.Context()
	e, err := g.setup(ctx, cmd, args, !ro.noLedger)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	defer e.Close()

	if err := ro.apply(e.cfg); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	opts := []autofix.Option{autofix.WithLogger(e.logger)}
	if len(ro.files) > 0 {
		opts = append(opts, autofix.WithFiles(ro.files...))
	}
	if e.store != nil {
		opts = append(opts, autofix.WithStore(e.store))
	}
	engine, err := autofix.New(e.root, e.cfg, opts...)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	res, runErr := runWithProgress(ctx, cmd, g, engine)
	if err := report(e.printer, g, res); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return &ExitError{Code: ExitFailure, Err: runErr}
	}
	return exitStatus(res)
}

// runWithProgress runs the engine behind a spinner on stderr when stderr
// is an interactive terminal.
func runWithProgress(ctx context.Context, cmd *cobra.Command, g *globalOptions, engine *autofix.Engine) (*converge.Result, error) {
	errOut := cmd.ErrOrStderr()
	mode := ux.DetectMode(errOut)
	if g.jsonOut || mode == ux.ModeMachine {
		return engine.Run(ctx)
	}

	spin := ux.NewSpinner(ux.NewPrinter(errOut, mode), "collecting issues")
	sub := engine.Events().Subscribe(func(ev *events.Event) {
		if msg, ok := progressMessage(ev); ok {
			spin.Update(msg)
		}
	}, events.TypeRunStart, events.TypeStateTransition, events.TypeIterationComplete)
	defer engine.Events().Unsubscribe(sub)

	spin.Start()
	defer spin.Stop()
	return engine.Run(ctx)
}

// report prints res as JSON or as a styled report.
func report(p *ux.Printer, g *globalOptions, res *converge.Result) error {
	if g.jsonOut {
		return writeJSON(p.Writer(), res)
	}
	renderResult(p, res)
	return nil
}

// exitStatus turns a non-converged result into an ExitError.
func exitStatus(res *converge.Result) error {
	code := exitFor(res)
	if code == ExitConverged {
		return nil
	}
	return &ExitError{Code: code}
}
