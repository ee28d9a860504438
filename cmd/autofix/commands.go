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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autofix/pkg/logging"
	"github.com/AleutianAI/autofix/pkg/ux"
	"github.com/AleutianAI/autofix/services/autofix/config"
	"github.com/AleutianAI/autofix/services/autofix/ledger"
	"github.com/AleutianAI/autofix/services/autofix/telemetry"
)

// Process exit codes.
const (
	ExitConverged    = 0
	ExitNotConverged = 1
	ExitFailure      = 2
	ExitCancelled    = 130
)

// ExitError carries a specific exit status out of a command.
type ExitError struct {
	Code int

	// Err is printed to stderr when set. A nil Err exits silently.
	Err error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	output     string
	jsonOut    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "autofix",
		Short: "Fix lint findings in a loop until the project converges",
		Long: `autofix collects linter findings, routes each one to the most confident
fix strategy, applies the edits with validation and rollback, and re-checks
until no issues remain, progress stalls, or the iteration budget runs out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: <root>/"+config.FileName+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVarP(&opts.output, "output", "o", "", "output style: rich, plain, machine (default: detect)")
	flags.BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr at the configured level")

	root.AddCommand(
		newRunCmd(opts),
		newWatchCmd(opts),
		newHistoryCmd(opts),
		newInitCmd(opts),
	)
	return root
}

// =============================================================================
// COMMAND ENVIRONMENT
// =============================================================================

// env holds what a command needs after config, logging and telemetry
// are set up.
type env struct {
	root    string
	cfg     *config.Config
	cfgPath string
	printer *ux.Printer
	log     *logging.Logger
	logger  *slog.Logger
	db      *ledger.DB
	store   *ledger.Store

	shutdownTelemetry func(context.Context) error
	stopMetrics       context.CancelFunc
}

// setup resolves the project root and builds the command environment.
//
// Description:
//
//	Loads config (flag, then <root>/.autofix.yaml, then defaults), builds
//	the process logger, starts telemetry and opens the ledger when it is
//	enabled. Without --verbose the console only receives warnings.
//
// Outputs:
//
//	*env - Call Close when the command finishes.
//	error - Config, logging, telemetry or ledger failure.
func (o *globalOptions) setup(ctx context.Context, cmd *cobra.Command, args []string, withLedger bool) (*env, error) {
	rootArg := "."
	if len(args) > 0 {
		rootArg = args[0]
	}
	root, err := filepath.Abs(rootArg)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	cfg, cfgPath, err := config.Resolve(root, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	e := &env{root: root, cfg: cfg, cfgPath: cfgPath}

	out := cmd.OutOrStdout()
	mode := ux.DetectMode(out)
	if o.output != "" {
		m, ok := ux.ParseMode(o.output)
		if !ok {
			return nil, fmt.Errorf("unknown output style %q", o.output)
		}
		mode = m
	}
	e.printer = ux.NewPrinter(out, mode)

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	floor := logging.LevelWarn
	if o.verbose {
		floor = logging.LevelDebug
	}
	e.log, err = logging.New(logging.Config{
		Level:        level,
		LogDir:       cfg.Logging.Dir,
		Service:      "autofix",
		JSON:         cfg.Logging.JSON,
		ConsoleFloor: floor,
		Console:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	e.logger = e.log.Slog()
	slog.SetDefault(e.logger)

	tcfg := telemetry.DefaultConfig()
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricsExporter
	tcfg = tcfg.ApplyEnv()
	e.shutdownTelemetry, err = telemetry.Init(ctx, tcfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	if tcfg.MetricExporter == "prometheus" && cfg.Telemetry.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		e.stopMetrics = cancel
		addr, err := telemetry.ServeMetrics(metricsCtx, cfg.Telemetry.MetricsAddr, e.logger)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.logger.Info("Serving metrics", slog.String("addr", addr))
	}

	if withLedger && cfg.Ledger.Enabled {
		if err := e.openLedger(); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// openLedger opens the run history database.
func (e *env) openLedger() error {
	path := e.cfg.Ledger.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving ledger path: %w", err)
		}
		path = filepath.Join(home, ".autofix", "ledger")
	}
	dbCfg := ledger.DefaultDBConfig(path)
	dbCfg.Logger = e.logger.With("component", "badger")
	db, err := ledger.OpenDB(dbCfg)
	if err != nil {
		return err
	}
	store, err := ledger.NewStore(db,
		ledger.WithRetention(e.cfg.Ledger.Retention),
		ledger.WithStoreLogger(e.logger),
	)
	if err != nil {
		_ = db.Close()
		return err
	}
	e.db, e.store = db, store
	return nil
}

// Close releases everything setup acquired, in reverse order.
func (e *env) Close() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("Closing ledger failed", slog.String("error", err.Error()))
		}
	}
	if e.stopMetrics != nil {
		e.stopMetrics()
	}
	if e.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.shutdownTelemetry(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	if e.log != nil {
		_ = e.log.Close()
	}
}
