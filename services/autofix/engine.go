// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package autofix assembles the convergence engine for one project root.
//
// The Engine wires the pieces together in dependency order:
//
//	config → lint runner → collector
//	       → strategies → registry (frozen)
//	       → validator chain → safe editor
//	       → batch executor → convergence loop → ledger
//
// Callers normally build one Engine per root and call Run; the CLI's watch
// mode calls Run again after every debounced file change.
package autofix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/autofix/services/autofix/batch"
	"github.com/AleutianAI/autofix/services/autofix/config"
	"github.com/AleutianAI/autofix/services/autofix/converge"
	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/events"
	"github.com/AleutianAI/autofix/services/autofix/ledger"
	"github.com/AleutianAI/autofix/services/autofix/lint"
	"github.com/AleutianAI/autofix/services/autofix/registry"
	"github.com/AleutianAI/autofix/services/autofix/strategies"
	"github.com/AleutianAI/autofix/services/autofix/validate"
)

// ErrNoStrategies is returned when the configuration enables no strategy.
var ErrNoStrategies = errors.New("no fix strategies enabled")

// =============================================================================
// OPTIONS
// =============================================================================

type engineOptions struct {
	logger    *slog.Logger
	runner    *lint.Runner
	llmClient *openai.Client
	store     *ledger.Store
	emitter   *events.Emitter
	files     []string
	extra     []registry.Strategy
	validator editor.Validator
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithRunner supplies a prepared lint runner. Linter detection is skipped;
// the caller sets availability.
func WithRunner(r *lint.Runner) Option {
	return func(o *engineOptions) {
		o.runner = r
	}
}

// WithLLMClient supplies the chat client for the rewrite strategy.
func WithLLMClient(c *openai.Client) Option {
	return func(o *engineOptions) {
		o.llmClient = c
	}
}

// WithStore persists every run's result.
func WithStore(s *ledger.Store) Option {
	return func(o *engineOptions) {
		o.store = s
	}
}

// WithEmitter sets the event emitter. A fresh one is created otherwise.
func WithEmitter(e *events.Emitter) Option {
	return func(o *engineOptions) {
		o.emitter = e
	}
}

// WithFiles limits collection to the given files, relative to the root.
func WithFiles(files ...string) Option {
	return func(o *engineOptions) {
		o.files = append([]string(nil), files...)
	}
}

// WithStrategies registers additional strategies next to the configured ones.
func WithStrategies(s ...registry.Strategy) Option {
	return func(o *engineOptions) {
		o.extra = append(o.extra, s...)
	}
}

// WithValidator replaces the tree-sitter and linter validator chain.
func WithValidator(v editor.Validator) Option {
	return func(o *engineOptions) {
		o.validator = v
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs convergence for one project root.
//
// Thread Safety: Run calls are serialized by the loop.
type Engine struct {
	root     string
	cfg      config.Config
	runner   *lint.Runner
	registry *registry.Registry
	editor   *editor.Editor
	loop     *converge.Loop
	emitter  *events.Emitter
	store    *ledger.Store
	logger   *slog.Logger
}

// New builds an Engine.
//
// Description:
//
//	Detects linters, registers the enabled strategies, freezes the
//	registry and builds the editor, executor and loop from cfg. An LLM
//	strategy without an API key is skipped with a warning.
//
// Inputs:
//
//	root - Project root. Every edit is confined to it.
//	cfg - Validated configuration. Nil uses config.DefaultConfig.
//	opts - Optional collaborators.
//
// Outputs:
//
//	*Engine - The engine
//	error - ErrNoStrategies, or a component construction error
func New(root string, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	e := &Engine{
		root:    abs,
		cfg:     *cfg,
		store:   o.store,
		emitter: o.emitter,
		logger:  o.logger.With("component", "engine"),
	}
	if e.emitter == nil {
		e.emitter = events.NewEmitter(events.WithLogger(o.logger))
	}

	e.runner = o.runner
	if e.runner == nil {
		e.runner = lint.NewRunner(
			lint.WithWorkingDir(abs),
			lint.WithMaxConcurrent(cfg.Lint.MaxConcurrent),
			lint.WithLogger(o.logger.With("component", "lint")),
		)
		e.runner.DetectAvailableLinters()
	}
	if len(cfg.Lint.Languages) > 0 {
		for _, lang := range e.runner.Configs().Languages() {
			if !slices.Contains(cfg.Lint.Languages, lang) {
				e.runner.SetAvailable(lang, false)
			}
		}
	}

	collectorOpts := []lint.CollectorOption{
		lint.WithInfos(cfg.Lint.IncludeInfos),
		lint.WithCollectorLogger(o.logger.With("component", "lint_collector")),
	}
	if len(o.files) > 0 {
		collectorOpts = append(collectorOpts, lint.WithFiles(o.files...))
	}
	collector, err := lint.NewCollector(e.runner, abs, collectorOpts...)
	if err != nil {
		return nil, err
	}

	if e.registry, err = e.buildRegistry(o); err != nil {
		return nil, err
	}

	validator := o.validator
	if validator == nil {
		if cfg.Editor.QualityGate {
			validator = validate.NewChain(e.runner)
		} else {
			validator = validate.NewChain(nil)
		}
	}
	e.editor, err = editor.New(abs, validator,
		editor.WithBackupCapacity(cfg.Editor.BackupCapacity),
		editor.WithStepTimeout(cfg.Editor.StepTimeout),
		editor.WithLogger(o.logger.With("component", "editor")),
	)
	if err != nil {
		return nil, err
	}

	batchOpts := []batch.Option{
		batch.WithStepTimeout(cfg.Editor.StepTimeout),
		batch.WithLogger(o.logger.With("component", "batch")),
	}
	if cfg.Routing.RateLimit > 0 {
		batchOpts = append(batchOpts, batch.WithRateLimit(rate.Limit(cfg.Routing.RateLimit), cfg.Routing.Burst))
	}
	executor, err := batch.New(e.registry, e.editor, batchOpts...)
	if err != nil {
		return nil, err
	}

	e.loop, err = converge.New(collector, executor,
		converge.WithConfig(converge.Config{
			MaxIterations: cfg.Loop.MaxIterations,
			StallWindow:   cfg.Loop.StallWindow,
			Batch: batch.Options{
				MaxParallel:        cfg.Loop.MaxParallel,
				MaxRetriesPerIssue: cfg.Loop.MaxRetriesPerIssue,
			},
		}),
		converge.WithEvents(e.emitter),
		converge.WithLogger(o.logger.With("component", "converge")),
	)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Engine ready",
		slog.String("root", abs),
		slog.Any("strategies", e.Strategies()),
		slog.Int("max_iterations", cfg.Loop.MaxIterations),
		slog.Int("stall_window", cfg.Loop.StallWindow),
	)
	return e, nil
}

func (e *Engine) buildRegistry(o engineOptions) (*registry.Registry, error) {
	cfg := e.cfg.Strategies
	reg := registry.New(
		registry.WithMinConfidence(e.cfg.Routing.MinConfidence),
		registry.WithLogger(o.logger.With("component", "registry")),
	)

	var list []registry.Strategy
	if cfg.Suggestion {
		list = append(list, strategies.NewSuggestionReplace(e.root))
	}
	if cfg.AutoFix {
		s, err := strategies.NewLinterAutoFix(e.runner, e.root,
			strategies.WithAutoFixLogger(o.logger.With("component", "strategy.autofix")))
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	if cfg.LLM.Enabled {
		s, err := e.buildLLM(o)
		switch {
		case errors.Is(err, strategies.ErrNoAPIKey):
			e.logger.Warn("LLM strategy disabled: no API key",
				slog.String("hint", "set OPENAI_API_KEY or strategies.llm.base_url"))
		case err != nil:
			return nil, err
		default:
			list = append(list, s)
		}
	}
	list = append(list, o.extra...)

	if len(list) == 0 {
		return nil, ErrNoStrategies
	}
	for _, s := range list {
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}

func (e *Engine) buildLLM(o engineOptions) (*strategies.LLMRewrite, error) {
	cfg := e.cfg.Strategies.LLM
	client := o.llmClient
	if client == nil {
		var err error
		client, err = strategies.NewOpenAIClient(strategies.ClientConfig{
			BaseURL:    cfg.BaseURL,
			SecretPath: cfg.SecretPath,
		})
		if err != nil {
			return nil, err
		}
	}
	return strategies.NewLLMRewrite(client, e.root,
		strategies.WithModel(cfg.Model),
		strategies.WithLLMConfidence(cfg.Confidence),
		strategies.WithMaxFileBytes(cfg.MaxFileBytes),
		strategies.WithTemperature(cfg.Temperature),
		strategies.WithLLMLogger(o.logger.With("component", "strategy.llm")),
	)
}

// Run drives the project to a terminal state and records the result.
//
// Description:
//
//	Delegates to the convergence loop. The result is saved to the ledger
//	when one is configured; a ledger failure is logged and does not fail
//	the run.
//
// Outputs:
//
//	*converge.Result - Always non-nil
//	error - Collector failure or cancellation, as reported by the loop
func (e *Engine) Run(ctx context.Context) (*converge.Result, error) {
	res, runErr := e.loop.Run(ctx)
	if e.store != nil {
		// The run's own context may already be cancelled.
		if err := e.store.Save(context.WithoutCancel(ctx), e.root, res); err != nil {
			e.logger.Warn("Saving run result failed",
				slog.String("run_id", res.RunID),
				slog.String("error", err.Error()),
			)
		}
	}
	return res, runErr
}

// Root returns the absolute project root.
func (e *Engine) Root() string {
	return e.root
}

// Events returns the emitter that receives run, state and iteration events.
func (e *Engine) Events() *events.Emitter {
	return e.emitter
}

// Editor returns the safe editor, for reverting retained backups.
func (e *Engine) Editor() *editor.Editor {
	return e.editor
}

// Runner returns the lint runner.
func (e *Engine) Runner() *lint.Runner {
	return e.runner
}

// Strategies returns the registered strategy IDs in sorted order.
func (e *Engine) Strategies() []string {
	return e.registry.IDs()
}
