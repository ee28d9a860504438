// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package converge repeats collect, fix and recheck until the issue set is
// empty, stops shrinking, or the iteration budget runs out.
//
//	COLLECTING ─► FIXING ─► RECHECKING ─┬─► CONVERGED  (no issues)
//	                 ▲                  ├─► EXHAUSTED  (iteration == max)
//	                 │                  ├─► STALLED    (streak >= window)
//	                 └──────────────────┘
//
// A collector error ends the run in FAILED. Cancelling the context ends it
// in CANCELLED once the in-flight batch has returned. Both return the
// partial Result alongside the error.
package converge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/autofix/services/autofix/batch"
	"github.com/AleutianAI/autofix/services/autofix/events"
	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// Collector produces the current issue set. Fingerprints and categories
// must be deterministic across calls.
type Collector interface {
	Collect(ctx context.Context) ([]issue.Issue, error)
}

// Batcher fixes one iteration's issues. *batch.Executor implements it.
type Batcher interface {
	RunBatch(ctx context.Context, issues []issue.Issue, opts batch.Options) *batch.Result
}

// Loop is the convergence state machine.
//
// Thread Safety: Safe for concurrent use. Runs on the same Loop are
// serialized.
type Loop struct {
	runMu     sync.Mutex
	collector Collector
	batcher   Batcher
	cfg       Config
	sink      events.Sink
	logger    *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithConfig sets the loop bounds. Zero values fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(l *Loop) {
		l.cfg = cfg
	}
}

// WithEvents sets the sink that receives run, state and iteration events.
func WithEvents(sink events.Sink) Option {
	return func(l *Loop) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a convergence loop.
//
// Inputs:
//
//	collector - Produces the issue set on every (re)check
//	batcher - Fixes one iteration's issues, normally a *batch.Executor
//	opts - Optional settings
//
// Outputs:
//
//	*Loop - The loop
//	error - ErrInvalidLoop if collector or batcher is nil
func New(collector Collector, batcher Batcher, opts ...Option) (*Loop, error) {
	if collector == nil || batcher == nil {
		return nil, fmt.Errorf("%w: collector and batcher are required", ErrInvalidLoop)
	}
	l := &Loop{
		collector: collector,
		batcher:   batcher,
		cfg:       DefaultConfig(),
		sink:      nopSink{},
		logger:    slog.Default().With("component", "converge"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cfg = l.cfg.normalized()
	return l, nil
}

// Config returns the effective loop bounds.
func (l *Loop) Config() Config {
	return l.cfg
}

// Run collects the initial issue set and drives it to a terminal state.
//
// Description:
//
//	Equivalent to RunWithIssues with the result of a first Collect call.
//	A zero-issue initial set converges immediately without calling the
//	batcher.
//
// Outputs:
//
//	*Result - Always non-nil
//	error - Wraps ErrCollectorFailed (FAILED) or ctx.Err() (CANCELLED)
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	return l.run(ctx, nil, true)
}

// RunWithIssues drives an already-collected issue set to a terminal state.
//
// Description:
//
//	Use this when the caller already holds the output of the analyzer
//	run that triggered the fix pass. The collector is only called for
//	rechecks.
//
// Inputs:
//
//	ctx - Cancellation for the whole run
//	issues - Iteration 0 issue set; duplicate fingerprints are dropped
//
// Outputs:
//
//	*Result - Always non-nil
//	error - Wraps ErrCollectorFailed (FAILED) or ctx.Err() (CANCELLED)
func (l *Loop) RunWithIssues(ctx context.Context, issues []issue.Issue) (*Result, error) {
	return l.run(ctx, issues, false)
}

func (l *Loop) run(ctx context.Context, initial []issue.Issue, collectFirst bool) (res *Result, err error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	res = &Result{
		RunID:      uuid.NewString(),
		StartedAt:  time.Now(),
		Iterations: make([]IterationRecord, 0, l.cfg.MaxIterations),
		Fixed:      make([]FixedIssue, 0),
		Unresolved: make([]UnresolvedIssue, 0),
	}
	logger := l.logger.With("run_id", res.RunID)
	l.sink.SetRunID(res.RunID)
	l.sink.SetIteration(0)

	ctx, span := startRunSpan(ctx, res.RunID, l.cfg)
	defer func() {
		res.Elapsed = time.Since(res.StartedAt)
		if err != nil {
			res.Error = err.Error()
		}
		recordRun(ctx, res.TerminalState, res.Elapsed, res.Dropped)
		endRunSpan(span, res, err)
		l.sink.Emit(events.TypeRunEnd, events.RunEndData{
			TerminalState:   string(res.TerminalState),
			FinalIssueCount: res.FinalIssueCount,
			Iterations:      len(res.Iterations),
			Elapsed:         res.Elapsed,
		})
		logger.Info("convergence run finished",
			"terminal_state", res.TerminalState,
			"iterations", len(res.Iterations),
			"fixed", len(res.Fixed),
			"unresolved", len(res.Unresolved),
			"dropped", res.Dropped,
			"elapsed", res.Elapsed,
		)
	}()

	st := newLoopState()
	l.transition(st, StateCollecting, "run started", logger)

	if collectFirst {
		collected, cerr := l.collector.Collect(ctx)
		if cerr != nil {
			return res, l.abort(ctx, st, res, nil, cerr, logger)
		}
		initial = collected
	}
	st.current = dedupe(initial, 0, logger)
	st.previous = len(st.current)

	l.sink.Emit(events.TypeRunStart, events.RunStartData{
		InitialIssues: len(st.current),
		MaxIterations: l.cfg.MaxIterations,
		StallWindow:   l.cfg.StallWindow,
	})
	logger.Info("convergence run started",
		"issues", len(st.current),
		"max_iterations", l.cfg.MaxIterations,
		"stall_window", l.cfg.StallWindow,
	)

	if len(st.current) == 0 {
		l.finish(st, res, StateConverged, st.current, logger)
		return res, nil
	}

	for {
		if cerr := ctx.Err(); cerr != nil {
			l.finish(st, res, StateCancelled, st.current, logger)
			return res, fmt.Errorf("convergence cancelled before iteration %d: %w", st.iteration+1, cerr)
		}

		st.iteration++
		l.sink.SetIteration(st.iteration)
		state, ierr := l.iterate(ctx, st, res, logger)
		if ierr != nil {
			return res, ierr
		}
		if state.Terminal() {
			l.finish(st, res, state, st.current, logger)
			return res, nil
		}
	}
}

// iterate runs one FIXING and RECHECKING pass.
//
// On success st.current holds the rechecked set and the returned state is
// either FIXING or terminal. On cancellation or collector failure the run
// is already finished and the error is returned.
func (l *Loop) iterate(ctx context.Context, st *loopState, res *Result, logger *slog.Logger) (State, error) {
	start := time.Now()
	ctx, span := startIterationSpan(ctx, st.iteration, len(st.current))
	defer span.End()

	l.transition(st, StateFixing, "", logger)
	input := st.current
	br := l.batcher.RunBatch(ctx, input, l.cfg.Batch)
	st.absorb(st.iteration, br)
	remaining := unfixed(input, br)

	rec := IterationRecord{
		Iteration:    st.iteration,
		IssuesBefore: len(input),
		FixesApplied: br.Fixed,
		FixesFailed:  br.Failed,
		Skipped:      br.Skipped,
	}

	if cerr := ctx.Err(); cerr != nil {
		rec.IssuesAfter = len(remaining)
		rec.Progress = len(input) - len(remaining)
		rec.NoProgressStreak = st.streak
		rec.State = StateCancelled
		rec.ElapsedMS = time.Since(start).Milliseconds()
		l.complete(ctx, res, rec, logger)
		l.finish(st, res, StateCancelled, remaining, logger)
		return StateCancelled, fmt.Errorf("convergence cancelled during iteration %d: %w", st.iteration, cerr)
	}

	l.transition(st, StateRechecking, "", logger)
	next, cerr := l.collector.Collect(ctx)
	if cerr != nil {
		span.RecordError(cerr)
		return StateFailed, l.abort(ctx, st, res, remaining, cerr, logger)
	}
	next = dedupe(next, st.iteration, logger)

	progress, state := st.advance(len(next), l.cfg)
	rec.IssuesAfter = len(next)
	rec.Progress = progress
	rec.NoProgressStreak = st.streak
	rec.State = state
	rec.Stalled = state == StateStalled
	rec.ElapsedMS = time.Since(start).Milliseconds()
	l.complete(ctx, res, rec, logger)

	st.current = next
	return state, nil
}

// abort ends the run after a collector error. The error is classified as
// a cancellation when ctx is done, otherwise as a collector failure.
func (l *Loop) abort(ctx context.Context, st *loopState, res *Result, last []issue.Issue, cause error, logger *slog.Logger) error {
	state := StateFailed
	err := fmt.Errorf("%w: iteration %d: %w", ErrCollectorFailed, st.iteration, cause)
	if cerr := ctx.Err(); cerr != nil {
		state = StateCancelled
		err = fmt.Errorf("convergence cancelled during collection at iteration %d: %w", st.iteration, cerr)
	}

	logger.Error("issue collection failed",
		"iteration", st.iteration,
		"terminal_state", state,
		"error", cause,
	)
	l.sink.Emit(events.TypeError, events.ErrorData{Error: err.Error(), Phase: "collect"})
	l.finish(st, res, state, last, logger)
	return err
}

// complete appends and publishes an iteration record.
func (l *Loop) complete(ctx context.Context, res *Result, rec IterationRecord, logger *slog.Logger) {
	res.Iterations = append(res.Iterations, rec)
	recordIteration(ctx, rec)
	l.sink.Emit(events.TypeIterationComplete, rec)
	logger.Info("iteration complete",
		"iteration", rec.Iteration,
		"issues_before", rec.IssuesBefore,
		"issues_after", rec.IssuesAfter,
		"fixes_applied", rec.FixesApplied,
		"fixes_failed", rec.FixesFailed,
		"no_progress_streak", rec.NoProgressStreak,
		"state", rec.State,
	)
}

// finish moves to a terminal state and builds the fixed and unresolved
// lists from the final issue set.
func (l *Loop) finish(st *loopState, res *Result, state State, final []issue.Issue, logger *slog.Logger) {
	l.transition(st, state, "", logger)
	res.TerminalState = state
	res.FinalIssueCount = len(final)

	present := make(map[string]struct{}, len(final))
	for _, iss := range final {
		present[iss.Fingerprint] = struct{}{}
	}

	for fp, f := range st.fixed {
		if _, still := present[fp]; !still {
			res.Fixed = append(res.Fixed, f)
		}
	}
	sort.Slice(res.Fixed, func(i, j int) bool {
		if res.Fixed[i].Iteration != res.Fixed[j].Iteration {
			return res.Fixed[i].Iteration < res.Fixed[j].Iteration
		}
		return res.Fixed[i].Fingerprint < res.Fixed[j].Fingerprint
	})

	for _, iss := range final {
		if why := structuralDefect(iss); why != "" {
			res.Dropped++
			logger.Warn("dropping malformed unresolved issue",
				"fingerprint", iss.Fingerprint,
				"rule", iss.Rule,
				"reason", why,
			)
			l.sink.Emit(events.TypeIssueDropped, events.IssueDroppedData{
				Fingerprint: iss.Fingerprint,
				Reason:      why,
			})
			continue
		}
		res.Unresolved = append(res.Unresolved, UnresolvedIssue{
			Issue:  iss,
			Reason: st.reasonFor(iss),
		})
	}
}

func (l *Loop) transition(st *loopState, to State, reason string, logger *slog.Logger) {
	from := st.state
	st.state = to
	l.sink.Emit(events.TypeStateTransition, events.StateTransitionData{
		From:   string(from),
		To:     string(to),
		Reason: reason,
	})
	logger.Debug("state transition", "from", from, "to", to, "iteration", st.iteration)
}

// =============================================================================
// LOOP STATE
// =============================================================================

// loopState is owned by a single run.
type loopState struct {
	state     State
	iteration int
	streak    int
	previous  int
	current   []issue.Issue

	// last is the most recent batch outcome per fingerprint.
	last map[string]batch.IssueOutcome

	// fixed is the most recent successful fix per fingerprint.
	fixed map[string]FixedIssue
}

func newLoopState() *loopState {
	return &loopState{
		last:  make(map[string]batch.IssueOutcome),
		fixed: make(map[string]FixedIssue),
	}
}

// absorb records one batch's outcomes.
func (s *loopState) absorb(iteration int, br *batch.Result) {
	for _, o := range br.Outcomes {
		fp := o.Issue.Fingerprint
		s.last[fp] = o
		if o.Status != batch.StatusFixed {
			continue
		}
		s.fixed[fp] = FixedIssue{
			Fingerprint: fp,
			StrategyID:  o.StrategyID,
			File:        o.Issue.Location.File,
			Rule:        o.Issue.Rule,
			Rationale:   o.Rationale,
			Iteration:   iteration,
		}
	}
}

// advance applies a recheck count and returns the progress and next state.
func (s *loopState) advance(current int, cfg Config) (int, State) {
	progress := s.previous - current
	if progress > 0 {
		s.streak = 0
	} else {
		s.streak++
	}
	s.previous = current

	switch {
	case current == 0:
		return progress, StateConverged
	case s.iteration >= cfg.MaxIterations:
		return progress, StateExhausted
	case s.streak >= cfg.StallWindow:
		return progress, StateStalled
	default:
		return progress, StateFixing
	}
}

func (s *loopState) reasonFor(iss issue.Issue) Reason {
	o, ok := s.last[iss.Fingerprint]
	if !ok {
		return ReasonNotAttempted
	}
	if o.Status == batch.StatusFixed {
		return ReasonPersistedAfterFix
	}
	if o.Reason == batch.ReasonNone {
		return ReasonNotAttempted
	}
	return Reason(o.Reason)
}

// =============================================================================
// HELPERS
// =============================================================================

// dedupe stamps issues with the iteration and drops repeated fingerprints.
// Issues without a fingerprint get one computed from location and rule.
func dedupe(issues []issue.Issue, iteration int, logger *slog.Logger) []issue.Issue {
	out := make([]issue.Issue, 0, len(issues))
	seen := make(map[string]struct{}, len(issues))
	for _, iss := range issues {
		if iss.Fingerprint == "" {
			iss.Fingerprint = issue.Fingerprint(iss.Location, iss.Rule)
		}
		if _, dup := seen[iss.Fingerprint]; dup {
			logger.Warn("duplicate issue fingerprint",
				"fingerprint", iss.Fingerprint,
				"location", iss.Location.String(),
				"rule", iss.Rule,
			)
			continue
		}
		seen[iss.Fingerprint] = struct{}{}
		out = append(out, iss.WithIteration(iteration))
	}
	return out
}

// unfixed returns the input issues the batch did not fix.
func unfixed(input []issue.Issue, br *batch.Result) []issue.Issue {
	fixed := make(map[string]struct{}, br.Fixed)
	for _, o := range br.Outcomes {
		if o.Status == batch.StatusFixed {
			fixed[o.Issue.Fingerprint] = struct{}{}
		}
	}
	out := make([]issue.Issue, 0, len(input))
	for _, iss := range input {
		if _, ok := fixed[iss.Fingerprint]; !ok {
			out = append(out, iss)
		}
	}
	return out
}

func structuralDefect(iss issue.Issue) string {
	switch {
	case iss.Location.File == "":
		return "missing location"
	case iss.Category == "":
		return "missing category"
	default:
		return ""
	}
}

type nopSink struct{}

func (nopSink) Emit(events.Type, any) {}
func (nopSink) SetRunID(string)       {}
func (nopSink) SetIteration(int)      {}
