// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch fixes a set of issues concurrently.
//
// Each issue is routed to its best strategy. A failed attempt escalates to
// the next-ranked strategy until the attempt cap or the candidate list is
// exhausted:
//
//	Route ─► Apply strategy ─► SafeEditor ─► fixed
//	  │           │                 │
//	  │           └─ error/nil ─────┴─ rolled_back/rejected ─► next candidate
//	  └─ unroutable ─► skipped
//
// I/O failures end the issue immediately. One issue never aborts the batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/registry"
)

// Router picks strategies for an issue.
type Router interface {
	Route(iss issue.Issue) registry.RoutingDecision
}

// Editor applies proposed edits safely.
type Editor interface {
	Apply(ctx context.Context, target string, edit issue.ProposedEdit) (*editor.Outcome, error)
}

// Executor runs batches.
//
// Thread Safety: Safe for concurrent use.
type Executor struct {
	router      Router
	editor      Editor
	stepTimeout time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithStepTimeout bounds each strategy Apply call.
func WithStepTimeout(d time.Duration) Option {
	return func(x *Executor) {
		if d > 0 {
			x.stepTimeout = d
		}
	}
}

// WithRateLimit limits strategy invocations across the executor.
// A limit of rate.Inf disables limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(x *Executor) {
		if limit == rate.Inf || limit <= 0 {
			x.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		x.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) {
		if l != nil {
			x.logger = l
		}
	}
}

// New creates an executor.
//
// Inputs:
//
//	router - Strategy router, normally a frozen *registry.Registry
//	ed - Safe editor, normally an *editor.Editor
//	opts - Optional settings
//
// Outputs:
//
//	*Executor - The executor
//	error - Non-nil if router or ed is nil
func New(router Router, ed Editor, opts ...Option) (*Executor, error) {
	if router == nil || ed == nil {
		return nil, errors.New("batch: router and editor are required")
	}
	x := &Executor{
		router:      router,
		editor:      ed,
		stepTimeout: editor.DefaultStepTimeout,
		logger:      slog.Default().With("component", "batch"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// RunBatch fixes issues with at most opts.MaxParallel concurrent tasks.
//
// Description:
//
//	Returns one IssueOutcome per input issue, sorted by fingerprint. If
//	ctx is cancelled, issues that have not started are skipped with
//	ReasonCancelled; started issues finish their current editor call and
//	do not escalate further.
//
// Inputs:
//
//	ctx - Cancellation for the batch
//	issues - Issues to fix; fingerprints should be unique
//	opts - Concurrency and retry bounds
//
// Outputs:
//
//	*Result - Always non-nil
//
// Thread Safety: Safe for concurrent use.
func (x *Executor) RunBatch(ctx context.Context, issues []issue.Issue, opts Options) *Result {
	start := time.Now()
	opts = opts.normalized()

	ctx, span := tracer.Start(ctx, "batch.RunBatch",
		trace.WithAttributes(
			attribute.Int("batch.issues", len(issues)),
			attribute.Int("batch.max_parallel", opts.MaxParallel),
		),
	)
	defer span.End()

	res := &Result{Outcomes: make([]IssueOutcome, len(issues))}
	sem := semaphore.NewWeighted(int64(opts.MaxParallel))
	var wg sync.WaitGroup

	for i, iss := range issues {
		if ctx.Err() != nil {
			res.Outcomes[i] = skipped(iss, ReasonCancelled)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			res.Outcomes[i] = skipped(iss, ReasonCancelled)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			inFlight.Inc()
			defer inFlight.Dec()
			res.Outcomes[i] = x.runIssueSafe(ctx, iss, opts)
		}()
	}
	wg.Wait()

	for _, o := range res.Outcomes {
		recordOutcome(o)
	}
	res.finish(start)
	batchDuration.Observe(res.Duration.Seconds())

	span.SetAttributes(
		attribute.Int("batch.fixed", res.Fixed),
		attribute.Int("batch.failed", res.Failed),
		attribute.Int("batch.skipped", res.Skipped),
	)
	x.logger.Info("batch complete",
		slog.Int("issues", len(issues)),
		slog.Int("fixed", res.Fixed),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", res.Duration),
	)
	return res
}

func skipped(iss issue.Issue, reason Reason) IssueOutcome {
	return IssueOutcome{Issue: iss, Status: StatusSkipped, Reason: reason}
}

// runIssueSafe contains any panic outside strategy code to its issue.
func (x *Executor) runIssueSafe(ctx context.Context, iss issue.Issue, opts Options) (out IssueOutcome) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("issue task panicked",
				slog.String("fingerprint", iss.Fingerprint),
				slog.Any("panic", r),
			)
			out = IssueOutcome{
				Issue:    iss,
				Status:   StatusFailed,
				Reason:   ReasonStrategyFailure,
				Attempts: append(out.Attempts, Attempt{Result: AttemptPanic, Error: fmt.Sprint(r)}),
			}
		}
	}()
	return x.runIssue(ctx, iss, opts)
}

// =============================================================================
// ATTEMPT STATE MACHINE
// =============================================================================

// attemptState tracks escalation for one issue.
type attemptState struct {
	remaining []registry.Candidate
	used      int
	limit     int
	last      Reason
}

// next pops the next candidate if both the attempt cap and the candidate
// list allow it.
func (s *attemptState) next() (registry.Candidate, bool) {
	if s.used >= s.limit || len(s.remaining) == 0 {
		return registry.Candidate{}, false
	}
	c := s.remaining[0]
	s.remaining = s.remaining[1:]
	s.used++
	return c, true
}

func (x *Executor) runIssue(ctx context.Context, iss issue.Issue, opts Options) IssueOutcome {
	out := IssueOutcome{Issue: iss}
	if ctx.Err() != nil {
		return skipped(iss, ReasonCancelled)
	}

	decision := x.router.Route(iss)
	if decision.Unroutable() {
		out.Status = StatusSkipped
		out.Reason = ReasonUnroutable
		return out
	}

	st := &attemptState{remaining: decision.Remaining, limit: opts.maxAttempts()}
	for {
		cand, ok := st.next()
		if !ok {
			break
		}
		if st.used > 1 {
			escalations.Inc()
			x.logger.Debug("escalating",
				slog.String("fingerprint", iss.Fingerprint),
				slog.String("strategy", cand.Strategy.ID()),
				slog.Int("attempt", st.used),
			)
		}

		att, fix := x.attempt(ctx, iss, cand)
		out.Attempts = append(out.Attempts, att)
		recordAttempt(att)

		switch att.Result {
		case AttemptFixed:
			out.Status = StatusFixed
			out.StrategyID = att.StrategyID
			out.File = fix.outcome.File
			out.Backup = fix.outcome.Backup
			out.Rationale = fix.rationale
			return out
		case AttemptIOFailure:
			out.Status = StatusFailed
			out.Reason = ReasonIOFailure
			return out
		case AttemptCancelled:
			out.Status = StatusFailed
			out.Reason = ReasonCancelled
			return out
		}

		st.last = reasonFor(att.Result)
		if ctx.Err() != nil {
			out.Status = StatusFailed
			out.Reason = ReasonCancelled
			return out
		}
	}

	out.Status = StatusFailed
	out.Reason = st.last
	return out
}

func reasonFor(r AttemptResult) Reason {
	switch r {
	case AttemptTimeout:
		return ReasonTimeout
	case AttemptRolledBack:
		return ReasonValidationExhausted
	case AttemptRejected:
		return ReasonEditRejected
	case AttemptIOFailure:
		return ReasonIOFailure
	case AttemptCancelled:
		return ReasonCancelled
	default:
		return ReasonStrategyFailure
	}
}

type appliedFix struct {
	outcome   *editor.Outcome
	rationale string
}

// attempt runs one candidate: strategy Apply under the step timeout, then
// the safe editor.
func (x *Executor) attempt(ctx context.Context, iss issue.Issue, cand registry.Candidate) (Attempt, appliedFix) {
	start := time.Now()
	att := Attempt{StrategyID: cand.Strategy.ID(), Confidence: cand.Confidence}

	if x.limiter != nil {
		if err := x.limiter.Wait(ctx); err != nil {
			att.Result = AttemptCancelled
			att.Error = err.Error()
			att.Duration = time.Since(start)
			return att, appliedFix{}
		}
	}

	edit, res, err := x.propose(ctx, iss, cand.Strategy)
	if res != "" {
		att.Result = res
		if err != nil {
			att.Error = err.Error()
		}
		att.Duration = time.Since(start)
		return att, appliedFix{}
	}

	out, err := x.editor.Apply(ctx, iss.Location.File, *edit)
	att.Duration = time.Since(start)
	if out != nil {
		att.Diagnostics = out.Diagnostics
	}
	if err != nil {
		att.Error = err.Error()
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			att.Result = AttemptCancelled
		} else {
			att.Result = AttemptIOFailure
		}
		return att, appliedFix{}
	}

	switch out.Status {
	case editor.StatusSuccess:
		att.Result = AttemptFixed
		return att, appliedFix{outcome: out, rationale: edit.Rationale}
	case editor.StatusRolledBack:
		att.Result = AttemptRolledBack
		if out.TimedOut {
			att.Result = AttemptTimeout
		}
	default:
		att.Result = AttemptRejected
	}
	att.Error = out.Message
	return att, appliedFix{}
}

type proposal struct {
	edit *issue.ProposedEdit
	err  error
	pnc  any
}

// propose calls the strategy in its own goroutine so a strategy that
// ignores its context cannot hold the task past the step timeout.
// A non-empty AttemptResult means the attempt ended here.
func (x *Executor) propose(ctx context.Context, iss issue.Issue, s registry.Strategy) (*issue.ProposedEdit, AttemptResult, error) {
	sctx, cancel := context.WithTimeout(ctx, x.stepTimeout)
	defer cancel()

	ch := make(chan proposal, 1)
	go func() {
		var p proposal
		defer func() {
			if r := recover(); r != nil {
				p = proposal{pnc: r}
			}
			ch <- p
		}()
		p.edit, p.err = s.Apply(sctx, iss)
	}()

	var p proposal
	received := false
	select {
	case p = <-ch:
		received = true
	case <-sctx.Done():
	}
	timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)

	switch {
	case ctx.Err() != nil:
		return nil, AttemptCancelled, ctx.Err()
	case !received || (p.err != nil && timedOut):
		return nil, AttemptTimeout, fmt.Errorf("strategy %s exceeded %s", s.ID(), x.stepTimeout)
	case p.pnc != nil:
		x.logger.Error("strategy panicked",
			slog.String("strategy", s.ID()),
			slog.String("fingerprint", iss.Fingerprint),
			slog.Any("panic", p.pnc),
		)
		return nil, AttemptPanic, fmt.Errorf("strategy %s panicked: %v", s.ID(), p.pnc)
	case p.err != nil:
		return nil, AttemptStrategyError, p.err
	case p.edit == nil:
		return nil, AttemptNoEdit, fmt.Errorf("strategy %s proposed no edit", s.ID())
	}
	return p.edit, "", nil
}
