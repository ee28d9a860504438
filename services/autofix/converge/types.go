// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package converge

import (
	"errors"
	"time"

	"github.com/AleutianAI/autofix/services/autofix/batch"
	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCollectorFailed indicates the issue collector returned an error.
	// The run ends in StateFailed.
	ErrCollectorFailed = errors.New("issue collector failed")

	// ErrInvalidLoop indicates a loop constructed without a collector or batcher.
	ErrInvalidLoop = errors.New("invalid convergence loop")
)

// =============================================================================
// STATE
// =============================================================================

// State is a convergence loop state.
type State string

const (
	StateCollecting State = "COLLECTING"
	StateFixing     State = "FIXING"
	StateRechecking State = "RECHECKING"

	// StateConverged means the last collection reported no issues.
	StateConverged State = "CONVERGED"

	// StateStalled means StallWindow consecutive iterations made no progress.
	StateStalled State = "STALLED"

	// StateExhausted means MaxIterations ran with issues remaining.
	StateExhausted State = "EXHAUSTED"

	// StateFailed means the collector returned an error.
	StateFailed State = "FAILED"

	// StateCancelled means the caller's context ended the run.
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	switch s {
	case StateConverged, StateStalled, StateExhausted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// =============================================================================
// UNRESOLVED REASONS
// =============================================================================

// Reason tags an unresolved issue in the final result.
//
// Most values come straight from the issue's last batch outcome
// (batch.Reason). Two are added by the loop.
type Reason string

const (
	ReasonUnroutable          = Reason(batch.ReasonUnroutable)
	ReasonStrategyFailure     = Reason(batch.ReasonStrategyFailure)
	ReasonValidationExhausted = Reason(batch.ReasonValidationExhausted)
	ReasonIOFailure           = Reason(batch.ReasonIOFailure)
	ReasonTimeout             = Reason(batch.ReasonTimeout)
	ReasonEditRejected        = Reason(batch.ReasonEditRejected)
	ReasonCancelled           = Reason(batch.ReasonCancelled)

	// ReasonNotAttempted means the issue first appeared on the final
	// collection, or the run stopped before any batch ran.
	ReasonNotAttempted Reason = "not_attempted"

	// ReasonPersistedAfterFix means an edit for the issue was applied and
	// validated but the collector still reports it.
	ReasonPersistedAfterFix Reason = "persisted_after_fix"
)

// =============================================================================
// RECORDS
// =============================================================================

// IterationRecord summarizes one fix/recheck iteration. It is emitted as
// the data of events.TypeIterationComplete.
type IterationRecord struct {
	Iteration    int   `json:"iteration"`
	IssuesBefore int   `json:"issues_before"`
	IssuesAfter  int   `json:"issues_after"`
	FixesApplied int   `json:"fixes_applied"`
	FixesFailed  int   `json:"fixes_failed"`
	ElapsedMS    int64 `json:"elapsed_ms"`

	// State is the state the loop moved to after this iteration: FIXING
	// when another iteration follows, otherwise the terminal state.
	State State `json:"state"`

	// Skipped counts unroutable or never-started issues.
	Skipped int `json:"skipped"`

	// Progress is IssuesBefore - IssuesAfter.
	Progress int `json:"progress"`

	// NoProgressStreak is the streak after this iteration.
	NoProgressStreak int `json:"no_progress_streak"`

	// Stalled is set on the iteration that ended the run as STALLED.
	Stalled bool `json:"stalled"`
}

// FixedIssue is one issue resolved during the run.
type FixedIssue struct {
	Fingerprint string `json:"fingerprint"`
	StrategyID  string `json:"strategy_id"`
	File        string `json:"file,omitempty"`
	Rule        string `json:"rule,omitempty"`
	Rationale   string `json:"rationale,omitempty"`

	// Iteration is the iteration whose batch applied the fix.
	Iteration int `json:"iteration"`
}

// UnresolvedIssue is one issue still reported at the end of the run.
type UnresolvedIssue struct {
	Issue  issue.Issue `json:"issue"`
	Reason Reason      `json:"reason"`
}

// Result is the final report of one run.
type Result struct {
	RunID         string `json:"run_id"`
	TerminalState State  `json:"terminal_state"`

	// FinalIssueCount is the size of the last known issue set, before the
	// structural pass.
	FinalIssueCount int `json:"final_issue_count"`

	Iterations []IterationRecord `json:"iterations"`
	Fixed      []FixedIssue      `json:"fixed"`
	Unresolved []UnresolvedIssue `json:"unresolved"`

	// Dropped counts unresolved entries removed by the structural pass.
	Dropped int `json:"dropped"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`

	// Error is set for FAILED and CANCELLED runs.
	Error string `json:"error,omitempty"`
}

// UnresolvedByReason counts unresolved issues per reason.
func (r *Result) UnresolvedByReason() map[Reason]int {
	out := make(map[Reason]int)
	for _, u := range r.Unresolved {
		out[u.Reason]++
	}
	return out
}

// =============================================================================
// CONFIG
// =============================================================================

// Default loop bounds.
const (
	DefaultMaxIterations = 5
	DefaultStallWindow   = 3
)

// Config bounds a run.
type Config struct {
	// MaxIterations caps fix/recheck iterations.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// StallWindow is the number of consecutive no-progress iterations that
	// ends the run as STALLED.
	StallWindow int `yaml:"stall_window" json:"stall_window"`

	// Batch bounds each iteration's batch.
	Batch batch.Options `yaml:"batch" json:"batch"`
}

// DefaultConfig returns MaxIterations 5, StallWindow 3 and batch defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: DefaultMaxIterations,
		StallWindow:   DefaultStallWindow,
		Batch:         batch.DefaultOptions(),
	}
}

func (c Config) normalized() Config {
	if c.MaxIterations < 1 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.StallWindow < 1 {
		c.StallWindow = DefaultStallWindow
	}
	return c
}
