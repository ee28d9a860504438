// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"sort"
	"time"

	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// =============================================================================
// STATUS AND REASON
// =============================================================================

// Status is the final state of one issue in a batch.
type Status string

const (
	StatusFixed   Status = "fixed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Reason classifies why an issue was not fixed.
type Reason string

const (
	ReasonNone Reason = ""

	// ReasonUnroutable means no strategy met the confidence threshold.
	ReasonUnroutable Reason = "unroutable"

	// ReasonStrategyFailure means the last strategy errored or proposed nothing.
	ReasonStrategyFailure Reason = "strategy_failure"

	// ReasonValidationExhausted means every attempted edit was rolled back.
	ReasonValidationExhausted Reason = "validation_exhausted"

	// ReasonIOFailure means the editor hit an I/O error. Not retried.
	ReasonIOFailure Reason = "io_failure"

	// ReasonTimeout means the last attempt exceeded the step timeout.
	ReasonTimeout Reason = "timeout"

	// ReasonEditRejected means the last edit could not be applied at all.
	ReasonEditRejected Reason = "edit_rejected"

	// ReasonCancelled means the batch context was cancelled.
	ReasonCancelled Reason = "cancelled"
)

// =============================================================================
// ATTEMPT
// =============================================================================

// AttemptResult is what happened in one strategy attempt.
type AttemptResult string

const (
	AttemptFixed         AttemptResult = "fixed"
	AttemptStrategyError AttemptResult = "strategy_error"
	AttemptNoEdit        AttemptResult = "no_edit"
	AttemptPanic         AttemptResult = "panic"
	AttemptTimeout       AttemptResult = "timeout"
	AttemptRolledBack    AttemptResult = "rolled_back"
	AttemptRejected      AttemptResult = "rejected"
	AttemptIOFailure     AttemptResult = "io_failure"
	AttemptCancelled     AttemptResult = "cancelled"
)

// Attempt is the audit record of one strategy invocation.
type Attempt struct {
	StrategyID  string             `json:"strategy_id"`
	Confidence  float64            `json:"confidence"`
	Result      AttemptResult      `json:"result"`
	Error       string             `json:"error,omitempty"`
	Diagnostics []issue.Diagnostic `json:"diagnostics,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// =============================================================================
// OUTCOME
// =============================================================================

// IssueOutcome is the result for one issue.
type IssueOutcome struct {
	Issue  issue.Issue `json:"issue"`
	Status Status      `json:"status"`
	Reason Reason      `json:"reason,omitempty"`

	// StrategyID, File and Rationale describe the successful fix.
	StrategyID string            `json:"strategy_id,omitempty"`
	File       string            `json:"file,omitempty"`
	Rationale  string            `json:"rationale,omitempty"`
	Backup     *editor.BackupRef `json:"backup,omitempty"`

	Attempts []Attempt `json:"attempts,omitempty"`
}

// Fingerprint returns the issue's fingerprint.
func (o IssueOutcome) Fingerprint() string {
	return o.Issue.Fingerprint
}

// Result is the outcome of one batch.
type Result struct {
	// Outcomes has one entry per input issue, sorted by fingerprint.
	Outcomes []IssueOutcome `json:"outcomes"`

	Fixed   int `json:"fixed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	Duration time.Duration `json:"duration"`
}

// Outcome returns the outcome for a fingerprint.
func (r *Result) Outcome(fingerprint string) (IssueOutcome, bool) {
	i := sort.Search(len(r.Outcomes), func(i int) bool {
		return r.Outcomes[i].Issue.Fingerprint >= fingerprint
	})
	if i < len(r.Outcomes) && r.Outcomes[i].Issue.Fingerprint == fingerprint {
		return r.Outcomes[i], true
	}
	return IssueOutcome{}, false
}

func (r *Result) finish(start time.Time) {
	sort.SliceStable(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Issue.Fingerprint < r.Outcomes[j].Issue.Fingerprint
	})
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusFixed:
			r.Fixed++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
	r.Duration = time.Since(start)
}

// =============================================================================
// OPTIONS
// =============================================================================

// Default batch options.
const (
	DefaultMaxParallel        = 3
	DefaultMaxRetriesPerIssue = 2
)

// Options bounds one batch.
type Options struct {
	// MaxParallel is the number of concurrent issue tasks. Values below 1
	// use DefaultMaxParallel.
	MaxParallel int `yaml:"max_parallel" json:"max_parallel"`

	// MaxRetriesPerIssue is the number of attempts after the first.
	// Negative values are treated as 0.
	MaxRetriesPerIssue int `yaml:"max_retries_per_issue" json:"max_retries_per_issue"`
}

// DefaultOptions returns MaxParallel 3 and MaxRetriesPerIssue 2.
func DefaultOptions() Options {
	return Options{
		MaxParallel:        DefaultMaxParallel,
		MaxRetriesPerIssue: DefaultMaxRetriesPerIssue,
	}
}

func (o Options) normalized() Options {
	if o.MaxParallel < 1 {
		o.MaxParallel = DefaultMaxParallel
	}
	if o.MaxRetriesPerIssue < 0 {
		o.MaxRetriesPerIssue = 0
	}
	return o
}

// maxAttempts is the attempt cap per issue.
func (o Options) maxAttempts() int {
	return 1 + o.MaxRetriesPerIssue
}
