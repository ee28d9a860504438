// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events lets observers follow a convergence run.
//
// The loop emits one event per state change and one per completed
// iteration. Observers (CLI progress output, the run ledger, tests)
// subscribe without the loop knowing about them.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeRunStart is emitted once when a run begins.
	TypeRunStart Type = "run_start"

	// TypeStateTransition is emitted when the loop changes state.
	TypeStateTransition Type = "state_transition"

	// TypeIterationComplete is emitted after every fix/recheck iteration.
	// Data is the loop's iteration record.
	TypeIterationComplete Type = "iteration_complete"

	// TypeIssueDropped is emitted when an unresolved issue is dropped by the
	// terminal structural pass.
	TypeIssueDropped Type = "issue_dropped"

	// TypeError is emitted when a run aborts.
	TypeError Type = "error"

	// TypeRunEnd is emitted once with the terminal state.
	TypeRunEnd Type = "run_end"
)

// Event is one observed occurrence.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// RunID links the event to a convergence run.
	RunID string `json:"run_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Iteration is the loop iteration when the event occurred (0 before the
	// first fix pass).
	Iteration int `json:"iteration"`

	// Data contains event-specific data.
	Data any `json:"data,omitempty"`
}

// RunStartData is the data for run start events.
type RunStartData struct {
	Root          string `json:"root,omitempty"`
	InitialIssues int    `json:"initial_issues"`
	MaxIterations int    `json:"max_iterations"`
	StallWindow   int    `json:"stall_window"`
}

// StateTransitionData is the data for state transition events.
type StateTransitionData struct {
	From string `json:"from"`
	To   string `json:"to"`

	// Reason explains why the transition occurred.
	Reason string `json:"reason,omitempty"`
}

// IssueDroppedData is the data for issue dropped events.
type IssueDroppedData struct {
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason"`
}

// ErrorData is the data for error events.
type ErrorData struct {
	Error string `json:"error"`
	Phase string `json:"phase,omitempty"`
}

// RunEndData is the data for run end events.
type RunEndData struct {
	TerminalState   string        `json:"terminal_state"`
	FinalIssueCount int           `json:"final_issue_count"`
	Iterations      int           `json:"iterations"`
	Elapsed         time.Duration `json:"elapsed"`
}
