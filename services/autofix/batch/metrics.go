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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("autofix.batch")

var (
	// issueOutcomes counts final issue outcomes.
	// Labels: status, reason
	issueOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "batch",
		Name:      "issue_outcomes_total",
		Help:      "Total issue outcomes by status and reason",
	}, []string{"status", "reason"})

	// attemptResults counts strategy attempts.
	// Labels: strategy, result
	attemptResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "batch",
		Name:      "attempts_total",
		Help:      "Total strategy attempts by strategy and result",
	}, []string{"strategy", "result"})

	// escalations counts moves to the next candidate.
	escalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "batch",
		Name:      "escalations_total",
		Help:      "Total escalations to the next-ranked strategy",
	})

	// inFlight tracks concurrently running issue tasks.
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autofix",
		Subsystem: "batch",
		Name:      "issues_in_flight",
		Help:      "Issue tasks currently running",
	})

	// batchDuration tracks batch wall time.
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autofix",
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "Batch wall time",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func recordOutcome(o IssueOutcome) {
	issueOutcomes.WithLabelValues(string(o.Status), string(o.Reason)).Inc()
}

func recordAttempt(a Attempt) {
	attemptResults.WithLabelValues(a.StrategyID, string(a.Result)).Inc()
}
