// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// =============================================================================
// Prometheus Metrics for Strategy Routing
// =============================================================================

var (
	// routingDecisions counts routing outcomes.
	// Labels: category, result (routed, unroutable)
	routingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "routing",
		Name:      "decisions_total",
		Help:      "Total routing decisions by category and result",
	}, []string{"category", "result"})

	// routingSelections counts strategy selections.
	// Labels: strategy
	routingSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "routing",
		Name:      "selections_total",
		Help:      "Total times a strategy was chosen as top candidate",
	}, []string{"strategy"})

	// routingConfidence tracks the confidence of chosen strategies.
	routingConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autofix",
		Subsystem: "routing",
		Name:      "confidence",
		Help:      "Distribution of top-candidate confidence scores",
		Buckets:   []float64{0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
	})

	// scoringErrors counts Confidence calls that failed.
	// Labels: strategy
	scoringErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "routing",
		Name:      "scoring_errors_total",
		Help:      "Total strategy confidence failures (excluded from routing)",
	}, []string{"strategy"})
)

func recordRouting(category issue.Category, strategyID string, routed bool) {
	result := "unroutable"
	if routed {
		result = "routed"
		routingSelections.WithLabelValues(strategyID).Inc()
	}
	routingDecisions.WithLabelValues(string(category), result).Inc()
}

func recordConfidence(conf float64) {
	routingConfidence.Observe(conf)
}

func recordScoringError(strategyID string) {
	scoringErrors.WithLabelValues(strategyID).Inc()
}
