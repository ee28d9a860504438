// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategies

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("autofix.strategies")

var (
	// llmRequests counts model calls.
	// Labels: model, result (ok, error, malformed, no_change)
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Total rewrite requests by model and result",
	}, []string{"model", "result"})

	// llmTokens counts tokens reported by the provider.
	// Labels: model, kind (prompt, completion)
	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autofix",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Total tokens used by rewrite requests",
	}, []string{"model", "kind"})

	// llmLatency tracks model call latency.
	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autofix",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Rewrite request latency",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"model"})
)
