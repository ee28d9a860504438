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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const convergeInstrumentationName = "autofix.converge"

var (
	tracer = otel.Tracer(convergeInstrumentationName)
	meter  = otel.Meter(convergeInstrumentationName)
)

var (
	runTotal          metric.Int64Counter
	runDuration       metric.Float64Histogram
	iterationTotal    metric.Int64Counter
	iterationProgress metric.Int64Histogram
	droppedTotal      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runTotal, err = meter.Int64Counter(
			"autofix_converge_runs_total",
			metric.WithDescription("Total convergence runs by terminal state"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"autofix_converge_run_duration_seconds",
			metric.WithDescription("Duration of convergence runs in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationTotal, err = meter.Int64Counter(
			"autofix_converge_iterations_total",
			metric.WithDescription("Total fix/recheck iterations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationProgress, err = meter.Int64Histogram(
			"autofix_converge_iteration_progress",
			metric.WithDescription("Issues removed per iteration"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedTotal, err = meter.Int64Counter(
			"autofix_converge_dropped_total",
			metric.WithDescription("Unresolved entries dropped by the structural pass"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRun(ctx context.Context, state State, d time.Duration, dropped int) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("terminal_state", string(state)))
	runTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, d.Seconds(), attrs)
	if dropped > 0 {
		droppedTotal.Add(ctx, int64(dropped))
	}
}

func recordIteration(ctx context.Context, rec IterationRecord) {
	if initMetrics() != nil {
		return
	}
	iterationTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(rec.State))))
	iterationProgress.Record(ctx, int64(rec.Progress))
}

func startRunSpan(ctx context.Context, runID string, cfg Config) (context.Context, trace.Span) {
	return tracer.Start(ctx, "converge.Run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.max_iterations", cfg.MaxIterations),
			attribute.Int("run.stall_window", cfg.StallWindow),
		),
	)
}

func endRunSpan(span trace.Span, res *Result, err error) {
	defer span.End()
	span.SetAttributes(
		attribute.String("run.terminal_state", string(res.TerminalState)),
		attribute.Int("run.iterations", len(res.Iterations)),
		attribute.Int("run.final_issue_count", res.FinalIssueCount),
		attribute.Int("run.fixed", len(res.Fixed)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func startIterationSpan(ctx context.Context, iteration, issues int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "converge.Iteration",
		trace.WithAttributes(
			attribute.Int("iteration", iteration),
			attribute.Int("iteration.issues_before", issues),
		),
	)
}
