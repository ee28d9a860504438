// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

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

const editorInstrumentationName = "autofix.editor"

var (
	tracer = otel.Tracer(editorInstrumentationName)
	meter  = otel.Meter(editorInstrumentationName)
)

// Metric instruments for safe-edit operations.
var (
	applyTotal      metric.Int64Counter
	applyDuration   metric.Float64Histogram
	rollbackTotal   metric.Int64Counter
	backupEvictions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		applyTotal, err = meter.Int64Counter(
			"autofix_editor_apply_total",
			metric.WithDescription("Total safe-edit attempts by outcome status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applyDuration, err = meter.Float64Histogram(
			"autofix_editor_apply_duration_seconds",
			metric.WithDescription("Duration of safe-edit attempts in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"autofix_editor_rollback_total",
			metric.WithDescription("Total rollbacks by cause"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		backupEvictions, err = meter.Int64Counter(
			"autofix_editor_backup_evictions_total",
			metric.WithDescription("Total backups evicted from per-file rings"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordApply(ctx context.Context, status Status, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	applyTotal.Add(ctx, 1, attrs)
	applyDuration.Record(ctx, d.Seconds(), attrs)
}

func recordRollback(ctx context.Context, cause string) {
	if initMetrics() != nil {
		return
	}
	rollbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func recordEviction(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	backupEvictions.Add(ctx, 1)
}

// startApplySpan starts the span covering one safe-edit attempt.
func startApplySpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "editor.Apply",
		trace.WithAttributes(attribute.String("file.path", path)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endApplySpan records the outcome on the span and ends it.
func endApplySpan(span trace.Span, out *Outcome, err error) {
	defer span.End()
	if out != nil {
		span.SetAttributes(
			attribute.String("edit.status", string(out.Status)),
			attribute.Bool("edit.timed_out", out.TimedOut),
			attribute.Int("edit.diagnostics", len(out.Diagnostics)),
		)
		if out.Backup != nil {
			span.SetAttributes(attribute.Int64("edit.backup_sequence", int64(out.Backup.Sequence)))
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
