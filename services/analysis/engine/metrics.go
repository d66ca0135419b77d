// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for engine operations.
var meter = otel.Meter("kodiak.engine")

// Metrics for query evaluation.
var (
	queryTotal    metric.Int64Counter
	queryDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryTotal, err = meter.Int64Counter(
			"engine_query_total",
			metric.WithDescription("Total query evaluations by kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryDuration, err = meter.Float64Histogram(
			"engine_query_duration_seconds",
			metric.WithDescription("Duration of query evaluations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordQuery records one query evaluation. Outcomes are "memo_hit",
// "computed", "cancelled", and "error". No-op if metric init failed.
func recordQuery(kind queryKind, outcome string, elapsed time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("outcome", outcome),
	)
	ctx := context.Background()
	queryTotal.Add(ctx, 1, attrs)
	queryDuration.Record(ctx, elapsed.Seconds(), attrs)
}
