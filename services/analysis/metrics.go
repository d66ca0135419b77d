// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the snapshot protocol.
var (
	snapshotsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kodiak_snapshots_created_total",
		Help: "Total snapshots handed out by the host (including clones)",
	})

	snapshotsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kodiak_snapshots_released_total",
		Help: "Total snapshots released by their holders",
	})

	activeSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kodiak_snapshots_active",
		Help: "Snapshots currently held across all generations",
	})

	editsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kodiak_edits_applied_total",
		Help: "Total edits applied by the host",
	})

	cancellationsSignalledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kodiak_cancellations_signalled_total",
		Help: "Total generations whose cancellation flag was raised by a pending edit",
	})

	queriesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kodiak_queries_cancelled_total",
		Help: "Queries that returned the cancelled outcome at the query boundary",
	})

	exclusivityWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kodiak_exclusivity_wait_seconds",
		Help:    "Time the host waited for outstanding snapshots to drain before mutating",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	})
)
