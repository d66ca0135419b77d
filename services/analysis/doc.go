// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis implements the host/snapshot protocol that lets many
// reader goroutines query a continuously edited file database without torn
// reads, and without making editors wait on slow readers.
//
// # Protocol
//
// The host owns generation N of the store. Readers take snapshots pinned to
// generation N and issue queries through them; queries may run for an
// unbounded time. When an edit arrives, the host raises generation N's
// cancellation flag. Every in-flight query against N observes the flag at
// its next poll point and aborts; the query boundary converts the abort into
// the typed ErrCancelled outcome, and the reader releases its snapshot. Once
// the last snapshot of N is released the host mutates the store in place,
// invalidates dependent memoized facts, and publishes generation N+1 with a
// fresh flag.
//
// A query that completes successfully observed exactly one generation's
// facts, consistent from start to finish. A cancelled query is routine under
// concurrent editing, not a failure: the caller retries against a fresh
// snapshot.
//
// # Waiting for exclusivity
//
// ApplyChange waits with a bounded spin (yield-and-recheck) before blocking
// on a condition variable signalled by snapshot releases. The wait is
// bounded by the poll interval of the queries running against the
// superseded generation. A query that never polls its flag can hold up an
// edit indefinitely; that is a violation of the engine's polling contract,
// not a defect of this package, and there is no forced-abort escape hatch
// by design.
//
// # Usage
//
//	host := analysis.NewHost(logger)
//	host.ApplyChange(vfs.Change{Upserts: []vfs.FileUpsert{{Path: "a.go", Text: src}}})
//
//	snap := host.Snapshot()
//	defer snap.Release()
//
//	diags, err := snap.Diagnostics(fileID)
//	if analysis.IsCancelled(err) {
//		// An edit landed; take a fresh snapshot and retry.
//	}
package analysis
