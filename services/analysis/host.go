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
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/AleutianAI/kodiak/services/analysis/cancel"
	"github.com/AleutianAI/kodiak/services/analysis/engine"
	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

// exclusivitySpinIters is how many yield-and-recheck rounds ApplyChange
// performs before blocking on the condition variable. Spinning covers the
// common case where outstanding queries abort within microseconds of the
// flag being raised.
const exclusivitySpinIters = 64

// generation is one immutable state of the store: a monotonically increasing
// id, the cancellation flag shared by all snapshots of the generation, and
// the count of outstanding snapshot handles.
//
// refs is guarded by the host mutex. Acquire/release under the same mutex
// that the host's exclusivity wait uses gives the required happens-before
// edge between a reader's last store access and the host's mutation.
type generation struct {
	id   uint64
	flag *cancel.Flag
	refs int
}

// AnalysisHost stores the current state of the world: it is the single
// exclusive owner of the file store, hands out read-only snapshots of the
// current generation, and applies edits between generations.
//
// Exactly one host exists per analysis session. It is explicitly constructed
// with NewHost and passed to whoever needs it; there is no package-level
// singleton.
//
// Thread Safety: Safe for concurrent use. Snapshot never blocks; ApplyChange
// may block the calling goroutine until all outstanding snapshots of the
// current generation are released.
type AnalysisHost struct {
	mu   sync.Mutex
	cond *sync.Cond
	cur  *generation

	// editMu serializes writers so edits apply in call order and no two
	// edits are concurrently in the mutating phase.
	editMu sync.Mutex

	store  *vfs.Store
	eng    *engine.Engine
	logger *slog.Logger
}

// NewHost creates an analysis host with an empty store.
//
// Inputs:
//   - logger: Logger for protocol events. If nil, uses slog.Default().
//
// Outputs:
//   - *AnalysisHost: The session's host. Never nil.
func NewHost(logger *slog.Logger) *AnalysisHost {
	if logger == nil {
		logger = slog.Default()
	}
	store := vfs.NewStore()
	h := &AnalysisHost{
		cur:    &generation{id: 0, flag: cancel.NewFlag()},
		store:  store,
		eng:    engine.New(store, logger),
		logger: logger.With(slog.String("component", "analysis_host")),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Snapshot returns a read-only handle to the current generation, which you
// can query for semantic information. The handle pins its generation until
// Release is called; an edit arriving in the meantime cancels the handle's
// in-flight queries rather than waiting for them.
//
// Snapshot never fails and has no side effect on stored facts.
func (h *AnalysisHost) Snapshot() *Analysis {
	h.mu.Lock()
	gen := h.cur
	gen.refs++
	h.mu.Unlock()

	snapshotsCreatedTotal.Inc()
	activeSnapshots.Inc()

	return &Analysis{host: h, gen: gen, eng: h.eng}
}

// ApplyChange mutates the stored facts to reflect change.
//
// Description:
//
//	Raises the current generation's cancellation flag so every live
//	snapshot's in-flight queries abort at their next poll, waits for the
//	generation's reference count to drain (bounded spin, then block),
//	mutates the store in place, invalidates dependent memoized facts, and
//	publishes the next generation with a fresh, lowered flag.
//
//	ApplyChange has no error outcome: it either completes or blocks until
//	exclusivity is achieved. Termination is bounded by the poll interval
//	of the queries running against the superseded generation; a query
//	that never polls violates the engine contract and can delay the edit
//	indefinitely. Edits are never dropped and no reader ever observes a
//	partially applied change.
//
// Inputs:
//   - change: The batch of file upserts/deletes to apply atomically.
//
// Thread Safety: Safe for concurrent use. Concurrent calls serialize in
// call order.
func (h *AnalysisHost) ApplyChange(change vfs.Change) {
	h.editMu.Lock()
	defer h.editMu.Unlock()

	h.mu.Lock()
	gen := h.cur
	pending := gen.refs
	h.mu.Unlock()

	gen.flag.Raise()
	cancellationsSignalledTotal.Inc()
	h.logger.Debug("edit pending, cancellation signalled",
		slog.Uint64("generation", gen.id),
		slog.Int("outstanding_snapshots", pending),
	)

	start := time.Now()
	h.mu.Lock()
	for i := 0; gen.refs > 0; i++ {
		if i < exclusivitySpinIters {
			h.mu.Unlock()
			runtime.Gosched()
			h.mu.Lock()
		} else {
			h.cond.Wait()
		}
	}

	// Exclusive from here: no snapshot of the current generation is live.
	touched := h.store.Apply(change)
	h.eng.Invalidate(touched)
	h.cur = &generation{id: gen.id + 1, flag: cancel.NewFlag()}
	h.mu.Unlock()

	gen.flag.Supersede()

	waited := time.Since(start)
	exclusivityWaitSeconds.Observe(waited.Seconds())
	editsAppliedTotal.Inc()
	h.logger.Info("edit applied",
		slog.Uint64("generation", gen.id+1),
		slog.Int("touched_files", len(touched)),
		slog.Duration("exclusivity_wait", waited),
	)
}

// CurrentGeneration returns the id of the generation currently being served.
func (h *AnalysisHost) CurrentGeneration() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur.id
}

// RawStore is a direct escape hatch to the underlying store for privileged
// callers such as bulk project loading. It bypasses the snapshot protocol
// entirely: the caller must guarantee no concurrent readers exist while
// mutating through it. Prefer ApplyChange.
func (h *AnalysisHost) RawStore() *vfs.Store {
	return h.store
}

// release returns one reference on gen and wakes a host waiting for
// exclusivity when the count reaches zero. Called exactly once per snapshot
// handle.
func (h *AnalysisHost) release(gen *generation) {
	h.mu.Lock()
	gen.refs--
	if gen.refs == 0 {
		h.cond.Broadcast()
	}
	h.mu.Unlock()

	snapshotsReleasedTotal.Inc()
	activeSnapshots.Dec()
}
