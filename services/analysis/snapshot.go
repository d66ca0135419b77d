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
	"fmt"
	"sync/atomic"

	"github.com/AleutianAI/kodiak/services/analysis/engine"
	"github.com/AleutianAI/kodiak/services/analysis/lineindex"
	"github.com/AleutianAI/kodiak/services/analysis/parse"
	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

// Analysis is a snapshot of the world state at a moment in time. It is the
// main entry point for asking semantic questions about the stored files.
// When the world state is advanced with AnalysisHost.ApplyChange, every
// existing Analysis is cancelled: its in-flight queries abort and any query
// issued afterwards returns ErrCancelled.
//
// The accessor API is deliberately independent of any outer protocol: both
// an editor integration and a CLI consume it as-is.
//
// Thread Safety: Safe for concurrent use; Release is idempotent but each
// handle (original or clone) must be released exactly once to unpin its
// generation.
type Analysis struct {
	host *AnalysisHost
	gen  *generation
	eng  *engine.Engine

	// released guards exactly-once release per handle.
	released atomic.Bool
}

// Generation returns the id of the generation this snapshot pins. It never
// changes for the lifetime of the handle.
func (a *Analysis) Generation() uint64 {
	return a.gen.id
}

// Clone returns a second handle to the same generation. Constant time: it
// only increments the generation's reference count. The clone must be
// released independently of the original. Cloning a released handle yields
// a handle that is itself already released: it takes no reference and every
// query on it fails with ErrSnapshotReleased.
func (a *Analysis) Clone() *Analysis {
	if a.released.Load() {
		clone := &Analysis{host: a.host, gen: a.gen, eng: a.eng}
		clone.released.Store(true)
		return clone
	}

	a.host.mu.Lock()
	a.gen.refs++
	a.host.mu.Unlock()

	snapshotsCreatedTotal.Inc()
	activeSnapshots.Inc()

	return &Analysis{host: a.host, gen: a.gen, eng: a.eng}
}

// Release drops this handle's pin on its generation, unblocking a host
// waiting to mutate it. Safe to call more than once; only the first call
// has an effect.
func (a *Analysis) Release() {
	if !a.released.CompareAndSwap(false, true) {
		return
	}
	a.host.release(a.gen)
}

// withSnapshot is the query boundary: every public read accessor evaluates
// through it.
//
// The boundary checks the generation flag before starting (a snapshot of a
// cancelling or superseded generation fails fast without touching the
// engine), runs the query, and surfaces the cancellation outcome distinctly
// from any other evaluation error. Cancellation is converted, never
// swallowed: retry policy belongs to the caller, who should take a fresh
// snapshot once the pending edit lands.
func withSnapshot[T any](a *Analysis, query string, f func() (T, error)) (T, error) {
	var zero T
	if a.released.Load() {
		return zero, fmt.Errorf("%s: %w", query, ErrSnapshotReleased)
	}
	if err := a.gen.flag.Check(); err != nil {
		queriesCancelledTotal.Inc()
		return zero, err
	}
	v, err := f()
	if err != nil {
		if IsCancelled(err) {
			queriesCancelledTotal.Inc()
			return zero, ErrCancelled
		}
		// Engine errors (unknown file, malformed input) pass through with
		// their own kind, never mistaken for cancellation.
		return zero, err
	}
	return v, nil
}

// LineIndex returns the file's line index: the structure that converts
// between absolute byte offsets and line/column positions.
func (a *Analysis) LineIndex(id vfs.FileID) (*lineindex.LineIndex, error) {
	return withSnapshot(a, "line_index", func() (*lineindex.LineIndex, error) {
		return a.eng.LineIndex(a.gen.flag, id)
	})
}

// ModuleName returns the module (package) name declared by the file.
func (a *Analysis) ModuleName(id vfs.FileID) (string, error) {
	return withSnapshot(a, "module_name", func() (string, error) {
		return a.eng.ModuleName(a.gen.flag, id)
	})
}

// ModuleIndex returns the store-wide module name index.
func (a *Analysis) ModuleIndex() (*engine.ModuleIndex, error) {
	return withSnapshot(a, "module_index", func() (*engine.ModuleIndex, error) {
		return a.eng.ModuleIndex(a.gen.flag)
	})
}

// ModuleFileID resolves a module name to the file declaring it. The boolean
// reports whether the module exists in this generation.
func (a *Analysis) ModuleFileID(module string) (vfs.FileID, bool, error) {
	type lookup struct {
		id vfs.FileID
		ok bool
	}
	v, err := withSnapshot(a, "module_file_id", func() (lookup, error) {
		ix, err := a.eng.ModuleIndex(a.gen.flag)
		if err != nil {
			return lookup{}, err
		}
		id, ok := ix.FileForModule(module)
		return lookup{id: id, ok: ok}, nil
	})
	return v.id, v.ok, err
}

// Diagnostics computes the set of syntax diagnostics for the file.
func (a *Analysis) Diagnostics(id vfs.FileID) ([]engine.Diagnostic, error) {
	return withSnapshot(a, "diagnostics", func() ([]engine.Diagnostic, error) {
		return a.eng.Diagnostics(a.gen.flag, id)
	})
}

// Symbols returns the file's top-level symbols.
func (a *Analysis) Symbols(id vfs.FileID) ([]parse.Symbol, error) {
	return withSnapshot(a, "symbols", func() ([]parse.Symbol, error) {
		return a.eng.Symbols(a.gen.flag, id)
	})
}

// FileText returns a copy of the file's content in this generation.
func (a *Analysis) FileText(id vfs.FileID) ([]byte, error) {
	return withSnapshot(a, "file_text", func() ([]byte, error) {
		text, ok := a.host.store.Text(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", engine.ErrUnknownFile, id)
		}
		return append([]byte(nil), text...), nil
	})
}

// FileID resolves a path to its FileID. The boolean reports whether the
// path exists in this generation.
func (a *Analysis) FileID(path string) (vfs.FileID, bool, error) {
	type lookup struct {
		id vfs.FileID
		ok bool
	}
	v, err := withSnapshot(a, "file_id", func() (lookup, error) {
		id, ok := a.host.store.FileID(path)
		return lookup{id: id, ok: ok}, nil
	})
	return v.id, v.ok, err
}
