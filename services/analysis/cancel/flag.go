// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cancel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the single recoverable error intrinsic to the snapshot
// protocol: an in-flight query was aborted because its generation began
// mutating. Callers should retry against a fresh snapshot.
//
// Any other error produced during query evaluation passes through the query
// boundary unmodified and is never mistaken for cancellation.
var ErrCancelled = errors.New("analysis cancelled: pending edit invalidated this snapshot")

// IsCancelled reports whether err is (or wraps) ErrCancelled.
//
// Context cancellation observed while evaluating against a raised flag is
// also treated as cancellation, since the flag-bound context (see Bind)
// surfaces the raised flag as context.Canceled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// State is the lifecycle state of a generation's cancellation flag.
type State int32

const (
	// StateActive means the flag is lowered and queries may run to completion.
	StateActive State = iota

	// StateCancelling means the flag is raised and running queries will abort
	// at their next poll point. No newer generation exists yet.
	StateCancelling

	// StateSuperseded means a newer generation exists. The flag stays raised
	// forever; snapshots of this generation only ever receive cancelled
	// outcomes for newly started queries.
	StateSuperseded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCancelling:
		return "cancelling"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Flag is a generation-scoped cancellation signal shared by all snapshots of
// one generation.
//
// The raise is monotone: once raised, a Flag is never lowered. The host is
// the only writer; queries only ever read the flag through Check, Cancelled,
// or Done.
//
// Thread Safety: Safe for concurrent use.
type Flag struct {
	state atomic.Int32

	// done is closed exactly once, when the flag is first raised.
	done     chan struct{}
	doneOnce sync.Once
}

// NewFlag returns a lowered flag in the Active state.
func NewFlag() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Raise moves the flag from Active to Cancelling and unblocks all Done
// waiters. Raising an already-raised flag is a no-op; the state machine is
// one-directional.
func (f *Flag) Raise() {
	f.state.CompareAndSwap(int32(StateActive), int32(StateCancelling))
	f.doneOnce.Do(func() { close(f.done) })
}

// Supersede marks the flag's generation as replaced by a newer one. This is
// terminal. Supersede implies Raise: a superseded flag always reads as
// cancelled.
func (f *Flag) Supersede() {
	f.doneOnce.Do(func() { close(f.done) })
	f.state.Store(int32(StateSuperseded))
}

// State returns the current lifecycle state.
func (f *Flag) State() State {
	return State(f.state.Load())
}

// Cancelled reports whether the flag has been raised.
func (f *Flag) Cancelled() bool {
	return f.State() != StateActive
}

// Check is the poll point used inside query evaluation. It returns nil while
// the flag is lowered and ErrCancelled once it has been raised.
//
// Queries must call Check at bounded intervals; the bound on edit latency is
// proportional to the largest poll interval of any running query.
func (f *Flag) Check() error {
	if f.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Done returns a channel that is closed when the flag is raised. It lets
// flag observation compose with select loops and context plumbing.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}

// Bind derives a context that is cancelled when either the parent is
// cancelled or the flag is raised.
//
// Description:
//
//	Used to hand a flag-aware context to libraries that accept
//	context.Context but know nothing about the snapshot protocol (the
//	tree-sitter parser, for example). The returned stop function releases
//	the watcher goroutine and must be called when evaluation finishes.
//
// Inputs:
//   - parent: Parent context. Must not be nil.
//   - f: The generation's cancellation flag.
//
// Outputs:
//   - context.Context: Cancelled on flag raise or parent cancellation.
//   - func(): Release function. Must be called exactly once.
//
// Thread Safety: Safe for concurrent use.
func Bind(parent context.Context, f *Flag) (context.Context, func()) {
	ctx, cancelFn := context.WithCancel(parent)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-f.done:
			cancelFn()
		case <-ctx.Done():
		case <-stopped:
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			cancelFn()
		})
	}
	return ctx, stop
}
