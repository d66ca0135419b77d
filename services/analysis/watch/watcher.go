// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch feeds filesystem edits into an analysis host. Raw fsnotify
// events are debounced and coalesced into one change batch per quiet window,
// so a burst of editor writes costs one generation bump instead of one per
// keystroke.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

// ChangeSink receives coalesced change batches. *analysis.AnalysisHost
// satisfies it.
type ChangeSink interface {
	ApplyChange(change vfs.Change)
}

// Options configures the Watcher.
type Options struct {
	// DebounceWindow is how long to wait for more events before applying a
	// batch. Default: 100ms.
	DebounceWindow time.Duration

	// Extensions limits watching to files with these extensions.
	// Default: [".go"].
	Extensions []string

	// IgnoreDirs are directory names skipped during the recursive walk and
	// when filtering events. Default: [".git", "vendor", "node_modules"].
	IgnoreDirs []string

	// BufferSize is the size of the internal event channel. Default: 1000.
	BufferSize int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 100 * time.Millisecond,
		Extensions:     []string{".go"},
		IgnoreDirs:     []string{".git", "vendor", "node_modules"},
		BufferSize:     1000,
	}
}

// event is one filtered filesystem change, already classified as an upsert
// or a delete of a store path.
type event struct {
	path   string
	remove bool
}

// Watcher mirrors a directory tree into an analysis host.
//
// # Description
//
// Recursively watches root. When a quiet window passes without further
// events, the pending paths are read back from disk and applied to the sink
// as a single change batch: readable files become upserts, missing files
// become deletes. Store paths are slash-separated and relative to root.
//
// # Thread Safety
//
// Safe for concurrent use. The sink is called from a single goroutine.
type Watcher struct {
	root   string
	sink   ChangeSink
	fsw    *fsnotify.Watcher
	opts   Options
	logger *slog.Logger

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over root that applies change batches to sink.
//
// Inputs:
//   - root: Directory to watch recursively.
//   - sink: Receiver of coalesced change batches. Must not be nil.
//   - opts: Optional configuration; nil uses DefaultOptions.
//   - logger: Logger for watch events. If nil, uses slog.Default().
func New(root string, sink ChangeSink, opts *Options, logger *slog.Logger) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:   root,
		sink:   sink,
		fsw:    fsw,
		opts:   *opts,
		logger: logger.With(slog.String("component", "analysis_watch")),
		events: make(chan event, opts.BufferSize),
		done:   make(chan struct{}),
	}, nil
}

// Start performs an initial sync of the tree into the sink, then begins
// watching. Both goroutines exit when Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	initial, err := w.scan()
	if err != nil {
		return err
	}
	if !initial.IsEmpty() {
		w.sink.ApplyChange(initial)
		w.logger.Info("initial sync applied", slog.Int("files", len(initial.Upserts)))
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

// scan walks the tree, registers directories with fsnotify, and returns the
// upserts for the initial sync.
func (w *Watcher) scan() (vfs.Change, error) {
	var change vfs.Change
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.ignoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		if !w.watchedFile(path) {
			return nil
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		change.Upserts = append(change.Upserts, vfs.FileUpsert{Path: w.storePath(path), Text: text})
		return nil
	})
	return change, err
}

func (w *Watcher) ignoredDir(name string) bool {
	for _, dir := range w.opts.IgnoreDirs {
		if name == dir {
			return true
		}
	}
	return false
}

func (w *Watcher) watchedFile(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range w.opts.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// storePath converts an absolute path into the slash-relative form used as
// the store key.
func (w *Watcher) storePath(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

// processEvents filters raw fsnotify events onto the internal channel.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// New directories need registering before their files produce
			// events.
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if !w.ignoredDir(filepath.Base(ev.Name)) {
						_ = w.fsw.Add(ev.Name)
					}
					continue
				}
			}
			if !w.watchedFile(ev.Name) {
				continue
			}
			e := event{path: ev.Name, remove: ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)}
			select {
			case w.events <- e:
			default:
				w.logger.Warn("event buffer full, dropping", slog.String("path", ev.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop batches events and applies them after a quiet window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := map[string]bool{} // abs path -> remove
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) > 0 {
			w.apply(pending)
			pending = map[string]bool{}
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case e := <-w.events:
			pending[e.path] = e.remove
			if timer == nil {
				timer = time.NewTimer(w.opts.DebounceWindow)
				timerC = timer.C
			} else {
				// Drain a tick that fired between selects, or Reset arms a
				// timer whose stale tick would flush one window early.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.opts.DebounceWindow)
			}
		case <-timerC:
			flush()
		}
	}
}

// apply reads the pending paths back from disk and hands the sink one batch.
// A path flagged as removed, or one that no longer reads, becomes a delete.
func (w *Watcher) apply(pending map[string]bool) {
	var change vfs.Change
	for path, remove := range pending {
		if !remove {
			if text, err := os.ReadFile(path); err == nil {
				change.Upserts = append(change.Upserts, vfs.FileUpsert{Path: w.storePath(path), Text: text})
				continue
			}
		}
		change.Deletes = append(change.Deletes, w.storePath(path))
	}
	if change.IsEmpty() {
		return
	}

	w.sink.ApplyChange(change)
	w.logger.Debug("change batch applied",
		slog.Int("upserts", len(change.Upserts)),
		slog.Int("deletes", len(change.Deletes)),
	)
}
