// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine evaluates queries against the host's file store.
//
// The engine is the collaborator the snapshot protocol drives: every query
// takes the snapshot's cancellation flag and polls it at bounded intervals,
// so a pending edit aborts evaluation instead of observing a half-mutated
// store. Computed facts are memoized per (query, file, revision); an edit
// bumps the revision, which makes stale facts unreachable, and Invalidate
// additionally drops them eagerly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/kodiak/services/analysis/cancel"
	"github.com/AleutianAI/kodiak/services/analysis/lineindex"
	"github.com/AleutianAI/kodiak/services/analysis/parse"
	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

// ErrUnknownFile is returned when a query names a FileID the store does not
// hold. This is an input error, never confused with cancellation.
var ErrUnknownFile = errors.New("unknown file id")

// DefaultMemoSize is the default number of memoized facts kept.
const DefaultMemoSize = 4096

// queryKind discriminates memo entries.
type queryKind uint8

const (
	kindLineIndex queryKind = iota
	kindParse
	kindModuleIndex
)

// String returns the metric label for the kind.
func (k queryKind) String() string {
	switch k {
	case kindLineIndex:
		return "line_index"
	case kindParse:
		return "parse"
	case kindModuleIndex:
		return "module_index"
	default:
		return "unknown"
	}
}

// memoKey identifies one memoized fact. Revision-scoped keys mean an edit
// never has to race eviction: facts of an old revision simply stop being
// looked up.
type memoKey struct {
	kind queryKind
	file vfs.FileID
	rev  uint64
}

// Diagnostic is one reported problem in a file, with line/column positions
// resolved through the file's line index.
type Diagnostic struct {
	FileID  vfs.FileID         `json:"file_id"`
	Path    string             `json:"path"`
	Message string             `json:"message"`
	Start   lineindex.Position `json:"start"`
	End     lineindex.Position `json:"end"`
}

// ModuleIndex maps module (package) names to files. One index covers the
// whole store at one version.
type ModuleIndex struct {
	byName map[string]vfs.FileID
	byFile map[vfs.FileID]string
}

// FileForModule returns the file declaring the named module.
func (ix *ModuleIndex) FileForModule(name string) (vfs.FileID, bool) {
	id, ok := ix.byName[name]
	return id, ok
}

// ModuleForFile returns the module name a file declares.
func (ix *ModuleIndex) ModuleForFile(id vfs.FileID) (string, bool) {
	name, ok := ix.byFile[id]
	return name, ok
}

// Modules returns all module names in sorted order.
func (ix *ModuleIndex) Modules() []string {
	names := make([]string, 0, len(ix.byName))
	for name := range ix.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of indexed modules.
func (ix *ModuleIndex) Len() int {
	return len(ix.byName)
}

// Engine computes and memoizes facts about the store.
//
// Thread Safety: Safe for concurrent use. The store itself is protected by
// the snapshot protocol, not by the engine.
type Engine struct {
	store  *vfs.Store
	parser *parse.Parser
	memo   *lru.Cache[memoKey, any]
	flight singleflight.Group
	logger *slog.Logger
}

// New creates an engine over the given store.
//
// Inputs:
//   - store: The host-owned file store. Must not be nil.
//   - logger: Logger for evaluation events. If nil, uses slog.Default().
//
// Outputs:
//   - *Engine: Ready to evaluate queries. Never nil.
func New(store *vfs.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	// Size is fixed; error only occurs for non-positive sizes.
	memo, _ := lru.New[memoKey, any](DefaultMemoSize)
	return &Engine{
		store:  store,
		parser: parse.NewParser(),
		memo:   memo,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// LineIndex returns the line index for a file's current revision.
func (e *Engine) LineIndex(flag *cancel.Flag, id vfs.FileID) (*lineindex.LineIndex, error) {
	v, err := e.memoized(kindLineIndex, id, e.store.Revision(id), flag, func() (any, error) {
		text, ok := e.store.Text(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownFile, id)
		}
		return lineindex.Build(text, flag.Check)
	})
	if err != nil {
		return nil, err
	}
	return v.(*lineindex.LineIndex), nil
}

// ParseFile returns the parsed facts for a file's current revision.
func (e *Engine) ParseFile(flag *cancel.Flag, id vfs.FileID) (*parse.Result, error) {
	v, err := e.memoized(kindParse, id, e.store.Revision(id), flag, func() (any, error) {
		text, ok := e.store.Text(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownFile, id)
		}
		path, _ := e.store.Path(id)

		ctx, stop := cancel.Bind(context.Background(), flag)
		defer stop()
		result, err := e.parser.Parse(ctx, text, path)
		if err != nil {
			// The parser reports flag-driven aborts as context errors;
			// translate them back into the protocol's cancellation kind.
			if flag.Cancelled() {
				return nil, cancel.ErrCancelled
			}
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*parse.Result), nil
}

// ModuleName returns the module (package) name a file declares.
func (e *Engine) ModuleName(flag *cancel.Flag, id vfs.FileID) (string, error) {
	result, err := e.ParseFile(flag, id)
	if err != nil {
		return "", err
	}
	return result.Package, nil
}

// Symbols returns the top-level symbols of a file.
func (e *Engine) Symbols(flag *cancel.Flag, id vfs.FileID) ([]parse.Symbol, error) {
	result, err := e.ParseFile(flag, id)
	if err != nil {
		return nil, err
	}
	return result.Symbols, nil
}

// Diagnostics returns the syntax diagnostics of a file with resolved
// positions.
func (e *Engine) Diagnostics(flag *cancel.Flag, id vfs.FileID) ([]Diagnostic, error) {
	result, err := e.ParseFile(flag, id)
	if err != nil {
		return nil, err
	}
	ix, err := e.LineIndex(flag, id)
	if err != nil {
		return nil, err
	}

	path, _ := e.store.Path(id)
	diags := make([]Diagnostic, 0, len(result.SyntaxErrors))
	for _, se := range result.SyntaxErrors {
		if err := flag.Check(); err != nil {
			return nil, err
		}
		start, err := ix.Position(se.StartByte)
		if err != nil {
			return nil, err
		}
		end, err := ix.Position(min(se.EndByte, ix.Len()))
		if err != nil {
			return nil, err
		}
		diags = append(diags, Diagnostic{
			FileID:  id,
			Path:    path,
			Message: se.Message,
			Start:   start,
			End:     end,
		})
	}
	return diags, nil
}

// ModuleIndex builds the name-to-file index over the whole store, polling
// the flag between files.
func (e *Engine) ModuleIndex(flag *cancel.Flag) (*ModuleIndex, error) {
	v, err := e.memoized(kindModuleIndex, 0, e.store.Version(), flag, func() (any, error) {
		ix := &ModuleIndex{
			byName: make(map[string]vfs.FileID),
			byFile: make(map[vfs.FileID]string),
		}
		for _, id := range e.store.FileIDs() {
			if err := flag.Check(); err != nil {
				return nil, err
			}
			result, err := e.ParseFile(flag, id)
			if err != nil {
				return nil, err
			}
			if result.Package == "" {
				continue
			}
			ix.byFile[id] = result.Package
			// First declaration wins on duplicates; deterministic because
			// FileIDs iterates in ascending order.
			if _, dup := ix.byName[result.Package]; !dup {
				ix.byName[result.Package] = id
			}
		}
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ModuleIndex), nil
}

// Invalidate eagerly drops memoized facts for the touched files and the
// store-wide module index. Called by the host while it holds exclusive
// access, immediately after mutating the store.
func (e *Engine) Invalidate(touched []vfs.FileID) {
	if len(touched) == 0 {
		return
	}
	affected := make(map[vfs.FileID]bool, len(touched))
	for _, id := range touched {
		affected[id] = true
	}
	dropped := 0
	for _, key := range e.memo.Keys() {
		if key.kind == kindModuleIndex || affected[key.file] {
			e.memo.Remove(key)
			dropped++
		}
	}
	e.logger.Debug("memo invalidated",
		slog.Int("touched_files", len(touched)),
		slog.Int("dropped_entries", dropped),
	)
}

// memoized looks up or computes one fact, deduplicating concurrent
// computations of the same key.
func (e *Engine) memoized(kind queryKind, id vfs.FileID, rev uint64, flag *cancel.Flag, compute func() (any, error)) (any, error) {
	start := time.Now()
	key := memoKey{kind: kind, file: id, rev: rev}

	if v, ok := e.memo.Get(key); ok {
		recordQuery(kind, "memo_hit", time.Since(start))
		return v, nil
	}

	flightKey := fmt.Sprintf("%d:%d:%d", kind, id, rev)
	v, err, _ := e.flight.Do(flightKey, func() (any, error) {
		if v, ok := e.memo.Get(key); ok {
			return v, nil
		}
		// Poll before computing: a raised flag aborts even work too small
		// to reach an interior poll point.
		if err := flag.Check(); err != nil {
			return nil, err
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		e.memo.Add(key, v)
		return v, nil
	})
	if err != nil {
		if cancel.IsCancelled(err) {
			recordQuery(kind, "cancelled", time.Since(start))
		} else {
			recordQuery(kind, "error", time.Since(start))
		}
		return nil, err
	}
	recordQuery(kind, "computed", time.Since(start))
	return v, nil
}
