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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/analysis/cancel"
	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

func newTestEngine(t *testing.T, files map[string]string) (*Engine, *vfs.Store) {
	t.Helper()
	store := vfs.NewStore()
	change := vfs.Change{}
	for path, text := range files {
		change.Upserts = append(change.Upserts, vfs.FileUpsert{Path: path, Text: []byte(text)})
	}
	store.Apply(change)
	return New(store, nil), store
}

func TestLineIndexQuery(t *testing.T) {
	e, store := newTestEngine(t, map[string]string{
		"a.go": "package a\n\nfunc A() {}\n",
	})
	id, _ := store.FileID("a.go")
	flag := cancel.NewFlag()

	ix, err := e.LineIndex(flag, id)
	require.NoError(t, err)
	assert.Equal(t, 4, ix.LineCount())

	t.Run("unknown file", func(t *testing.T) {
		_, err := e.LineIndex(flag, 9999)
		assert.ErrorIs(t, err, ErrUnknownFile)
		assert.False(t, cancel.IsCancelled(err), "input errors are not cancellation")
	})

	t.Run("raised flag aborts", func(t *testing.T) {
		raised := cancel.NewFlag()
		raised.Raise()
		// Fresh store revision so the memoized index is not reused.
		store.Apply(vfs.Change{Upserts: []vfs.FileUpsert{{Path: "a.go", Text: []byte("package a\n")}}})
		e.Invalidate([]vfs.FileID{id})
		_, err := e.ParseFile(raised, id)
		assert.True(t, cancel.IsCancelled(err))
	})
}

func TestParseAndModuleQueries(t *testing.T) {
	e, store := newTestEngine(t, map[string]string{
		"alpha.go": "package alpha\n\nfunc Hello() {}\n",
		"beta.go":  "package beta\n\ntype B struct{}\n",
	})
	flag := cancel.NewFlag()
	alphaID, _ := store.FileID("alpha.go")
	betaID, _ := store.FileID("beta.go")

	name, err := e.ModuleName(flag, alphaID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", name)

	syms, err := e.Symbols(flag, alphaID)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "Hello", syms[0].Name)

	ix, err := e.ModuleIndex(flag)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ix.Modules())

	id, ok := ix.FileForModule("beta")
	require.True(t, ok)
	assert.Equal(t, betaID, id)

	mod, ok := ix.ModuleForFile(alphaID)
	require.True(t, ok)
	assert.Equal(t, "alpha", mod)
}

func TestDiagnostics(t *testing.T) {
	e, store := newTestEngine(t, map[string]string{
		"ok.go":     "package ok\n\nfunc Fine() {}\n",
		"broken.go": "package broken\n\nfunc oops( {\n",
	})
	flag := cancel.NewFlag()

	okID, _ := store.FileID("ok.go")
	diags, err := e.Diagnostics(flag, okID)
	require.NoError(t, err)
	assert.Empty(t, diags)

	brokenID, _ := store.FileID("broken.go")
	diags, err = e.Diagnostics(flag, brokenID)
	require.NoError(t, err)
	require.NotEmpty(t, diags)
	assert.Equal(t, "broken.go", diags[0].Path)
	assert.NotEmpty(t, diags[0].Message)
}

func TestMemoization(t *testing.T) {
	e, store := newTestEngine(t, map[string]string{
		"a.go": "package a\n",
	})
	id, _ := store.FileID("a.go")
	flag := cancel.NewFlag()

	r1, err := e.ParseFile(flag, id)
	require.NoError(t, err)
	r2, err := e.ParseFile(flag, id)
	require.NoError(t, err)
	assert.Same(t, r1, r2, "same revision must return the memoized result")

	// Edit: revision changes, memo must not serve the stale fact.
	touched := store.Apply(vfs.Change{Upserts: []vfs.FileUpsert{{Path: "a.go", Text: []byte("package b\n")}}})
	e.Invalidate(touched)

	r3, err := e.ParseFile(flag, id)
	require.NoError(t, err)
	assert.NotSame(t, r1, r3)
	assert.Equal(t, "b", r3.Package)
}

func TestModuleIndexInvalidation(t *testing.T) {
	e, store := newTestEngine(t, map[string]string{
		"a.go": "package a\n",
	})
	flag := cancel.NewFlag()

	ix1, err := e.ModuleIndex(flag)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ix1.Modules())

	touched := store.Apply(vfs.Change{Upserts: []vfs.FileUpsert{{Path: "z.go", Text: []byte("package z\n")}}})
	e.Invalidate(touched)

	ix2, err := e.ModuleIndex(flag)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, ix2.Modules())
}

func TestCancelledModuleIndex(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"a.go": "package a\n",
	})
	flag := cancel.NewFlag()
	flag.Raise()

	_, err := e.ModuleIndex(flag)
	assert.True(t, cancel.IsCancelled(err))
}
