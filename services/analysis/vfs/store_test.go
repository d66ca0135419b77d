// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreApply(t *testing.T) {
	t.Run("upsert assigns stable ids and bumps revisions", func(t *testing.T) {
		s := NewStore()

		touched := s.Apply(Change{Upserts: []FileUpsert{
			{Path: "a.go", Text: []byte("package a")},
			{Path: "b.go", Text: []byte("package b")},
		}})
		require.Len(t, touched, 2)

		idA, ok := s.FileID("a.go")
		require.True(t, ok)
		assert.Equal(t, uint64(1), s.Revision(idA))

		// Re-upserting the same path keeps the ID and bumps the revision.
		s.Apply(Change{Upserts: []FileUpsert{{Path: "a.go", Text: []byte("package a2")}}})
		idA2, ok := s.FileID("a.go")
		require.True(t, ok)
		assert.Equal(t, idA, idA2)
		assert.Equal(t, uint64(2), s.Revision(idA))

		text, ok := s.Text(idA)
		require.True(t, ok)
		assert.Equal(t, "package a2", string(text))
	})

	t.Run("delete removes path and id", func(t *testing.T) {
		s := NewStore()
		s.Apply(Change{Upserts: []FileUpsert{{Path: "a.go", Text: []byte("package a")}}})
		id, _ := s.FileID("a.go")

		touched := s.Apply(Change{Deletes: []string{"a.go"}})
		assert.Equal(t, []FileID{id}, touched)

		_, ok := s.FileID("a.go")
		assert.False(t, ok)
		_, ok = s.Text(id)
		assert.False(t, ok)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("deleting unknown path is a no-op", func(t *testing.T) {
		s := NewStore()
		touched := s.Apply(Change{Deletes: []string{"missing.go"}})
		assert.Empty(t, touched)
		assert.Equal(t, uint64(0), s.Version())
	})

	t.Run("version bumps only on non-empty apply", func(t *testing.T) {
		s := NewStore()
		s.Apply(Change{})
		assert.Equal(t, uint64(0), s.Version())

		s.Apply(Change{Upserts: []FileUpsert{{Path: "a.go", Text: []byte("x")}}})
		assert.Equal(t, uint64(1), s.Version())
	})

	t.Run("upsert copies text", func(t *testing.T) {
		s := NewStore()
		buf := []byte("package a")
		s.Apply(Change{Upserts: []FileUpsert{{Path: "a.go", Text: buf}}})
		buf[0] = 'X'

		id, _ := s.FileID("a.go")
		text, _ := s.Text(id)
		assert.Equal(t, "package a", string(text))
	})
}

func TestStoreEnumeration(t *testing.T) {
	s := NewStore()
	s.Apply(Change{Upserts: []FileUpsert{
		{Path: "c.go", Text: []byte("package c")},
		{Path: "a.go", Text: []byte("package a")},
		{Path: "b.go", Text: []byte("package b")},
	}})

	ids := s.FileIDs()
	require.Len(t, ids, 3)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i], "FileIDs must be ascending")
	}

	files := s.Files()
	require.Len(t, files, 3)
	for i, f := range files {
		assert.Equal(t, ids[i], f.ID)
	}
}
