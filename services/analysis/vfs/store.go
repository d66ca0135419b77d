// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vfs holds the mutable file store that the analysis host owns.
//
// The store is deliberately unsynchronized: exclusivity is provided by the
// snapshot protocol, not by a mutex. Apply is only ever called by the host
// while it holds exclusive access (no live snapshot of the current generation
// is evaluating a query); reads happen through snapshots whose generation is
// guaranteed not to mutate underneath them. Direct mutation outside the host
// is only legitimate through the host's raw-access escape hatch, when no
// concurrent readers exist.
package vfs

import (
	"sort"
)

// FileID identifies one file in the store. IDs are assigned once per path and
// never reused within a session.
type FileID uint32

// FileUpsert adds or replaces the text of one file, addressed by path.
type FileUpsert struct {
	// Path is the store-unique file path.
	Path string

	// Text is the complete new content of the file.
	Text []byte
}

// Change is the opaque edit unit the host applies between generations: a
// batch of file upserts and deletions that becomes visible atomically in the
// next generation.
type Change struct {
	// Upserts are files to add or replace.
	Upserts []FileUpsert

	// Deletes are paths of files to remove. Unknown paths are ignored.
	Deletes []string
}

// IsEmpty reports whether the change carries no edits.
func (c Change) IsEmpty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0
}

// File is one stored file with its content and revision.
type File struct {
	// ID is the store-assigned identifier.
	ID FileID

	// Path is the file path the ID was assigned for.
	Path string

	// Text is the current content.
	Text []byte

	// Revision counts content changes for this file. Starts at 1 and
	// increments on every upsert. Engine memo keys include the revision, so
	// stale facts become unreachable after an edit.
	Revision uint64
}

// Store maps FileIDs to file contents. One Store exists per host; its
// lifetime is the analysis session.
type Store struct {
	files   map[FileID]*File
	byPath  map[string]FileID
	nextID  FileID
	version uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		files:  make(map[FileID]*File),
		byPath: make(map[string]FileID),
	}
}

// Apply mutates the store in place and returns the IDs touched by the
// change (upserted and deleted files). Must only be called while the caller
// holds exclusive access per the snapshot protocol.
func (s *Store) Apply(change Change) []FileID {
	touched := make([]FileID, 0, len(change.Upserts)+len(change.Deletes))

	for _, up := range change.Upserts {
		id, ok := s.byPath[up.Path]
		if !ok {
			s.nextID++
			id = s.nextID
			s.byPath[up.Path] = id
			s.files[id] = &File{ID: id, Path: up.Path}
		}
		f := s.files[id]
		f.Text = append([]byte(nil), up.Text...)
		f.Revision++
		touched = append(touched, id)
	}

	for _, path := range change.Deletes {
		id, ok := s.byPath[path]
		if !ok {
			continue
		}
		delete(s.byPath, path)
		delete(s.files, id)
		touched = append(touched, id)
	}

	if len(touched) > 0 {
		s.version++
	}
	return touched
}

// Text returns the content of the file, or false if the ID is unknown.
func (s *Store) Text(id FileID) ([]byte, bool) {
	f, ok := s.files[id]
	if !ok {
		return nil, false
	}
	return f.Text, true
}

// Path returns the path of the file, or false if the ID is unknown.
func (s *Store) Path(id FileID) (string, bool) {
	f, ok := s.files[id]
	if !ok {
		return "", false
	}
	return f.Path, true
}

// FileID returns the ID assigned to path, or false if the path is unknown.
func (s *Store) FileID(path string) (FileID, bool) {
	id, ok := s.byPath[path]
	return id, ok
}

// Revision returns the current revision of the file, or 0 if unknown.
func (s *Store) Revision(id FileID) uint64 {
	f, ok := s.files[id]
	if !ok {
		return 0
	}
	return f.Revision
}

// Version is a store-wide counter bumped by every non-empty Apply. Used to
// key memoized facts that span all files (the module index).
func (s *Store) Version() uint64 {
	return s.version
}

// Len returns the number of stored files.
func (s *Store) Len() int {
	return len(s.files)
}

// FileIDs returns all IDs in ascending order. The slice is freshly
// allocated.
func (s *Store) FileIDs() []FileID {
	ids := make([]FileID, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Files returns all files ordered by ID. The slice is freshly allocated;
// the *File values are the live store entries and must not be mutated by
// readers.
func (s *Store) Files() []*File {
	files := make([]*File, 0, len(s.files))
	for _, id := range s.FileIDs() {
		files = append(files, s.files[id])
	}
	return files
}
