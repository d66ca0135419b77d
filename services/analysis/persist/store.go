// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persist saves and restores a file store's contents across runs
// using BadgerDB for local embedded storage. A restored session skips the
// initial filesystem sync and starts answering queries immediately.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

const (
	// filePrefix namespaces file content keys: filePrefix + store path.
	filePrefix = "f:"

	// generationKey stores the generation id the saved contents belong to.
	generationKey = "meta:generation"
)

// Config holds configuration for the session store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for database operations. If nil, BadgerDB's
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// SessionStore persists file contents keyed by store path.
//
// Thread Safety: Safe for concurrent use; BadgerDB transactions provide
// isolation.
type SessionStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open creates and opens a session store with the given configuration.
//
// Outputs:
//   - *SessionStore: The opened store. Caller must call Close when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*SessionStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent session store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create session store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &SessionStore{db: db, logger: cfg.Logger}, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Save replaces the persisted contents with the given files.
//
// Description:
//
//	Writes every file's text under its path key and records the generation
//	id, dropping any previously saved path that is no longer present. Call
//	with the files of one consistent generation; holding a snapshot of that
//	generation while saving keeps edits from landing mid-save.
func (s *SessionStore) Save(files []*vfs.File, generation uint64) error {
	keep := make(map[string]struct{}, len(files))
	for _, f := range files {
		keep[f.Path] = struct{}{}
	}

	stale, err := s.stalePaths(keep)
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, f := range files {
		if err := wb.Set([]byte(filePrefix+f.Path), f.Text); err != nil {
			return fmt.Errorf("save %s: %w", f.Path, err)
		}
	}
	for _, path := range stale {
		if err := wb.Delete([]byte(filePrefix + path)); err != nil {
			return fmt.Errorf("drop %s: %w", path, err)
		}
	}

	genBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(genBytes, generation)
	if err := wb.Set([]byte(generationKey), genBytes); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush session store: %w", err)
	}
	return nil
}

// Load returns the persisted contents as one upsert batch, plus the
// generation id recorded at save time. An empty store returns an empty
// change and generation zero.
func (s *SessionStore) Load() (vfs.Change, uint64, error) {
	var change vfs.Change
	var generation uint64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(filePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			path := strings.TrimPrefix(string(item.Key()), filePrefix)
			text, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			change.Upserts = append(change.Upserts, vfs.FileUpsert{Path: path, Text: text})
		}

		item, err := txn.Get([]byte(generationKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load generation: %w", err)
		}
		return item.Value(func(v []byte) error {
			if len(v) == 8 {
				generation = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		return vfs.Change{}, 0, err
	}
	return change, generation, nil
}

// stalePaths lists persisted paths absent from keep.
func (s *SessionStore) stalePaths(keep map[string]struct{}) ([]string, error) {
	var stale []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(filePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			path := strings.TrimPrefix(string(it.Item().Key()), filePrefix)
			if _, ok := keep[path]; !ok {
				stale = append(stale, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}
