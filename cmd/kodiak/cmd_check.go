// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/pkg/logging"
	"github.com/AleutianAI/kodiak/services/analysis"
	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

// runCheck loads a directory and prints diagnostics for every file. Exits
// non-zero when any diagnostic is found.
func runCheck(cmd *cobra.Command, args []string) error {
	root := args[0]

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: "kodiak",
		Quiet:   true,
	})
	defer logger.Close()

	change, err := loadTree(root)
	if err != nil {
		return err
	}
	if change.IsEmpty() {
		fmt.Println("no source files found")
		return nil
	}

	host := analysis.NewHost(logger.Slog())
	host.RawStore().Apply(change)

	snap := host.Snapshot()
	defer snap.Release()

	total := 0
	for _, id := range host.RawStore().FileIDs() {
		diags, err := snap.Diagnostics(id)
		if err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
		if len(diags) == 0 {
			continue
		}
		path, _ := host.RawStore().Path(id)
		for _, d := range diags {
			fmt.Printf("%s:%d:%d: %s\n", path, d.Start.Line+1, d.Start.Col+1, d.Message)
		}
		total += len(diags)
	}

	fmt.Printf("%d files checked, %d diagnostics\n", len(change.Upserts), total)
	if total > 0 {
		os.Exit(1)
	}
	return nil
}

// loadTree reads every .go file under root into one upsert batch. Store
// paths are slash-separated and relative to root.
func loadTree(root string) (vfs.Change, error) {
	var change vfs.Change
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "vendor", "node_modules":
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		change.Upserts = append(change.Upserts, vfs.FileUpsert{Path: filepath.ToSlash(rel), Text: text})
		return nil
	})
	if err != nil {
		return vfs.Change{}, fmt.Errorf("read %s: %w", root, err)
	}
	return change, nil
}
