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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/services/analysis"
)

// --- Global Command Variables ---
var (
	port       int
	debug      bool
	logDir     string
	logLevel   string
	configPath string
	watchRoot  string
	persistDir string

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "An incremental source analysis engine",
		Long: `Kodiak keeps a live semantic model of a source tree and answers
queries against consistent snapshots while edits stream in.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	checkCmd = &cobra.Command{
		Use:   "check [path]",
		Short: "Run one-shot diagnostics over a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck, // Defined in cmd_check.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the kodiak version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kodiak", analysis.ServiceVersion)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for log files (default: stderr only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug mode")
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a yaml service config file")
	serveCmd.Flags().StringVar(&watchRoot, "root", "", "Directory to mirror into the engine (optional)")
	serveCmd.Flags().StringVar(&persistDir, "persist-dir", "", "Directory for the session store (optional)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}
