// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kodiak runs the incremental analysis engine.
//
// Usage:
//
//	# Serve the analysis API over a watched directory
//	kodiak serve --root /path/to/project
//
//	# One-shot diagnostics for a directory
//	kodiak check /path/to/project
//
// Example requests against a running server:
//
//	# Health and current generation
//	curl http://localhost:8080/v1/analysis/health
//
//	# Apply an edit
//	curl -X POST http://localhost:8080/v1/analysis/files \
//	  -H "Content-Type: application/json" \
//	  -d '{"upserts": [{"path": "a.go", "text": "package a\n"}]}'
//
//	# Module listing
//	curl http://localhost:8080/v1/analysis/modules
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
