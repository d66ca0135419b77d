// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all analysis routes with the router.
//
// Description:
//
//	Registers all /v1/analysis/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/analysis/files - Apply an edit batch
//	GET  /v1/analysis/files - Resolve a path to a file id
//	GET  /v1/analysis/files/:id/lineindex - Line index for a file
//	GET  /v1/analysis/files/:id/diagnostics - Syntax diagnostics
//	GET  /v1/analysis/files/:id/symbols - Top-level symbols
//	GET  /v1/analysis/modules - List module names
//	GET  /v1/analysis/modules/:name - Resolve a module to its file
//	GET  /v1/analysis/health - Health check
//
// Example:
//
//	service := analysis.NewService(host, analysis.DefaultServiceConfig(), logger)
//	handlers := analysis.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	analysis.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	grp := rg.Group("/analysis")
	{
		// Edits
		grp.POST("/files", handlers.HandleApplyChange)

		// File queries
		grp.GET("/files", handlers.HandleResolveFile)
		grp.GET("/files/:id/lineindex", handlers.HandleLineIndex)
		grp.GET("/files/:id/diagnostics", handlers.HandleDiagnostics)
		grp.GET("/files/:id/symbols", handlers.HandleSymbols)

		// Module queries
		grp.GET("/modules", handlers.HandleModules)
		grp.GET("/modules/:name", handlers.HandleModuleFile)

		// Health checks
		grp.GET("/health", handlers.HandleHealth)
	}
}
