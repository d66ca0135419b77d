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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/kodiak/services/analysis/engine"
	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

// Handlers contains the HTTP handlers for the analysis service.
type Handlers struct {
	svc         *Service
	editLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	cfg := svc.Config()
	return &Handlers{
		svc:         svc,
		editLimiter: rate.NewLimiter(rate.Limit(cfg.EditsPerSecond), cfg.EditBurst),
		logger:      svc.logger,
	}
}

// RequestIDMiddleware attaches a request id to every request for log
// correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// changeRequest is the wire form of one edit batch.
type changeRequest struct {
	Upserts []struct {
		Path string `json:"path" binding:"required"`
		Text string `json:"text"`
	} `json:"upserts"`
	Deletes []string `json:"deletes"`
}

// HandleHealth reports service liveness and the current generation.
//
// GET /v1/analysis/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	snap := h.svc.Host().Snapshot()
	defer snap.Release()

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"version":    ServiceVersion,
		"generation": snap.Generation(),
	})
}

// HandleApplyChange applies one edit batch to the host.
//
// POST /v1/analysis/files
//
// The call blocks until the edit has landed; the response carries the new
// generation id. Edit traffic is rate limited to keep readers from being
// cancelled faster than they can retry.
func (h *Handlers) HandleApplyChange(c *gin.Context) {
	if err := h.editLimiter.Wait(c.Request.Context()); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "edit rate limit: " + err.Error()})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.svc.Config().MaxEditBytes)
	var req changeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid change: " + err.Error()})
		return
	}

	change := vfs.Change{Deletes: req.Deletes}
	for _, up := range req.Upserts {
		change.Upserts = append(change.Upserts, vfs.FileUpsert{Path: up.Path, Text: []byte(up.Text)})
	}
	if change.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "change carries no edits"})
		return
	}

	h.svc.Host().ApplyChange(change)

	h.logger.Info("change applied",
		slog.Int("upserts", len(change.Upserts)),
		slog.Int("deletes", len(change.Deletes)),
		slog.Any("request_id", c.Value("request_id")),
	)
	c.JSON(http.StatusOK, gin.H{"generation": h.svc.Host().CurrentGeneration()})
}

// HandleResolveFile resolves a path to its file id.
//
// GET /v1/analysis/files?path=...
func (h *Handlers) HandleResolveFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	snap := h.svc.Host().Snapshot()
	defer snap.Release()

	id, ok, err := snap.FileID(path)
	if err != nil {
		h.respondQueryError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown path"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"file_id": id, "generation": snap.Generation()})
}

// HandleLineIndex returns line count and, when an offset is supplied, its
// resolved position.
//
// GET /v1/analysis/files/:id/lineindex[?offset=N]
func (h *Handlers) HandleLineIndex(c *gin.Context) {
	id, ok := h.fileIDParam(c)
	if !ok {
		return
	}

	snap := h.svc.Host().Snapshot()
	defer snap.Release()

	ix, err := snap.LineIndex(id)
	if err != nil {
		h.respondQueryError(c, err)
		return
	}

	resp := gin.H{
		"generation": snap.Generation(),
		"line_count": ix.LineCount(),
		"length":     ix.Len(),
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		pos, err := ix.Position(uint32(offset))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp["position"] = pos
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDiagnostics computes the file's syntax diagnostics.
//
// GET /v1/analysis/files/:id/diagnostics
func (h *Handlers) HandleDiagnostics(c *gin.Context) {
	id, ok := h.fileIDParam(c)
	if !ok {
		return
	}

	snap := h.svc.Host().Snapshot()
	defer snap.Release()

	diags, err := snap.Diagnostics(id)
	if err != nil {
		h.respondQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generation": snap.Generation(), "diagnostics": diags})
}

// HandleSymbols returns the file's top-level symbols.
//
// GET /v1/analysis/files/:id/symbols
func (h *Handlers) HandleSymbols(c *gin.Context) {
	id, ok := h.fileIDParam(c)
	if !ok {
		return
	}

	snap := h.svc.Host().Snapshot()
	defer snap.Release()

	syms, err := snap.Symbols(id)
	if err != nil {
		h.respondQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generation": snap.Generation(), "symbols": syms})
}

// HandleModules lists all module names in the current generation.
//
// GET /v1/analysis/modules
func (h *Handlers) HandleModules(c *gin.Context) {
	snap := h.svc.Host().Snapshot()
	defer snap.Release()

	ix, err := snap.ModuleIndex()
	if err != nil {
		h.respondQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generation": snap.Generation(), "modules": ix.Modules()})
}

// HandleModuleFile resolves a module name to the declaring file.
//
// GET /v1/analysis/modules/:name
func (h *Handlers) HandleModuleFile(c *gin.Context) {
	name := c.Param("name")

	snap := h.svc.Host().Snapshot()
	defer snap.Release()

	id, ok, err := snap.ModuleFileID(name)
	if err != nil {
		h.respondQueryError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown module"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"generation": snap.Generation(), "file_id": id})
}

// fileIDParam parses the :id path parameter, responding 400 on failure.
func (h *Handlers) fileIDParam(c *gin.Context) (vfs.FileID, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return 0, false
	}
	return vfs.FileID(id), true
}

// respondQueryError maps query boundary outcomes to HTTP responses. The
// cancelled outcome is a routine signal to retry, not a server failure.
func (h *Handlers) respondQueryError(c *gin.Context, err error) {
	switch {
	case IsCancelled(err):
		c.Header("Retry-After", "0")
		c.JSON(http.StatusConflict, gin.H{"error": "cancelled", "retry": true})
	case errors.Is(err, engine.ErrUnknownFile):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown file"})
	default:
		h.logger.Error("query failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
