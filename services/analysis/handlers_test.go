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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/analysis/vfs"
)

func newTestRouter(t *testing.T) (*gin.Engine, *AnalysisHost) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	host := NewHost(nil)
	svc := NewService(host, DefaultServiceConfig(), nil)
	handlers := NewHandlers(svc)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router, host
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHandleHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doJSON(t, router, http.MethodGet, "/v1/analysis/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, ServiceVersion, resp["version"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleApplyChange(t *testing.T) {
	router, host := newTestRouter(t)

	t.Run("applies an upsert", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodPost, "/v1/analysis/files", map[string]any{
			"upserts": []map[string]string{{"path": "a.go", "text": "package a\n"}},
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), resp["generation"])
		assert.Equal(t, uint64(1), host.CurrentGeneration())
	})

	t.Run("rejects an empty change", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodPost, "/v1/analysis/files", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/analysis/files", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("applies a delete", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodPost, "/v1/analysis/files", map[string]any{
			"deletes": []string{"a.go"},
		})
		assert.Equal(t, http.StatusOK, w.Code)

		snap := host.Snapshot()
		defer snap.Release()
		_, ok, err := snap.FileID("a.go")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestHandleResolveFile(t *testing.T) {
	router, host := newTestRouter(t)
	host.ApplyChange(vfs.Change{Upserts: []vfs.FileUpsert{{Path: "lib/b.go", Text: []byte("package b\n")}}})

	t.Run("resolves a known path", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodGet, "/v1/analysis/files?path=lib/b.go", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, resp, "file_id")
	})

	t.Run("404 for an unknown path", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodGet, "/v1/analysis/files?path=missing.go", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("400 without a path", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodGet, "/v1/analysis/files", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleFileQueries(t *testing.T) {
	router, host := newTestRouter(t)
	host.ApplyChange(vfs.Change{Upserts: []vfs.FileUpsert{
		{Path: "a.go", Text: []byte("package a\n\nfunc Hello() {}\n")},
	}})

	snap := host.Snapshot()
	id, ok, err := snap.FileID("a.go")
	snap.Release()
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("line index", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodGet, fmt.Sprintf("/v1/analysis/files/%d/lineindex", id), nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(4), resp["line_count"])
	})

	t.Run("line index with offset", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodGet, fmt.Sprintf("/v1/analysis/files/%d/lineindex?offset=11", id), nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, resp, "position")
	})

	t.Run("line index with bad offset", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodGet, fmt.Sprintf("/v1/analysis/files/%d/lineindex?offset=nope", id), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("diagnostics on a clean file", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodGet, fmt.Sprintf("/v1/analysis/files/%d/diagnostics", id), nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, resp["diagnostics"])
	})

	t.Run("symbols", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodGet, fmt.Sprintf("/v1/analysis/files/%d/symbols", id), nil)
		assert.Equal(t, http.StatusOK, w.Code)
		syms, ok := resp["symbols"].([]any)
		require.True(t, ok)
		assert.NotEmpty(t, syms)
	})

	t.Run("404 for an unknown file id", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodGet, "/v1/analysis/files/9999/diagnostics", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("400 for a malformed file id", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodGet, "/v1/analysis/files/abc/diagnostics", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleModules(t *testing.T) {
	router, host := newTestRouter(t)
	host.ApplyChange(vfs.Change{Upserts: []vfs.FileUpsert{
		{Path: "a.go", Text: []byte("package alpha\n")},
		{Path: "b.go", Text: []byte("package beta\n")},
	}})

	t.Run("lists modules", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodGet, "/v1/analysis/modules", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.ElementsMatch(t, []any{"alpha", "beta"}, resp["modules"])
	})

	t.Run("resolves a module", func(t *testing.T) {
		w, resp := doJSON(t, router, http.MethodGet, "/v1/analysis/modules/alpha", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, resp, "file_id")
	})

	t.Run("404 for an unknown module", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodGet, "/v1/analysis/modules/gamma", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPendingEditMapsToConflict(t *testing.T) {
	// While an edit is waiting for a held snapshot to drain, the current
	// generation's flag is raised, so read endpoints return 409 with a retry
	// hint instead of a server error.
	router, host := newTestRouter(t)
	host.ApplyChange(vfs.Change{Upserts: []vfs.FileUpsert{{Path: "a.go", Text: []byte("package a\n")}}})

	held := host.Snapshot()

	applied := make(chan struct{})
	go func() {
		host.ApplyChange(vfs.Change{Upserts: []vfs.FileUpsert{{Path: "a.go", Text: []byte("package b\n")}}})
		close(applied)
	}()

	// The raise happens before the edit blocks on the held reference; poll
	// until a read stops succeeding.
	var w *httptest.ResponseRecorder
	var resp map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for {
		w, resp = doJSON(t, router, http.MethodGet, "/v1/analysis/modules", nil)
		if w.Code != http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reads kept succeeding while an edit was pending")
		}
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "0", w.Header().Get("Retry-After"))
	assert.Equal(t, "cancelled", resp["error"])
	assert.Equal(t, true, resp["retry"])

	held.Release()
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("edit did not apply after the held snapshot was released")
	}

	// Once the edit lands, reads succeed against the new generation.
	w, resp = doJSON(t, router, http.MethodGet, "/v1/analysis/modules", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []any{"b"}, resp["modules"])
}
