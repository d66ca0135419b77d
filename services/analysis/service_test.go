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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()
	assert.Equal(t, float64(50), cfg.EditsPerSecond)
	assert.Equal(t, 10, cfg.EditBurst)
	assert.Equal(t, int64(16*1024*1024), cfg.MaxEditBytes)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
	assert.NoError(t, cfg.Validate())
}

func TestServiceConfigApplyDefaults(t *testing.T) {
	cfg := ServiceConfig{EditBurst: 3}
	cfg.ApplyDefaults()

	assert.Equal(t, 3, cfg.EditBurst, "set values survive")
	assert.Equal(t, float64(50), cfg.EditsPerSecond, "zero values are filled in")
}

func TestLoadServiceConfig(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := LoadServiceConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultServiceConfig(), cfg)
	})

	t.Run("reads yaml and fills defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("edits_per_second: 5\nedit_burst: 2\n"), 0o644))

		cfg, err := LoadServiceConfig(path)
		require.NoError(t, err)
		assert.Equal(t, float64(5), cfg.EditsPerSecond)
		assert.Equal(t, 2, cfg.EditBurst)
		assert.Equal(t, DefaultServiceConfig().MaxEditBytes, cfg.MaxEditBytes)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadServiceConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(":\t not yaml"), 0o644))
		_, err := LoadServiceConfig(path)
		assert.Error(t, err)
	})
}

func TestNewServiceDefaults(t *testing.T) {
	host := NewHost(nil)
	svc := NewService(host, ServiceConfig{}, nil)

	assert.Same(t, host, svc.Host())
	assert.Equal(t, DefaultServiceConfig(), svc.Config(), "zero config gets defaults applied")
}
