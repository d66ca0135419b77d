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
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServiceVersion is the analysis service version.
const ServiceVersion = "0.1.0"

// ServiceConfig configures the analysis HTTP service.
type ServiceConfig struct {
	// EditsPerSecond rate-limits the edit endpoint. Edits beyond the rate
	// queue behind the limiter rather than being rejected outright.
	// Default: 50.
	EditsPerSecond float64 `yaml:"edits_per_second" validate:"gte=0"`

	// EditBurst is the burst size of the edit rate limiter.
	// Default: 10.
	EditBurst int `yaml:"edit_burst" validate:"gte=0"`

	// MaxEditBytes is the largest accepted edit request body.
	// Default: 16MB.
	MaxEditBytes int64 `yaml:"max_edit_bytes" validate:"gte=0"`

	// ShutdownGrace is how long the server waits for in-flight requests on
	// shutdown. Default: 5s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gte=0"`
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		EditsPerSecond: 50,
		EditBurst:      10,
		MaxEditBytes:   16 * 1024 * 1024,
		ShutdownGrace:  5 * time.Second,
	}
}

// ApplyDefaults fills in zero values with the defaults.
func (c *ServiceConfig) ApplyDefaults() {
	def := DefaultServiceConfig()
	if c.EditsPerSecond == 0 {
		c.EditsPerSecond = def.EditsPerSecond
	}
	if c.EditBurst == 0 {
		c.EditBurst = def.EditBurst
	}
	if c.MaxEditBytes == 0 {
		c.MaxEditBytes = def.MaxEditBytes
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
}

// Validate checks the configuration.
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid service config: %w", err)
	}
	return nil
}

// LoadServiceConfig reads a yaml config file, applies defaults, and
// validates the result. A missing path returns the defaults.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := ServiceConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Service wires the analysis host into the HTTP surface.
//
// Thread Safety: Safe for concurrent use; all state lives in the host.
type Service struct {
	host   *AnalysisHost
	cfg    ServiceConfig
	logger *slog.Logger
}

// NewService creates the analysis service around an existing host.
//
// Inputs:
//   - host: The session's host. Must not be nil.
//   - cfg: Service configuration; zero values use defaults.
//   - logger: Logger for service events. If nil, uses slog.Default().
func NewService(host *AnalysisHost, cfg ServiceConfig, logger *slog.Logger) *Service {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		host:   host,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "analysis_service")),
	}
}

// Host returns the underlying analysis host.
func (s *Service) Host() *AnalysisHost {
	return s.host
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}
