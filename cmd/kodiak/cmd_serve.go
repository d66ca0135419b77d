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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/pkg/logging"
	"github.com/AleutianAI/kodiak/services/analysis"
	"github.com/AleutianAI/kodiak/services/analysis/persist"
	"github.com/AleutianAI/kodiak/services/analysis/watch"
)

// runServe starts the analysis API server.
//
// Startup order matters: the session store is restored before any reader or
// watcher exists, so the bulk load can go straight at the store without a
// generation bump per file.
func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: "kodiak",
		JSON:    !debug,
	})
	defer logger.Close()
	slogger := logger.Slog()

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	host := analysis.NewHost(slogger)

	var session *persist.SessionStore
	if persistDir != "" {
		var err error
		session, err = persist.Open(persist.DefaultConfig(persistDir))
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer session.Close()

		restored, gen, err := session.Load()
		if err != nil {
			return fmt.Errorf("restore session: %w", err)
		}
		if !restored.IsEmpty() {
			host.RawStore().Apply(restored)
			slogger.Info("session restored",
				slog.Int("files", len(restored.Upserts)),
				slog.Uint64("saved_generation", gen),
			)
		}
	}

	cfg, err := analysis.LoadServiceConfig(configPath)
	if err != nil {
		return err
	}
	svc := analysis.NewService(host, cfg, slogger)
	handlers := analysis.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(analysis.RequestIDMiddleware())
	if debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	analysis.RegisterRoutes(v1, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watchRoot != "" {
		watcher, err := watch.New(watchRoot, host, nil, slogger)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Stop()
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		slogger.Info("watching", slog.String("root", watchRoot))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		slogger.Info("kodiak serving", slog.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	slogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}

	if session != nil {
		if err := saveSession(host, session, slogger); err != nil {
			return err
		}
	}
	return nil
}

// saveSession writes the current generation's files to the session store.
// The held snapshot keeps edits from landing while the raw store is read.
func saveSession(host *analysis.AnalysisHost, session *persist.SessionStore, logger *slog.Logger) error {
	snap := host.Snapshot()
	defer snap.Release()

	files := host.RawStore().Files()
	if err := session.Save(files, snap.Generation()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	logger.Info("session saved",
		slog.Int("files", len(files)),
		slog.Uint64("generation", snap.Generation()),
	)
	return nil
}
