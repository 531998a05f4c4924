// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mailguard assessment service.
//
// Entry point for the long-running service. It:
//  1. Loads configuration from config.yaml (plus an optional .env)
//  2. Connects to Redis and, when configured, PostgreSQL
//  3. Opens the credential keyring and wires the mailbox providers
//  4. Builds the assessment pipeline and its optional sub-analyzers
//  5. Polls every monitored mailbox on its own interval
//  6. Serves the HTTP API, /health and /metrics
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailguard/internal/api"
	"github.com/bcem/mailguard/internal/app"
	"github.com/bcem/mailguard/internal/config"
	"github.com/bcem/mailguard/internal/credential"
	"github.com/bcem/mailguard/internal/dedup"
	"github.com/bcem/mailguard/internal/metrics"
	"github.com/bcem/mailguard/internal/pipeline"
	"github.com/bcem/mailguard/internal/poller"
	"github.com/bcem/mailguard/internal/queue"
	"github.com/bcem/mailguard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailguard assessment service",
		"users", len(cfg.Users),
		"gmail", cfg.Gmail.Enabled(),
		"gateway", cfg.GatewayURL != "",
		"image_search", cfg.ImageSearchURL != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.AssessmentsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb, cfg.DedupTTL)
	sinks := []pipeline.RecordSink{publisher}
	checks := []api.HealthCheck{{Name: "redis", Check: publisher.Ping}}

	// --- Connect to PostgreSQL (optional) ---
	var history api.History
	var pgPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := pgPool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		st, err := store.NewStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise assessment store", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, st)
		history = st
		checks = append(checks, api.HealthCheck{Name: "postgres", Check: pgPool.Ping})
		slog.Info("connected to PostgreSQL")
	}

	// --- Metrics ---
	recorder, err := metrics.NewRecorder(prometheus.NewRegistry())
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// --- Credentials, providers and pipeline ---
	var creds *credential.Manager
	var apiCreds api.Credentials
	if cfg.Gmail.Enabled() {
		creds, err = app.Credentials(cfg)
		if err != nil {
			slog.Error("failed to open credential store", "error", err)
			os.Exit(1)
		}
		apiCreds = creds
	}
	deps := app.Build(cfg, creds)
	if deps.Gateway != nil {
		checks = append(checks, api.HealthCheck{Name: "gateway", Check: deps.Gateway.Health})
	}

	pipe, err := deps.Pipeline(sinks, recorder)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// --- Poller ---
	var targets []poller.Target
	for _, uc := range cfg.Users {
		targets = append(targets, app.Target(uc))
	}
	p := poller.NewPoller(pipe, filter, targets)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		p.Run(ctx)
	}()

	// --- HTTP API ---
	srv := api.NewServer(api.Config{
		Assessor:    pipe,
		Credentials: apiCreds,
		Users:       app.Users(cfg),
		History:     history,
		Metrics:     recorder.Handler(),
		Checks:      checks,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Unread scans assess up to a few hundred messages per request.
		WriteTimeout: 5 * time.Minute,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		<-pollDone

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		if pgPool != nil {
			pgPool.Close()
		}
	}()

	slog.Info("mailguard service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailguard service stopped")
}
