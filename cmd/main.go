// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flaremq/flaremq/broker"
	"github.com/flaremq/flaremq/config"
	flaremqotel "github.com/flaremq/flaremq/otel"
	"github.com/flaremq/flaremq/server/api"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	metricsEnabled := flag.Bool("metrics", false, "Enable OpenTelemetry metrics")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	var metrics *flaremqotel.Metrics
	if *metricsEnabled {
		metrics, err = flaremqotel.NewMetrics()
		if err != nil {
			slog.Error("Failed to initialize metrics", "error", err)
			os.Exit(1)
		}
	}

	b, err := broker.New(cfg, logger, metrics)
	if err != nil {
		slog.Error("Failed to create broker", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	slog.Info("Address layer started",
		"paging_dir", cfg.Paging.Dir,
		"dedup_persist", cfg.Dedup.Persist,
		"api_listener", cfg.API.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Address:         cfg.API.Addr,
			ShutdownTimeout: cfg.API.ShutdownTimeout,
		}, b, logger)

		if err := srv.Listen(ctx); err != nil {
			slog.Error("Management API failed", "error", err)
			os.Exit(1)
		}
	} else {
		<-ctx.Done()
	}

	slog.Info("Shutdown complete")
}
