// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Flotilla-sweeper recovers abandoned tasks. It periodically returns
// every processing task whose claim has gone stale back to pending so
// another node can pick it up. It runs standalone, against the same
// ledger the nodes use: a sweeper deployment per fleet, or --once from
// cron.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/lib/config"
	"github.com/flotilla-foundation/flotilla/lib/identity"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/sweeper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flotilla-sweeper: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("flotilla-sweeper", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to flotilla.yaml (default $FLOTILLA_CONFIG)")
	once := flags.Bool("once", false, "run a single sweep and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	nodeIdentity := identity.Load(cfg.Node.IdentityPath, logger)

	store, err := ledger.Open(ctx, ledger.Config{URL: cfg.Store.URL, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	// The bus is optional here: status events are best-effort, the
	// requeue itself is the job.
	var statusBus bus.Bus
	token, err := cfg.MeshToken()
	if err != nil {
		return err
	}
	busCfg := bus.Config{URL: cfg.Bus.URL, Name: nodeIdentity.Name + "-sweeper", Logger: logger}
	if token != nil {
		busCfg.Token = token.String()
		defer token.Close()
	}
	if connected, err := bus.Connect(ctx, busCfg); err != nil {
		logger.Warn("bus unavailable, sweeping without status events", "error", err)
	} else {
		statusBus = connected
		defer connected.Close(context.Background())
	}

	sweep, err := sweeper.New(sweeper.Config{
		Store:   store,
		Timeout: cfg.Sweep.Timeout.Std(),
		Bus:     statusBus,
		NodeID:  nodeIdentity.Name,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if *once {
		requeued, err := sweep.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep finished", "requeued", requeued)
		return nil
	}
	if err := sweep.Run(ctx, cfg.Sweep.Interval.Std()); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("sweeper stopped")
	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
