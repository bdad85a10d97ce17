// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/flotilla-foundation/flotilla/approval"
	"github.com/flotilla-foundation/flotilla/archive"
	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/config"
	"github.com/flotilla-foundation/flotilla/lib/identity"
	"github.com/flotilla-foundation/flotilla/session"
)

// shutdownGrace bounds the teardown of live sessions at exit.
const shutdownGrace = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flotilla-node: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("flotilla-node", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to flotilla.yaml (default $FLOTILLA_CONFIG)")
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

	meshToken, err := cfg.MeshToken()
	if err != nil {
		return err
	}

	busCfg := bus.Config{URL: cfg.Bus.URL, Name: nodeIdentity.Name, Logger: logger}
	if meshToken != nil {
		busCfg.Token = meshToken.String()
	}
	mesh, err := bus.Connect(ctx, busCfg)
	if err != nil {
		return err
	}
	defer mesh.Close(context.Background())

	store, err := ledger.Open(ctx, ledger.Config{URL: cfg.Store.URL, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	registry := approval.NewRegistry(approval.Config{
		TTL:    cfg.Approval.TTL.Std(),
		Logger: logger,
	})

	daemon, err := newNode(options{
		identity:          nodeIdentity,
		bus:               mesh,
		store:             store,
		approvals:         registry,
		sessions:          sessions,
		meshToken:         meshToken,
		workerGroup:       cfg.Node.WorkerGroup,
		heartbeatInterval: cfg.Node.HeartbeatInterval.Std(),
		sweepTimeout:      cfg.Sweep.Timeout.Std(),
		logger:            logger,
	})
	if err != nil {
		return err
	}

	if err := daemon.start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return daemon.stop(stopCtx)
}

// buildOrchestrator wires the session orchestrator, including the
// transcript archive when one is configured.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*session.Orchestrator, error) {
	sessionCfg := session.Config{
		Command: strings.Fields(cfg.Node.AgentCommand),
		Logger:  logger,
	}
	if cfg.Node.WebhookURL != "" {
		sessionCfg.Env = append(sessionCfg.Env, "FLOTILLA_WEBHOOK_URL="+cfg.Node.WebhookURL)
	}

	if cfg.Archive.Dir != "" {
		key, err := cfg.ArchiveKey()
		if err != nil {
			return nil, err
		}
		store, err := archive.Open(archive.Config{Dir: cfg.Archive.Dir, Key: key, Logger: logger})
		if err != nil {
			return nil, err
		}
		sessionCfg.Archive = store
	}
	return session.NewOrchestrator(sessionCfg)
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
