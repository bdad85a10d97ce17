// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/clock"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// Config holds the sweeper's dependencies and policy. Store and
// Timeout are required.
type Config struct {
	// Store is the task ledger the sweep scans.
	Store ledger.Store

	// Timeout is how long a processing task may go without an update
	// before it is considered abandoned.
	Timeout time.Duration

	// Bus, when non-nil, receives a tasks.status event for each sweep
	// that requeued anything. Publish failures are logged only.
	Bus bus.Bus

	// NodeID names this sweeper in published status events and logs.
	// Default "sweeper".
	NodeID string

	// Clock drives the periodic loop. Default Real.
	Clock clock.Clock

	// Logger receives sweep outcomes. Default discards.
	Logger *slog.Logger
}

// Sweeper periodically requeues abandoned tasks.
type Sweeper struct {
	store   ledger.Store
	timeout time.Duration
	bus     bus.Bus
	nodeID  string
	clock   clock.Clock
	logger  *slog.Logger
}

// New validates the configuration and returns a sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("sweeper: config: Store is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("sweeper: config: Timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = "sweeper"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{
		store:   cfg.Store,
		timeout: cfg.Timeout,
		bus:     cfg.Bus,
		nodeID:  cfg.NodeID,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With("component", "sweeper"),
	}, nil
}

// Sweep runs one recovery pass and returns how many tasks it requeued.
// A ledger error skips the cycle: it is returned for the caller's
// accounting, but Run treats it as retriable.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	requeued, err := s.store.Requeue(ctx, s.timeout)
	if err != nil {
		return 0, fmt.Errorf("sweeper: sweep: %w", err)
	}
	if requeued == 0 {
		return 0, nil
	}

	s.logger.Info("abandoned tasks requeued", "count", requeued, "timeout", s.timeout)
	s.publishStatus(requeued)
	return requeued, nil
}

// Run sweeps on a fixed interval until ctx is cancelled. Sweep
// failures are logged and the loop keeps going; the next tick retries.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweeper: run: interval must be positive, got %v", interval)
	}
	s.logger.Info("sweeper running", "interval", interval, "timeout", s.timeout)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("sweep cycle skipped", "error", err)
			}
		}
	}
}

// publishStatus mirrors a requeue onto tasks.status. The event carries
// no task id: a sweep is a bulk transition, and observers that need
// per-task detail read the ledger.
func (s *Sweeper) publishStatus(requeued int) {
	if s.bus == nil {
		return
	}
	data, err := protocol.EncodeData(protocol.StatusEvent{
		From:   string(ledger.StatusProcessing),
		To:     string(ledger.StatusPending),
		Node:   s.nodeID,
		Reason: fmt.Sprintf("recovery sweep requeued %d", requeued),
	})
	if err != nil {
		s.logger.Warn("status event encode failed", "error", err)
		return
	}
	envelope := protocol.NewEnvelope(s.nodeID, protocol.SubjectTaskStatus, data)
	if err := s.bus.Publish(protocol.SubjectTaskStatus, envelope); err != nil {
		s.logger.Warn("status event publish failed", "error", err)
	}
}
