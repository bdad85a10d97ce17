// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flotilla-foundation/flotilla/lib/clock"
)

// ErrNotFound reports an id no row exists for.
var ErrNotFound = errors.New("task not found")

// ErrConflict reports a status transition the state machine forbids,
// such as completing a task that was never claimed. The row is left
// untouched.
var ErrConflict = errors.New("task status conflict")

// Status is a task's position in the lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one persisted unit of work.
type Task struct {
	// ID is assigned by the store on Enqueue, strictly increasing.
	ID int64

	// Source identifies where the directive came from (a bus subject,
	// a CLI invocation, a node name). Informational.
	Source string

	// Payload is the directive text. Opaque to the ledger, required.
	Payload string

	// Status is the current lifecycle state.
	Status Status

	// Result is the outcome text. Empty until the task reaches a
	// terminal state; Complete and Fail always populate it.
	Result string

	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time

	// UpdatedAt moves on every status change. The recovery sweep
	// reads it to find abandoned claims.
	UpdatedAt time.Time
}

// Store is the ledger contract shared by the SQLite, Postgres, and
// in-memory backends. All methods are safe for concurrent use.
type Store interface {
	// Enqueue inserts a pending task and returns it with its id and
	// timestamps filled in. Empty payloads are rejected.
	Enqueue(ctx context.Context, source, payload string) (Task, error)

	// Claim flips one task pending→processing. Exactly one concurrent
	// caller wins: the winner sees true, everyone else false. A false
	// return with nil error means the task exists but is not pending.
	Claim(ctx context.Context, id int64) (bool, error)

	// ClaimNext claims the oldest pending task and returns it, or nil
	// when the queue is drained.
	ClaimNext(ctx context.Context) (*Task, error)

	// Complete flips processing→completed and records the result.
	// ErrConflict if the task is not processing, ErrNotFound if the
	// id is unknown.
	Complete(ctx context.Context, id int64, result string) error

	// Fail flips processing→failed and records the result. Same
	// error contract as Complete.
	Fail(ctx context.Context, id int64, result string) error

	// Touch refreshes a processing task's updated_at so the recovery
	// sweep does not mistake a live claim for an abandoned one. Same
	// error contract as Complete.
	Touch(ctx context.Context, id int64) error

	// Requeue flips every processing task whose updated_at is older
	// than olderThan back to pending, and returns how many rows
	// changed. Idempotent: a second call finds nothing stale.
	Requeue(ctx context.Context, olderThan time.Duration) (int, error)

	// Get returns one task. ErrNotFound if the id is unknown.
	Get(ctx context.Context, id int64) (Task, error)

	// List returns tasks filtered by status, newest first, capped at
	// limit. The zero Status means all statuses; limit <= 0 means the
	// backend default (100).
	List(ctx context.Context, status Status, limit int) ([]Task, error)

	// Close releases the backend. The store is unusable afterwards.
	Close() error
}

// Config holds the parameters for opening a ledger.
type Config struct {
	// URL selects the backend: postgres:// or postgresql:// for
	// Postgres, anything else is a SQLite database file path (an
	// optional sqlite:// prefix is stripped). Required.
	URL string

	// Clock stamps created_at/updated_at and anchors staleness
	// arithmetic. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives store lifecycle events. Nil discards.
	Logger *slog.Logger

	// PoolSize is the SQLite connection pool size. Ignored by
	// Postgres, which sizes its own pool. Zero means the pool
	// default.
	PoolSize int
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Open creates the backend the URL names. The caller owns the
// returned store and must Close it.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ledger: config: URL is required")
	}
	cfg = cfg.withDefaults()

	if strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://") {
		return OpenPostgres(ctx, cfg)
	}
	// SQLite accepts both a bare path and the sqlite:// URL form.
	cfg.URL = strings.TrimPrefix(cfg.URL, "sqlite://")
	return OpenSQLite(cfg)
}

// listLimit caps List results when the caller passes no limit.
const listLimit = 100
