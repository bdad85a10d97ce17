// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/flotilla-foundation/flotilla/lib/clock"
)

// postgresSchema is applied once at open. BIGSERIAL gives the same
// strictly-increasing id contract as the SQLite backend.
const postgresSchema = `
	CREATE TABLE IF NOT EXISTS tasks (
		id         BIGSERIAL PRIMARY KEY,
		source     TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		result     TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
`

// PostgresStore is the fleet ledger backend: many nodes share one
// database and compete for claims with row locks.
type PostgresStore struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects, verifies the connection, and ensures the
// schema exists.
func OpenPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ensuring schema: %w", err)
	}

	cfg.Logger.Info("postgres ledger opened")
	return &PostgresStore{
		db:     db,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "ledger", "backend", "postgres"),
	}, nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, source, payload string) (Task, error) {
	if payload == "" {
		return Task{}, fmt.Errorf("ledger: enqueue: payload is required")
	}

	now := s.clock.Now().UTC()
	task := Task{
		Source:    source,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO tasks (source, payload, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		source, payload, string(StatusPending), now, now,
	).Scan(&task.ID)
	if err != nil {
		return Task{}, fmt.Errorf("ledger: enqueue: %w", err)
	}

	s.logger.Debug("task enqueued", "task_id", task.ID, "source", source)
	return task, nil
}

func (s *PostgresStore) Claim(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4",
		string(StatusProcessing), s.clock.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("ledger: claim %d: %w", id, err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: claim %d: %w", id, err)
	}
	if changed == 1 {
		return true, nil
	}

	// Lost the race or bogus id; Get tells them apart.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ClaimNext(ctx context.Context) (*Task, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: claim next: begin: %w", err)
	}
	defer txn.Rollback()

	// SKIP LOCKED lets concurrent dispatchers each grab a different
	// row instead of queueing on the oldest one.
	var id int64
	err = txn.QueryRowContext(ctx,
		"SELECT id FROM tasks WHERE status = $1 ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED",
		string(StatusPending)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: claim next: %w", err)
	}

	now := s.clock.Now().UTC()
	if _, err := txn.ExecContext(ctx,
		"UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3",
		string(StatusProcessing), now, id); err != nil {
		return nil, fmt.Errorf("ledger: claim next %d: %w", id, err)
	}

	task, err := scanTaskRow(txn.QueryRowContext(ctx, selectTask+" WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("ledger: claim next %d: %w", id, err)
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: claim next %d: commit: %w", id, err)
	}
	return &task, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id int64, result string) error {
	return s.finish(ctx, id, StatusCompleted, result)
}

func (s *PostgresStore) Fail(ctx context.Context, id int64, result string) error {
	return s.finish(ctx, id, StatusFailed, result)
}

func (s *PostgresStore) finish(ctx context.Context, id int64, terminal Status, result string) error {
	execResult, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = $1, result = $2, updated_at = $3 WHERE id = $4 AND status = $5",
		string(terminal), result, s.clock.Now().UTC(), id, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("ledger: finish %d as %s: %w", id, terminal, err)
	}
	changed, err := execResult.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: finish %d as %s: %w", id, terminal, err)
	}
	if changed == 1 {
		return nil
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("ledger: finish %d as %s: task is %s: %w", id, terminal, task.Status, ErrConflict)
}

func (s *PostgresStore) Touch(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET updated_at = $1 WHERE id = $2 AND status = $3",
		s.clock.Now().UTC(), id, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("ledger: touch %d: %w", id, err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: touch %d: %w", id, err)
	}
	if changed == 1 {
		return nil
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("ledger: touch %d: task is %s: %w", id, task.Status, ErrConflict)
}

func (s *PostgresStore) Requeue(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.clock.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4",
		string(StatusPending), now, string(StatusProcessing), now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("ledger: requeue: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: requeue: %w", err)
	}

	if changed > 0 {
		s.logger.Info("stale tasks requeued", "count", changed, "older_than", olderThan)
	}
	return int(changed), nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (Task, error) {
	task, err := scanTaskRow(s.db.QueryRowContext(ctx, selectTask+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("ledger: get %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("ledger: get %d: %w", id, err)
	}
	return task, nil
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit int) ([]Task, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("ledger: list: unknown status %q", status)
	}
	if limit <= 0 {
		limit = listLimit
	}

	query := selectTask
	args := []any{}
	if status != "" {
		query += " WHERE status = $1 ORDER BY id DESC LIMIT $2"
		args = append(args, string(status), limit)
	} else {
		query += " ORDER BY id DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var task Task
		var result sql.NullString
		if err := rows.Scan(&task.ID, &task.Source, &task.Payload, &task.Status,
			&result, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ledger: list: scan: %w", err)
		}
		task.Result = result.String
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing postgres: %w", err)
	}
	return nil
}

const selectTask = "SELECT id, source, payload, status, result, created_at, updated_at FROM tasks"

// scanTaskRow reads one full task row in selectTask column order.
func scanTaskRow(row *sql.Row) (Task, error) {
	var task Task
	var result sql.NullString
	err := row.Scan(&task.ID, &task.Source, &task.Payload, &task.Status,
		&result, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	task.Result = result.String
	return task, nil
}
