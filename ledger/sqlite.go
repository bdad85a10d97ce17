// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/flotilla-foundation/flotilla/lib/clock"
	"github.com/flotilla-foundation/flotilla/lib/sqlitepool"
)

// sqliteSchema is applied to every pooled connection. AUTOINCREMENT
// keeps ids strictly increasing even if an operator prunes old rows
// by hand.
const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS tasks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		source     TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		result     TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// SQLiteStore is the single-node ledger backend. Timestamps are
// stored as Unix nanoseconds.
type SQLiteStore struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the ledger database at
// cfg.URL, which is a plain filesystem path for this backend.
func OpenSQLite(cfg Config) (*SQLiteStore, error) {
	cfg = cfg.withDefaults()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.URL,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	return &SQLiteStore{
		pool:   pool,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "ledger", "backend", "sqlite"),
	}, nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, source, payload string) (Task, error) {
	if payload == "" {
		return Task{}, fmt.Errorf("ledger: enqueue: payload is required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("ledger: enqueue: %w", err)
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().UTC()
	err = sqlitex.Execute(conn,
		"INSERT INTO tasks (source, payload, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{source, payload, string(StatusPending), now.UnixNano(), now.UnixNano()},
		})
	if err != nil {
		return Task{}, fmt.Errorf("ledger: enqueue: %w", err)
	}

	task := Task{
		ID:        conn.LastInsertRowID(),
		Source:    source,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.logger.Debug("task enqueued", "task_id", task.ID, "source", source)
	return task, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, id int64) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("ledger: claim: %w", err)
	}
	defer s.pool.Put(conn)

	won, err := s.claimOn(conn, id)
	if err != nil {
		return false, err
	}
	if !won {
		// Distinguish a lost race from a bogus id.
		if _, err := s.getOn(conn, id); err != nil {
			return false, err
		}
	}
	return won, nil
}

// claimOn runs the conditional pending→processing update. The WHERE
// clause is the whole claim protocol: whoever's UPDATE changes the
// row owns the task.
func (s *SQLiteStore) claimOn(conn *sqlite.Conn, id int64) (bool, error) {
	err := sqlitex.Execute(conn,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusProcessing), s.clock.Now().UTC().UnixNano(), id, string(StatusPending)},
		})
	if err != nil {
		return false, fmt.Errorf("ledger: claim %d: %w", id, err)
	}
	return conn.Changes() == 1, nil
}

func (s *SQLiteStore) ClaimNext(ctx context.Context) (*Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: claim next: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("ledger: claim next: begin: %w", err)
	}
	defer endTransaction(&err)

	var id int64
	found := false
	err = sqlitex.Execute(conn,
		"SELECT id FROM tasks WHERE status = ? ORDER BY id LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusPending)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("ledger: claim next: %w", err)
	}
	if !found {
		return nil, nil
	}

	// The immediate transaction holds the write lock, so this cannot
	// lose a race with another connection.
	if _, err = s.claimOn(conn, id); err != nil {
		return nil, err
	}

	task, err := s.getOn(conn, id)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id int64, result string) error {
	return s.finish(ctx, id, StatusCompleted, result)
}

func (s *SQLiteStore) Fail(ctx context.Context, id int64, result string) error {
	return s.finish(ctx, id, StatusFailed, result)
}

// finish flips processing→terminal and records the result, enforcing
// the status machine with the same conditional-update protocol as
// claims.
func (s *SQLiteStore) finish(ctx context.Context, id int64, terminal Status, result string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ledger: finish %d: %w", id, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE tasks SET status = ?, result = ?, updated_at = ? WHERE id = ? AND status = ?",
		&sqlitex.ExecOptions{
			Args: []any{string(terminal), result, s.clock.Now().UTC().UnixNano(), id, string(StatusProcessing)},
		})
	if err != nil {
		return fmt.Errorf("ledger: finish %d as %s: %w", id, terminal, err)
	}
	if conn.Changes() == 1 {
		return nil
	}

	task, err := s.getOn(conn, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("ledger: finish %d as %s: task is %s: %w", id, terminal, task.Status, ErrConflict)
}

// Touch renews a claim. The conditional update keeps the status
// machine honest: only a processing row gets its clock reset.
func (s *SQLiteStore) Touch(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ledger: touch %d: %w", id, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE tasks SET updated_at = ? WHERE id = ? AND status = ?",
		&sqlitex.ExecOptions{
			Args: []any{s.clock.Now().UTC().UnixNano(), id, string(StatusProcessing)},
		})
	if err != nil {
		return fmt.Errorf("ledger: touch %d: %w", id, err)
	}
	if conn.Changes() == 1 {
		return nil
	}

	task, err := s.getOn(conn, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("ledger: touch %d: task is %s: %w", id, task.Status, ErrConflict)
}

func (s *SQLiteStore) Requeue(ctx context.Context, olderThan time.Duration) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: requeue: %w", err)
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().UTC()
	cutoff := now.Add(-olderThan)
	err = sqlitex.Execute(conn,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusPending), now.UnixNano(), string(StatusProcessing), cutoff.UnixNano()},
		})
	if err != nil {
		return 0, fmt.Errorf("ledger: requeue: %w", err)
	}

	requeued := conn.Changes()
	if requeued > 0 {
		s.logger.Info("stale tasks requeued", "count", requeued, "older_than", olderThan)
	}
	return requeued, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("ledger: get %d: %w", id, err)
	}
	defer s.pool.Put(conn)

	return s.getOn(conn, id)
}

func (s *SQLiteStore) getOn(conn *sqlite.Conn, id int64) (Task, error) {
	var task Task
	found := false
	err := sqlitex.Execute(conn,
		"SELECT id, source, payload, status, result, created_at, updated_at FROM tasks WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task = scanTask(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Task{}, fmt.Errorf("ledger: get %d: %w", id, err)
	}
	if !found {
		return Task{}, fmt.Errorf("ledger: get %d: %w", id, ErrNotFound)
	}
	return task, nil
}

func (s *SQLiteStore) List(ctx context.Context, status Status, limit int) ([]Task, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("ledger: list: unknown status %q", status)
	}
	if limit <= 0 {
		limit = listLimit
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer s.pool.Put(conn)

	query := "SELECT id, source, payload, status, result, created_at, updated_at FROM tasks"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	var tasks []Task
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tasks = append(tasks, scanTask(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// scanTask reads a full task row. Column order matches every SELECT
// in this file: id, source, payload, status, result, created_at,
// updated_at.
func scanTask(stmt *sqlite.Stmt) Task {
	task := Task{
		ID:        stmt.ColumnInt64(0),
		Source:    stmt.ColumnText(1),
		Payload:   stmt.ColumnText(2),
		Status:    Status(stmt.ColumnText(3)),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(5)).UTC(),
		UpdatedAt: time.Unix(0, stmt.ColumnInt64(6)).UTC(),
	}
	if !stmt.ColumnIsNull(4) {
		task.Result = stmt.ColumnText(4)
	}
	return task
}
