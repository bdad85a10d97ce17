// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledgertest provides an in-memory ledger.Store for tests and
// broker-less development. Same status machine and claim semantics as
// the SQL backends, serialized on one mutex.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/clock"
)

// MemoryStore implements ledger.Store over a map.
type MemoryStore struct {
	clock clock.Clock

	mu     sync.Mutex
	tasks  map[int64]ledger.Task
	nextID int64
	closed bool

	// failNext, when set, makes the next store call return it and
	// clears itself. Tests use this to exercise sweep-cycle skips and
	// dispatcher error paths.
	failNext error
}

var _ ledger.Store = (*MemoryStore)(nil)

// New returns an empty store. A nil clk means the real clock.
func New(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{
		clock: clk,
		tasks: make(map[int64]ledger.Task),
	}
}

// FailNext arranges for the next call (any method) to fail with err.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// checkLocked consumes a pending injected failure and rejects use
// after Close. Requires s.mu.
func (s *MemoryStore) checkLocked() error {
	if s.closed {
		return errors.New("ledger: store closed")
	}
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	return nil
}

func (s *MemoryStore) Enqueue(_ context.Context, source, payload string) (ledger.Task, error) {
	if payload == "" {
		return ledger.Task{}, fmt.Errorf("ledger: enqueue: payload is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return ledger.Task{}, err
	}

	s.nextID++
	now := s.clock.Now().UTC()
	task := ledger.Task{
		ID:        s.nextID,
		Source:    source,
		Payload:   payload,
		Status:    ledger.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[task.ID] = task
	return task, nil
}

func (s *MemoryStore) Claim(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return false, err
	}

	task, ok := s.tasks[id]
	if !ok {
		return false, fmt.Errorf("ledger: get %d: %w", id, ledger.ErrNotFound)
	}
	if task.Status != ledger.StatusPending {
		return false, nil
	}

	task.Status = ledger.StatusProcessing
	task.UpdatedAt = s.clock.Now().UTC()
	s.tasks[id] = task
	return true, nil
}

func (s *MemoryStore) ClaimNext(_ context.Context) (*ledger.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}

	var oldest int64
	for id, task := range s.tasks {
		if task.Status != ledger.StatusPending {
			continue
		}
		if oldest == 0 || id < oldest {
			oldest = id
		}
	}
	if oldest == 0 {
		return nil, nil
	}

	task := s.tasks[oldest]
	task.Status = ledger.StatusProcessing
	task.UpdatedAt = s.clock.Now().UTC()
	s.tasks[oldest] = task
	return &task, nil
}

func (s *MemoryStore) Complete(_ context.Context, id int64, result string) error {
	return s.finish(id, ledger.StatusCompleted, result)
}

func (s *MemoryStore) Fail(_ context.Context, id int64, result string) error {
	return s.finish(id, ledger.StatusFailed, result)
}

func (s *MemoryStore) finish(id int64, terminal ledger.Status, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("ledger: get %d: %w", id, ledger.ErrNotFound)
	}
	if task.Status != ledger.StatusProcessing {
		return fmt.Errorf("ledger: finish %d as %s: task is %s: %w", id, terminal, task.Status, ledger.ErrConflict)
	}

	task.Status = terminal
	task.Result = result
	task.UpdatedAt = s.clock.Now().UTC()
	s.tasks[id] = task
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("ledger: get %d: %w", id, ledger.ErrNotFound)
	}
	if task.Status != ledger.StatusProcessing {
		return fmt.Errorf("ledger: touch %d: task is %s: %w", id, task.Status, ledger.ErrConflict)
	}

	task.UpdatedAt = s.clock.Now().UTC()
	s.tasks[id] = task
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	cutoff := now.Add(-olderThan)
	requeued := 0
	for id, task := range s.tasks {
		if task.Status != ledger.StatusProcessing || !task.UpdatedAt.Before(cutoff) {
			continue
		}
		task.Status = ledger.StatusPending
		task.UpdatedAt = now
		s.tasks[id] = task
		requeued++
	}
	return requeued, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (ledger.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return ledger.Task{}, err
	}

	task, ok := s.tasks[id]
	if !ok {
		return ledger.Task{}, fmt.Errorf("ledger: get %d: %w", id, ledger.ErrNotFound)
	}
	return task, nil
}

func (s *MemoryStore) List(_ context.Context, status ledger.Status, limit int) ([]ledger.Task, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("ledger: list: unknown status %q", status)
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}

	var tasks []ledger.Task
	for _, task := range s.tasks {
		if status != "" && task.Status != status {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
