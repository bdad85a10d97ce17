// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/clock"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestLedger(t *testing.T) (ledger.Store, *clock.FakeClock) {
	t.Helper()

	fake := clock.Fake(testEpoch)
	store, err := ledger.Open(context.Background(), ledger.Config{
		URL:   filepath.Join(t.TempDir(), "ledger.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store, fake
}

func TestEnqueueAssignsIDsAndTimestamps(t *testing.T) {
	store, _ := openTestLedger(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, "tasks.new", "survey the reef")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := store.Enqueue(ctx, "cli", "chart the channel")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if first.ID == 0 {
		t.Error("first.ID = 0, want assigned")
	}
	if second.ID <= first.ID {
		t.Errorf("second.ID = %d, want > %d", second.ID, first.ID)
	}
	if first.Status != ledger.StatusPending {
		t.Errorf("Status = %q, want %q", first.Status, ledger.StatusPending)
	}
	if !first.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want %v", first.CreatedAt, testEpoch)
	}
	if !first.UpdatedAt.Equal(testEpoch) {
		t.Errorf("UpdatedAt = %v, want %v", first.UpdatedAt, testEpoch)
	}
	if first.Result != "" {
		t.Errorf("Result = %q, want empty before completion", first.Result)
	}

	stored, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ID != first.ID || stored.Source != first.Source || stored.Payload != first.Payload {
		t.Errorf("Get = %+v, want %+v", stored, first)
	}
	if !stored.CreatedAt.Equal(first.CreatedAt) || !stored.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("Get timestamps = %v/%v, want %v/%v",
			stored.CreatedAt, stored.UpdatedAt, first.CreatedAt, first.UpdatedAt)
	}
}

func TestEnqueueRejectsEmptyPayload(t *testing.T) {
	store, _ := openTestLedger(t)

	if _, err := store.Enqueue(context.Background(), "cli", ""); err == nil {
		t.Fatal("Enqueue with empty payload = nil error, want error")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	store, _ := openTestLedger(t)
	ctx := context.Background()

	task, err := store.Enqueue(ctx, "tasks.new", "deploy the beacon")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	won, err := store.Claim(ctx, task.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !won {
		t.Fatal("first Claim = false, want true")
	}

	won, err = store.Claim(ctx, task.ID)
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if won {
		t.Fatal("second Claim = true, want false")
	}

	stored, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != ledger.StatusProcessing {
		t.Errorf("Status = %q, want %q", stored.Status, ledger.StatusProcessing)
	}
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	store, _ := openTestLedger(t)
	ctx := context.Background()

	task, err := store.Enqueue(ctx, "tasks.new", "contested directive")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	const claimers = 8
	var waitGroup sync.WaitGroup
	wins := make(chan bool, claimers)
	for range claimers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			won, err := store.Claim(ctx, task.ID)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			wins <- won
		}()
	}
	waitGroup.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestClaimUnknownTask(t *testing.T) {
	store, _ := openTestLedger(t)

	_, err := store.Claim(context.Background(), 999)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Claim(999) error = %v, want ErrNotFound", err)
	}
}

func TestClaimNextTakesOldestFirst(t *testing.T) {
	store, _ := openTestLedger(t)
	ctx := context.Background()

	var ids []int64
	for _, payload := range []string{"first", "second", "third"} {
		task, err := store.Enqueue(ctx, "tasks.new", payload)
		if err != nil {
			t.Fatalf("Enqueue(%s): %v", payload, err)
		}
		ids = append(ids, task.ID)
	}

	for i, wantID := range ids {
		task, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext #%d: %v", i, err)
		}
		if task == nil {
			t.Fatalf("ClaimNext #%d = nil, want task %d", i, wantID)
		}
		if task.ID != wantID {
			t.Errorf("ClaimNext #%d = task %d, want %d", i, task.ID, wantID)
		}
		if task.Status != ledger.StatusProcessing {
			t.Errorf("ClaimNext #%d status = %q, want %q", i, task.Status, ledger.StatusProcessing)
		}
	}

	task, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext on drained queue: %v", err)
	}
	if task != nil {
		t.Errorf("ClaimNext on drained queue = %+v, want nil", task)
	}
}

func TestCompleteRecordsResult(t *testing.T) {
	store, fake := openTestLedger(t)
	ctx := context.Background()

	task, err := store.Enqueue(ctx, "tasks.new", "chart the channel")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Claim(ctx, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	fake.Advance(2 * time.Minute)
	if err := store.Complete(ctx, task.ID, "channel charted"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stored, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != ledger.StatusCompleted {
		t.Errorf("Status = %q, want %q", stored.Status, ledger.StatusCompleted)
	}
	if stored.Result != "channel charted" {
		t.Errorf("Result = %q, want %q", stored.Result, "channel charted")
	}
	if want := testEpoch.Add(2 * time.Minute); !stored.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", stored.UpdatedAt, want)
	}
	if !stored.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want unchanged %v", stored.CreatedAt, testEpoch)
	}
}

func TestFinishEnforcesStatusMachine(t *testing.T) {
	store, _ := openTestLedger(t)
	ctx := context.Background()

	pending, err := store.Enqueue(ctx, "tasks.new", "still pending")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Completing a task that was never claimed is a conflict.
	err = store.Complete(ctx, pending.ID, "done")
	if !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("Complete(pending) error = %v, want ErrConflict", err)
	}
	stored, err := store.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != ledger.StatusPending {
		t.Errorf("Status after rejected Complete = %q, want %q", stored.Status, ledger.StatusPending)
	}

	// Terminal states stay terminal.
	if _, err := store.Claim(ctx, pending.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Fail(ctx, pending.ID, "broke"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	err = store.Complete(ctx, pending.ID, "actually fine")
	if !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("Complete(failed) error = %v, want ErrConflict", err)
	}
	stored, err = store.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != ledger.StatusFailed {
		t.Errorf("Status = %q, want %q preserved", stored.Status, ledger.StatusFailed)
	}
	if stored.Result != "broke" {
		t.Errorf("Result = %q, want %q preserved", stored.Result, "broke")
	}

	// Unknown ids are ErrNotFound, not ErrConflict.
	err = store.Complete(ctx, 999, "done")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Complete(999) error = %v, want ErrNotFound", err)
	}
}

// TestRequeueRecoversAbandonedTasks walks the sweep scenario: a task
// claimed at t=0 is abandoned; at t=11m a sweep with a 10m threshold
// returns it to pending, and a second sweep finds nothing.
func TestRequeueRecoversAbandonedTasks(t *testing.T) {
	store, fake := openTestLedger(t)
	ctx := context.Background()

	abandoned, err := store.Enqueue(ctx, "tasks.new", "abandoned directive")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Claim(ctx, abandoned.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// A second task claimed much later must not be swept.
	fake.Advance(8 * time.Minute)
	fresh, err := store.Enqueue(ctx, "tasks.new", "fresh directive")
	if err != nil {
		t.Fatalf("Enqueue fresh: %v", err)
	}
	if _, err := store.Claim(ctx, fresh.ID); err != nil {
		t.Fatalf("Claim fresh: %v", err)
	}

	fake.Advance(3 * time.Minute) // abandoned is now 11m old, fresh 3m

	requeued, err := store.Requeue(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if requeued != 1 {
		t.Errorf("Requeue = %d, want 1", requeued)
	}

	stored, err := store.Get(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("Get abandoned: %v", err)
	}
	if stored.Status != ledger.StatusPending {
		t.Errorf("abandoned status = %q, want %q", stored.Status, ledger.StatusPending)
	}
	stored, err = store.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("Get fresh: %v", err)
	}
	if stored.Status != ledger.StatusProcessing {
		t.Errorf("fresh status = %q, want %q untouched", stored.Status, ledger.StatusProcessing)
	}

	// Idempotent: the requeued task's clock was reset, so a second
	// sweep at the same instant finds nothing stale.
	requeued, err = store.Requeue(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("second Requeue: %v", err)
	}
	if requeued != 0 {
		t.Errorf("second Requeue = %d, want 0", requeued)
	}

	// The recovered task is claimable again.
	won, err := store.Claim(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("re-Claim: %v", err)
	}
	if !won {
		t.Error("re-Claim after requeue = false, want true")
	}
}

// TestTouchKeepsClaimAlive walks the held-outcome scenario: a claim
// renewed while its owner waits on an operator stays out of the sweep
// no matter how long the wait runs.
func TestTouchKeepsClaimAlive(t *testing.T) {
	store, fake := openTestLedger(t)
	ctx := context.Background()

	task, err := store.Enqueue(ctx, "tasks.new", "gated directive")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Claim(ctx, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Renew every 4m for 16m total, well past the 10m threshold.
	for range 4 {
		fake.Advance(4 * time.Minute)
		if err := store.Touch(ctx, task.ID); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	requeued, err := store.Requeue(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if requeued != 0 {
		t.Errorf("Requeue = %d, want 0 (claim was renewed)", requeued)
	}
	stored, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != ledger.StatusProcessing {
		t.Errorf("Status = %q, want %q", stored.Status, ledger.StatusProcessing)
	}
	if want := testEpoch.Add(16 * time.Minute); !stored.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", stored.UpdatedAt, want)
	}
}

func TestTouchEnforcesStatusMachine(t *testing.T) {
	store, _ := openTestLedger(t)
	ctx := context.Background()

	task, err := store.Enqueue(ctx, "tasks.new", "unclaimed directive")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Pending rows have no claim to renew.
	err = store.Touch(ctx, task.ID)
	if !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("Touch(pending) error = %v, want ErrConflict", err)
	}

	if _, err := store.Claim(ctx, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Complete(ctx, task.ID, "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	err = store.Touch(ctx, task.ID)
	if !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("Touch(completed) error = %v, want ErrConflict", err)
	}

	err = store.Touch(ctx, 999)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Touch(999) error = %v, want ErrNotFound", err)
	}
}

func TestRequeueIgnoresTerminalTasks(t *testing.T) {
	store, fake := openTestLedger(t)
	ctx := context.Background()

	task, err := store.Enqueue(ctx, "tasks.new", "finished work")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Claim(ctx, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Complete(ctx, task.ID, "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	fake.Advance(time.Hour)
	requeued, err := store.Requeue(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if requeued != 0 {
		t.Errorf("Requeue = %d, want 0 (terminal tasks are never swept)", requeued)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store, _ := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, "tasks.new", "pending work"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	claimed, err := store.Enqueue(ctx, "tasks.new", "claimed work")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Claim(ctx, claimed.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	pending, err := store.List(ctx, ledger.StatusPending, 0)
	if err != nil {
		t.Fatalf("List(pending): %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("List(pending) = %d tasks, want 3", len(pending))
	}

	processing, err := store.List(ctx, ledger.StatusProcessing, 0)
	if err != nil {
		t.Fatalf("List(processing): %v", err)
	}
	if len(processing) != 1 || processing[0].ID != claimed.ID {
		t.Errorf("List(processing) = %+v, want just task %d", processing, claimed.ID)
	}

	all, err := store.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(all) != 4 {
		t.Errorf("List(all) = %d tasks, want 4", len(all))
	}
	// Newest first.
	if all[0].ID != claimed.ID {
		t.Errorf("List(all)[0].ID = %d, want newest %d", all[0].ID, claimed.ID)
	}

	limited, err := store.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List(limit 2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(limit 2) = %d tasks, want 2", len(limited))
	}

	if _, err := store.List(ctx, ledger.Status("bogus"), 0); err == nil {
		t.Error("List(bogus status) = nil error, want error")
	}
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := ledger.Open(context.Background(), ledger.Config{})
	if err == nil {
		t.Fatal("Open with empty URL = nil error, want error")
	}
}
