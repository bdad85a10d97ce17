// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/testutil"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// runGatedTask drives one gated directive to the held state and
// returns the task id and the announced proposal.
func runGatedTask(t *testing.T, h *harness) (int64, protocol.ApprovalRequest) {
	t.Helper()
	taskID := enqueueTask(t, h, "deploy the release")

	h.publish(t, protocol.ExecRequestSubject(protocol.CapabilityCode), "", execRequest(taskID, "deploy the release"))
	h.flush(t)

	proposal := testutil.RequireReceive(t, h.proposals, waitTimeout, "approval request")
	if proposal.TaskID != taskID {
		t.Fatalf("proposal task = %d, want %d", proposal.TaskID, taskID)
	}

	task, err := h.store.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != ledger.StatusProcessing {
		t.Fatalf("gated task status = %q, want processing while held", task.Status)
	}
	return taskID, proposal
}

func TestGatedOutcomeHeldAndRedacted(t *testing.T) {
	h := startHarness(t, harnessConfig{
		script:       gatedScript,
		capabilities: []string{protocol.CapabilityCode},
	})

	_, proposal := runGatedTask(t, h)
	if strings.Contains(proposal.Content, "ghp_supersecret12345") {
		t.Errorf("published proposal leaks credential: %q", proposal.Content)
	}
	if !strings.Contains(proposal.Content, "ghp_<redacted>") {
		t.Errorf("proposal content = %q, want redacted marker", proposal.Content)
	}
	if h.node.heldCount() != 1 {
		t.Errorf("held outcomes = %d, want 1", h.node.heldCount())
	}
}

func TestApprovedOutcomeCompletesTask(t *testing.T) {
	h := startHarness(t, harnessConfig{
		script:       gatedScript,
		capabilities: []string{protocol.CapabilityCode},
	})
	taskID, proposal := runGatedTask(t, h)

	h.publish(t, protocol.SubjectApprovalDecision, "", protocol.ApprovalDecision{
		ProposalID: proposal.ProposalID,
		Approve:    true,
		DecidedBy:  "alice",
	})
	h.flush(t)

	task, err := h.store.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != ledger.StatusCompleted {
		t.Fatalf("task status = %q, want completed after approval", task.Status)
	}
	// The ledger keeps the raw content; only the broadcast was redacted.
	if !strings.Contains(task.Result, "ghp_supersecret12345") {
		t.Errorf("task result = %q, want raw content", task.Result)
	}
	if h.node.heldCount() != 0 {
		t.Errorf("held outcomes = %d after settle, want 0", h.node.heldCount())
	}
}

func TestRejectedOutcomeFailsTask(t *testing.T) {
	h := startHarness(t, harnessConfig{
		script:       gatedScript,
		capabilities: []string{protocol.CapabilityCode},
	})
	taskID, proposal := runGatedTask(t, h)

	h.publish(t, protocol.SubjectApprovalDecision, "", protocol.ApprovalDecision{
		ProposalID: proposal.ProposalID,
		Approve:    false,
		DecidedBy:  "alice",
	})
	h.flush(t)

	task, err := h.store.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != ledger.StatusFailed {
		t.Fatalf("task status = %q, want failed after rejection", task.Status)
	}
	if !strings.Contains(task.Result, "rejected by alice") {
		t.Errorf("task result = %q", task.Result)
	}
}

func TestExpiredProposalFailsTask(t *testing.T) {
	h := startHarness(t, harnessConfig{
		script:       gatedScript,
		capabilities: []string{protocol.CapabilityCode},
		approvalTTL:  time.Minute,
	})
	taskID, _ := runGatedTask(t, h)

	// Both periodic loops hold tickers on the fake clock. Advancing
	// past the deadline fires the approval sweep, which expires the
	// proposal and settles the held outcome.
	h.clk.WaitForWaiters(2)
	h.clk.Advance(2 * time.Minute)

	deadline := time.Now().Add(waitTimeout)
	for {
		task, err := h.store.Get(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if task.Status == ledger.StatusFailed {
			if !strings.Contains(task.Result, "approval_timeout") {
				t.Errorf("task result = %q, want approval_timeout", task.Result)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task status = %q, want failed after expiry", task.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestHeldTaskSurvivesRecoverySweep covers a hold that outlives the
// sweep threshold: an operator taking 11 minutes over a 15m proposal
// must not hand the task back to the queue, or a second node would
// re-execute it and attach a second proposal.
func TestHeldTaskSurvivesRecoverySweep(t *testing.T) {
	h := startHarness(t, harnessConfig{
		script:       gatedScript,
		capabilities: []string{protocol.CapabilityCode},
		approvalTTL:  15 * time.Minute,
	})
	taskID, proposal := runGatedTask(t, h)

	// Both periodic loops hold tickers on the fake clock. Advancing
	// past the 10m sweep threshold fires the approval sweep, which
	// renews the held task's claim.
	h.clk.WaitForWaiters(2)
	h.clk.Advance(11 * time.Minute)

	deadline := time.Now().Add(waitTimeout)
	for {
		task, err := h.store.Get(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if task.UpdatedAt.After(testEpoch) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("held task's claim was never renewed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	requeued, err := h.store.Requeue(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if requeued != 0 {
		t.Fatalf("Requeue() = %d, want 0; a held task went back to the queue", requeued)
	}
	task, err := h.store.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != ledger.StatusProcessing {
		t.Fatalf("task status = %q, want processing while held", task.Status)
	}
	if h.node.heldCount() != 1 {
		t.Fatalf("held outcomes = %d, want 1", h.node.heldCount())
	}

	// The slow operator's decision still lands.
	h.publish(t, protocol.SubjectApprovalDecision, "", protocol.ApprovalDecision{
		ProposalID: proposal.ProposalID,
		Approve:    true,
		DecidedBy:  "alice",
	})
	h.flush(t)

	task, err = h.store.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != ledger.StatusCompleted {
		t.Errorf("task status = %q, want completed after the late approval", task.Status)
	}
}

func TestDecisionForForeignProposalIgnored(t *testing.T) {
	h := startHarness(t, harnessConfig{})

	h.publish(t, protocol.SubjectApprovalDecision, "", protocol.ApprovalDecision{
		ProposalID: "not-ours",
		Approve:    true,
		DecidedBy:  "alice",
	})
	h.flush(t)

	testutil.RequireNoReceive(t, h.status, 50*time.Millisecond, "no status change for a foreign decision")
}
