// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"time"

	"github.com/flotilla-foundation/flotilla/approval"
	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// timeFormat renders deadlines on the wire.
const timeFormat = time.RFC3339

// handleDecision applies operator sign-offs arriving on
// tasks.approval.decision. Decisions broadcast to every node; the one
// holding the proposal settles its task, everyone else ignores the id.
func (n *node) handleDecision(ctx context.Context) bus.Handler {
	return func(delivery *bus.Delivery) {
		if !n.authorized(delivery.Envelope) {
			n.logger.Warn("decision dropped: mesh token mismatch", "sender", delivery.Envelope.SenderID)
			return
		}

		var decision protocol.ApprovalDecision
		if err := protocol.DecodeData(delivery.Envelope.Data, &decision); err != nil {
			n.logger.Warn("decision dropped: undecodable", "error", err)
			return
		}
		if decision.ProposalID == "" {
			n.logger.Warn("decision dropped: no proposal id", "sender", delivery.Envelope.SenderID)
			return
		}

		state, err := n.approvals.Decide(decision.ProposalID, decision.Approve, decision.DecidedBy)
		switch {
		case err == nil:
			n.settleProposal(ctx, decision.ProposalID, state, decision.DecidedBy)
		case errors.Is(err, approval.ErrAlreadyDecided):
			// Possibly expired on the way in; settle whatever stuck.
			n.settleProposal(ctx, decision.ProposalID, state, decision.DecidedBy)
		case errors.Is(err, approval.ErrUnknownProposal):
			n.logger.Debug("decision for a proposal held elsewhere", "proposal_id", decision.ProposalID)
		default:
			n.logger.Warn("decision failed", "proposal_id", decision.ProposalID, "error", err)
		}
		delivery.Ack()
	}
}

// approvalSweepLoop expires overdue proposals, settles their tasks,
// renews the claims behind the proposals still pending, and prunes old
// decided records.
func (n *node) approvalSweepLoop(ctx context.Context) {
	defer n.loopsDone.Done()

	ticker := n.clock.NewTicker(approvalSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := n.approvals.ExpireOverdue(); expired > 0 {
				n.logger.Info("overdue proposals expired", "count", expired)
			}
			n.settleHeld(ctx)
			n.refreshHeld(ctx)
			n.approvals.Prune(decidedRetention)
		}
	}
}

// refreshHeld renews the ledger claim on every task whose outcome is
// parked here. A held task stays processing for as long as its
// proposal waits on an operator, which can exceed the recovery sweep
// threshold; without the heartbeat the sweeper would requeue a task
// this node still owns.
func (n *node) refreshHeld(ctx context.Context) {
	n.mu.Lock()
	taskIDs := make([]int64, 0, len(n.held))
	for _, outcome := range n.held {
		taskIDs = append(taskIDs, outcome.taskID)
	}
	n.mu.Unlock()

	for _, id := range taskIDs {
		if err := n.store.Touch(ctx, id); err != nil {
			n.logger.Warn("claim renewal failed", "task_id", id, "error", err)
		}
	}
}

// settleHeld settles every held outcome whose proposal has left
// pending. The decision handler normally beats this; the sweep catches
// expiries and decisions lost to races.
func (n *node) settleHeld(ctx context.Context) {
	n.mu.Lock()
	ids := make([]string, 0, len(n.held))
	for id := range n.held {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	for _, id := range ids {
		proposal, err := n.approvals.Get(id)
		if err != nil {
			// Pruned from under us; nothing to settle against.
			n.dropHeld(id)
			continue
		}
		if proposal.State.Terminal() {
			n.settleProposal(ctx, id, proposal.State, proposal.DecidedBy)
		}
	}
}

// settleProposal resolves the held outcome for a terminal proposal:
// approved completes the task with the raw content, rejected and
// expired fail it. No-op for ids this node does not hold.
func (n *node) settleProposal(ctx context.Context, proposalID string, state approval.State, decidedBy string) {
	n.mu.Lock()
	outcome, ok := n.held[proposalID]
	if ok {
		delete(n.held, proposalID)
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	switch state {
	case approval.StateApproved:
		n.finishTask(ctx, outcome.result)
	case approval.StateRejected:
		n.failTask(ctx, outcome.taskID, outcome.result.Agent, "rejected by "+decidedBy)
	case approval.StateExpired:
		n.failTask(ctx, outcome.taskID, outcome.result.Agent, approval.ReasonTimeout)
	default:
		// Still pending (shouldn't reach here); keep holding.
		n.mu.Lock()
		n.held[proposalID] = outcome
		n.mu.Unlock()
	}
}

// dropHeld discards a held outcome without settling its task.
func (n *node) dropHeld(proposalID string) {
	n.mu.Lock()
	outcome, ok := n.held[proposalID]
	delete(n.held, proposalID)
	n.mu.Unlock()
	if ok {
		n.logger.Warn("held outcome dropped: proposal no longer tracked",
			"proposal_id", proposalID, "task_id", outcome.taskID)
	}
}

// heldCount reports how many outcomes are parked. Used by the admin
// channel and tests.
func (n *node) heldCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.held)
}
