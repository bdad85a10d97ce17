// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/flotilla-foundation/flotilla/approval"
	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/redact"
	"github.com/flotilla-foundation/flotilla/protocol"
	"github.com/flotilla-foundation/flotilla/session"
)

// handleExec executes routed directives for one capability subject.
// Dispatch is sequential per subscription, so a node works one
// directive at a time per capability; parallelism comes from running
// more nodes in the worker group.
func (n *node) handleExec(ctx context.Context) bus.Handler {
	return func(delivery *bus.Delivery) {
		if !n.authorized(delivery.Envelope) {
			n.logger.Warn("exec request dropped: mesh token mismatch", "sender", delivery.Envelope.SenderID)
			return
		}

		var request protocol.ExecRequest
		if err := protocol.DecodeData(delivery.Envelope.Data, &request); err != nil {
			n.logger.Warn("exec request dropped: undecodable", "subject", delivery.Subject, "error", err)
			return
		}
		if request.TaskID == 0 || request.Instruction == "" {
			n.logger.Warn("exec request dropped: incomplete", "subject", delivery.Subject)
			return
		}

		claimed, err := n.store.Claim(ctx, request.TaskID)
		if errors.Is(err, ledger.ErrNotFound) {
			// A task the ledger never recorded cannot succeed on
			// redelivery either.
			n.logger.Warn("exec request dropped: unknown task", "task_id", request.TaskID)
			delivery.Ack()
			return
		}
		if err != nil {
			// Leave unacked; the claim is the idempotency barrier, so a
			// redelivery retries safely.
			n.logger.Error("claim failed", "task_id", request.TaskID, "error", err)
			return
		}
		if !claimed {
			// Another node won, or a duplicate delivery of a task that
			// already ran. Done either way.
			delivery.Ack()
			return
		}
		n.publishStatus(request.TaskID, ledger.StatusPending, ledger.StatusProcessing, "claimed")

		n.execute(ctx, delivery.Subject, request)
		delivery.Ack()
	}
}

// execute runs one claimed directive to a settled outcome: a terminal
// ledger status, or a held outcome behind a pending proposal.
func (n *node) execute(ctx context.Context, subject string, request protocol.ExecRequest) {
	directive := protocol.NewEnvelope(n.identity.Name, subject, nil)
	data, err := protocol.EncodeData(request)
	if err != nil {
		n.failTask(ctx, request.TaskID, "", fmt.Sprintf("encoding directive: %v", err))
		return
	}
	directive.Data = data

	name := fmt.Sprintf("task-%d", request.TaskID)
	s, err := n.sessions.Spawn(ctx, name, directive)
	if err != nil {
		n.failTask(ctx, request.TaskID, "", fmt.Sprintf("spawning session: %v", err))
		return
	}

	state, err := s.Wait(ctx)
	if err != nil {
		// Shutdown mid-session: the subprocess dies with the session
		// context, and the task goes back through the sweeper.
		n.logger.Warn("session abandoned at shutdown", "task_id", request.TaskID, "session", name)
		return
	}

	switch state {
	case session.StateCompleted:
		envelope, ok := s.Result()
		if !ok {
			n.failTask(ctx, request.TaskID, "", "completed session carried no result")
			return
		}
		var result protocol.ExecResult
		if err := protocol.DecodeData(envelope.Data, &result); err != nil {
			n.failTask(ctx, request.TaskID, "", fmt.Sprintf("undecodable result payload: %v", err))
			return
		}
		result.TaskID = request.TaskID
		if result.RequiresApproval {
			n.holdForApproval(result)
			return
		}
		n.finishTask(ctx, result)

	case session.StateKilled:
		n.failTask(ctx, request.TaskID, "", "session killed")

	default:
		n.failTask(ctx, request.TaskID, "", fmt.Sprintf("session failed with exit code %d", s.ExitCode()))
	}
}

// finishTask completes the ledger row and publishes the result.
func (n *node) finishTask(ctx context.Context, result protocol.ExecResult) {
	if err := n.store.Complete(ctx, result.TaskID, result.Content); err != nil {
		n.logger.Error("completing task failed", "task_id", result.TaskID, "error", err)
		return
	}
	result.Status = "completed"
	n.publish(protocol.SubjectTaskResult, result)
	n.publishStatus(result.TaskID, ledger.StatusProcessing, ledger.StatusCompleted, "")
	n.logger.Info("task completed", "task_id", result.TaskID, "agent", result.Agent, "kind", result.Kind)
}

// failTask fails the ledger row and publishes the failed result.
func (n *node) failTask(ctx context.Context, taskID int64, agent, reason string) {
	if err := n.store.Fail(ctx, taskID, reason); err != nil {
		n.logger.Error("failing task failed", "task_id", taskID, "error", err)
		return
	}
	n.publish(protocol.SubjectTaskResult, protocol.ExecResult{
		TaskID:  taskID,
		Agent:   agent,
		Status:  "failed",
		Kind:    "text",
		Content: reason,
	})
	n.publishStatus(taskID, ledger.StatusProcessing, ledger.StatusFailed, reason)
	n.logger.Warn("task failed", "task_id", taskID, "reason", reason)
}

// holdForApproval parks a risky outcome behind a new proposal. The
// task stays processing; the decision handler or the expiry sweep
// settles it. Published proposal content is redacted — the registry
// keeps the raw content for the approved path.
func (n *node) holdForApproval(result protocol.ExecResult) {
	proposal := n.approvals.Submit(approval.Submission{
		TaskID:  result.TaskID,
		Agent:   result.Agent,
		Content: result.Content,
		Kind:    result.Kind,
	})

	n.mu.Lock()
	n.held[proposal.ID] = heldOutcome{taskID: result.TaskID, result: result}
	n.mu.Unlock()

	n.publish(protocol.SubjectApprovalRequest, protocol.ApprovalRequest{
		ProposalID: proposal.ID,
		TaskID:     result.TaskID,
		Agent:      result.Agent,
		Kind:       result.Kind,
		Content:    redact.Redact(result.Content),
		Deadline:   proposal.Deadline.Format(timeFormat),
	})
	n.logger.Info("outcome held for approval",
		"task_id", result.TaskID,
		"proposal_id", proposal.ID,
		"agent", result.Agent,
		"deadline", proposal.Deadline,
	)
}
