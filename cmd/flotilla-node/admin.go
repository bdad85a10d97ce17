// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strings"

	"github.com/flotilla-foundation/flotilla/approval"
	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/protocol"
)

func viewTask(task ledger.Task) protocol.TaskView {
	return protocol.TaskView{
		ID:        task.ID,
		Source:    task.Source,
		Payload:   task.Payload,
		Status:    string(task.Status),
		Result:    task.Result,
		CreatedAt: task.CreatedAt.Format(timeFormat),
		UpdatedAt: task.UpdatedAt.Format(timeFormat),
	}
}

func viewProposal(proposal approval.Proposal) protocol.ProposalView {
	return protocol.ProposalView{
		ID:          proposal.ID,
		TaskID:      proposal.TaskID,
		Agent:       proposal.Agent,
		Kind:        proposal.Kind,
		Content:     proposal.Content,
		State:       string(proposal.State),
		SubmittedAt: proposal.SubmittedAt.Format(timeFormat),
		Deadline:    proposal.Deadline.Format(timeFormat),
	}
}

// handleAdmin serves operator requests on core.request. Nodes compete
// in the "core" queue group: one node answers each request. Ledger
// operations see fleet-wide state; approval and session operations see
// the answering node only.
func (n *node) handleAdmin(ctx context.Context) bus.Handler {
	return func(delivery *bus.Delivery) {
		if !n.authorized(delivery.Envelope) {
			n.logger.Warn("admin request dropped: mesh token mismatch", "sender", delivery.Envelope.SenderID)
			return
		}

		var request protocol.AdminRequest
		if err := protocol.DecodeData(delivery.Envelope.Data, &request); err != nil {
			n.logger.Warn("admin request dropped: undecodable", "error", err)
			return
		}
		if request.ReplyTo == "" || protocol.ValidateSubject(request.ReplyTo) != nil {
			n.logger.Warn("admin request dropped: bad reply subject", "op", request.Op, "reply_to", request.ReplyTo)
			return
		}

		reply := n.serveAdmin(ctx, request)
		n.publish(request.ReplyTo, reply)
		delivery.Ack()
	}
}

func (n *node) serveAdmin(ctx context.Context, request protocol.AdminRequest) protocol.AdminReply {
	switch request.Op {
	case protocol.AdminOpTaskSubmit:
		if strings.TrimSpace(request.Instruction) == "" {
			return protocol.AdminReply{Error: "instruction is required"}
		}
		source := request.Source
		if source == "" {
			source = "cli"
		}
		task, err := n.admit(ctx, source, request.Instruction)
		if err != nil {
			return protocol.AdminReply{Error: err.Error()}
		}
		view := viewTask(task)
		return protocol.AdminReply{OK: true, Task: &view}

	case protocol.AdminOpTaskShow:
		task, err := n.store.Get(ctx, request.TaskID)
		if err != nil {
			return protocol.AdminReply{Error: err.Error()}
		}
		view := viewTask(task)
		return protocol.AdminReply{OK: true, Task: &view}

	case protocol.AdminOpTaskList:
		status := ledger.Status(request.Status)
		if request.Status != "" && !status.Valid() {
			return protocol.AdminReply{Error: "unknown status " + request.Status}
		}
		tasks, err := n.store.List(ctx, status, request.Limit)
		if err != nil {
			return protocol.AdminReply{Error: err.Error()}
		}
		views := make([]protocol.TaskView, len(tasks))
		for i, task := range tasks {
			views[i] = viewTask(task)
		}
		return protocol.AdminReply{OK: true, Tasks: views}

	case protocol.AdminOpApprovalList:
		pending := n.approvals.Pending()
		views := make([]protocol.ProposalView, len(pending))
		for i, proposal := range pending {
			views[i] = viewProposal(proposal)
		}
		return protocol.AdminReply{OK: true, Proposals: views, Held: n.heldCount()}

	case protocol.AdminOpSessionLogs:
		if request.Session == "" {
			return protocol.AdminReply{Error: "session is required"}
		}
		lines, next, err := n.sessions.Logs(request.Session, request.FromOffset)
		if err != nil {
			return protocol.AdminReply{Error: err.Error()}
		}
		out := make([]protocol.LogLine, len(lines))
		for i, line := range lines {
			out[i] = protocol.LogLine{Offset: line.Offset, Text: line.Text}
		}
		return protocol.AdminReply{OK: true, Lines: out, NextLine: next}

	case protocol.AdminOpSweep:
		requeued, err := n.store.Requeue(ctx, n.sweepTimeout)
		if err != nil {
			return protocol.AdminReply{Error: err.Error()}
		}
		if requeued > 0 {
			n.publishStatus(0, ledger.StatusProcessing, ledger.StatusPending, "manual sweep")
		}
		return protocol.AdminReply{OK: true, Requeued: requeued}

	default:
		return protocol.AdminReply{Error: "unknown op " + request.Op}
	}
}
