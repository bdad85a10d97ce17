// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/flotilla-foundation/flotilla/agent"
	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// handleIntake admits directives arriving on tasks.new: record the
// task, classify it, and route it to the capability subject that
// serves it. Intake competes inside the worker group, so exactly one
// node admits each directive.
func (n *node) handleIntake(ctx context.Context) bus.Handler {
	return func(delivery *bus.Delivery) {
		if !n.authorized(delivery.Envelope) {
			n.logger.Warn("directive dropped: mesh token mismatch", "sender", delivery.Envelope.SenderID)
			return
		}

		var announcement protocol.TaskAnnouncement
		if err := protocol.DecodeData(delivery.Envelope.Data, &announcement); err != nil {
			n.logger.Warn("directive dropped: undecodable announcement", "error", err)
			return
		}
		instruction := announcement.Instruction
		if instruction == "" {
			// Raw senders (bridges, curl) land as {"raw_text": ...}.
			instruction, _ = delivery.Envelope.Data["raw_text"].(string)
		}
		if instruction == "" {
			n.logger.Warn("directive dropped: no instruction", "sender", delivery.Envelope.SenderID)
			return
		}
		source := announcement.Source
		if source == "" {
			source = delivery.Envelope.SenderID
		}

		if _, err := n.admit(ctx, source, instruction); err != nil {
			// Not acked: the broker redelivers, or the sweeper never
			// sees it because it was never recorded. Either way the
			// directive is not lost silently.
			n.logger.Error("directive admission failed", "source", source, "error", err)
			return
		}
		delivery.Ack()
	}
}

// admit records a directive and routes it. Shared by bus intake and
// the administrative task.submit operation.
func (n *node) admit(ctx context.Context, source, instruction string) (ledger.Task, error) {
	task, err := n.store.Enqueue(ctx, source, instruction)
	if err != nil {
		return ledger.Task{}, err
	}
	n.publishStatus(task.ID, "", ledger.StatusPending, "admitted")

	intent := agent.ClassifyIntent(instruction)
	capability := agent.CapabilityForIntent(intent.Class)
	n.publish(protocol.ExecRequestSubject(capability), protocol.ExecRequest{
		TaskID:      task.ID,
		Capability:  capability,
		Source:      source,
		Instruction: instruction,
	})

	n.logger.Info("directive admitted",
		"task_id", task.ID,
		"source", source,
		"intent", intent.Class,
		"risk", intent.Risk,
		"capability", capability,
	)
	return task, nil
}
