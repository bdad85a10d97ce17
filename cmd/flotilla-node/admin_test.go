// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/testutil"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// askAdmin sends one admin request and returns the reply published on
// its private subject.
func askAdmin(t *testing.T, h *harness, request protocol.AdminRequest) protocol.AdminReply {
	t.Helper()
	replies := make(chan protocol.AdminReply, 1)
	request.ReplyTo = "core.reply." + strings.ToLower(t.Name())
	observe(h, t, request.ReplyTo, replies)

	h.publish(t, protocol.SubjectCoreRequest, "", request)
	h.flush(t)
	return testutil.RequireReceive(t, replies, waitTimeout, "admin reply")
}

func TestAdminTaskSubmit(t *testing.T) {
	h := startHarness(t, harnessConfig{})

	reply := askAdmin(t, h, protocol.AdminRequest{Op: "task.submit", Instruction: "research the options"})
	if !reply.OK || reply.Task == nil {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Task.Status != string(ledger.StatusPending) {
		t.Errorf("submitted task status = %q, want pending", reply.Task.Status)
	}
	if reply.Task.Source != "cli" {
		t.Errorf("default source = %q, want cli", reply.Task.Source)
	}

	task, err := h.store.Get(context.Background(), reply.Task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Payload != "research the options" {
		t.Errorf("payload = %q", task.Payload)
	}
}

func TestAdminTaskSubmitRequiresInstruction(t *testing.T) {
	h := startHarness(t, harnessConfig{})

	reply := askAdmin(t, h, protocol.AdminRequest{Op: "task.submit", Instruction: "   "})
	if reply.OK || !strings.Contains(reply.Error, "instruction") {
		t.Errorf("reply = %+v, want instruction error", reply)
	}
}

func TestAdminTaskShow(t *testing.T) {
	h := startHarness(t, harnessConfig{})
	taskID := enqueueTask(t, h, "build the widget")

	reply := askAdmin(t, h, protocol.AdminRequest{Op: "task.show", TaskID: taskID})
	if !reply.OK || reply.Task == nil {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Task.ID != taskID || reply.Task.Payload != "build the widget" {
		t.Errorf("task view = %+v", reply.Task)
	}

	missing := askAdmin(t, h, protocol.AdminRequest{Op: "task.show", TaskID: 9999})
	if missing.OK || missing.Error == "" {
		t.Errorf("reply for unknown task = %+v", missing)
	}
}

func TestAdminTaskList(t *testing.T) {
	h := startHarness(t, harnessConfig{})
	enqueueTask(t, h, "first")
	second := enqueueTask(t, h, "second")
	if won, err := h.store.Claim(context.Background(), second); err != nil || !won {
		t.Fatalf("Claim(): won=%v err=%v", won, err)
	}

	all := askAdmin(t, h, protocol.AdminRequest{Op: "task.list"})
	if !all.OK || len(all.Tasks) != 2 {
		t.Fatalf("list all = %+v", all)
	}

	pending := askAdmin(t, h, protocol.AdminRequest{Op: "task.list", Status: string(ledger.StatusPending)})
	if !pending.OK || len(pending.Tasks) != 1 || pending.Tasks[0].Payload != "first" {
		t.Errorf("pending list = %+v", pending)
	}

	bad := askAdmin(t, h, protocol.AdminRequest{Op: "task.list", Status: "sideways"})
	if bad.OK || !strings.Contains(bad.Error, "sideways") {
		t.Errorf("bad status reply = %+v", bad)
	}
}

func TestAdminApprovalList(t *testing.T) {
	h := startHarness(t, harnessConfig{
		script:       gatedScript,
		capabilities: []string{protocol.CapabilityCode},
	})
	_, proposal := runGatedTask(t, h)

	reply := askAdmin(t, h, protocol.AdminRequest{Op: "approval.list"})
	if !reply.OK || len(reply.Proposals) != 1 {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Proposals[0].ID != proposal.ProposalID {
		t.Errorf("listed proposal %q, want %q", reply.Proposals[0].ID, proposal.ProposalID)
	}
	if reply.Held != 1 {
		t.Errorf("held = %d, want 1", reply.Held)
	}
}

func TestAdminSessionLogs(t *testing.T) {
	h := startHarness(t, harnessConfig{
		script:       failingScript,
		capabilities: []string{protocol.CapabilityCode},
	})
	taskID := enqueueTask(t, h, "build the widget")
	h.publish(t, protocol.ExecRequestSubject(protocol.CapabilityCode), "", execRequest(taskID, "build the widget"))
	h.flush(t)

	reply := askAdmin(t, h, protocol.AdminRequest{Op: "session.logs", Session: "task-" + itoa(taskID)})
	if !reply.OK {
		t.Fatalf("reply = %+v", reply)
	}
	var found bool
	for _, line := range reply.Lines {
		if strings.Contains(line.Text, "boom") {
			found = true
		}
	}
	if !found {
		t.Errorf("transcript lines = %+v, want stderr output", reply.Lines)
	}

	missing := askAdmin(t, h, protocol.AdminRequest{Op: "session.logs", Session: "task-404"})
	if missing.OK {
		t.Errorf("reply for unknown session = %+v", missing)
	}
}

func TestAdminSweep(t *testing.T) {
	h := startHarness(t, harnessConfig{})
	taskID := enqueueTask(t, h, "stuck work")
	if won, err := h.store.Claim(context.Background(), taskID); err != nil || !won {
		t.Fatalf("Claim(): won=%v err=%v", won, err)
	}
	h.clk.Advance(11 * time.Minute)

	reply := askAdmin(t, h, protocol.AdminRequest{Op: "sweep"})
	if !reply.OK || reply.Requeued != 1 {
		t.Fatalf("reply = %+v, want 1 requeued", reply)
	}

	task, err := h.store.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != ledger.StatusPending {
		t.Errorf("task status = %q, want pending after sweep", task.Status)
	}
}

func TestAdminUnknownOp(t *testing.T) {
	h := startHarness(t, harnessConfig{})

	reply := askAdmin(t, h, protocol.AdminRequest{Op: "fleet.scuttle"})
	if reply.OK || !strings.Contains(reply.Error, "fleet.scuttle") {
		t.Errorf("reply = %+v", reply)
	}
}

func TestAdminDropsBadReplySubject(t *testing.T) {
	h := startHarness(t, harnessConfig{})

	h.publish(t, protocol.SubjectCoreRequest, "", protocol.AdminRequest{Op: "task.list", ReplyTo: "no spaces allowed"})
	h.flush(t)

	testutil.RequireNoReceive(t, h.status, 50*time.Millisecond, "no side effects for dropped request")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
