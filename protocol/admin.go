// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Admin wire types for the operator channel on core.request. A request
// names an op and a private reply subject; one node in the core queue
// group answers on that subject with an AdminReply.

// Admin op names.
const (
	AdminOpTaskSubmit   = "task.submit"
	AdminOpTaskShow     = "task.show"
	AdminOpTaskList     = "task.list"
	AdminOpApprovalList = "approval.list"
	AdminOpSessionLogs  = "session.logs"
	AdminOpSweep        = "sweep"
)

// AdminRequest is the payload on core.request. Op selects the
// operation; ReplyTo names the caller's private reply subject. The
// remaining fields are per-op arguments.
type AdminRequest struct {
	Op      string `json:"op"`
	ReplyTo string `json:"reply_to"`

	TaskID      int64  `json:"task_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Source      string `json:"source,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Session     string `json:"session,omitempty"`
	FromOffset  uint64 `json:"from_offset,omitempty"`
}

// AdminReply is the payload published on the reply subject. OK false
// carries Error; the rest is per-op.
type AdminReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Task      *TaskView      `json:"task,omitempty"`
	Tasks     []TaskView     `json:"tasks,omitempty"`
	Proposals []ProposalView `json:"proposals,omitempty"`
	Lines     []LogLine      `json:"lines,omitempty"`
	NextLine  uint64         `json:"next_line,omitempty"`
	Requeued  int            `json:"requeued,omitempty"`
	Held      int            `json:"held,omitempty"`
}

// TaskView is the wire rendering of a ledger row. Timestamps are
// RFC 3339.
type TaskView struct {
	ID        int64  `json:"id"`
	Source    string `json:"source"`
	Payload   string `json:"payload"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ProposalView is the wire rendering of a pending proposal.
type ProposalView struct {
	ID          string `json:"id"`
	TaskID      int64  `json:"task_id"`
	Agent       string `json:"agent"`
	Kind        string `json:"kind"`
	Content     string `json:"content"`
	State       string `json:"state"`
	SubmittedAt string `json:"submitted_at"`
	Deadline    string `json:"deadline"`
}

// LogLine is one transcript line on the wire.
type LogLine struct {
	Offset uint64 `json:"offset"`
	Text   string `json:"text"`
}
