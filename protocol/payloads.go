// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
)

// Typed payloads carried in Envelope.Data. The envelope itself stays
// schema-free; components convert at the boundary with EncodeData and
// DecodeData so unknown fields pass through untouched.

// TaskAnnouncement enters on tasks.new when a directive is admitted.
type TaskAnnouncement struct {
	TaskID      int64  `json:"task_id"`
	Source      string `json:"source"`
	Instruction string `json:"instruction"`
}

// ExecRequest is a routed directive on tasks.exec.request.<capability>.
type ExecRequest struct {
	TaskID      int64  `json:"task_id"`
	Capability  string `json:"capability"`
	Source      string `json:"source"`
	Instruction string `json:"instruction"`
}

// ExecResult reports an execution outcome on tasks.exec.result.
type ExecResult struct {
	TaskID  int64  `json:"task_id"`
	Agent   string `json:"agent"`
	Status  string `json:"status"` // "completed" or "failed"
	Kind    string `json:"kind"`
	Content string `json:"content"`

	// RequiresApproval marks outcomes the node must hold behind an
	// approval proposal instead of completing directly.
	RequiresApproval bool `json:"requires_approval,omitempty"`
}

// StatusEvent mirrors a ledger transition on tasks.status.
type StatusEvent struct {
	TaskID int64  `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Node   string `json:"node"`
	Reason string `json:"reason,omitempty"`
}

// ApprovalRequest announces a gated proposal on tasks.approval.request.
type ApprovalRequest struct {
	ProposalID string `json:"proposal_id"`
	TaskID     int64  `json:"task_id"`
	Agent      string `json:"agent"`
	Kind       string `json:"kind"`
	Content    string `json:"content"`
	Deadline   string `json:"deadline"` // RFC 3339
}

// ApprovalDecision carries a sign-off on tasks.approval.decision.
type ApprovalDecision struct {
	ProposalID string `json:"proposal_id"`
	Approve    bool   `json:"approve"`
	DecidedBy  string `json:"decided_by"`
}

// Heartbeat is the periodic liveness record on node.heartbeat.
type Heartbeat struct {
	NodeUUID      string   `json:"node_uuid"`
	Name          string   `json:"name"`
	Role          string   `json:"role"`
	Capabilities  []string `json:"capabilities"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

// LogRecord is a relayed agent log line on the log.* subjects.
type LogRecord struct {
	Agent   string `json:"agent"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// EncodeData converts a typed payload into an envelope data mapping.
func EncodeData(payload any) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding payload: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(encoded, &data); err != nil {
		return nil, fmt.Errorf("protocol: payload is not an object: %w", err)
	}
	return data, nil
}

// DecodeData fills a typed payload from an envelope data mapping.
// Unknown keys in data are ignored; missing keys leave zero values.
func DecodeData(data map[string]any, payload any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("protocol: re-encoding data: %w", err)
	}
	if err := json.Unmarshal(encoded, payload); err != nil {
		return fmt.Errorf("protocol: decoding payload: %w", err)
	}
	return nil
}
