// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"

	"github.com/flotilla-foundation/flotilla/protocol"
)

// Heartbeat answers liveness probes. Any directive routed to it gets
// a pong back; the probe's round trip through claim, session, and
// result publication is the health signal, not the content.
type Heartbeat struct {
	logger *slog.Logger
}

var _ Runtime = (*Heartbeat)(nil)

// NewHeartbeat builds the liveness runtime.
func NewHeartbeat(cfg Config) *Heartbeat {
	cfg = cfg.withDefaults()
	return &Heartbeat{logger: cfg.Logger.With("component", "agent", "runtime", "heartbeat")}
}

func (h *Heartbeat) Name() string { return "heartbeat" }

func (h *Heartbeat) Capability() string { return protocol.CapabilityOperate }

func (h *Heartbeat) Process(_ context.Context, directive Directive) (Result, error) {
	h.logger.Debug("probe answered", "task_id", directive.TaskID, "source", directive.Source)
	return Result{Content: "pong", Kind: KindText}, nil
}
