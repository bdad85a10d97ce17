// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flotilla-foundation/flotilla/protocol"
)

// Coder expands a directive into an implementation work order: the
// objective, its deliverables, and the standing constraints every
// implementation task carries. The artifact is the contract an
// execution substrate works from.
type Coder struct {
	logger *slog.Logger
}

var _ Runtime = (*Coder)(nil)

// NewCoder builds the implementation runtime.
func NewCoder(cfg Config) *Coder {
	cfg = cfg.withDefaults()
	return &Coder{logger: cfg.Logger.With("component", "agent", "runtime", "coder")}
}

func (c *Coder) Name() string { return "coder" }

func (c *Coder) Capability() string { return protocol.CapabilityCode }

// Process renders the work order. An empty instruction is a fault:
// there is nothing to implement.
func (c *Coder) Process(_ context.Context, directive Directive) (Result, error) {
	instruction := strings.TrimSpace(directive.Instruction)
	if instruction == "" {
		return Result{}, &ExecutionError{Agent: c.Name(), Err: errors.New("empty instruction")}
	}

	var order strings.Builder
	fmt.Fprintf(&order, "Work order for task %d", directive.TaskID)
	if directive.Source != "" {
		fmt.Fprintf(&order, " (source: %s)", directive.Source)
	}
	order.WriteString("\n\nObjective:\n")
	for _, line := range strings.Split(instruction, "\n") {
		fmt.Fprintf(&order, "  %s\n", line)
	}
	order.WriteString("\nDeliverables:\n")
	order.WriteString("  - working implementation with tests\n")
	order.WriteString("  - summary of commands run and files touched\n")
	order.WriteString("\nConstraints:\n")
	order.WriteString("  - prefer incremental, reversible changes\n")
	order.WriteString("  - no destructive actions without explicit approval\n")
	order.WriteString("  - surface assumptions made for missing details\n")

	c.logger.Info("work order rendered", "task_id", directive.TaskID)
	return Result{Content: order.String(), Kind: KindCode}, nil
}
