// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/flotilla-foundation/flotilla/lib/clock"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// Result kinds. Kind tells consumers how to interpret Content: a plan
// is JSON, code is an implementation artifact, text and notification
// are plain prose.
const (
	KindPlan         = "plan"
	KindCode         = "code"
	KindText         = "text"
	KindNotification = "notification"
)

// Directive is one unit of work handed to a runtime.
type Directive struct {
	// TaskID links the directive to its ledger row.
	TaskID int64

	// Source names where the directive entered the mesh ("cli",
	// "webhook", a bridge name). Informational.
	Source string

	// Instruction is the raw directive text.
	Instruction string
}

// Result is what a runtime produced for a directive.
type Result struct {
	// Content is the produced artifact. Interpretation depends on
	// Kind.
	Content string

	// Kind is one of the Kind* constants.
	Kind string

	// RequiresApproval marks content that must clear the approval
	// registry before anything acts on it.
	RequiresApproval bool
}

// Runtime executes directives. Implementations must be safe for
// sequential reuse: the node processes one directive at a time per
// hosted runtime but keeps the runtime alive across directives.
type Runtime interface {
	// Name identifies the runtime in logs, results, and proposals.
	Name() string

	// Capability is the execution capability this runtime serves,
	// one of the protocol capability constants.
	Capability() string

	// Process executes one directive. Blocking work must honor ctx.
	Process(ctx context.Context, directive Directive) (Result, error)
}

// ExecutionError attributes a runtime fault to the runtime that
// produced it. The node records it as the failed task's result.
type ExecutionError struct {
	// Agent is the runtime name.
	Agent string

	// Err is the underlying cause.
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Config carries the shared dependencies runtimes are built from.
// Zero values get production defaults; only Messenger has a required
// field (WebhookURL).
type Config struct {
	// Logger receives runtime activity. Default discards.
	Logger *slog.Logger

	// Clock supplies time to runtimes that need it. Default Real.
	Clock clock.Clock

	// WebhookURL is the Messenger relay target. Required for the
	// messenger, ignored by everything else.
	WebhookURL string

	// HTTPClient performs outbound webhook calls. Default is a
	// client with a 10s timeout.
	HTTPClient *http.Client
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Logger == nil {
		out.Logger = slog.New(slog.DiscardHandler)
	}
	if out.Clock == nil {
		out.Clock = clock.Real()
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return out
}

// Constructor builds a runtime from the shared configuration.
type Constructor func(Config) (Runtime, error)

// Registry maps runtime names to constructors. Registration happens
// during wiring in main, before any Build call; the registry is not
// safe for concurrent mutation.
type Registry struct {
	entries map[string]registryEntry
}

type registryEntry struct {
	capability string
	construct  Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a named runtime under a capability. Panics on a
// duplicate name: registering the same runtime twice is a wiring bug.
func (r *Registry) Register(name, capability string, construct Constructor) {
	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("agent.Registry: duplicate runtime %q", name))
	}
	r.entries[name] = registryEntry{capability: capability, construct: construct}
}

// Build constructs the named runtime.
func (r *Registry) Build(name string, cfg Config) (Runtime, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("agent: unknown runtime %q", name)
	}
	runtime, err := entry.construct(cfg)
	if err != nil {
		return nil, fmt.Errorf("agent: building runtime %q: %w", name, err)
	}
	return runtime, nil
}

// BuildCapabilities constructs every registered runtime whose
// capability appears in the given set, in name order. Capabilities
// with no registered runtime are skipped: an identity may advertise
// capabilities this build does not serve.
func (r *Registry) BuildCapabilities(capabilities []string, cfg Config) ([]Runtime, error) {
	wanted := make(map[string]bool, len(capabilities))
	for _, capability := range capabilities {
		wanted[capability] = true
	}

	var runtimes []Runtime
	for _, name := range r.Names() {
		entry := r.entries[name]
		if !wanted[entry.capability] {
			continue
		}
		runtime, err := entry.construct(cfg)
		if err != nil {
			return nil, fmt.Errorf("agent: building runtime %q: %w", name, err)
		}
		runtimes = append(runtimes, runtime)
	}
	return runtimes, nil
}

// Names returns the registered runtime names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a registry holding the four shipped runtimes.
func Builtin() *Registry {
	registry := NewRegistry()
	registry.Register("strategist", protocol.CapabilityResearch, func(cfg Config) (Runtime, error) {
		return NewStrategist(cfg), nil
	})
	registry.Register("coder", protocol.CapabilityCode, func(cfg Config) (Runtime, error) {
		return NewCoder(cfg), nil
	})
	registry.Register("heartbeat", protocol.CapabilityOperate, func(cfg Config) (Runtime, error) {
		return NewHeartbeat(cfg), nil
	})
	registry.Register("messenger", protocol.CapabilityAutomation, func(cfg Config) (Runtime, error) {
		return NewMessenger(cfg)
	})
	return registry
}
