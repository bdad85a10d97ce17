// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the runtime contract for directive execution
// and the built-in runtime variants a node can host.
//
// A [Runtime] is a pure request-response worker: it receives one
// [Directive] and produces one [Result] or an error. Runtimes hold no
// task state, spawn no goroutines, and know nothing about the bus or
// the ledger — the node daemon owns routing, claiming, and result
// publication. Faults surface as [*ExecutionError] so callers can
// attribute a failure to the runtime that produced it.
//
// Four variants ship with the node:
//
//   - Strategist classifies a directive against a fixed keyword-rule
//     table and expands it into an ordered step plan. Deterministic;
//     no model calls. Deploy and operate classes are high risk and
//     mark the plan as requiring approval.
//   - Coder expands a directive into an implementation work order.
//   - Heartbeat answers liveness probes with a pong.
//   - Messenger relays a notification to an external webhook, always
//     through the redaction filter.
//
// Runtimes are selected by capability: each declares the execution
// capability it serves, and a node hosts the runtimes whose
// capability appears in its identity. The [Registry] maps runtime
// names to constructors; registration is explicit wiring in main,
// there are no package-level singletons.
package agent
