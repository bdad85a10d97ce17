// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus connects a node to the coordination mesh.
//
// The Bus interface has two implementations: NATSBus speaks to a real
// NATS broker, and MemoryBus provides the same delivery contract
// in-process for tests and single-node development. Components accept
// the interface so the two are interchangeable.
//
// Delivery contract, identical across implementations:
//
//   - Publish is fire-and-forget. Once the broker accepts the frame,
//     this package performs no local retry; at-least-once behavior is
//     the broker's concern.
//   - Subscribe with an empty group fans out: every subscription whose
//     pattern matches a subject receives the message. With a non-empty
//     group, the group's members compete: exactly one member receives
//     each message.
//   - Dispatch to a given subscription is sequential. A handler runs to
//     completion — including its Ack — before the next delivery is
//     handed to that subscription. Different subscriptions interleave
//     freely; no cross-subject ordering exists.
//   - Frames that fail envelope decoding are logged and dropped. They
//     never reach a handler and are never recorded as task failures,
//     since no task identity can be read from them.
//   - Close drains: buffered publishes are flushed before the
//     connection closes, and failures during the drain are logged
//     rather than escalated.
//
// Redelivery of unacknowledged messages is the broker's own policy and
// is deliberately not reimplemented here; stalled work is reclaimed at
// the task level by the recovery sweep, not at the frame level.
//
// Each node holds its own connection. Nothing in this package is a
// process-wide singleton.
package bus
