// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package sweeper reclaims tasks abandoned by dead nodes.
//
// A node that crashes mid-task leaves a ledger row stuck in processing
// forever: the broker's redelivery only covers unacknowledged bus
// messages, not claimed tasks. The sweeper is the authoritative
// liveness mechanism at the task level. Sweep flips every processing
// task whose updated_at is older than the timeout back to pending, so
// any live node can claim it again. It is a blunt timeout policy: it
// does not distinguish a crashed node from a slow one, and a task
// requeued out from under a still-running session will simply race its
// eventual completion against the new claim.
//
// Sweep is idempotent — a task it just requeued is pending, and
// pending tasks are never touched. Ledger failures skip the cycle and
// are retried on the next tick, never escalated.
package sweeper
