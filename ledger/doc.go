// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger persists the task queue that coordinates the fleet.
//
// The ledger is the only shared mutable state between nodes. Every
// task lives in exactly one row and moves through a fixed status
// machine:
//
//	pending → processing → completed
//	                     → failed
//	processing → pending   (recovery sweep only)
//
// Nothing else mutates status, and tasks are never deleted by the
// core. The processing→pending edge exists so a task claimed by a
// node that later died can be handed to another node; the sweeper
// drives it by age of updated_at.
//
// Claims are conditional writes. [Store.Claim] and [Store.ClaimNext]
// succeed for exactly one caller under any interleaving: the SQLite
// backend runs the conditional UPDATE inside an immediate
// transaction, the Postgres backend locks the candidate row with
// FOR UPDATE SKIP LOCKED, and the in-memory backend serializes on a
// mutex. A losing claim is a clean miss, not an error.
//
// [Open] picks the backend from the URL: postgres:// and
// postgresql:// select Postgres, anything else is a SQLite database
// path. The in-memory backend lives in
// [github.com/flotilla-foundation/flotilla/ledger/ledgertest] for
// tests and broker-less development.
package ledger
