// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package approval gates high-risk agent output behind an explicit
// decision. A proposal enters the registry pending and leaves it in
// exactly one of three terminal states: approved, rejected, or
// expired. Only approved permits the gated action.
//
// The registry is the single source of truth for gating. Nothing else
// in the system records approval state, and nothing may act on a
// proposal without reading its state from here first.
//
// Transitions serialize under one mutex, so concurrent Decide and
// expiry calls cannot both win: whoever takes the lock first moves
// the proposal to a terminal state, and everyone after that gets
// [ErrAlreadyDecided] with the state that stuck. Expiry is lazy as
// well as swept — any read path first retires proposals whose
// deadline has passed, so a caller can never observe a pending
// proposal that is actually overdue.
package approval
