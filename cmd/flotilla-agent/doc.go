// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Flotilla-agent executes one directive and exits.
//
// The node daemon spawns it per session: a directive envelope arrives
// on stdin, the matching runtime processes it, and the result envelope
// leaves on stdout. Stderr carries the agent's log stream, which the
// session orchestrator captures as the transcript.
//
// Exit code 0 with a parseable result envelope marks the session
// completed; anything else marks it failed.
package main
