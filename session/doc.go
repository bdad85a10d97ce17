// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs agent executions as supervised OS subprocesses.
//
// The orchestrator owns a table of named sessions. Spawn starts one:
// the directive envelope goes to the child on stdin, the result
// envelope comes back on stdout, and stderr is captured line by line
// into a bounded transcript with monotone offsets, so an observer can
// read "everything since offset N" across reconnects. Each child runs
// in its own process group; terminating a session signals the whole
// group with SIGTERM and escalates to SIGKILL after a grace period,
// so a child's own children cannot outlive it and hold the pipes open.
//
// A session moves created → running → exactly one of completed,
// failed, or killed, and never leaves a terminal state. Exit code 0
// with a decodable result envelope is completed; a non-zero exit, an
// undecodable result, or an oversized one is failed; a session ended
// by Terminate, Teardown, Boot, or context cancellation is killed.
//
// When an archiver is configured, the transcript of every finished
// session is handed to it after the session settles. Archive failures
// are logged and dropped — transcript retention is best-effort and
// must never change a session's outcome.
package session
