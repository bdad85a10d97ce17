// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flotilla-foundation/flotilla/protocol"
)

// ErrSpawnFailure marks sessions that never started: a missing
// binary, a bad working directory, an unencodable directive. Matched
// with errors.Is.
var ErrSpawnFailure = errors.New("session spawn failure")

// ErrUnknownSession marks lookups of names the orchestrator is not
// tracking.
var ErrUnknownSession = errors.New("unknown session")

// SpawnError carries the session name alongside the spawn cause.
type SpawnError struct {
	// Name is the session that failed to start.
	Name string

	// Err is the underlying cause.
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("session: spawning %q: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is makes SpawnError match ErrSpawnFailure.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawnFailure }

// State is a session's position in its lifecycle.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateKilled    State = "killed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateKilled
}

// Line is one captured transcript line.
type Line struct {
	// Offset is the line's position in the session's full output,
	// counted from zero and never reused. Offsets stay valid after
	// older lines are evicted from the bounded transcript.
	Offset uint64

	// Text is the line without its trailing newline.
	Text string
}

// TranscriptRecord is the finished session handed to an Archiver.
type TranscriptRecord struct {
	Session   string
	State     State
	ExitCode  int
	StartedAt time.Time
	EndedAt   time.Time
	Lines     []Line
}

// Archiver persists finished transcripts. Implementations must
// tolerate concurrent calls; errors are logged by the orchestrator
// and never affect session outcomes.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, record TranscriptRecord) (ref string, err error)
}

// Session is one supervised subprocess. All accessors are safe for
// concurrent use; the zero value is not usable — sessions come from
// Orchestrator.Spawn.
type Session struct {
	name       string
	transcript *transcript
	cancel     context.CancelFunc
	done       chan struct{}

	mu            sync.Mutex
	state         State
	startedAt     time.Time
	endedAt       time.Time
	exitCode      int
	killRequested bool
	result        *protocol.Envelope
}

// Name returns the session's table key.
func (s *Session) Name() string { return s.name }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitCode returns the subprocess exit code. Meaningful only once the
// session is terminal; killed sessions report -1.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// StartedAt returns when the subprocess started.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// EndedAt returns when the session settled; zero while live.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Result returns the decoded result envelope. ok is true only for
// completed sessions.
func (s *Session) Result() (protocol.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return protocol.Envelope{}, false
	}
	return *s.result, true
}

// Done is closed when the session settles.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session settles or ctx ends, returning the
// state observed at that point.
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// kill requests termination: mark the session so the reaper
// classifies the exit as killed, then cancel the subprocess context.
// No-op once terminal. A kill racing a natural exit settles under the
// session mutex: whichever classification commits first wins.
func (s *Session) kill() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.killRequested = true
	s.mu.Unlock()
	s.cancel()
}
