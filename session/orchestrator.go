// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/flotilla-foundation/flotilla/lib/clock"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// maxResultBytes caps a session's stdout. A result past this is a
// misbehaving agent, and the session fails; larger artifacts belong
// in the archive, not inline in a result envelope.
const maxResultBytes = 1 << 20

// maxLineBytes caps one captured stderr line.
const maxLineBytes = 256 * 1024

// archiveTimeout bounds transcript archiving after a session settles.
const archiveTimeout = 10 * time.Second

// Config holds the orchestrator's options. Command is required.
type Config struct {
	// Command is the argv for agent subprocesses. Every session runs
	// this exact command; the directive on stdin tells it what to do.
	Command []string

	// Dir is the child working directory. Empty inherits the
	// orchestrator's.
	Dir string

	// Env is appended to the inherited environment, KEY=VALUE form.
	Env []string

	// GracePeriod is how long a terminated session gets between
	// SIGTERM and SIGKILL. Default 5s.
	GracePeriod time.Duration

	// TranscriptLines caps each session's captured stderr ring.
	// Default 2000.
	TranscriptLines int

	// Archive receives finished transcripts. Nil disables archiving.
	Archive Archiver

	// Logger receives session lifecycle events. Default discards.
	Logger *slog.Logger

	// Clock supplies session timestamps and the kill escalation
	// timer. Default Real.
	Clock clock.Clock
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.GracePeriod <= 0 {
		out.GracePeriod = 5 * time.Second
	}
	if out.TranscriptLines <= 0 {
		out.TranscriptLines = 2000
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.DiscardHandler)
	}
	if out.Clock == nil {
		out.Clock = clock.Real()
	}
	return out
}

// Orchestrator owns the session table. One per node process.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator validates the configuration and returns an empty
// orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("session: config: Command is required")
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "session"),
		clock:    cfg.Clock,
		sessions: make(map[string]*Session),
	}, nil
}

// Spawn starts a session under the given name. The directive envelope
// is written to the child's stdin, which is then closed. The ctx
// bounds the session's whole lifetime: cancelling it terminates the
// session exactly like Terminate.
//
// A name already held by a live session is an error; a name held by a
// finished session is reused, discarding the old transcript (the
// archive keeps the durable copy).
func (o *Orchestrator) Spawn(ctx context.Context, name string, directive protocol.Envelope) (*Session, error) {
	encoded, err := directive.Encode()
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.sessions[name]; ok && !existing.State().Terminal() {
		return nil, fmt.Errorf("session: %q is already running", name)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		name:       name,
		transcript: newTranscript(o.cfg.TranscriptLines),
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateCreated,
	}

	cmd := exec.CommandContext(sessionCtx, o.cfg.Command[0], o.cfg.Command[1:]...)
	cmd.Dir = o.cfg.Dir
	cmd.Stdin = bytes.NewReader(encoded)
	if len(o.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), o.cfg.Env...)
	}

	// The child gets its own process group so kill signals reach its
	// children too; otherwise grandchildren survive and hold the
	// output pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		processGroup := -cmd.Process.Pid
		if err := syscall.Kill(processGroup, syscall.SIGTERM); err != nil {
			// Group already gone or unsignalable: escalate now.
			return syscall.Kill(processGroup, syscall.SIGKILL)
		}
		go func() {
			o.clock.Sleep(o.cfg.GracePeriod)
			// ESRCH from an already-dead group is harmless.
			_ = syscall.Kill(processGroup, syscall.SIGKILL)
		}()
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &SpawnError{Name: name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, &SpawnError{Name: name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &SpawnError{Name: name, Err: err}
	}

	s.mu.Lock()
	s.state = StateRunning
	s.startedAt = o.clock.Now().UTC()
	s.mu.Unlock()
	o.sessions[name] = s

	o.logger.Info("session started", "session", name, "pid", cmd.Process.Pid)

	scanDone := make(chan struct{})
	go o.captureStderr(s, stderr, scanDone)
	go o.reap(s, cmd, stdout, scanDone)

	return s, nil
}

// captureStderr feeds the session transcript line by line. On a
// scanner fault (a line past maxLineBytes) the rest of the stream is
// drained so the child never blocks on a full pipe.
func (o *Orchestrator) captureStderr(s *Session, stderr io.ReadCloser, scanDone chan<- struct{}) {
	defer close(scanDone)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		s.transcript.append(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		o.logger.Warn("session stderr capture stopped", "session", s.name, "error", err)
		_, _ = io.Copy(io.Discard, stderr)
	}
}

// reap collects the session's result and settles its final state.
func (o *Orchestrator) reap(s *Session, cmd *exec.Cmd, stdout io.ReadCloser, scanDone <-chan struct{}) {
	raw, readErr := io.ReadAll(io.LimitReader(stdout, maxResultBytes+1))
	if len(raw) > maxResultBytes {
		// Keep draining so the child can exit, but the result is
		// already disqualified.
		_, _ = io.Copy(io.Discard, stdout)
	}
	<-scanDone
	waitErr := cmd.Wait()

	var (
		result *protocol.Envelope
		reason string
	)
	switch {
	case readErr != nil:
		reason = fmt.Sprintf("reading result: %v", readErr)
	case len(raw) > maxResultBytes:
		reason = "result exceeds size limit"
	case waitErr == nil:
		envelope, err := protocol.Decode(bytes.TrimSpace(raw))
		if err != nil {
			reason = fmt.Sprintf("undecodable result: %v", err)
		} else {
			result = &envelope
		}
	default:
		reason = waitErr.Error()
	}

	s.mu.Lock()
	s.endedAt = o.clock.Now().UTC()
	s.exitCode = cmd.ProcessState.ExitCode()
	switch {
	case s.killRequested:
		s.state = StateKilled
	case result != nil:
		s.state = StateCompleted
		s.result = result
	default:
		s.state = StateFailed
	}
	record := TranscriptRecord{
		Session:   s.name,
		State:     s.state,
		ExitCode:  s.exitCode,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		Lines:     s.transcript.snapshot(),
	}
	s.mu.Unlock()
	s.cancel()
	close(s.done)

	switch record.State {
	case StateCompleted:
		o.logger.Info("session completed", "session", s.name, "exit", record.ExitCode)
	case StateKilled:
		o.logger.Info("session killed", "session", s.name)
	default:
		o.logger.Warn("session failed", "session", s.name, "exit", record.ExitCode, "reason", reason)
	}

	if o.cfg.Archive == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	ref, err := o.cfg.Archive.ArchiveTranscript(archiveCtx, record)
	if err != nil {
		o.logger.Warn("transcript archive failed", "session", s.name, "error", err)
		return
	}
	o.logger.Info("transcript archived", "session", s.name, "ref", ref)
}

// Logs returns the transcript lines at or after fromOffset and the
// offset to resume from. Non-blocking; works for live and finished
// sessions alike.
func (o *Orchestrator) Logs(name string, fromOffset uint64) ([]Line, uint64, error) {
	o.mu.Lock()
	s, ok := o.sessions[name]
	o.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("session: logs %q: %w", name, ErrUnknownSession)
	}
	lines, next := s.transcript.readFrom(fromOffset)
	return lines, next, nil
}

// Terminate ends the named session: SIGTERM to its process group,
// SIGKILL after the grace period, then waits for the session to
// settle as killed. Terminating an unknown or finished session is a
// no-op. Captured logs survive termination.
func (o *Orchestrator) Terminate(name string) error {
	o.mu.Lock()
	s, ok := o.sessions[name]
	o.mu.Unlock()
	if !ok || s.State().Terminal() {
		return nil
	}
	s.kill()
	<-s.done
	return nil
}

// Sessions returns every tracked session, sorted by name.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Boot resets the orchestrator to a clean slate: any session still
// live from a previous incarnation is terminated, and the table is
// cleared. Call once before dispatching work.
func (o *Orchestrator) Boot(ctx context.Context) error {
	killed, err := o.stopAll(ctx)
	if killed > 0 {
		o.logger.Info("stale sessions cleared", "count", killed)
	}
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.sessions = make(map[string]*Session)
	o.mu.Unlock()
	o.logger.Info("orchestrator booted")
	return nil
}

// Teardown terminates every session. The kill signal goes to all live
// sessions before any waiting happens, so even an expired ctx leaves
// every session dying rather than orphaned. The table is kept:
// transcripts stay readable after teardown.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	killed, err := o.stopAll(ctx)
	o.logger.Info("orchestrator torn down", "killed", killed)
	return err
}

// stopAll signals every live session and then waits for each to
// settle, bounded by ctx. Returns how many sessions were signalled.
func (o *Orchestrator) stopAll(ctx context.Context) (int, error) {
	var live []*Session
	for _, s := range o.Sessions() {
		if !s.State().Terminal() {
			live = append(live, s)
		}
	}
	for _, s := range live {
		s.kill()
	}
	for _, s := range live {
		select {
		case <-s.done:
		case <-ctx.Done():
			return len(live), fmt.Errorf("session: stopping %q: %w", s.name, ctx.Err())
		}
	}
	return len(live), nil
}
