// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flotilla-foundation/flotilla/lib/clock"
)

// ErrUnknownProposal reports an id the registry has never seen (or
// has pruned).
var ErrUnknownProposal = errors.New("unknown proposal")

// ErrAlreadyDecided reports a decision attempt on a proposal that is
// no longer pending. The proposal is unchanged; the error text and
// the returned state name the decision that stuck.
var ErrAlreadyDecided = errors.New("proposal already decided")

// State is a proposal's position in the approval lifecycle.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateExpired
}

// DecidedBySystem is the actor recorded on automatic expiry.
const DecidedBySystem = "system"

// ReasonTimeout is the reason recorded on automatic expiry.
const ReasonTimeout = "approval_timeout"

// minimumTTL floors the configured proposal lifetime; anything
// shorter races the round trip to whoever decides.
const minimumTTL = 30 * time.Second

// Proposal is one gated piece of agent output awaiting a decision.
type Proposal struct {
	// ID is the registry-assigned uuid.
	ID string

	// TaskID links back to the ledger row the output belongs to.
	TaskID int64

	// Agent names the runtime that produced the content.
	Agent string

	// Content is the gated output itself.
	Content string

	// Kind classifies the content (plan, code, notification, text).
	Kind string

	// State is the current lifecycle state.
	State State

	// SubmittedAt and Deadline bound the pending window.
	SubmittedAt time.Time
	Deadline    time.Time

	// DecidedAt, DecidedBy, and Reason describe the terminal
	// transition. Zero/empty while pending. Reason is set only on
	// expiry.
	DecidedAt time.Time
	DecidedBy string
	Reason    string
}

// Submission carries the caller-supplied fields of a new proposal.
type Submission struct {
	TaskID  int64
	Agent   string
	Content string
	Kind    string
}

// Config holds the registry parameters.
type Config struct {
	// TTL is how long a proposal stays pending before automatic
	// expiry. Values below 30s are raised to 30s.
	TTL time.Duration

	// Clock drives deadlines and expiry. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives submit/decide/expire events. Nil discards.
	Logger *slog.Logger
}

// Registry tracks proposals and serializes their transitions. Safe
// for concurrent use.
type Registry struct {
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	proposals map[string]*Proposal
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.TTL < minimumTTL {
		cfg.TTL = minimumTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		ttl:       cfg.TTL,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "approval"),
		proposals: make(map[string]*Proposal),
	}
}

// Submit registers new agent output for gating and returns the stored
// proposal: state pending, deadline now + TTL.
func (r *Registry) Submit(submission Submission) Proposal {
	now := r.clock.Now().UTC()
	proposal := &Proposal{
		ID:          uuid.NewString(),
		TaskID:      submission.TaskID,
		Agent:       submission.Agent,
		Content:     submission.Content,
		Kind:        submission.Kind,
		State:       StatePending,
		SubmittedAt: now,
		Deadline:    now.Add(r.ttl),
	}

	r.mu.Lock()
	r.proposals[proposal.ID] = proposal
	r.mu.Unlock()

	r.logger.Info("proposal submitted",
		"proposal_id", proposal.ID,
		"task_id", proposal.TaskID,
		"agent", proposal.Agent,
		"kind", proposal.Kind,
		"deadline", proposal.Deadline,
	)
	return *proposal
}

// Decide moves a pending proposal to approved or rejected and returns
// the resulting state. If the proposal is already terminal (including
// just-lapsed deadlines, which expire first), the existing state is
// returned with ErrAlreadyDecided and nothing changes.
func (r *Registry) Decide(id string, approve bool, decidedBy string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proposal, ok := r.proposals[id]
	if !ok {
		return "", fmt.Errorf("approval: decide %s: %w", id, ErrUnknownProposal)
	}

	now := r.clock.Now().UTC()
	r.expireLocked(proposal, now)
	if proposal.State != StatePending {
		return proposal.State, fmt.Errorf("approval: decide %s: state is %s: %w", id, proposal.State, ErrAlreadyDecided)
	}

	if approve {
		proposal.State = StateApproved
	} else {
		proposal.State = StateRejected
	}
	proposal.DecidedAt = now
	proposal.DecidedBy = decidedBy

	r.logger.Info("proposal decided",
		"proposal_id", id,
		"task_id", proposal.TaskID,
		"state", proposal.State,
		"decided_by", decidedBy,
	)
	return proposal.State, nil
}

// Expire forces one pending proposal to expired regardless of its
// deadline. Reports whether the call made the transition; false with
// nil error means the proposal was already terminal.
func (r *Registry) Expire(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proposal, ok := r.proposals[id]
	if !ok {
		return false, fmt.Errorf("approval: expire %s: %w", id, ErrUnknownProposal)
	}
	if proposal.State != StatePending {
		return false, nil
	}

	r.retireLocked(proposal, r.clock.Now().UTC())
	return true, nil
}

// ExpireOverdue retires every pending proposal whose deadline has
// passed and returns how many it retired. The node runs this on a
// ticker; reads also expire lazily, so the sweep only bounds how long
// an untouched overdue proposal lingers.
func (r *Registry) ExpireOverdue() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	expired := 0
	for _, proposal := range r.proposals {
		if proposal.State == StatePending && now.After(proposal.Deadline) {
			r.retireLocked(proposal, now)
			expired++
		}
	}
	return expired
}

// Get returns a snapshot of one proposal, expiring it first if its
// deadline has lapsed.
func (r *Registry) Get(id string) (Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proposal, ok := r.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("approval: get %s: %w", id, ErrUnknownProposal)
	}
	r.expireLocked(proposal, r.clock.Now().UTC())
	return *proposal, nil
}

// Pending returns snapshots of all pending proposals, oldest first.
func (r *Registry) Pending() []Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	var pending []Proposal
	for _, proposal := range r.proposals {
		r.expireLocked(proposal, now)
		if proposal.State == StatePending {
			pending = append(pending, *proposal)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].SubmittedAt.Before(pending[j].SubmittedAt)
	})
	return pending
}

// Prune drops terminal proposals decided more than retention ago and
// returns how many were dropped. Pending proposals are never pruned.
func (r *Registry) Prune(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().UTC().Add(-retention)
	pruned := 0
	for id, proposal := range r.proposals {
		if proposal.State.Terminal() && proposal.DecidedAt.Before(cutoff) {
			delete(r.proposals, id)
			pruned++
		}
	}
	if pruned > 0 {
		r.logger.Debug("decided proposals pruned", "count", pruned, "retention", retention)
	}
	return pruned
}

// expireLocked retires the proposal if it is pending past its
// deadline. Requires r.mu.
func (r *Registry) expireLocked(proposal *Proposal, now time.Time) {
	if proposal.State == StatePending && now.After(proposal.Deadline) {
		r.retireLocked(proposal, now)
	}
}

// retireLocked performs the pending→expired transition bookkeeping.
// Requires r.mu and a pending proposal.
func (r *Registry) retireLocked(proposal *Proposal, now time.Time) {
	proposal.State = StateExpired
	proposal.DecidedAt = now
	proposal.DecidedBy = DecidedBySystem
	proposal.Reason = ReasonTimeout

	r.logger.Info("proposal expired",
		"proposal_id", proposal.ID,
		"task_id", proposal.TaskID,
		"deadline", proposal.Deadline,
	)
}
