// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flotilla-foundation/flotilla/approval"
	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/lib/clock"
	"github.com/flotilla-foundation/flotilla/lib/identity"
	"github.com/flotilla-foundation/flotilla/lib/secret"
	"github.com/flotilla-foundation/flotilla/protocol"
	"github.com/flotilla-foundation/flotilla/session"
)

// approvalSweepInterval paces the proposal expiry ticker. Reads expire
// lazily too; this only bounds how long an untouched proposal lingers.
const approvalSweepInterval = 30 * time.Second

// decidedRetention is how long decided proposals stay queryable before
// the registry prunes them.
const decidedRetention = 24 * time.Hour

// options carries everything the node is wired from. All handles are
// constructed in main (or the test) and owned by the caller except
// meshToken, which the node closes on stop.
type options struct {
	identity          identity.Identity
	bus               bus.Bus
	store             ledger.Store
	approvals         *approval.Registry
	sessions          *session.Orchestrator
	meshToken         *secret.Buffer
	workerGroup       string
	heartbeatInterval time.Duration
	sweepTimeout      time.Duration
	clock             clock.Clock
	logger            *slog.Logger
}

// heldOutcome is a finished execution parked behind a pending proposal.
// The ledger row stays processing until the proposal settles.
type heldOutcome struct {
	taskID int64
	result protocol.ExecResult
}

// node is the daemon. One per process.
type node struct {
	identity          identity.Identity
	bus               bus.Bus
	store             ledger.Store
	approvals         *approval.Registry
	sessions          *session.Orchestrator
	meshToken         *secret.Buffer
	workerGroup       string
	heartbeatInterval time.Duration
	sweepTimeout      time.Duration
	clock             clock.Clock
	logger            *slog.Logger
	startedAt         time.Time

	mu   sync.Mutex
	held map[string]heldOutcome

	subs      []bus.Subscription
	cancel    context.CancelFunc
	loopsDone sync.WaitGroup
}

func newNode(opts options) (*node, error) {
	if opts.bus == nil {
		return nil, fmt.Errorf("node: options: bus is required")
	}
	if opts.store == nil {
		return nil, fmt.Errorf("node: options: store is required")
	}
	if opts.approvals == nil {
		return nil, fmt.Errorf("node: options: approval registry is required")
	}
	if opts.sessions == nil {
		return nil, fmt.Errorf("node: options: session orchestrator is required")
	}
	if opts.workerGroup == "" {
		return nil, fmt.Errorf("node: options: worker group is required")
	}
	if opts.heartbeatInterval <= 0 {
		opts.heartbeatInterval = 30 * time.Second
	}
	if opts.sweepTimeout <= 0 {
		opts.sweepTimeout = 10 * time.Minute
	}
	if opts.clock == nil {
		opts.clock = clock.Real()
	}
	if opts.logger == nil {
		opts.logger = slog.New(slog.DiscardHandler)
	}
	return &node{
		identity:          opts.identity,
		bus:               opts.bus,
		store:             opts.store,
		approvals:         opts.approvals,
		sessions:          opts.sessions,
		meshToken:         opts.meshToken,
		workerGroup:       opts.workerGroup,
		heartbeatInterval: opts.heartbeatInterval,
		sweepTimeout:      opts.sweepTimeout,
		clock:             opts.clock,
		logger:            opts.logger.With("component", "node", "node", opts.identity.Name),
		held:              make(map[string]heldOutcome),
	}, nil
}

// start clears stale sessions, registers every subscription, and
// launches the periodic loops. ctx bounds the loops and every spawned
// session; stop cancels it.
func (n *node) start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	if err := n.sessions.Boot(ctx); err != nil {
		n.cancel()
		return fmt.Errorf("node: boot: %w", err)
	}

	subscriptions := []struct {
		pattern string
		group   string
		handler bus.Handler
	}{
		{protocol.SubjectTaskNew, n.workerGroup, n.handleIntake(ctx)},
		{protocol.SubjectApprovalDecision, "", n.handleDecision(ctx)},
		{protocol.SubjectCoreRequest, "core", n.handleAdmin(ctx)},
	}
	for _, capability := range n.identity.Capabilities {
		subscriptions = append(subscriptions, struct {
			pattern string
			group   string
			handler bus.Handler
		}{protocol.ExecRequestSubject(capability), n.workerGroup, n.handleExec(ctx)})
	}

	for _, sub := range subscriptions {
		registered, err := n.bus.Subscribe(sub.pattern, sub.group, sub.handler)
		if err != nil {
			n.cancel()
			return fmt.Errorf("node: subscribing %s: %w", sub.pattern, err)
		}
		n.subs = append(n.subs, registered)
	}

	n.startedAt = n.clock.Now().UTC()
	n.loopsDone.Add(2)
	go n.heartbeatLoop(ctx)
	go n.approvalSweepLoop(ctx)

	n.logger.Info("node started",
		"uuid", n.identity.UUID,
		"role", n.identity.Role,
		"capabilities", n.identity.Capabilities,
		"worker_group", n.workerGroup,
	)
	return nil
}

// stop unwinds start: subscriptions first so no new work arrives, then
// the loops, then every live session. stop cancels the start context
// itself, so the loops release even when the caller never does. The
// bus and store are closed by whoever opened them.
func (n *node) stop(ctx context.Context) error {
	for _, sub := range n.subs {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn("unsubscribe failed", "pattern", sub.Pattern(), "error", err)
		}
	}
	if n.cancel != nil {
		n.cancel()
	}
	n.loopsDone.Wait()

	err := n.sessions.Teardown(ctx)
	if n.meshToken != nil {
		if closeErr := n.meshToken.Close(); err == nil {
			err = closeErr
		}
	}
	n.logger.Info("node stopped")
	return err
}

// authorized checks the envelope's mesh token in constant time. Nodes
// without a configured token accept everything (an open mesh).
func (n *node) authorized(envelope protocol.Envelope) bool {
	if n.meshToken == nil {
		return true
	}
	return n.meshToken.Equal([]byte(envelope.AuthToken))
}

// envelope builds an outbound envelope from this node.
func (n *node) envelope(subject string, payload any) (protocol.Envelope, error) {
	data, err := protocol.EncodeData(payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	envelope := protocol.NewEnvelope(n.identity.Name, subject, data)
	// Peers gate on the same token, including traffic this node routes
	// to them.
	if n.meshToken != nil {
		envelope.AuthToken = n.meshToken.String()
	}
	return envelope, nil
}

// publish encodes payload and publishes it, logging failures. Status
// and result events are observability traffic: losing one never
// changes task state.
func (n *node) publish(subject string, payload any) {
	envelope, err := n.envelope(subject, payload)
	if err != nil {
		n.logger.Warn("event encode failed", "subject", subject, "error", err)
		return
	}
	if err := n.bus.Publish(subject, envelope); err != nil {
		n.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

// publishStatus mirrors one ledger transition onto tasks.status.
func (n *node) publishStatus(taskID int64, from, to ledger.Status, reason string) {
	n.publish(protocol.SubjectTaskStatus, protocol.StatusEvent{
		TaskID: taskID,
		From:   string(from),
		To:     string(to),
		Node:   n.identity.Name,
		Reason: reason,
	})
}
