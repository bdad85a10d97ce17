// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"sync"

	"github.com/flotilla-foundation/flotilla/protocol"
)

// Bus is the messaging surface components program against. Both the
// NATS-backed and the in-memory implementation satisfy it.
type Bus interface {
	// Publish sends an envelope on a subject, fire-and-forget. The
	// envelope is validated and encoded before it leaves the node;
	// a malformed envelope fails locally and nothing is sent.
	Publish(subject string, envelope protocol.Envelope) error

	// Subscribe registers a handler for every subject matching
	// pattern. A non-empty group joins the named worker group:
	// exactly one member of the group receives each message.
	// Deliveries to one subscription are dispatched sequentially.
	Subscribe(pattern, group string, handler Handler) (Subscription, error)

	// Flush blocks until frames published so far have been handed to
	// the broker, or ctx expires.
	Flush(ctx context.Context) error

	// Close drains outstanding work and releases the connection.
	// Drain failures are logged, not returned as hard errors; the
	// returned error reports only a failure to close at all.
	Close(ctx context.Context) error
}

// Handler consumes one delivery. It must call Ack after the message
// has been durably processed. Handlers needing cancellation capture a
// context at subscription time.
type Handler func(delivery *Delivery)

// Subscription is a live handler registration.
type Subscription interface {
	// Pattern returns the subject pattern this subscription matches.
	Pattern() string

	// Unsubscribe stops delivery. Idempotent.
	Unsubscribe() error
}

// Delivery is one message handed to a handler.
type Delivery struct {
	// Subject is the concrete subject the message arrived on.
	Subject string

	// Envelope is the decoded wire unit.
	Envelope protocol.Envelope

	ackOnce sync.Once
	acked   bool
	ackMu   sync.Mutex
}

// Ack marks the delivery durably processed. Idempotent; a second call
// is a no-op.
func (d *Delivery) Ack() {
	d.ackOnce.Do(func() {
		d.ackMu.Lock()
		d.acked = true
		d.ackMu.Unlock()
	})
}

// Acked reports whether Ack was called.
func (d *Delivery) Acked() bool {
	d.ackMu.Lock()
	defer d.ackMu.Unlock()
	return d.acked
}
