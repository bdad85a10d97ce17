// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flotilla-foundation/flotilla/protocol"
)

// memoryQueueDepth bounds each subscription's delivery buffer. A
// subscriber that falls this far behind starts losing messages, which
// is reported per drop.
const memoryQueueDepth = 1024

// MemoryBus is an in-process Bus with the same delivery contract as
// the broker: pattern matching with "*" and ">", queue-group
// competition, sequential per-subscription dispatch, and drop-and-log
// for undecodable frames. Tests and single-node development use it in
// place of a broker.
type MemoryBus struct {
	logger *slog.Logger

	mu       sync.Mutex
	subs     []*memorySubscription
	rotation map[string]int // (pattern, group) -> next member index
	closed   bool

	// pending counts enqueued-but-unhandled deliveries for Flush.
	pending     int
	pendingDone *sync.Cond

	dispatchers sync.WaitGroup
}

var _ Bus = (*MemoryBus)(nil)

// NewMemory returns an empty in-process bus. A nil logger discards.
func NewMemory(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &MemoryBus{
		logger:   logger,
		rotation: map[string]int{},
	}
	b.pendingDone = sync.NewCond(&b.mu)
	return b
}

// Publish encodes and re-decodes the envelope — the same validation
// and data normalization a frame undergoes on the wire — then routes
// it: every matching plain subscription receives it, and each matching
// queue group delivers it to exactly one member, rotating through the
// group.
func (b *MemoryBus) Publish(subject string, envelope protocol.Envelope) error {
	if err := protocol.ValidateSubject(subject); err != nil {
		return err
	}
	raw, err := envelope.Encode()
	if err != nil {
		return err
	}
	decoded, err := protocol.Decode(raw)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus: publish %s: bus closed", subject)
	}

	groups := map[string][]*memorySubscription{}
	for _, sub := range b.subs {
		if !protocol.MatchSubject(sub.pattern, subject) {
			continue
		}
		if sub.group == "" {
			b.enqueueLocked(sub, subject, decoded)
			continue
		}
		key := sub.pattern + "\x00" + sub.group
		groups[key] = append(groups[key], sub)
	}

	for key, members := range groups {
		index := b.rotation[key] % len(members)
		b.rotation[key]++
		b.enqueueLocked(members[index], subject, decoded)
	}
	return nil
}

// enqueueLocked hands a delivery to one subscription's dispatch queue.
// Requires b.mu. A full queue drops the message, matching a slow
// consumer on a real broker.
func (b *MemoryBus) enqueueLocked(sub *memorySubscription, subject string, envelope protocol.Envelope) {
	delivery := &Delivery{Subject: subject, Envelope: envelope}
	select {
	case sub.queue <- delivery:
		b.pending++
	default:
		b.logger.Warn("memory bus: subscriber queue full, dropping message",
			"pattern", sub.pattern,
			"group", sub.group,
			"subject", subject,
		)
	}
}

// Subscribe registers a handler. Dispatch is sequential per
// subscription: the handler runs to completion before the next
// delivery is taken off the queue.
func (b *MemoryBus) Subscribe(pattern, group string, handler Handler) (Subscription, error) {
	if err := protocol.ValidateSubject(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus: subscribe %s: bus closed", pattern)
	}

	sub := &memorySubscription{
		bus:     b,
		pattern: pattern,
		group:   group,
		handler: handler,
		queue:   make(chan *Delivery, memoryQueueDepth),
		stop:    make(chan struct{}),
	}
	b.subs = append(b.subs, sub)

	b.dispatchers.Add(1)
	go sub.dispatch()

	return sub, nil
}

// Flush blocks until every enqueued delivery has been handled, or ctx
// expires.
func (b *MemoryBus) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.pendingDone.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("bus: flush: %w", ctx.Err())
		}
		b.pendingDone.Wait()
	}
	return nil
}

// Close stops accepting publishes, lets queued deliveries drain, and
// waits for dispatchers to exit or ctx to expire.
func (b *MemoryBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.signalStop()
	}

	done := make(chan struct{})
	go func() {
		b.dispatchers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("memory bus: close deadline expired with dispatchers still running")
	}

	b.mu.Lock()
	b.pendingDone.Broadcast()
	b.mu.Unlock()
	return nil
}

type memorySubscription struct {
	bus     *MemoryBus
	pattern string
	group   string
	handler Handler
	queue   chan *Delivery

	stopOnce sync.Once
	stop     chan struct{}
}

func (s *memorySubscription) Pattern() string { return s.pattern }

// Unsubscribe removes the subscription; already-queued deliveries are
// still handled before the dispatcher exits.
func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()

	s.signalStop()
	return nil
}

func (s *memorySubscription) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// dispatch delivers queued messages one at a time until stopped, then
// drains what remains.
func (s *memorySubscription) dispatch() {
	defer s.bus.dispatchers.Done()
	for {
		select {
		case delivery := <-s.queue:
			s.handle(delivery)
		case <-s.stop:
			for {
				select {
				case delivery := <-s.queue:
					s.handle(delivery)
				default:
					return
				}
			}
		}
	}
}

func (s *memorySubscription) handle(delivery *Delivery) {
	s.handler(delivery)
	if !delivery.Acked() {
		s.bus.logger.Warn("handler returned without ack",
			"subject", delivery.Subject,
			"type", delivery.Envelope.Type,
		)
	}

	s.bus.mu.Lock()
	s.bus.pending--
	if s.bus.pending == 0 {
		s.bus.pendingDone.Broadcast()
	}
	s.bus.mu.Unlock()
}
