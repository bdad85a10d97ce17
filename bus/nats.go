// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flotilla-foundation/flotilla/lib/clock"
	"github.com/flotilla-foundation/flotilla/lib/redact"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// Config holds the options for a broker connection. URL is required;
// everything else has a production default.
type Config struct {
	// URL is the broker address, nats://host:port form. Credentials
	// may be embedded; they are scrubbed from every log line and
	// error this package produces.
	URL string

	// Name identifies this connection to the broker, conventionally
	// the node name. Shows up in broker monitoring.
	Name string

	// Token authenticates to the broker. Empty means anonymous.
	Token string

	// ConnectAttempts bounds the initial dial loop. After the
	// connection is established, reconnects are unbounded and
	// handled by the client library. Default 10.
	ConnectAttempts int

	// DialTimeout bounds each individual dial. Default 5s.
	DialTimeout time.Duration

	// Logger receives connection lifecycle events. Default discards.
	Logger *slog.Logger

	// Clock drives the backoff between dial attempts. Default Real.
	Clock clock.Clock
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ConnectAttempts <= 0 {
		out.ConnectAttempts = 10
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 5 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.DiscardHandler)
	}
	if out.Clock == nil {
		out.Clock = clock.Real()
	}
	return out
}

// NATSBus is the production Bus over a NATS connection. One per node
// process; constructed by Connect and passed by reference to every
// component that publishes or subscribes.
type NATSBus struct {
	conn   *nats.Conn
	logger *slog.Logger

	closedOnce sync.Once
	closed     chan struct{}
}

var _ Bus = (*NATSBus)(nil)

// Connect dials the broker with bounded exponential backoff: 1s, 2s,
// 4s... capped at 30s between attempts. Every dial failure is retried
// until the attempt budget is spent; the final error wraps
// ErrUnavailable and is fatal to the caller by contract.
func Connect(ctx context.Context, cfg Config) (*NATSBus, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("bus: config: URL is required")
	}

	bus := &NATSBus{
		logger: cfg.Logger,
		closed: make(chan struct{}),
	}

	options := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.DialTimeout),
		// After the initial connect, ride out broker restarts
		// indefinitely; the sweep reclaims any work lost meanwhile.
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			bus.logger.Info("bus reconnected", "url", redact.URL(conn.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			bus.closedOnce.Do(func() { close(bus.closed) })
		}),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		if attempt > 1 {
			backoff := min(time.Duration(1<<(attempt-2))*time.Second, 30*time.Second)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("bus: connect canceled: %w", ctx.Err())
			case <-cfg.Clock.After(backoff):
			}
		}

		conn, err := nats.Connect(cfg.URL, options...)
		if err == nil {
			bus.conn = conn
			bus.logger.Info("bus connected",
				"url", redact.URL(cfg.URL),
				"attempt", attempt,
			)
			return bus, nil
		}
		lastErr = err

		bus.logger.Warn("bus connect failed, retrying",
			"url", redact.URL(cfg.URL),
			"attempt", attempt,
			"attempts", cfg.ConnectAttempts,
			"error", err,
		)
	}

	return nil, unavailable(cfg.URL, cfg.ConnectAttempts, lastErr)
}

// Publish encodes the envelope and hands it to the broker. Encoding
// failures surface locally; broker buffering makes the send itself
// fire-and-forget.
func (b *NATSBus) Publish(subject string, envelope protocol.Envelope) error {
	raw, err := envelope.Encode()
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subject, raw); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for pattern. With a non-empty group the
// subscription joins a queue group and competes for messages. The
// client library dispatches callbacks for one subscription from a
// single goroutine, which provides the sequential-delivery contract.
func (b *NATSBus) Subscribe(pattern, group string, handler Handler) (Subscription, error) {
	if err := protocol.ValidateSubject(pattern); err != nil {
		return nil, err
	}

	callback := func(msg *nats.Msg) {
		envelope, err := protocol.Decode(msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable frame",
				"subject", msg.Subject,
				"bytes", len(msg.Data),
				"error", err,
			)
			return
		}
		delivery := &Delivery{Subject: msg.Subject, Envelope: envelope}
		handler(delivery)
		if !delivery.Acked() {
			b.logger.Warn("handler returned without ack",
				"subject", msg.Subject,
				"type", envelope.Type,
			)
		}
	}

	var sub *nats.Subscription
	var err error
	if group == "" {
		sub, err = b.conn.Subscribe(pattern, callback)
	} else {
		sub, err = b.conn.QueueSubscribe(pattern, group, callback)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", pattern, err)
	}
	return &natsSubscription{sub: sub, pattern: pattern}, nil
}

// Flush blocks until everything published so far reached the broker.
func (b *NATSBus) Flush(ctx context.Context) error {
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("bus: flush: %w", err)
	}
	return nil
}

// Close performs a scoped drain: outstanding publishes are flushed and
// in-flight handlers finish before the connection closes. Problems
// during the drain are logged and the connection is closed hard; Close
// itself only fails if ctx is already spent on entry.
func (b *NATSBus) Close(ctx context.Context) error {
	if b.conn.IsClosed() {
		return nil
	}

	if err := b.conn.FlushWithContext(ctx); err != nil {
		b.logger.Warn("flush during drain failed", "error", err)
	}

	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("drain failed, closing connection hard", "error", err)
		b.conn.Close()
		return nil
	}

	select {
	case <-b.closed:
	case <-ctx.Done():
		b.logger.Warn("drain deadline expired, closing connection hard")
		b.conn.Close()
	}
	return nil
}

type natsSubscription struct {
	sub     *nats.Subscription
	pattern string
}

func (s *natsSubscription) Pattern() string { return s.pattern }

func (s *natsSubscription) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("bus: unsubscribe %s: %w", s.pattern, err)
	}
	return nil
}
