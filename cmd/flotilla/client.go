// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/cmd/flotilla/cli"
	"github.com/flotilla-foundation/flotilla/lib/config"
	"github.com/flotilla-foundation/flotilla/lib/secret"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// replyTimeout bounds the wait for a node to answer an admin request.
// Covers one request/reply over a local or LAN bus with headroom.
const replyTimeout = 10 * time.Second

// client is one CLI invocation's connection to the fleet.
type client struct {
	bus    bus.Bus
	token  *secret.Buffer
	sender string
}

// loadConfig resolves the CLI's configuration: an explicit --config
// path wins, then $FLOTILLA_CONFIG, then built-in defaults (local bus,
// local ledger).
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvVar) != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// dial connects to the bus named by the configuration. The caller must
// call close.
func dial(ctx context.Context, configPath string) (*client, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	token, err := cfg.MeshToken()
	if err != nil {
		return nil, err
	}

	sender := "flotilla-cli-" + randomSuffix()
	busCfg := bus.Config{URL: cfg.Bus.URL, Name: sender, Logger: cli.NewCommandLogger()}
	if token != nil {
		busCfg.Token = token.String()
	}
	mesh, err := bus.Connect(ctx, busCfg)
	if err != nil {
		if token != nil {
			token.Close()
		}
		return nil, err
	}

	return &client{bus: mesh, token: token, sender: sender}, nil
}

func (c *client) close() {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	_ = c.bus.Close(ctx)
	if c.token != nil {
		c.token.Close()
	}
}

// ask publishes one admin request on core.request and waits for the
// answering node's reply on a private subject.
func (c *client) ask(ctx context.Context, request protocol.AdminRequest) (protocol.AdminReply, error) {
	request.ReplyTo = "core.reply." + randomSuffix()

	replies := make(chan protocol.AdminReply, 1)
	sub, err := c.bus.Subscribe(request.ReplyTo, "", func(delivery *bus.Delivery) {
		var reply protocol.AdminReply
		if err := protocol.DecodeData(delivery.Envelope.Data, &reply); err == nil {
			select {
			case replies <- reply:
			default:
			}
		}
		delivery.Ack()
	})
	if err != nil {
		return protocol.AdminReply{}, err
	}
	defer sub.Unsubscribe()

	if err := c.publish(protocol.SubjectCoreRequest, request); err != nil {
		return protocol.AdminReply{}, err
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		if !reply.OK {
			return reply, errors.New(reply.Error)
		}
		return reply, nil
	case <-timer.C:
		return protocol.AdminReply{}, fmt.Errorf("no node answered within %s; is the fleet running?", replyTimeout)
	case <-ctx.Done():
		return protocol.AdminReply{}, ctx.Err()
	}
}

// publish wraps a payload in an envelope from this CLI invocation,
// attaching the mesh token when one is configured.
func (c *client) publish(subject string, payload any) error {
	data, err := protocol.EncodeData(payload)
	if err != nil {
		return err
	}
	envelope := protocol.NewEnvelope(c.sender, subject, data)
	if c.token != nil {
		envelope.AuthToken = c.token.String()
	}
	return c.bus.Publish(subject, envelope)
}

func randomSuffix() string {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// Entropy exhaustion is not survivable in any useful way.
		panic(err)
	}
	return hex.EncodeToString(raw[:])
}

// printJSON renders any reply fragment as indented JSON on w.
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
