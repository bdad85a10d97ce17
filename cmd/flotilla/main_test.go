// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/flotilla-foundation/flotilla/bus"
	"github.com/flotilla-foundation/flotilla/lib/config"
	"github.com/flotilla-foundation/flotilla/protocol"
)

func TestRootCommandTree(t *testing.T) {
	root := rootCommand()
	want := []string{"task", "approval", "sweep", "logs", "config"}
	if len(root.Subcommands) != len(want) {
		t.Fatalf("root has %d subcommands, want %d", len(root.Subcommands), len(want))
	}
	for i, name := range want {
		if root.Subcommands[i].Name != name {
			t.Errorf("subcommand[%d] = %q, want %q", i, root.Subcommands[i].Name, name)
		}
	}
}

func TestAskRoundTrip(t *testing.T) {
	memBus := bus.NewMemory(nil)
	t.Cleanup(func() { memBus.Close(context.Background()) })

	// Stand-in for a node answering on core.request.
	_, err := memBus.Subscribe(protocol.SubjectCoreRequest, "core", func(delivery *bus.Delivery) {
		var request protocol.AdminRequest
		if err := protocol.DecodeData(delivery.Envelope.Data, &request); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		data, err := protocol.EncodeData(protocol.AdminReply{OK: true, Requeued: 2})
		if err != nil {
			t.Errorf("encoding reply: %v", err)
			return
		}
		envelope := protocol.NewEnvelope("node", request.ReplyTo, data)
		if err := memBus.Publish(request.ReplyTo, envelope); err != nil {
			t.Errorf("publishing reply: %v", err)
		}
		delivery.Ack()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	c := &client{bus: memBus, sender: "flotilla-cli-test"}
	reply, err := c.ask(context.Background(), protocol.AdminRequest{Op: protocol.AdminOpSweep})
	if err != nil {
		t.Fatalf("ask() error = %v", err)
	}
	if !reply.OK || reply.Requeued != 2 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestAskSurfacesNodeError(t *testing.T) {
	memBus := bus.NewMemory(nil)
	t.Cleanup(func() { memBus.Close(context.Background()) })

	_, err := memBus.Subscribe(protocol.SubjectCoreRequest, "core", func(delivery *bus.Delivery) {
		var request protocol.AdminRequest
		if err := protocol.DecodeData(delivery.Envelope.Data, &request); err != nil {
			return
		}
		data, _ := protocol.EncodeData(protocol.AdminReply{Error: "task not found"})
		envelope := protocol.NewEnvelope("node", request.ReplyTo, data)
		_ = memBus.Publish(request.ReplyTo, envelope)
		delivery.Ack()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	c := &client{bus: memBus, sender: "flotilla-cli-test"}
	_, err = c.ask(context.Background(), protocol.AdminRequest{Op: protocol.AdminOpTaskShow, TaskID: 404})
	if err == nil || !strings.Contains(err.Error(), "task not found") {
		t.Errorf("ask() error = %v, want the node's error", err)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	os.Unsetenv(config.EnvVar)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Bus.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Bus.URL = %q, want the default", cfg.Bus.URL)
	}
}

func TestLoadConfigExplicitPathWins(t *testing.T) {
	path := t.TempDir() + "/flotilla.yaml"
	if err := os.WriteFile(path, []byte("bus:\n  url: nats://fleet:4222\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv(config.EnvVar, "/nonexistent/other.yaml")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Bus.URL != "nats://fleet:4222" {
		t.Errorf("Bus.URL = %q", cfg.Bus.URL)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("line one\nline two", 100); strings.Contains(got, "\n") {
		t.Errorf("truncate kept a newline: %q", got)
	}
	long := strings.Repeat("x", 80)
	if got := truncate(long, 10); len(got) > 12 {
		t.Errorf("truncate(long, 10) = %q (len %d)", got, len(got))
	}
}
