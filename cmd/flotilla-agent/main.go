// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flotilla-foundation/flotilla/agent"
	"github.com/flotilla-foundation/flotilla/protocol"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Getenv))
}

// run is main with its edges injected so tests can drive it.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	logger := slog.New(slog.NewJSONHandler(stderr, nil)).With("component", "flotilla-agent")

	raw, err := io.ReadAll(stdin)
	if err != nil {
		logger.Error("reading directive", "error", err)
		return 1
	}
	envelope, err := protocol.Decode(raw)
	if err != nil {
		logger.Error("directive is not a valid envelope", "error", err)
		return 1
	}

	var request protocol.ExecRequest
	if err := protocol.DecodeData(envelope.Data, &request); err != nil {
		logger.Error("directive payload is not an exec request", "error", err)
		return 1
	}
	if request.Instruction == "" {
		logger.Error("directive has no instruction", "task_id", request.TaskID)
		return 1
	}

	runtime, err := buildRuntime(request.Capability, agent.Config{
		Logger:     logger,
		WebhookURL: getenv("FLOTILLA_WEBHOOK_URL"),
	})
	if err != nil {
		logger.Error("no runtime for directive", "capability", request.Capability, "error", err)
		return 1
	}

	logger.Info("processing directive",
		"task_id", request.TaskID,
		"agent", runtime.Name(),
		"capability", request.Capability,
		"source", request.Source,
	)

	result, err := runtime.Process(ctx, agent.Directive{
		TaskID:      request.TaskID,
		Source:      request.Source,
		Instruction: request.Instruction,
	})
	if err != nil {
		logger.Error("directive failed", "task_id", request.TaskID, "agent", runtime.Name(), "error", err)
		return 1
	}

	out := protocol.NewEnvelope(runtime.Name(), protocol.SubjectTaskResult, nil)
	out.Data, err = protocol.EncodeData(protocol.ExecResult{
		TaskID:           request.TaskID,
		Agent:            runtime.Name(),
		Status:           "completed",
		Kind:             result.Kind,
		Content:          result.Content,
		RequiresApproval: result.RequiresApproval,
	})
	if err != nil {
		logger.Error("encoding result", "task_id", request.TaskID, "error", err)
		return 1
	}
	encoded, err := out.Encode()
	if err != nil {
		logger.Error("encoding result envelope", "task_id", request.TaskID, "error", err)
		return 1
	}
	if _, err := fmt.Fprintln(stdout, string(encoded)); err != nil {
		logger.Error("writing result", "task_id", request.TaskID, "error", err)
		return 1
	}

	logger.Info("directive completed", "task_id", request.TaskID, "agent", runtime.Name(), "kind", result.Kind)
	return 0
}

// buildRuntime picks the builtin runtime serving the capability. With
// several registered under one capability the first by name wins.
func buildRuntime(capability string, cfg agent.Config) (agent.Runtime, error) {
	runtimes, err := agent.Builtin().BuildCapabilities([]string{capability}, cfg)
	if err != nil {
		return nil, err
	}
	if len(runtimes) == 0 {
		return nil, fmt.Errorf("capability %q has no registered runtime", capability)
	}
	return runtimes[0], nil
}
