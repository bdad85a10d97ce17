// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Command flotilla is the fleet operator CLI. It talks to the worker
// nodes over the message bus: task submission and inspection, approval
// sign-off, manual sweeps, and session transcripts.
package main

import (
	"fmt"
	"os"

	"github.com/flotilla-foundation/flotilla/cmd/flotilla/cli"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired code. No redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCommand().Execute(os.Args[1:])
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:    "flotilla",
		Summary: "operate an agent fleet over the message bus",
		Description: "flotilla submits directives to the fleet, inspects the task ledger,\n" +
			"signs off gated outputs, and pulls session transcripts. All commands\n" +
			"talk to the worker nodes over the bus; point --config (or\n" +
			"$FLOTILLA_CONFIG) at the same flotilla.yaml the nodes use.",
		Subcommands: []*cli.Command{
			taskCommand(),
			approvalCommand(),
			sweepCommand(),
			logsCommand(),
			configCommand(),
		},
	}
}
