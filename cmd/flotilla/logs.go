// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/flotilla-foundation/flotilla/cmd/flotilla/cli"
	"github.com/flotilla-foundation/flotilla/protocol"
)

func logsCommand() *cli.Command {
	var configPath string
	var fromOffset uint64
	var jsonOut bool
	return &cli.Command{
		Name:    "logs",
		Summary: "print a session's captured transcript",
		Usage:   "flotilla logs [flags] <session>",
		Description: "logs prints the stderr transcript a node captured for one agent\n" +
			"session. Sessions are named task-<id>. The transcript is a bounded\n" +
			"ring: offsets identify lines and stay valid as old lines fall off.",
		Examples: []cli.Example{
			{Description: "transcript for task 42's session", Command: "flotilla logs task-42"},
			{Description: "resume from a prior read", Command: "flotilla logs task-42 --from 120"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to flotilla.yaml")
			flagSet.Uint64Var(&fromOffset, "from", 0, "first line offset to print")
			flagSet.BoolVar(&jsonOut, "json", false, "print lines as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one session name is required")
			}

			ctx := context.Background()
			c, err := dial(ctx, configPath)
			if err != nil {
				return err
			}
			defer c.close()

			reply, err := c.ask(ctx, protocol.AdminRequest{
				Op:         protocol.AdminOpSessionLogs,
				Session:    args[0],
				FromOffset: fromOffset,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, reply)
			}
			for _, line := range reply.Lines {
				fmt.Printf("%6d  %s\n", line.Offset, line.Text)
			}
			return nil
		},
	}
}
