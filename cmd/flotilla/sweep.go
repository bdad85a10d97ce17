// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/flotilla-foundation/flotilla/cmd/flotilla/cli"
	"github.com/flotilla-foundation/flotilla/protocol"
)

func sweepCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "sweep",
		Summary: "requeue tasks stuck in processing",
		Usage:   "flotilla sweep [flags]",
		Description: "sweep asks a node to return tasks that have sat in processing\n" +
			"past the configured timeout to the pending queue. The periodic\n" +
			"sweeper does this automatically; the command forces a pass now.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to flotilla.yaml")
			return flagSet
		},
		Run: func(args []string) error {
			ctx := context.Background()
			c, err := dial(ctx, configPath)
			if err != nil {
				return err
			}
			defer c.close()

			reply, err := c.ask(ctx, protocol.AdminRequest{Op: protocol.AdminOpSweep})
			if err != nil {
				return err
			}
			if reply.Requeued == 0 {
				fmt.Println("nothing to requeue")
				return nil
			}
			fmt.Printf("requeued %d task(s)\n", reply.Requeued)
			return nil
		},
	}
}
