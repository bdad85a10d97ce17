// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/flotilla-foundation/flotilla/cmd/flotilla/cli"
	"github.com/flotilla-foundation/flotilla/ledger"
	"github.com/flotilla-foundation/flotilla/protocol"
)

func taskCommand() *cli.Command {
	return &cli.Command{
		Name:    "task",
		Summary: "submit and inspect fleet tasks",
		Subcommands: []*cli.Command{
			taskSubmitCommand(),
			taskShowCommand(),
			taskListCommand(),
		},
	}
}

func taskSubmitCommand() *cli.Command {
	var configPath, source string
	var jsonOut bool
	return &cli.Command{
		Name:    "submit",
		Summary: "submit a directive to the fleet",
		Usage:   "flotilla task submit [flags] <instruction>",
		Examples: []cli.Example{
			{Description: "queue a research directive", Command: `flotilla task submit "research caching strategies for the ingest path"`},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("submit", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to flotilla.yaml")
			flagSet.StringVar(&source, "source", "cli", "origin recorded on the task")
			flagSet.BoolVar(&jsonOut, "json", false, "print the created task as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			instruction := strings.TrimSpace(strings.Join(args, " "))
			if instruction == "" {
				return fmt.Errorf("instruction is required")
			}

			ctx := context.Background()
			c, err := dial(ctx, configPath)
			if err != nil {
				return err
			}
			defer c.close()

			reply, err := c.ask(ctx, protocol.AdminRequest{
				Op:          protocol.AdminOpTaskSubmit,
				Source:      source,
				Instruction: instruction,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, reply.Task)
			}
			fmt.Printf("task %d submitted (%s)\n", reply.Task.ID, reply.Task.Status)
			return nil
		},
	}
}

func taskShowCommand() *cli.Command {
	var configPath string
	var jsonOut bool
	return &cli.Command{
		Name:    "show",
		Summary: "show one task's full record",
		Usage:   "flotilla task show [flags] <task-id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to flotilla.yaml")
			flagSet.BoolVar(&jsonOut, "json", false, "print the task as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one task id is required")
			}
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("task id %q is not a number", args[0])
			}

			ctx := context.Background()
			c, err := dial(ctx, configPath)
			if err != nil {
				return err
			}
			defer c.close()

			reply, err := c.ask(ctx, protocol.AdminRequest{Op: protocol.AdminOpTaskShow, TaskID: taskID})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, reply.Task)
			}
			printTask(*reply.Task)
			if reply.Task.Status == string(ledger.StatusFailed) {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func taskListCommand() *cli.Command {
	var configPath, status string
	var limit int
	var jsonOut bool
	return &cli.Command{
		Name:    "list",
		Summary: "list tasks, newest first",
		Usage:   "flotilla task list [flags]",
		Examples: []cli.Example{
			{Description: "show work still in flight", Command: "flotilla task list --status processing"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to flotilla.yaml")
			flagSet.StringVar(&status, "status", "", "filter: pending, processing, completed, or failed")
			flagSet.IntVar(&limit, "limit", 50, "maximum rows")
			flagSet.BoolVar(&jsonOut, "json", false, "print tasks as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			ctx := context.Background()
			c, err := dial(ctx, configPath)
			if err != nil {
				return err
			}
			defer c.close()

			reply, err := c.ask(ctx, protocol.AdminRequest{
				Op:     protocol.AdminOpTaskList,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, reply.Tasks)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSOURCE\tUPDATED\tINSTRUCTION")
			for _, task := range reply.Tasks {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					task.ID, task.Status, task.Source, task.UpdatedAt, truncate(task.Payload, 60))
			}
			return tw.Flush()
		},
	}
}

func printTask(task protocol.TaskView) {
	fmt.Printf("task %d\n", task.ID)
	fmt.Printf("  status:  %s\n", task.Status)
	fmt.Printf("  source:  %s\n", task.Source)
	fmt.Printf("  created: %s\n", task.CreatedAt)
	fmt.Printf("  updated: %s\n", task.UpdatedAt)
	fmt.Printf("  instruction: %s\n", task.Payload)
	if task.Result != "" {
		fmt.Printf("  result:\n")
		for _, line := range strings.Split(task.Result, "\n") {
			fmt.Printf("    %s\n", line)
		}
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
