// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/flotilla-foundation/flotilla/cmd/flotilla/cli"
	"github.com/flotilla-foundation/flotilla/protocol"
)

func approvalCommand() *cli.Command {
	return &cli.Command{
		Name:    "approval",
		Summary: "review and sign off gated outputs",
		Subcommands: []*cli.Command{
			approvalListCommand(),
			approvalDecideCommand("approve", true),
			approvalDecideCommand("reject", false),
		},
	}
}

func approvalListCommand() *cli.Command {
	var configPath string
	var jsonOut bool
	return &cli.Command{
		Name:    "list",
		Summary: "list proposals awaiting sign-off",
		Usage:   "flotilla approval list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to flotilla.yaml")
			flagSet.BoolVar(&jsonOut, "json", false, "print proposals as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			ctx := context.Background()
			c, err := dial(ctx, configPath)
			if err != nil {
				return err
			}
			defer c.close()

			reply, err := c.ask(ctx, protocol.AdminRequest{Op: protocol.AdminOpApprovalList})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, reply.Proposals)
			}
			if len(reply.Proposals) == 0 {
				fmt.Println("no proposals pending")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "PROPOSAL\tTASK\tAGENT\tKIND\tDEADLINE\tCONTENT")
			for _, proposal := range reply.Proposals {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
					proposal.ID, proposal.TaskID, proposal.Agent, proposal.Kind,
					proposal.Deadline, truncate(proposal.Content, 50))
			}
			return tw.Flush()
		},
	}
}

// approvalDecideCommand builds "approve" and "reject"; the two differ
// only in the verdict they broadcast.
func approvalDecideCommand(name string, approve bool) *cli.Command {
	var configPath, decidedBy string
	return &cli.Command{
		Name:    name,
		Summary: name + " a pending proposal",
		Usage:   fmt.Sprintf("flotilla approval %s [flags] <proposal-id>", name),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to flotilla.yaml")
			flagSet.StringVar(&decidedBy, "by", "", "actor recorded on the decision (default: current user)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one proposal id is required")
			}
			if decidedBy == "" {
				decidedBy = currentUser()
			}

			ctx := context.Background()
			c, err := dial(ctx, configPath)
			if err != nil {
				return err
			}
			defer c.close()

			// Decisions are broadcast: every node sees them, and the
			// one holding the outcome settles it.
			err = c.publish(protocol.SubjectApprovalDecision, protocol.ApprovalDecision{
				ProposalID: args[0],
				Approve:    approve,
				DecidedBy:  decidedBy,
			})
			if err != nil {
				return err
			}
			if err := c.bus.Flush(ctx); err != nil {
				return err
			}
			fmt.Printf("decision published: %s %s by %s\n", args[0], pastTense(name), decidedBy)
			return nil
		},
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}

func pastTense(name string) string {
	if name == "approve" {
		return "approved"
	}
	return "rejected"
}
