// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/flotilla-foundation/flotilla/cmd/flotilla/cli"
	"github.com/flotilla-foundation/flotilla/lib/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "manage node configuration files",
		Subcommands: []*cli.Command{
			configInitCommand(),
		},
	}
}

func configInitCommand() *cli.Command {
	var output, root string
	return &cli.Command{
		Name:    "init",
		Summary: "write a commented starting-point flotilla.yaml",
		Usage:   "flotilla config init [flags]",
		Examples: []cli.Example{
			{Description: "print the example configuration", Command: "flotilla config init"},
			{Description: "write it next to the node state", Command: "flotilla config init --root /var/lib/flotilla --output /etc/flotilla/flotilla.yaml"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flagSet.StringVar(&output, "output", "", "write to this path instead of stdout")
			flagSet.StringVar(&root, "root", "/var/lib/flotilla", "state directory referenced by the example")
			return flagSet
		},
		Run: func(args []string) error {
			example := config.ExampleYAML(root)
			if output == "" {
				fmt.Print(example)
				return nil
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s already exists; remove it first", output)
			}
			if err := os.WriteFile(output, []byte(example), 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", output)
			return nil
		},
	}
}
