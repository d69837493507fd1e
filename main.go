// sessionchat - a terminal and HTTP chat client for OpenRouter models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/jeranaias/sessionchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args, err := cli.Parse(os.Args[1:])
	if err == nil {
		err = cli.Run(cmd, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.ErrorStyle.Render("Error:"), err)
		if _, usage := err.(*cli.UsageError); usage {
			fmt.Fprintln(os.Stderr, cli.DimStyle.Render("Run 'sessionchat help' for usage."))
		}
	}
	os.Exit(cli.ExitCode(err))
}
