// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the interactive chat REPL
// for sessionchat.
//
// # Key Types
//
//   - Command: Enumeration of the top-level commands
//   - Args: Parsed command-line arguments
//   - REPL: The interactive loop over an app.App
//   - Renderer: lipgloss and glamour output for messages, lists and tables
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err == nil {
//	    err = cli.Run(cmd, args)
//	}
//	os.Exit(cli.ExitCode(err))
//
// # Commands Overview
//
//   - chat (default): interactive REPL with slash commands (/help lists them)
//   - serve: HTTP API and websocket events
//   - models: print the model catalog, optionally filtered
//   - version, help
//
// Failed replies are shown inline with a /retry hint; they never abort the
// REPL. Only usage, config and storage problems map to non-zero exit codes
// (see ExitCode).
package cli
