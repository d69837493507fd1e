// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
)

// Version information, set from main at startup.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdServe
	CmdModels
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdServe:
		return "serve"
	case CmdModels:
		return "models"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Backend    string
	DataDir    string
	LogLevel   string
	Console    bool
	JSON       bool

	// serve
	Addr string

	// models
	Search    string
	Free      bool
	Vision    bool
	Moderated bool
	Cached    bool

	// chat
	NoRefresh bool

	// Raw args (remaining after the command word)
	Raw []string
}

// UsageText is printed by "sessionchat help".
const UsageText = `sessionchat - terminal and HTTP chat client for OpenRouter models

Usage:
  sessionchat [flags]                 Interactive chat (default)
  sessionchat chat [flags]            Interactive chat
  sessionchat serve [--addr ADDR]     HTTP API with websocket events
  sessionchat models [search] [flags] List the model catalog
  sessionchat config [show|path|init] Show or create the config file
  sessionchat version                 Show version information
  sessionchat help                    Show this help

Global flags:
  -c, --config PATH     Config file (default ~/.sessionchat/config.toml)
  --backend NAME        Storage backend: file, sqlite, pebble, redis, memory
  --data-dir DIR        Storage directory
  --log-level LEVEL     debug, info, warn or error
  --debug               Same as --log-level debug
  --console-log         Also write logs to stderr
  --json                JSON output (models, config, version)

models flags:
  --free                Free models only
  --vision              Vision-capable models only
  --moderated           Moderated models only
  --cached              Do not refresh; list the stored catalog

chat flags:
  --no-refresh          Skip the startup catalog refresh

Environment:
  SESSIONCHAT_API_KEY, SESSIONCHAT_MODEL, SESSIONCHAT_HOME and friends
  override config values. A .env file in the working directory is loaded.
`

// boolFlags lists every flag that never takes a value.
var boolFlags = []string{
	"debug", "console-log", "json", "free", "vision", "moderated", "cached",
	"no-refresh", "help", "h", "version", "v",
}

// Parse interprets argv (without the program name).
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		ConfigPath: p.FlagOrDefault("config", p.Flag("c")),
		Backend:    p.Flag("backend"),
		DataDir:    p.Flag("data-dir"),
		LogLevel:   p.Flag("log-level"),
		Console:    p.BoolFlag("console-log"),
		JSON:       p.BoolFlag("json"),
		Addr:       p.Flag("addr"),
		Free:       p.BoolFlag("free"),
		Vision:     p.BoolFlag("vision"),
		Moderated:  p.BoolFlag("moderated"),
		Cached:     p.BoolFlag("cached"),
		NoRefresh:  p.BoolFlag("no-refresh"),
	}
	if p.BoolFlag("debug") {
		args.LogLevel = "debug"
	}

	if p.BoolFlag("help") || p.BoolFlag("h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") || p.BoolFlag("v") {
		return CmdVersion, args, nil
	}

	if p.PositionalCount() == 0 {
		return CmdChat, args, nil
	}
	args.Raw = p.PositionalFrom(1)

	switch strings.ToLower(p.Subcommand()) {
	case "chat":
		return CmdChat, args, nil
	case "serve", "server":
		return CmdServe, args, nil
	case "models", "model":
		args.Search = JoinPositionalArgs(p, 1)
		return CmdModels, args, nil
	case "config":
		return CmdConfig, args, nil
	case "version":
		return CmdVersion, args, nil
	case "help":
		return CmdHelp, args, nil
	default:
		return CmdHelp, args, &UsageError{Message: fmt.Sprintf("unknown command %q", p.Subcommand())}
	}
}

// VersionString formats the build information.
func VersionString() string {
	return fmt.Sprintf("sessionchat %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
