// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jeranaias/sessionchat/internal/config"
	"github.com/jeranaias/sessionchat/internal/util"
)

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command: show, path and init.
func HandleConfig(args Args, out io.Writer) error {
	sub := ""
	if len(args.Raw) > 0 {
		sub = args.Raw[0]
	}
	switch sub {
	case "", "show":
		cfg, _, err := loadConfig(args)
		if err != nil {
			return err
		}
		if args.JSON {
			fmt.Fprintln(out, cfg.String())
			return nil
		}
		return configShow(cfg, out)

	case "path":
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		_, statErr := os.Stat(path)
		if args.JSON {
			return json.NewEncoder(out).Encode(map[string]interface{}{
				"path":   path,
				"exists": statErr == nil,
			})
		}
		fmt.Fprintln(out, path)
		return nil

	case "init":
		return configInit(args, out)

	default:
		return &UsageError{Message: fmt.Sprintf("unknown config subcommand %q (show, path, init)", sub)}
	}
}

func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

// configInit writes a default config file. An existing file is kept.
func configInit(args Args, out io.Writer) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return &CommandError{Command: "config", Action: "init", Err: fmt.Errorf("%s already exists", path)}
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return &CommandError{Command: "config", Action: "init", Err: err}
	}
	fmt.Fprintln(out, SuccessStyle.Render("Wrote "+path))
	return nil
}

// configShow prints the effective configuration with secrets masked.
func configShow(cfg *config.Config, out io.Writer) error {
	section := func(name string) {
		fmt.Fprintln(out, TitleStyle.Render("["+name+"]"))
	}
	field := func(key, value string) {
		fmt.Fprintf(out, "  %s %s\n", LabelStyle.Render(util.PadWidth(key+":", 22)), ValueStyle.Render(value))
	}
	secret := func(v string) string {
		if v == "" {
			return "(not set)"
		}
		return util.MaskSecret(v)
	}

	section("cloud")
	field("base_url", cfg.Cloud.BaseURL)
	field("api_key", secret(cfg.Cloud.APIKey))
	field("default_model", cfg.Cloud.DefaultModel)
	field("timeout_secs", fmt.Sprintf("%d", cfg.Cloud.TimeoutSecs))
	field("requests_per_second", fmt.Sprintf("%g", cfg.Cloud.RequestsPerSecond))
	fmt.Fprintln(out)

	section("storage")
	field("backend", cfg.Storage.Backend)
	field("dir", cfg.Storage.Dir)
	if cfg.Storage.Backend == "redis" {
		field("redis_url", secret(cfg.Storage.RedisURL))
	}
	fmt.Fprintln(out)

	section("log")
	field("level", cfg.Log.Level)
	field("file", cfg.Log.File)
	field("console", fmt.Sprintf("%t", cfg.Log.Console))
	fmt.Fprintln(out)

	section("server")
	field("addr", cfg.Server.Addr)
	field("auth_token", secret(cfg.Server.AuthToken))
	field("requests_per_minute", fmt.Sprintf("%d", cfg.Server.RequestsPerMinute))
	field("metrics_enabled", fmt.Sprintf("%t", cfg.Server.MetricsEnabled))
	fmt.Fprintln(out)

	section("chat")
	field("default_persona", util.TruncateRunes(util.SingleLine(cfg.Chat.DefaultPersona), 50))
	field("history_file", cfg.Chat.HistoryFile)
	return nil
}
