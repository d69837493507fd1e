// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/config"
	"github.com/jeranaias/sessionchat/internal/persist"
)

func TestParse_Commands(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		want    Command
		wantErr bool
		check   func(*testing.T, Args)
	}{
		{name: "no args is chat", argv: nil, want: CmdChat},
		{name: "chat", argv: []string{"chat", "--no-refresh"}, want: CmdChat, check: func(t *testing.T, a Args) {
			assert.True(t, a.NoRefresh)
		}},
		{name: "serve with addr", argv: []string{"serve", "--addr", ":9000"}, want: CmdServe, check: func(t *testing.T, a Args) {
			assert.Equal(t, ":9000", a.Addr)
		}},
		{name: "server alias", argv: []string{"server"}, want: CmdServe},
		{name: "models with search and filters", argv: []string{"models", "--free", "llama", "3", "--vision"}, want: CmdModels, check: func(t *testing.T, a Args) {
			assert.Equal(t, "llama 3", a.Search)
			assert.True(t, a.Free)
			assert.True(t, a.Vision)
			assert.False(t, a.Moderated)
		}},
		{name: "models json cached", argv: []string{"models", "--json", "--cached"}, want: CmdModels, check: func(t *testing.T, a Args) {
			assert.True(t, a.JSON)
			assert.True(t, a.Cached)
			assert.Equal(t, "", a.Search)
		}},
		{name: "global flags", argv: []string{"-c", "/tmp/x.toml", "--backend", "pebble", "--data-dir", "/tmp/d", "--debug", "--console-log"}, want: CmdChat, check: func(t *testing.T, a Args) {
			assert.Equal(t, "/tmp/x.toml", a.ConfigPath)
			assert.Equal(t, "pebble", a.Backend)
			assert.Equal(t, "/tmp/d", a.DataDir)
			assert.Equal(t, "debug", a.LogLevel)
			assert.True(t, a.Console)
		}},
		{name: "long config flag wins", argv: []string{"--config", "a.toml"}, want: CmdChat, check: func(t *testing.T, a Args) {
			assert.Equal(t, "a.toml", a.ConfigPath)
		}},
		{name: "help flag", argv: []string{"models", "-h"}, want: CmdHelp},
		{name: "version flag", argv: []string{"--version"}, want: CmdVersion},
		{name: "version command", argv: []string{"version", "--json"}, want: CmdVersion},
		{name: "unknown command", argv: []string{"frobnicate"}, want: CmdHelp, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, err := Parse(tt.argv)
			assert.Equal(t, tt.want, cmd)
			if tt.wantErr {
				var usage *UsageError
				require.ErrorAs(t, err, &usage)
				assert.Equal(t, ExitUsageError, ExitCode(err))
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "chat", CmdChat.String())
	assert.Equal(t, "serve", CmdServe.String())
	assert.Equal(t, "models", CmdModels.String())
	assert.Equal(t, "config", CmdConfig.String())
	assert.Equal(t, "version", CmdVersion.String())
	assert.Equal(t, "help", CmdHelp.String())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Message: "bad"}, ExitUsageError},
		{"config list", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "log.level", Message: "bad"}}), ExitConfigError},
		{"config single", config.ValidationError{Field: "storage.backend", Message: "bad"}, ExitConfigError},
		{"storage", &CommandError{Command: "chat", Action: "open", Err: &persist.StorageError{Op: "get", Key: "settings", Err: errors.New("disk")}}, ExitStorageError},
		{"auth", &catalog.CatalogFetchError{Status: 401, Err: &cloud.ProtocolError{Status: 401, Kind: cloud.ErrAuthFailed}}, ExitAuthError},
		{"model not found", &cloud.ProtocolError{Status: 404, Kind: cloud.ErrModelNotFound}, ExitNotFoundError},
		{"catalog", &catalog.CatalogFetchError{Status: 502, Err: errors.New("bad gateway")}, ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestCommandError_Unwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := &CommandError{Command: "export", Action: "write out.md", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "export: write out.md: disk full", err.Error())
}

func TestHandleVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HandleVersion(Args{}, &buf))
	assert.Contains(t, buf.String(), "sessionchat "+Version)

	buf.Reset()
	require.NoError(t, HandleVersion(Args{JSON: true}, &buf))
	var info map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, Version, info["version"])
	assert.NotEmpty(t, info["go_version"])
}

func TestHandleConfig_InitPathShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	args := Args{ConfigPath: path, Raw: []string{"init"}}

	var buf bytes.Buffer
	require.NoError(t, HandleConfig(args, &buf))
	assert.FileExists(t, path)

	err := HandleConfig(args, &buf)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Error(), "already exists")

	buf.Reset()
	require.NoError(t, HandleConfig(Args{ConfigPath: path, Raw: []string{"path"}, JSON: true}, &buf))
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, path, info["path"])
	assert.Equal(t, true, info["exists"])

	buf.Reset()
	require.NoError(t, HandleConfig(Args{ConfigPath: path, Raw: []string{"show"}}, &buf))
	assert.Contains(t, buf.String(), "[cloud]")
	assert.Contains(t, buf.String(), "[storage]")

	err = HandleConfig(Args{ConfigPath: path, Raw: []string{"edit"}}, &buf)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}
