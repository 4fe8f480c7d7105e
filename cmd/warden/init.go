// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/warden-dev/warden/internal/channel/telegram"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// initHTTPClient is the HTTP client used for token validation. Exposed as
// a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// starterConfig is the template written by `warden init`. Keys mirror the
// mapstructure names in internal/config.
type starterConfig struct {
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Storage struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`
	Stages struct {
		Classifier struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"classifier"`
		Contextual struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"contextual"`
	} `yaml:"stages"`
	Synthesis struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"synthesis"`
	Telegram struct {
		Token    string  `yaml:"token"`
		AdminIDs []int64 `yaml:"admin_ids"`
	} `yaml:"telegram"`
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long:  "Write a warden.yaml with the common settings stubbed out. With --telegram-token the token is validated against the Telegram API before writing.",
		RunE:  runInit,
	}

	cmd.Flags().String("path", "warden.yaml", "where to write the config file")
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.Flags().String("telegram-token", "", "bot token to validate and embed")
	cmd.Flags().Int64Slice("admin", nil, "telegram user ID to treat as admin (repeatable)")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")
	token, _ := cmd.Flags().GetString("telegram-token")
	admins, _ := cmd.Flags().GetInt64Slice("admin")

	if !force {
		if _, err := os.Stat(path); err == nil {
			return wardenerr.Errorf(wardenerr.CodeCLIInputInvalid,
				"%s already exists, use --force to overwrite", path)
		}
	}

	if token != "" {
		if err := telegram.ValidateToken(cmd.Context(), initHTTPClient, token); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Telegram token validated.")
	}

	var cfg starterConfig
	cfg.Server.Listen = defaultDaemonAddr
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = "warden.db"
	cfg.Telegram.Token = token
	cfg.Telegram.AdminIDs = admins

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeCLIRequestFailure, "rendering config template")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return wardenerr.Wrapf(err, wardenerr.CodeCLIRequestFailure, "writing %s", path)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Fill in the API keys, then run: warden start -c %s\n", path, path)
	return nil
}
