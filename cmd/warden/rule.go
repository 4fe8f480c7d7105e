// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// ruleBody mirrors the daemon's rule JSON.
type ruleBody struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	Action          string `json:"action"`
	DurationSeconds int64  `json:"duration_seconds"`
	ChatID          string `json:"chat_id"`
	Stage           string `json:"stage"`
	Category        string `json:"category"`
	Origin          string `json:"origin"`
}

func newRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage moderation rules",
	}
	cmd.PersistentFlags().String("address", defaultDaemonAddr, "daemon address")

	cmd.AddCommand(newRuleListCmd(), newRuleAddCmd(), newRuleRemoveCmd())
	return cmd
}

func newRuleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("address")
			chatID, _ := cmd.Flags().GetString("chat")

			client := newDaemonClient(addr)
			var resp struct {
				Rules []ruleBody `json:"rules"`
			}
			path := "/api/v1/rules"
			if chatID != "" {
				path += "?chat_id=" + url.QueryEscape(chatID)
			}
			if err := client.getJSON(path, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Rules) == 0 {
				_, _ = fmt.Fprintln(out, "No rules.")
				return nil
			}
			for _, r := range resp.Rules {
				scope := "global"
				if r.ChatID != "" {
					scope = "chat " + r.ChatID
				}
				_, _ = fmt.Fprintf(out, "%s  %-10s %-6s %-12s %s\n",
					r.ID, r.Stage, r.Action, scope, r.Description)
			}
			return nil
		},
	}
	cmd.Flags().String("chat", "", "show the effective rule view for one chat")
	return cmd
}

func newRuleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Add a rule from a natural-language description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")
			action, _ := cmd.Flags().GetString("action")
			durStr, _ := cmd.Flags().GetString("duration")
			chatID, _ := cmd.Flags().GetString("chat")

			var durationSeconds int64
			if durStr != "" {
				dur, err := time.ParseDuration(durStr)
				if err != nil || dur <= 0 {
					return wardenerr.Errorf(wardenerr.CodeCLIInputInvalid,
						"bad duration %q, use forms like 10m or 2h", durStr)
				}
				durationSeconds = int64(dur / time.Second)
			}

			body := map[string]any{
				"description":      strings.Join(args, " "),
				"action":           action,
				"duration_seconds": durationSeconds,
				"chat_id":          chatID,
			}

			client := newDaemonClient(addr)
			var created ruleBody
			if err := client.postJSON("/api/v1/rules", body, &created); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added rule %s (stage %s)\n", created.ID, created.Stage)
			return nil
		},
	}
	cmd.Flags().String("action", "warn", "action to apply: warn|delete|mute|ban")
	cmd.Flags().String("duration", "", "mute or ban duration, e.g. 10m")
	cmd.Flags().String("chat", "", "scope the rule to one chat; empty makes it global")
	return cmd
}

func newRuleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <rule-id>",
		Short: "Remove a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")

			client := newDaemonClient(addr)
			var resp struct {
				Removed string `json:"removed"`
			}
			if err := client.del("/api/v1/rules/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed rule %s\n", resp.Removed)
			return nil
		},
	}
}
