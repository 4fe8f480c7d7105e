// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root warden command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "warden",
		Short:         "Warden — chat moderation daemon",
		Long:          "Warden moderates group chats through a staged detection pipeline with admin-managed, natural-language rules.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newStatusCmd(),
		newRuleCmd(),
		newStageCmd(),
		newVersionCmd(),
	)

	return root
}
