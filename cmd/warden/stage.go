// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Inspect and control detector stages",
	}
	cmd.PersistentFlags().String("address", defaultDaemonAddr, "daemon address")

	cmd.AddCommand(newStageListCmd(), newStagePauseCmd(), newStageResumeCmd())
	return cmd
}

func newStageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stage states",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("address")

			client := newDaemonClient(addr)
			var resp struct {
				Stages []stageStateBody `json:"stages"`
			}
			if err := client.getJSON("/api/v1/stages", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, st := range resp.Stages {
				line := fmt.Sprintf("%-10s %-8s failures=%d", st.ID, st.Status, st.Failures)
				if st.Reason != "" {
					line += "  " + st.Reason
				}
				_, _ = fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newStagePauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause <stage>",
		Short: "Pause a detector stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")
			reason, _ := cmd.Flags().GetString("reason")

			client := newDaemonClient(addr)
			body := map[string]any{"reason": reason}
			var resp struct {
				Stage  string `json:"stage"`
				Status string `json:"status"`
			}
			if err := client.postJSON("/api/v1/stages/"+url.PathEscape(args[0])+"/pause", body, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stage %s is %s\n", resp.Stage, resp.Status)
			return nil
		},
	}
	cmd.Flags().String("reason", "", "why the stage is being paused")
	return cmd
}

func newStageResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <stage>",
		Short: "Resume a paused detector stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")

			client := newDaemonClient(addr)
			var resp struct {
				Stage  string `json:"stage"`
				Status string `json:"status"`
			}
			if err := client.postJSON("/api/v1/stages/"+url.PathEscape(args[0])+"/resume", nil, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stage %s is %s\n", resp.Stage, resp.Status)
			return nil
		},
	}
}
