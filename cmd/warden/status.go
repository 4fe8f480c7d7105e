// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

const defaultDaemonAddr = "127.0.0.1:8841"

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  "Check the running daemon's health endpoint and display the detector stage states.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", defaultDaemonAddr, "daemon address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	client := newDaemonClient(addr)
	var health struct {
		Status string `json:"status"`
	}
	if err := client.getJSON("/health", &health); err != nil {
		if wardenerr.HasCode(err, wardenerr.CodeCLIDaemonNotRunning) {
			_, _ = fmt.Fprintf(out, "Daemon at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Daemon at %s: %s\n", addr, err)
		return nil
	}
	_, _ = fmt.Fprintf(out, "Daemon at %s: %s\n", addr, health.Status)

	var stages struct {
		Stages []stageStateBody `json:"stages"`
	}
	if err := client.getJSON("/api/v1/stages", &stages); err != nil {
		return err
	}
	for _, st := range stages.Stages {
		line := fmt.Sprintf("  %-10s %s", st.ID, st.Status)
		if st.Reason != "" {
			line += " (" + st.Reason + ")"
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

// stageStateBody mirrors the daemon's stage state JSON.
type stageStateBody struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	Failures int    `json:"consecutive_failures"`
}
