// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardline/wardline/internal/control"
)

// ServerStatus is what the status command reports about a running server.
type ServerStatus struct {
	Socket        string `json:"socket"`
	Running       bool   `json:"running"`
	Health        string `json:"health,omitempty"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Accounts      int    `json:"accounts"`
	Pending       int    `json:"pending_credentials"`
	Error         string `json:"error,omitempty"`
}

// statusOptions holds flags for the status command.
type statusOptions struct {
	jsonOutput bool
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the running wardline server",
		Long:  `Show the health, uptime and account counts of the server on the control socket.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socket, err := root.socket()
			if err != nil {
				return err
			}
			st := queryStatus(cmd, control.NewClient(socket))
			st.Socket = socket

			var out string
			if opts.jsonOutput {
				out, err = formatStatusJSON(st)
				if err != nil {
					return err
				}
			} else {
				out = formatStatusTable(st)
			}
			cmd.Print(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output status as JSON")
	return cmd
}

// queryStatus asks the server for its health and status. A server that
// answers /health but not /status is still reported as running.
func queryStatus(cmd *cobra.Command, client *control.Client) ServerStatus {
	var st ServerStatus
	health, err := client.Health(cmd.Context())
	if err != nil {
		st.Error = "not running"
		return st
	}
	st.Running = true
	st.Health = health.Status

	status, err := client.Status(cmd.Context())
	if err != nil {
		return st
	}
	st.PID = status.PID
	st.UptimeSeconds = status.UptimeSeconds
	st.Accounts = status.Accounts
	st.Pending = status.Pending
	return st
}

func formatStatusTable(st ServerStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOCKET\tSTATUS\tHEALTH\tPID\tUPTIME\tACCOUNTS\tPENDING")
	if st.Running {
		_, _ = fmt.Fprintf(w, "%s\trunning\t%s\t%d\t%s\t%d\t%d\n",
			st.Socket, st.Health, st.PID, formatUptime(st.UptimeSeconds), st.Accounts, st.Pending)
	} else {
		_, _ = fmt.Fprintf(w, "%s\tstopped\t-\t-\t%s\t-\t-\n", st.Socket, st.Error)
	}
	_ = w.Flush()
	return b.String()
}

func formatStatusJSON(st ServerStatus) (string, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", oops.With("operation", "encode status").Wrap(err)
	}
	return string(data) + "\n", nil
}

// formatUptime formats seconds into a human-readable duration.
func formatUptime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}
