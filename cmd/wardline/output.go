// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/control"
	"github.com/wardline/wardline/internal/secret"
)

// readSecrets reads n newline-terminated secrets from r. The final line
// may omit its newline. Trailing carriage returns are dropped.
func readSecrets(r io.Reader, n int) ([]*secret.Secret, error) {
	br := bufio.NewReader(r)
	out := make([]*secret.Secret, 0, n)
	for range n {
		line, err := br.ReadBytes('\n')
		if err != nil && (!errors.Is(err, io.EOF) || len(line) == 0) {
			clear(line)
			for _, s := range out {
				s.Destroy()
			}
			return nil, oops.Code("CLI_INPUT_FAILED").
				With("expected", n).
				With("read", len(out)).
				Errorf("expected %d password line(s) on stdin", n)
		}
		trimmed := bytes.TrimRight(line, "\r\n")
		out = append(out, secret.New(bytes.Clone(trimmed)))
		clear(line)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return oops.With("operation", "encode output").Wrap(err)
	}
	return nil
}

// printAccounts writes accounts as a table.
func printAccounts(w io.Writer, accounts []control.AccountView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tSTATUS\tSTAFF NO\tLINKED")
	for _, a := range accounts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Username, a.Role, a.Status, orDash(a.StaffNumber), linked(a))
	}
	_ = tw.Flush()
}

// printAccount writes one account as key/value lines.
func printAccount(w io.Writer, a control.AccountView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID:\t%s\n", a.ID)
	_, _ = fmt.Fprintf(tw, "Username:\t%s\n", a.Username)
	_, _ = fmt.Fprintf(tw, "Role:\t%s\n", a.Role)
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", a.Status)
	if a.StaffNumber != "" {
		_, _ = fmt.Fprintf(tw, "Staff number:\t%s\n", a.StaffNumber)
	}
	if a.LinkedPatientID != nil {
		_, _ = fmt.Fprintf(tw, "Patient:\t%s\n", *a.LinkedPatientID)
	}
	if a.LinkedDoctorID != nil {
		_, _ = fmt.Fprintf(tw, "Doctor:\t%s\n", *a.LinkedDoctorID)
	}
	_, _ = fmt.Fprintf(tw, "Created:\t%s\n", a.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	_ = tw.Flush()
}

func linked(a control.AccountView) string {
	switch {
	case a.LinkedPatientID != nil:
		return "patient:" + *a.LinkedPatientID
	case a.LinkedDoctorID != nil:
		return "doctor:" + *a.LinkedDoctorID
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
