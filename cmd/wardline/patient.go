// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wardline/wardline/internal/control"
)

// patientOptions holds flags for the patient subcommands.
type patientOptions struct {
	jsonOutput     bool
	showCredential bool
	request        control.ProvisionRequest
}

func newPatientCmd(root *rootOptions) *cobra.Command {
	opts := &patientOptions{}

	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Provision patient accounts on the running server",
	}
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")

	provision := &cobra.Command{
		Use:   "provision PATIENT_ID",
		Short: "Create and link a PATIENT account with a temporary password",
		Long: `Create a PATIENT account for a newly registered patient. The username is
derived from the patient's name and the temporary password is held by the
server until it is shown once with 'patient credential' or --show-credential.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			req := opts.request
			req.PatientID = args[0]
			view, err := client.Provision(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !opts.showCredential {
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), view)
				}
				printAccount(cmd.OutOrStdout(), view)
				return nil
			}
			cred, err := client.TakeCredential(cmd.Context(), req.PatientID)
			if err != nil {
				return err
			}
			return showCredential(cmd.OutOrStdout(), cred, opts.jsonOutput)
		},
	}
	provision.Flags().StringVar(&opts.request.GivenName, "given-name", "", "patient's given name")
	provision.Flags().StringVar(&opts.request.FamilyName, "family-name", "", "patient's family name")
	provision.Flags().StringVar(&opts.request.BirthDate, "birth-date", "", "patient's birth date (YYYY-MM-DD)")
	provision.Flags().BoolVar(&opts.showCredential, "show-credential", false, "print the temporary credential now")
	cmd.AddCommand(provision)

	cmd.AddCommand(&cobra.Command{
		Use:   "credential PATIENT_ID",
		Short: "Show a provisioned temporary credential once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			cred, err := client.TakeCredential(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return showCredential(cmd.OutOrStdout(), cred, opts.jsonOutput)
		},
	})

	return cmd
}

func showCredential(w io.Writer, cred control.CredentialResponse, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(w, cred)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Username:\t%s\n", cred.Username)
	_, _ = fmt.Fprintf(tw, "Temporary password:\t%s\n", cred.TemporaryPassword)
	_, _ = fmt.Fprintf(tw, "Account:\t%s\n", cred.AccountID)
	return tw.Flush()
}
