// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardline/wardline/internal/control"
)

// accountOptions holds flags shared by the account subcommands.
type accountOptions struct {
	jsonOutput bool
}

func newAccountCmd(root *rootOptions) *cobra.Command {
	opts := &accountOptions{}

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts on the running server",
		Long: `Manage accounts through the control socket of a running 'wardline serve'.
Passwords are read from stdin, one per line.`,
	}
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")

	show := func(cmd *cobra.Command, view control.AccountView) error {
		if opts.jsonOutput {
			return printJSON(cmd.OutOrStdout(), view)
		}
		printAccount(cmd.OutOrStdout(), view)
		return nil
	}

	var role string
	create := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create an account (password on stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			secrets, err := readSecrets(cmd.InOrStdin(), 1)
			if err != nil {
				return err
			}
			view, err := client.CreateAccount(cmd.Context(), args[0], secrets[0], role)
			if err != nil {
				return err
			}
			return show(cmd, view)
		},
	}
	create.Flags().StringVar(&role, "role", "", "role: admin, doctor, staff or patient")
	_ = create.MarkFlagRequired("role")
	cmd.AddCommand(create)

	var filter control.ListFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			views, err := client.ListAccounts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), views)
			}
			printAccounts(cmd.OutOrStdout(), views)
			return nil
		},
	}
	list.Flags().StringVar(&filter.Role, "role", "", "only accounts with this role")
	list.Flags().StringVar(&filter.Status, "status", "", "only 'active' or 'inactive' accounts")
	list.Flags().StringVar(&filter.Match, "match", "", "only usernames matching this glob, e.g. 'jane.*'")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "get ID",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			view, err := client.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return show(cmd, view)
		},
	})

	var byStaffNumber bool
	lookup := &cobra.Command{
		Use:   "lookup USERNAME",
		Short: "Find an account by username or staff number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			lookupFn := client.LookupUsername
			if byStaffNumber {
				lookupFn = client.LookupStaffNumber
			}
			view, err := lookupFn(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return show(cmd, view)
		},
	}
	lookup.Flags().BoolVar(&byStaffNumber, "staff-number", false, "treat the argument as a staff number")
	cmd.AddCommand(lookup)

	for _, action := range []struct {
		use, short string
		call       func(*control.Client, context.Context, string) (control.AccountView, error)
	}{
		{"activate ID", "Mark an account active", (*control.Client).Activate},
		{"deactivate ID", "Mark an account inactive", (*control.Client).Deactivate},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use,
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := root.client()
				if err != nil {
					return err
				}
				view, err := action.call(client, cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return show(cmd, view)
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set-role ID ROLE",
		Short: "Change an account's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			view, err := client.SetRole(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return show(cmd, view)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "link-doctor ID DOCTOR_ID",
		Short: "Link an account to a doctor record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			view, err := client.LinkDoctor(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return show(cmd, view)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			if err := client.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Println("Account deleted")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset-password ID",
		Short: "Set a new password without the current one (password on stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			secrets, err := readSecrets(cmd.InOrStdin(), 1)
			if err != nil {
				return err
			}
			if err := client.ResetPassword(cmd.Context(), args[0], secrets[0]); err != nil {
				return err
			}
			cmd.Println("Password reset")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "change-password USERNAME",
		Short: "Change a password (current then new password on stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			secrets, err := readSecrets(cmd.InOrStdin(), 2)
			if err != nil {
				return err
			}
			if err := client.ChangePassword(cmd.Context(), args[0], secrets[0], secrets[1]); err != nil {
				return err
			}
			cmd.Println("Password changed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "authenticate USERNAME",
		Short: "Check a username and password (password on stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			secrets, err := readSecrets(cmd.InOrStdin(), 1)
			if err != nil {
				return err
			}
			view, err := client.Authenticate(cmd.Context(), args[0], secrets[0])
			if err != nil {
				return oops.With("username", args[0]).Wrap(err)
			}
			return show(cmd, view)
		},
	})

	return cmd
}
