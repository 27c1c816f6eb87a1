// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardline/wardline/internal/identity"
)

// hashOptions holds flags for the hash command.
type hashOptions struct {
	verify string
}

func newHashCmd(root *rootOptions) *cobra.Command {
	opts := &hashOptions{}

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash or verify a password read from stdin",
		Long: `Print a password record for the password on stdin, using the configured
iteration count. With --verify, check the password against a record instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			secrets, err := readSecrets(cmd.InOrStdin(), 1)
			if err != nil {
				return err
			}
			pw := secrets[0]
			defer pw.Destroy()

			hasher := identity.NewHasher(cfg.Hashing.Iterations)
			if opts.verify == "" {
				record, err := hasher.Hash(pw)
				if err != nil {
					return err
				}
				cmd.Println(record)
				return nil
			}

			if _, err := identity.ParseRecord(opts.verify); err != nil {
				return err
			}
			if !hasher.Verify(pw, opts.verify) {
				return oops.Code("HASH_MISMATCH").Errorf("password does not match record")
			}
			if hasher.NeedsRehash(opts.verify) {
				cmd.Println("match (record uses fewer iterations and will be upgraded on next login)")
				return nil
			}
			cmd.Println("match")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.verify, "verify", "", "password record to verify against")
	return cmd
}
