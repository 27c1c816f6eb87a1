// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/wardline/wardline/internal/config"
	"github.com/wardline/wardline/internal/xdg"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect wardline configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the config file and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := root.loadConfig(cmd); err != nil {
				return err
			}
			path := root.configFile
			if path == "" {
				path = xdg.ConfigFile()
			}
			if path == "" {
				cmd.Println("Configuration is valid (no config file, defaults and flags only)")
				return nil
			}
			cmd.Printf("Configuration is valid (%s)\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			cmd.Println(string(schema))
			return nil
		},
	})

	return cmd
}
