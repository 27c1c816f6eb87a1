// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/wardline/wardline/internal/config"
	"github.com/wardline/wardline/internal/control"
	"github.com/wardline/wardline/internal/xdg"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	socketPath string
}

// NewRootCmd creates the root command for the wardline CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

// newRootCmd creates the root command with injectable database deps.
func newRootCmd(deps *Deps) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "wardline",
		Short: "Wardline - identity and credential directory",
		Long: `Wardline keeps the user accounts of a clinical system: it hashes and
verifies passwords, enforces the password policy, and provisions accounts
for newly registered patients.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file path (default: $XDG_CONFIG_HOME/wardline/wardline.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.socketPath, "socket", "",
		"control socket path (default: $XDG_RUNTIME_DIR/wardline.sock)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(opts, deps))
	cmd.AddCommand(newMigrateCmd(opts, deps))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newAccountCmd(opts))
	cmd.AddCommand(newPatientCmd(opts))
	cmd.AddCommand(newHashCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}

// loadConfig builds and validates the effective configuration for cmd.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := o.configFile
	if path == "" {
		path = xdg.ConfigFile()
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// socket returns the control socket path.
func (o *rootOptions) socket() (string, error) {
	if o.socketPath != "" {
		return o.socketPath, nil
	}
	return control.SocketPath()
}

// client returns an admin API client for the running server.
func (o *rootOptions) client() (*control.Client, error) {
	path, err := o.socket()
	if err != nil {
		return nil, err
	}
	return control.NewClient(path), nil
}
