// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardline/wardline/internal/config"
	"github.com/wardline/wardline/internal/control"
	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/observability"
	"github.com/wardline/wardline/internal/persist"
	"github.com/wardline/wardline/internal/provision"
	"github.com/wardline/wardline/pkg/errutil"
)

const (
	// purgeInterval is how often expired provisioned credentials are scrubbed.
	purgeInterval = time.Minute

	shutdownTimeout = 10 * time.Second
)

// serveOptions holds flags for the serve command.
type serveOptions struct {
	migrate bool
}

func newServeCmd(root *rootOptions, deps *Deps) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the identity directory",
		Long: `Restore the directory from PostgreSQL and serve the admin API on the
control socket until interrupted. Changes are written back to the database
in the background.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, root, opts, deps)
		},
	}
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *serveOptions, deps *Deps) error {
	deps = deps.withDefaults()

	cfg, err := root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	logger := logging.Setup("wardline", version, cfg.Log.Format, cfg.LogLevel(), cmd.ErrOrStderr())
	slog.SetDefault(logger)

	if opts.migrate {
		if err := migrateUp(deps, cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	accounts, release, err := deps.StoreFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.With("operation", "connect to account store").Wrap(err)
	}
	defer release()

	existing, err := accounts.List(ctx)
	if err != nil {
		return oops.With("operation", "load accounts").Wrap(err)
	}

	writer, err := persist.NewWriter(accounts,
		persist.WithBuffer(cfg.Persist.Buffer),
		persist.WithRetry(uint64(cfg.Persist.MaxRetries), cfg.Persist.Backoff), //nolint:gosec // validated non-negative
		persist.WithTimeout(cfg.Persist.Timeout),
		persist.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	dir := identity.NewDirectory(
		identity.WithHasher(identity.NewHasher(cfg.Hashing.Iterations)),
		identity.WithPolicy(cfg.PasswordPolicy()),
		identity.WithRecorder(writer),
		identity.WithLogger(logger),
	)
	if err := dir.Restore(existing); err != nil {
		return oops.With("operation", "restore directory").Wrap(err)
	}
	if err := writer.Start(); err != nil {
		return err
	}
	defer closeWriter(writer, logger)

	ledger := provision.NewLedger()
	workflow, err := provision.NewWorkflow(dir, ledger,
		provision.WithPolicy(cfg.PasswordPolicy()),
		provision.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controlServer, err := control.NewServer(dir, workflow,
		control.WithSocketPath(root.socketPath),
		control.WithShutdown(control.ShutdownFunc(stop)),
		control.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := controlServer.Start(); err != nil {
		return err
	}
	defer stopServer("control", controlServer.Stop, logger)

	if cfg.Metrics.Addr != "" {
		obs := newObservabilityServer(cfg, dir, ledger, accounts, logger)
		obsErrCh, err := obs.Start()
		if err != nil {
			return err
		}
		defer stopServer("observability", obs.Stop, logger)
		go monitorServerErrors(ctx, stop, obsErrCh, "observability", logger)
	}

	go purgeCredentials(ctx, ledger, cfg.Provision.CredentialTTL, logger)

	cmd.Println("wardline started")
	logger.Info("wardline ready",
		"accounts", dir.Len(),
		"hash_iterations", cfg.Hashing.Iterations,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func newObservabilityServer(cfg *config.Config, dir *identity.Directory, ledger *provision.Ledger, accounts AccountStore, logger *slog.Logger) *observability.Server {
	return observability.NewServer(cfg.Metrics.Addr,
		observability.WithReadiness(accounts.Ping),
		observability.WithCollectors(identity.RegisterMetrics, provision.RegisterMetrics, persist.RegisterMetrics),
		observability.WithGauge("wardline_directory_accounts", "Number of accounts held by the directory",
			func() float64 { return float64(dir.Len()) }),
		observability.WithGauge("wardline_provision_pending_credentials", "Number of provisioned credentials not yet displayed",
			func() float64 { return float64(ledger.Len()) }),
		observability.WithLogger(logger),
	)
}

// purgeCredentials scrubs provisioned credentials older than ttl until ctx
// is done.
func purgeCredentials(ctx context.Context, ledger *provision.Ledger, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(min(purgeInterval, ttl))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := ledger.Purge(now.Add(-ttl)); n > 0 {
				logger.Info("expired provisioned credentials purged", "count", n)
			}
		}
	}
}

// monitorServerErrors cancels the process when a server fails. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

func stopServer(name string, stopFn func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stopFn(ctx); err != nil {
		logger.Warn("error stopping server", "server", name, "error", err)
	}
}

// closeWriter flushes queued directory changes to the store.
func closeWriter(w *persist.Writer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		errutil.LogError(logger, "pending directory changes were not written", err)
		return
	}
	logger.Info("directory changes flushed")
}
