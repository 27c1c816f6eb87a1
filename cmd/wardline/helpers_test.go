// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/control"
	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/provision"
)

// isolateEnv points XDG lookups and DATABASE_URL away from the host.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("DATABASE_URL", "")
}

// runCLI executes the root command and returns what it wrote to stdout.
func runCLI(t *testing.T, deps *Deps, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// liveServer is a control server on a temporary socket.
type liveServer struct {
	dir    *identity.Directory
	socket string
}

func startServer(t *testing.T) *liveServer {
	t.Helper()
	isolateEnv(t)
	quiet := slog.New(slog.DiscardHandler)
	dir := identity.NewDirectory(
		identity.WithHasher(identity.NewHasher(1000)),
		identity.WithLogger(quiet),
	)
	workflow, err := provision.NewWorkflow(dir, provision.NewLedger(), provision.WithLogger(quiet))
	require.NoError(t, err)

	socket := filepath.Join(t.TempDir(), control.SocketName)
	server, err := control.NewServer(dir, workflow, control.WithSocketPath(socket), control.WithLogger(quiet))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	return &liveServer{dir: dir, socket: socket}
}

func (s *liveServer) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, nil, stdin, append([]string{"--socket", s.socket}, args...)...)
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	return v
}
