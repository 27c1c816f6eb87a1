// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package provision_test

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/provision"
	"github.com/wardline/wardline/internal/secret"
	"github.com/wardline/wardline/pkg/errutil"
)

func newDirectory() *identity.Directory {
	return identity.NewDirectory(
		identity.WithHasher(identity.NewHasher(1000)),
		identity.WithLogger(slog.New(slog.DiscardHandler)),
	)
}

func newWorkflow(t *testing.T, dir provision.Directory, opts ...provision.Option) *provision.Workflow {
	t.Helper()
	base := []provision.Option{provision.WithLogger(slog.New(slog.DiscardHandler))}
	w, err := provision.NewWorkflow(dir, provision.NewLedger(), append(base, opts...)...)
	require.NoError(t, err)
	return w
}

func born(year int) *time.Time {
	t := time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

// flakyDirectory wraps a real directory and injects failures.
type flakyDirectory struct {
	*identity.Directory
	failLink   bool
	createErr  error
	createSeen []string
	mu         sync.Mutex
}

func (f *flakyDirectory) CreateAccount(username string, pw *secret.Secret, role identity.Role) (*identity.Account, error) {
	f.mu.Lock()
	f.createSeen = append(f.createSeen, username)
	f.mu.Unlock()
	if f.createErr != nil {
		pw.Destroy()
		return nil, f.createErr
	}
	return f.Directory.CreateAccount(username, pw, role)
}

func (f *flakyDirectory) LinkPatient(id ulid.ULID, patientID string) bool {
	if f.failLink {
		return false
	}
	return f.Directory.LinkPatient(id, patientID)
}

func TestNewWorkflow_RequiresCollaborators(t *testing.T) {
	_, err := provision.NewWorkflow(nil, provision.NewLedger())
	errutil.AssertErrorCode(t, err, "PROVISION_INVALID_CONFIG")

	_, err = provision.NewWorkflow(newDirectory(), nil)
	errutil.AssertErrorCode(t, err, "PROVISION_INVALID_CONFIG")
}

func TestNewWorkflow_DefaultsToSilentLogger(t *testing.T) {
	var buf bytes.Buffer
	original := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(original) })

	w, err := provision.NewWorkflow(newDirectory(), provision.NewLedger())
	require.NoError(t, err)
	_, err = w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"})
	require.NoError(t, err)

	assert.Empty(t, buf.String())
}

func TestWorkflow_Provision(t *testing.T) {
	t.Run("creates a linked patient account", func(t *testing.T) {
		dir := newDirectory()
		w := newWorkflow(t, dir)

		acct, err := w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe", BirthDate: born(1990)})
		require.NoError(t, err)

		assert.Equal(t, "jane.doe", acct.Username)
		assert.Equal(t, identity.RolePatient, acct.Role)
		require.NotNil(t, acct.LinkedPatientID)
		assert.Equal(t, "pat-1", *acct.LinkedPatientID)

		stored, ok := dir.FindByID(acct.ID)
		require.True(t, ok)
		require.NotNil(t, stored.LinkedPatientID)
		assert.Equal(t, "pat-1", *stored.LinkedPatientID)
	})

	t.Run("temporary password authenticates once taken from the ledger", func(t *testing.T) {
		dir := newDirectory()
		w := newWorkflow(t, dir)

		acct, err := w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe", BirthDate: born(1990)})
		require.NoError(t, err)

		cred, ok := w.Ledger().Take("pat-1")
		require.True(t, ok)
		defer cred.Destroy()

		assert.Equal(t, acct.ID, cred.AccountID)
		assert.Equal(t, "jane.doe", cred.Username)
		assert.True(t, strings.HasPrefix(cred.TemporaryPassword.Reveal(), "Jane1990"))

		got, ok := dir.Authenticate("jane.doe", cred.TemporaryPassword.Clone())
		require.True(t, ok)
		assert.Equal(t, acct.ID, got.ID)

		_, ok = w.Ledger().Take("pat-1")
		assert.False(t, ok, "credential is shown only once")
	})

	t.Run("appends a number when the base username is taken", func(t *testing.T) {
		dir := newDirectory()
		_, err := dir.CreateAccount("jane.doe", secret.FromString("existing123"), identity.RoleStaff)
		require.NoError(t, err)
		w := newWorkflow(t, dir)

		acct, err := w.Provision(provision.Subject{ID: "pat-2", GivenName: "Jane", FamilyName: "Doe", BirthDate: born(1990)})
		require.NoError(t, err)
		assert.Equal(t, "jane.doe1", acct.Username)

		again, err := w.Provision(provision.Subject{ID: "pat-3", GivenName: "JANE", FamilyName: "doe", BirthDate: born(1990)})
		require.NoError(t, err)
		assert.Equal(t, "jane.doe2", again.Username)
	})

	t.Run("falls back to random suffixes after numbered candidates", func(t *testing.T) {
		dir := newDirectory()
		for _, name := range []string{"jane.doe", "jane.doe1", "jane.doe2"} {
			_, err := dir.CreateAccount(name, secret.FromString("existing123"), identity.RolePatient)
			require.NoError(t, err)
		}
		w := newWorkflow(t, dir, provision.WithMaxNumberedAttempts(2))

		acct, err := w.Provision(provision.Subject{ID: "pat-4", GivenName: "Jane", FamilyName: "Doe"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(acct.Username, "jane.doe."), acct.Username)
	})

	t.Run("rejects a subject without an id", func(t *testing.T) {
		w := newWorkflow(t, newDirectory())

		_, err := w.Provision(provision.Subject{GivenName: "Jane", FamilyName: "Doe"})
		errutil.AssertErrorCode(t, err, "PROVISION_INVALID_SUBJECT")
	})
}

func TestWorkflow_Provision_Failures(t *testing.T) {
	t.Run("link failure removes the account and leaves no credential", func(t *testing.T) {
		dir := &flakyDirectory{Directory: newDirectory(), failLink: true}
		w := newWorkflow(t, dir)

		_, err := w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"})
		errutil.AssertErrorCode(t, err, "PROVISION_LINK_FAILED")

		assert.Zero(t, dir.Len())
		assert.Zero(t, w.Ledger().Len())
	})

	t.Run("directory errors other than duplicates stop the search", func(t *testing.T) {
		boom := errors.New("boom")
		dir := &flakyDirectory{Directory: newDirectory(), createErr: boom}
		w := newWorkflow(t, dir)

		_, err := w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"})
		require.ErrorIs(t, err, boom)
		assert.Len(t, dir.createSeen, 1)
		errutil.AssertErrorContext(t, err, "subject_id", "pat-1")
	})

	t.Run("exhausted candidates report an error", func(t *testing.T) {
		dir := &flakyDirectory{Directory: newDirectory(), createErr: identity.ErrDuplicateUsername}
		w := newWorkflow(t, dir, provision.WithMaxNumberedAttempts(3))

		_, err := w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"})
		errutil.AssertErrorCode(t, err, "PROVISION_USERNAME_EXHAUSTED")
		assert.Len(t, dir.createSeen, 4+8)
		assert.Zero(t, w.Ledger().Len())
	})

	t.Run("a failed retry does not leave an earlier credential behind", func(t *testing.T) {
		dir := &flakyDirectory{Directory: newDirectory()}
		w := newWorkflow(t, dir)

		_, err := w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"})
		require.NoError(t, err)
		require.Equal(t, 1, w.Ledger().Len())

		dir.failLink = true
		_, err = w.Provision(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"})
		require.Error(t, err)
		assert.Zero(t, w.Ledger().Len())
	})
}

func TestWorkflow_OnPatientCreated(t *testing.T) {
	dir := &flakyDirectory{Directory: newDirectory(), failLink: true}
	w := newWorkflow(t, dir)

	assert.Nil(t, w.OnPatientCreated(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"}))

	dir.failLink = false
	acct := w.OnPatientCreated(provision.Subject{ID: "pat-1", GivenName: "Jane", FamilyName: "Doe"})
	require.NotNil(t, acct)
	assert.Equal(t, "jane.doe", acct.Username)
}

func TestWorkflow_ConcurrentSameName(t *testing.T) {
	dir := newDirectory()
	w := newWorkflow(t, dir)

	const n = 16
	var wg sync.WaitGroup
	names := make([]string, n)
	for i := range n {
		wg.Go(func() {
			acct, err := w.Provision(provision.Subject{ID: fmt.Sprintf("pat-%d", i), GivenName: "Jane", FamilyName: "Doe"})
			if assert.NoError(t, err) {
				names[i] = acct.Username
			}
		})
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, name := range names {
		assert.False(t, seen[name], "username %q issued twice", name)
		seen[name] = true
	}
	assert.Equal(t, n, dir.Len())
	assert.Equal(t, n, w.Ledger().Len())
}
