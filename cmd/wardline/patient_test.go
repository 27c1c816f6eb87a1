// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/control"
	"github.com/wardline/wardline/internal/secret"
	"github.com/wardline/wardline/pkg/errutil"
)

func TestPatientProvision_ThenCredential(t *testing.T) {
	s := startServer(t)

	out, err := s.run(t, "", "patient", "provision", "P-100",
		"--given-name", "Jane", "--family-name", "Doe", "--birth-date", "1990-04-12", "--json")
	require.NoError(t, err)
	view := decodeJSON[control.AccountView](t, out)
	assert.Equal(t, "jane.doe", view.Username)
	assert.Equal(t, "PATIENT", view.Role)
	require.NotNil(t, view.LinkedPatientID)
	assert.Equal(t, "P-100", *view.LinkedPatientID)
	assert.NotContains(t, out, "temporary_password")

	out, err = s.run(t, "", "patient", "credential", "P-100", "--json")
	require.NoError(t, err)
	cred := decodeJSON[control.CredentialResponse](t, out)
	assert.Equal(t, view.ID, cred.AccountID)
	assert.True(t, strings.HasPrefix(cred.TemporaryPassword, "Jane1990"), cred.TemporaryPassword)

	_, ok := s.dir.Authenticate("jane.doe", secret.FromString(cred.TemporaryPassword))
	assert.True(t, ok)

	_, err = s.run(t, "", "patient", "credential", "P-100")
	errutil.AssertErrorContext(t, err, "status", http.StatusNotFound)
}

func TestPatientProvision_ShowCredential(t *testing.T) {
	s := startServer(t)

	out, err := s.run(t, "", "patient", "provision", "P-7",
		"--given-name", "José", "--family-name", "Álvarez", "--show-credential")
	require.NoError(t, err)
	assert.Contains(t, out, "jose.alvarez")
	assert.Contains(t, out, "Temporary password:")

	_, err = s.run(t, "", "patient", "credential", "P-7")
	errutil.AssertErrorContext(t, err, "status", http.StatusNotFound)
}

func TestPatientProvision_BadInput(t *testing.T) {
	s := startServer(t)

	_, err := s.run(t, "", "patient", "provision", "P-1",
		"--given-name", "Jane", "--family-name", "Doe", "--birth-date", "12/04/1990")
	errutil.AssertErrorContext(t, err, "status", http.StatusBadRequest)

	_, err = s.run(t, "", "patient", "provision")
	require.Error(t, err)
	assert.Equal(t, 0, s.dir.Len())
}
