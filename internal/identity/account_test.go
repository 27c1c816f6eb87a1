// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity_test

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/pkg/errutil"
)

func TestCanonicalUsername(t *testing.T) {
	assert.Equal(t, "bob", identity.CanonicalUsername("  Bob\t"))
	assert.Equal(t, "jane.doe", identity.CanonicalUsername("Jane.Doe"))
	assert.Equal(t, "", identity.CanonicalUsername("   "))
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"bob", "  Bob  ", "jane.doe2", "a"}
	for _, u := range valid {
		assert.NoError(t, identity.ValidateUsername(u), u)
	}

	invalid := []string{"", "   ", "two words", "tab\tname", strings.Repeat("x", identity.MaxUsernameLength+1)}
	for _, u := range invalid {
		err := identity.ValidateUsername(u)
		require.Error(t, err, u)
		errutil.AssertErrorCode(t, err, identity.CodeInvalidUsername)
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range identity.Roles {
		got, err := identity.ParseRole(strings.ToLower(string(r)))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := identity.ParseRole("janitor")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, identity.CodeInvalidRole)
}

func TestNewStaffNumber(t *testing.T) {
	seenLengths := map[int]bool{}
	for range 500 {
		n, err := identity.NewStaffNumber()
		require.NoError(t, err)
		require.True(t, identity.IsStaffNumber(n), n)
		seenLengths[len(n)] = true

		digits := len(n) - len(identity.StaffNumberPrefix) - 2
		assert.GreaterOrEqual(t, digits, 3)
		assert.LessOrEqual(t, digits, 10)
	}
	assert.Greater(t, len(seenLengths), 1, "digit run length should vary")
}

func TestIsStaffNumber(t *testing.T) {
	assert.True(t, identity.IsStaffNumber("STFAB123"))
	assert.True(t, identity.IsStaffNumber("STFZZ1234567890"))
	assert.False(t, identity.IsStaffNumber("STFAB12"))
	assert.False(t, identity.IsStaffNumber("STFab123"))
	assert.False(t, identity.IsStaffNumber("STFA1123"))
	assert.False(t, identity.IsStaffNumber("STFAB12345678901"))
	assert.False(t, identity.IsStaffNumber("XXXAB123"))
}

func TestNewID(t *testing.T) {
	a := identity.NewID()
	b := identity.NewID()
	assert.NotEqual(t, a, b)
	assert.Negative(t, a.Compare(b), "ids are monotonic")

	parsed, err := identity.ParseID(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = identity.ParseID("not-a-ulid")
	require.Error(t, err)
	assert.NotEqual(t, ulid.ULID{}, a)
}
