// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package provision

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/identity"
)

func TestDeriveUsername(t *testing.T) {
	tests := []struct {
		given, family string
		want          string
	}{
		{"Jane", "Doe", "jane.doe"},
		{"  Mary Ann ", "O'Neil-Smith", "mary.ann.o.neil.smith"},
		{"José", "Núñez", "jose.nunez"},
		{"R2", "D2", "r2.d2"},
		{"", "Doe", "doe"},
		{"!!!", "???", "patient"},
		{"", "", "patient"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := DeriveUsername(tt.given, tt.family)
			assert.Equal(t, tt.want, got)
			require.NoError(t, identity.ValidateUsername(got))
		})
	}
}

func TestDeriveUsername_TruncatesLongNames(t *testing.T) {
	got := DeriveUsername(strings.Repeat("a", 80), "Doe")
	assert.LessOrEqual(t, len(got), maxBaseLength)
	assert.False(t, strings.HasSuffix(got, UsernameSeparator))
}

func TestRandomUsername(t *testing.T) {
	a, err := randomUsername("jane.doe", 1)
	require.NoError(t, err)
	b, err := randomUsername("jane.doe", 2)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "jane.doe."))
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), identity.MaxUsernameLength)
}

func TestTemporaryPassword(t *testing.T) {
	policy := identity.DefaultPolicy()
	born := time.Date(1990, time.March, 4, 0, 0, 0, 0, time.UTC)

	t.Run("first name, birth year and three digits", func(t *testing.T) {
		pw, err := TemporaryPassword("Jane", &born, policy)
		require.NoError(t, err)
		defer pw.Destroy()

		assert.Regexp(t, regexp.MustCompile(`^Jane1990\d{3}$`), pw.Reveal())
	})

	t.Run("pads short results with digits", func(t *testing.T) {
		pw, err := TemporaryPassword("Al", nil, policy)
		require.NoError(t, err)
		defer pw.Destroy()

		assert.Regexp(t, regexp.MustCompile(`^Al\d{6}$`), pw.Reveal())
	})

	t.Run("names without letters still satisfy policy", func(t *testing.T) {
		pw, err := TemporaryPassword("123 !!", nil, policy)
		require.NoError(t, err)
		defer pw.Destroy()

		assert.True(t, strings.HasPrefix(pw.Reveal(), "Patient"))
		assert.NoError(t, policy.Validate(pw))
	})

	t.Run("honours a longer policy", func(t *testing.T) {
		strict := identity.Policy{MinLength: 16}
		pw, err := TemporaryPassword("Jane", &born, strict)
		require.NoError(t, err)
		defer pw.Destroy()

		assert.Len(t, pw.Reveal(), 16)
	})

	t.Run("always satisfies policy", func(t *testing.T) {
		for _, name := range []string{"", "Ø", "Zoë", "x", "Bartholomew-Maximilian"} {
			pw, err := TemporaryPassword(name, &born, policy)
			require.NoError(t, err, name)
			assert.NoError(t, policy.Validate(pw), name)
			pw.Destroy()
		}
	})
}
