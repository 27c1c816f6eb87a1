// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/pkg/errutil"
)

func TestPolicy_Validate(t *testing.T) {
	policy := identity.DefaultPolicy()

	tests := []struct {
		name    string
		input   string
		reasons []identity.Reason
	}{
		{name: "letters and digits", input: "goodpw123"},
		{name: "exactly eight", input: "abcdefg1"},
		{name: "unicode letters count", input: "pässwörd9"},
		{name: "seven characters", input: "short1a", reasons: []identity.Reason{identity.ReasonTooShort}},
		{name: "six characters", input: "short1", reasons: []identity.Reason{identity.ReasonTooShort}},
		{name: "no digits", input: "alllettersnodigits", reasons: []identity.Reason{identity.ReasonMissingClass}},
		{name: "no letters", input: "1234567890", reasons: []identity.Reason{identity.ReasonMissingClass}},
		{name: "symbols only", input: "!!!!!!!!", reasons: []identity.Reason{identity.ReasonMissingClass}},
		{
			name:    "empty",
			input:   "",
			reasons: []identity.Reason{identity.ReasonTooShort, identity.ReasonMissingClass},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(pw(tt.input))
			if len(tt.reasons) == 0 {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			errutil.AssertErrorCode(t, err, identity.CodePolicyViolation)
			assert.True(t, errors.Is(err, identity.ErrPolicyViolation))

			var violation *identity.PolicyViolation
			require.True(t, errors.As(err, &violation))
			assert.Equal(t, tt.reasons, violation.Reasons)
			if tt.input != "" {
				assert.NotContains(t, err.Error(), tt.input, "error must not echo the password")
			}
		})
	}
}

func TestPolicy_MinLengthFloor(t *testing.T) {
	lax := identity.Policy{MinLength: 4}
	require.Error(t, lax.Validate(pw("abc12")), "floor of eight applies")

	strict := identity.Policy{MinLength: 12}
	err := strict.Validate(pw("goodpw123"))
	require.Error(t, err)

	var violation *identity.PolicyViolation
	require.True(t, errors.As(err, &violation))
	assert.True(t, violation.Has(identity.ReasonTooShort))
	assert.False(t, violation.Has(identity.ReasonMissingClass))
}

func TestPolicy_DoesNotConsumeSecret(t *testing.T) {
	s := pw("goodpw123")
	require.NoError(t, identity.DefaultPolicy().Validate(s))
	assert.False(t, s.IsDestroyed())
	s.Destroy()
}
