// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/secret"
)

// MinPasswordLength is the floor for Policy.MinLength.
const MinPasswordLength = 8

// Reason categorises a policy failure.
type Reason string

// Policy failure reasons.
const (
	ReasonTooShort     Reason = "too_short"
	ReasonMissingClass Reason = "missing_character_class"
)

// PolicyViolation describes why a password was rejected.
// It never carries the password itself.
type PolicyViolation struct {
	Reasons []Reason
}

func (e *PolicyViolation) Error() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		switch r {
		case ReasonTooShort:
			msgs = append(msgs, "password is too short")
		case ReasonMissingClass:
			msgs = append(msgs, "password must contain at least one letter and one digit")
		default:
			msgs = append(msgs, string(r))
		}
	}
	return strings.Join(msgs, "; ")
}

// Is matches ErrPolicyViolation.
func (e *PolicyViolation) Is(target error) bool {
	return target == ErrPolicyViolation
}

// Has reports whether r is among the violation's reasons.
func (e *PolicyViolation) Has(r Reason) bool {
	for _, got := range e.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// Policy holds the password strength rules.
type Policy struct {
	// MinLength is the minimum length in characters, never below MinPasswordLength.
	MinLength int
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{MinLength: MinPasswordLength}
}

// RequiredLength returns the effective minimum length.
func (p Policy) RequiredLength() int {
	if p.MinLength < MinPasswordLength {
		return MinPasswordLength
	}
	return p.MinLength
}

// Validate checks pw against the policy. It does not take ownership of pw.
func (p Policy) Validate(pw *secret.Secret) error {
	var reasons []Reason

	var length int
	var hasLetter, hasDigit bool
	b := pw.Bytes()
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		length++
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if length < p.RequiredLength() {
		reasons = append(reasons, ReasonTooShort)
	}
	if !hasLetter || !hasDigit {
		reasons = append(reasons, ReasonMissingClass)
	}

	if len(reasons) == 0 {
		return nil
	}
	return oops.Code(CodePolicyViolation).
		With("reasons", reasons).
		Wrap(&PolicyViolation{Reasons: reasons})
}
