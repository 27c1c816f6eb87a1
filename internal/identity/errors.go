// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

import "errors"

// Error codes attached to oops errors returned by this package.
const (
	CodeDuplicateUsername    = "IDENTITY_DUPLICATE_USERNAME"
	CodeDuplicateID          = "IDENTITY_DUPLICATE_ID"
	CodeDuplicateStaffNumber = "IDENTITY_DUPLICATE_STAFF_NUMBER"
	CodePolicyViolation      = "IDENTITY_POLICY_VIOLATION"
	CodeMalformedRecord      = "IDENTITY_MALFORMED_RECORD"
	CodeInvalidUsername      = "IDENTITY_INVALID_USERNAME"
	CodeInvalidRole          = "IDENTITY_INVALID_ROLE"
	CodeHashFailed           = "IDENTITY_HASH_FAILED"
)

var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUsername is returned when the canonical username is taken.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrPolicyViolation is matched by every *PolicyViolation.
	ErrPolicyViolation = errors.New("password policy violation")

	// ErrMalformedRecord is returned when a password record cannot be parsed.
	ErrMalformedRecord = errors.New("malformed password record")
)
