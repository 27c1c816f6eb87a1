// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxUsernameLength bounds the trimmed username length in characters.
const MaxUsernameLength = 64

// Role is the closed set of account roles.
type Role string

// Account roles.
const (
	RoleAdmin   Role = "ADMIN"
	RoleDoctor  Role = "DOCTOR"
	RoleStaff   Role = "STAFF"
	RolePatient Role = "PATIENT"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleDoctor, RoleStaff, RolePatient}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleStaff, RolePatient:
		return true
	}
	return false
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.Code(CodeInvalidRole).With("role", s).Errorf("unknown role %q", s)
	}
	return r, nil
}

// Status is the account lifecycle state.
type Status string

// Lifecycle states.
const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Account is a user account. Values handed out by the directory are copies;
// mutating them has no effect on the directory.
type Account struct {
	ID              ulid.ULID
	Username        string
	PasswordRecord  string
	Role            Role
	Status          Status
	StaffNumber     string
	LinkedPatientID *string
	LinkedDoctorID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanonicalUsername returns the uniqueness key for a username.
func CanonicalUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Canonical returns the account's canonical username.
func (a *Account) Canonical() string {
	return CanonicalUsername(a.Username)
}

// IsActive reports whether the account may authenticate.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// HasStaffNumber reports whether a staff number was issued.
func (a *Account) HasStaffNumber() bool {
	return a.StaffNumber != ""
}

func (a *Account) clone() *Account {
	cp := *a
	if a.LinkedPatientID != nil {
		v := *a.LinkedPatientID
		cp.LinkedPatientID = &v
	}
	if a.LinkedDoctorID != nil {
		v := *a.LinkedDoctorID
		cp.LinkedDoctorID = &v
	}
	return &cp
}

// ValidateUsername checks the trimmed username is non-empty, bounded and
// free of whitespace and control characters.
func ValidateUsername(username string) error {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if n := len([]rune(trimmed)); n > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	for _, r := range trimmed {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return oops.Code(CodeInvalidUsername).
				Errorf("username must not contain whitespace or control characters")
		}
	}
	return nil
}

// Store is the contract a persistent backend for the directory satisfies.
// Usernames passed to GetByUsername are canonical.
type Store interface {
	// Insert stores a new account. Returns ErrDuplicateUsername if the
	// canonical username is taken.
	Insert(ctx context.Context, account *Account) error

	// Update replaces an existing account. Returns ErrNotFound if absent.
	Update(ctx context.Context, account *Account) error

	// Delete removes an account. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id ulid.ULID) error

	// GetByUsername looks up an account by canonical username.
	GetByUsername(ctx context.Context, canonical string) (*Account, error)

	// List returns every stored account.
	List(ctx context.Context) ([]*Account, error)
}
