// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package control

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/secret"
)

// Password is a JSON string decoded directly into a secret. Its zero value
// holds no secret.
type Password struct {
	*secret.Secret
}

// UnmarshalJSON copies an unescaped JSON string into a fresh buffer without
// an intermediate Go string. Escaped strings fall back to the standard
// decoder.
func (p *Password) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return oops.Code("CONTROL_BAD_REQUEST").Errorf("password must be a JSON string")
	}
	inner := b[1 : len(b)-1]
	if bytes.IndexByte(inner, '\\') < 0 {
		p.Secret = secret.New(bytes.Clone(inner))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return oops.Code("CONTROL_BAD_REQUEST").Wrap(err)
	}
	p.Secret = secret.FromString(s)
	return nil
}

// MarshalJSON writes the plaintext. Password is a wire type; it still
// formats as redacted through fmt and slog.
func (p Password) MarshalJSON() ([]byte, error) {
	if p.Secret == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p.Reveal())
}

// NewPassword wraps s for sending. The request owns s afterwards.
func NewPassword(s *secret.Secret) Password {
	return Password{Secret: s}
}

// take hands ownership of the secret to the caller, leaving p empty.
// A missing password becomes an empty secret.
func (p *Password) take() *secret.Secret {
	s := p.Secret
	p.Secret = nil
	if s == nil {
		return secret.New(nil)
	}
	return s
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Running       bool  `json:"running"`
	PID           int   `json:"pid"`
	UptimeSeconds int64 `json:"uptime_seconds"`
	Accounts      int   `json:"accounts"`
	Pending       int   `json:"pending_credentials"`
}

// ShutdownResponse is returned by POST /shutdown.
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ErrorResponse carries a failure. Reasons lists policy violations.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// AuthenticateRequest is the body of POST /v1/authenticate.
type AuthenticateRequest struct {
	Username string   `json:"username"`
	Password Password `json:"password"`
}

// CreateAccountRequest is the body of POST /v1/accounts.
type CreateAccountRequest struct {
	Username string   `json:"username"`
	Password Password `json:"password"`
	Role     string   `json:"role"`
}

// ChangePasswordRequest is the body of POST /v1/password.
type ChangePasswordRequest struct {
	Username        string   `json:"username"`
	CurrentPassword Password `json:"current_password"`
	NewPassword     Password `json:"new_password"`
}

// ResetPasswordRequest is the body of POST /v1/accounts/{id}/password.
type ResetPasswordRequest struct {
	Password Password `json:"password"`
}

// RoleRequest is the body of PUT /v1/accounts/{id}/role.
type RoleRequest struct {
	Role string `json:"role"`
}

// LinkDoctorRequest is the body of PUT /v1/accounts/{id}/doctor.
type LinkDoctorRequest struct {
	DoctorID string `json:"doctor_id"`
}

// ProvisionRequest is the body of POST /v1/patients.
type ProvisionRequest struct {
	PatientID  string `json:"patient_id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	// BirthDate is YYYY-MM-DD.
	BirthDate string `json:"birth_date,omitempty"`
}

// CredentialResponse is returned once by POST /v1/patients/{id}/credential.
type CredentialResponse struct {
	AccountID         string    `json:"account_id"`
	Username          string    `json:"username"`
	TemporaryPassword string    `json:"temporary_password"`
	IssuedAt          time.Time `json:"issued_at"`
}

// AccountView is the public shape of an account. It never includes the
// password record.
type AccountView struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Role            string    `json:"role"`
	Status          string    `json:"status"`
	StaffNumber     string    `json:"staff_number,omitempty"`
	LinkedPatientID *string   `json:"linked_patient_id,omitempty"`
	LinkedDoctorID  *string   `json:"linked_doctor_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func viewOf(a *identity.Account) AccountView {
	return AccountView{
		ID:              a.ID.String(),
		Username:        a.Username,
		Role:            string(a.Role),
		Status:          string(a.Status),
		StaffNumber:     a.StaffNumber,
		LinkedPatientID: a.LinkedPatientID,
		LinkedDoctorID:  a.LinkedDoctorID,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func viewsOf(accounts []*identity.Account) []AccountView {
	out := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, viewOf(a))
	}
	return out
}
