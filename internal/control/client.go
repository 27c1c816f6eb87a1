// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/secret"
)

// clientTimeout bounds a single admin request. Password operations run a
// full key derivation on the server.
const clientTimeout = 30 * time.Second

// Client calls the admin API. Methods that accept a *secret.Secret take
// ownership of it.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server listening on socketPath.
func NewClient(socketPath string) *Client {
	return newClient("http://wardline", &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: clientTimeout,
	})
}

func newClient(base string, hc *http.Client) *Client {
	return &Client{base: base, http: hc}
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	return out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	return out, c.do(ctx, http.MethodGet, "/status", nil, &out)
}

// Shutdown asks the server to stop.
func (c *Client) Shutdown(ctx context.Context) (ShutdownResponse, error) {
	var out ShutdownResponse
	return out, c.do(ctx, http.MethodPost, "/shutdown", nil, &out)
}

// Authenticate checks a username and password.
func (c *Client) Authenticate(ctx context.Context, username string, pw *secret.Secret) (AccountView, error) {
	var out AccountView
	req := AuthenticateRequest{Username: username, Password: NewPassword(pw)}
	defer func() { req.Password.Destroy() }()
	return out, c.do(ctx, http.MethodPost, "/v1/authenticate", req, &out)
}

// ChangePassword replaces a password after re-authenticating with current.
func (c *Client) ChangePassword(ctx context.Context, username string, current, next *secret.Secret) error {
	req := ChangePasswordRequest{
		Username:        username,
		CurrentPassword: NewPassword(current),
		NewPassword:     NewPassword(next),
	}
	defer func() {
		req.CurrentPassword.Destroy()
		req.NewPassword.Destroy()
	}()
	return c.do(ctx, http.MethodPost, "/v1/password", req, nil)
}

// CreateAccount creates an account.
func (c *Client) CreateAccount(ctx context.Context, username string, pw *secret.Secret, role string) (AccountView, error) {
	var out AccountView
	req := CreateAccountRequest{Username: username, Password: NewPassword(pw), Role: role}
	defer func() { req.Password.Destroy() }()
	return out, c.do(ctx, http.MethodPost, "/v1/accounts", req, &out)
}

// ListFilter narrows ListAccounts. Zero fields match everything.
type ListFilter struct {
	Role string
	// Status is "active" or "inactive".
	Status string
	// Match is a glob over canonical usernames, such as "jane.*".
	Match string
}

// ListAccounts lists accounts in creation order.
func (c *Client) ListAccounts(ctx context.Context, f ListFilter) ([]AccountView, error) {
	q := url.Values{}
	for key, val := range map[string]string{"role": f.Role, "status": f.Status, "match": f.Match} {
		if val != "" {
			q.Set(key, val)
		}
	}
	path := "/v1/accounts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []AccountView
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// GetAccount fetches an account by id.
func (c *Client) GetAccount(ctx context.Context, id string) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(id), nil, &out)
}

// LookupUsername fetches an account by username.
func (c *Client) LookupUsername(ctx context.Context, username string) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodGet, "/v1/lookup?"+url.Values{"username": {username}}.Encode(), nil, &out)
}

// LookupStaffNumber fetches an account by staff number.
func (c *Client) LookupStaffNumber(ctx context.Context, number string) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodGet, "/v1/lookup?"+url.Values{"staff_number": {number}}.Encode(), nil, &out)
}

// Activate marks an account ACTIVE.
func (c *Client) Activate(ctx context.Context, id string) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(id)+"/activate", nil, &out)
}

// Deactivate marks an account INACTIVE.
func (c *Client) Deactivate(ctx context.Context, id string) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(id)+"/deactivate", nil, &out)
}

// ResetPassword sets a password without the current one.
func (c *Client) ResetPassword(ctx context.Context, id string, pw *secret.Secret) error {
	req := ResetPasswordRequest{Password: NewPassword(pw)}
	defer func() { req.Password.Destroy() }()
	return c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(id)+"/password", req, nil)
}

// SetRole changes an account's role.
func (c *Client) SetRole(ctx context.Context, id, role string) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodPut, "/v1/accounts/"+url.PathEscape(id)+"/role", RoleRequest{Role: role}, &out)
}

// LinkDoctor links an account to a doctor.
func (c *Client) LinkDoctor(ctx context.Context, id, doctorID string) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodPut, "/v1/accounts/"+url.PathEscape(id)+"/doctor", LinkDoctorRequest{DoctorID: doctorID}, &out)
}

// DeleteAccount removes an account.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/accounts/"+url.PathEscape(id), nil, nil)
}

// Provision creates a PATIENT account for a patient.
func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (AccountView, error) {
	var out AccountView
	return out, c.do(ctx, http.MethodPost, "/v1/patients", req, &out)
}

// TakeCredential fetches a patient's temporary credential. The server
// forgets it once returned.
func (c *Client) TakeCredential(ctx context.Context, patientID string) (CredentialResponse, error) {
	var out CredentialResponse
	return out, c.do(ctx, http.MethodPost, "/v1/patients/"+url.PathEscape(patientID)+"/credential", nil, &out)
}

// do sends body as JSON and decodes a 2xx response into out. Error
// responses become oops errors carrying the server's code, the HTTP status
// and any policy reasons. The encoded body is scrubbed after sending.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return oops.Code("CONTROL_ENCODE_FAILED").With("path", path).Wrap(err)
		}
		defer clear(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return oops.Code("CONTROL_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code("CONTROL_UNAVAILABLE").With("path", path).Wrapf(err, "connect to wardline")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		code := e.Code
		if code == "" {
			code = "CONTROL_REQUEST_FAILED"
		}
		return oops.Code(code).
			With("status", resp.StatusCode).
			With("reasons", e.Reasons).
			Errorf("%s", e.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.Code("CONTROL_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
