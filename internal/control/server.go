// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

// Package control serves the wardline admin API over a Unix socket.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/provision"
	"github.com/wardline/wardline/internal/xdg"
	"github.com/wardline/wardline/pkg/errutil"
)

// Error codes returned by the admin API in addition to domain codes.
const (
	CodeBadRequest      = "CONTROL_BAD_REQUEST"
	CodeUnauthenticated = "CONTROL_UNAUTHENTICATED"
	CodeNotFound        = "CONTROL_NOT_FOUND"
	CodeConflict        = "CONTROL_CONFLICT"
	CodeInternal        = "CONTROL_INTERNAL"
)

// SocketName is the control socket's file name inside the runtime directory.
const SocketName = "wardline.sock"

const maxBodyBytes = 64 << 10

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// Option configures a Server.
type Option func(*Server)

// WithSocketPath overrides the default socket location.
func WithSocketPath(path string) Option {
	return func(s *Server) { s.socketPath = path }
}

// WithShutdown sets the function POST /shutdown triggers.
func WithShutdown(fn ShutdownFunc) Option {
	return func(s *Server) { s.shutdownFunc = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server runs the admin API over a Unix socket.
type Server struct {
	dir          *identity.Directory
	workflow     *provision.Workflow
	logger       *slog.Logger
	startTime    time.Time
	socketPath   string
	shutdownFunc ShutdownFunc

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// SocketPath returns the default control socket path.
func SocketPath() (string, error) {
	runtimeDir, err := xdg.RuntimeDir()
	if err != nil {
		return "", oops.With("operation", "resolve control socket").Wrap(err)
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// NewServer creates an admin API server for dir and workflow.
func NewServer(dir *identity.Directory, workflow *provision.Workflow, opts ...Option) (*Server, error) {
	if dir == nil || workflow == nil {
		return nil, oops.Code("CONTROL_INVALID_CONFIG").Errorf("directory and workflow are required")
	}
	s := &Server{
		dir:       dir,
		workflow:  workflow,
		logger:    slog.New(slog.DiscardHandler),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the socket path, resolving the default if none was set.
func (s *Server) Path() (string, error) {
	if s.socketPath != "" {
		return s.socketPath, nil
	}
	return SocketPath()
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	mux.HandleFunc("POST /v1/authenticate", s.handleAuthenticate)
	mux.HandleFunc("POST /v1/password", s.handleChangePassword)
	mux.HandleFunc("GET /v1/lookup", s.handleLookup)

	mux.HandleFunc("POST /v1/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /v1/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /v1/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("DELETE /v1/accounts/{id}", s.handleDeleteAccount)
	mux.HandleFunc("POST /v1/accounts/{id}/activate", s.handleActivate)
	mux.HandleFunc("POST /v1/accounts/{id}/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /v1/accounts/{id}/password", s.handleResetPassword)
	mux.HandleFunc("PUT /v1/accounts/{id}/role", s.handleSetRole)
	mux.HandleFunc("PUT /v1/accounts/{id}/doctor", s.handleLinkDoctor)

	mux.HandleFunc("POST /v1/patients", s.handleProvision)
	mux.HandleFunc("POST /v1/patients/{id}/credential", s.handleTakeCredential)
	return mux
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return oops.Code("CONTROL_ALREADY_RUNNING").Errorf("control server already running")
	}
	socketPath, err := s.Path()
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.socketPath = socketPath

	if err := xdg.EnsureDir(filepath.Dir(socketPath)); err != nil {
		s.running.Store(false)
		return err
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		s.running.Store(false)
		return oops.Code("CONTROL_LISTEN_FAILED").With("path", socketPath).Wrapf(err, "remove stale socket")
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		s.running.Store(false)
		return oops.Code("CONTROL_LISTEN_FAILED").With("path", socketPath).Wrap(err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		s.running.Store(false)
		return oops.Code("CONTROL_LISTEN_FAILED").With("path", socketPath).Wrapf(err, "set socket permissions")
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", "error", err)
		}
	}()

	s.logger.Info("control server started", "path", socketPath)
	return nil
}

// Stop shuts the server down and removes the socket file. Stopping a
// stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.With("operation", "shutdown control server").Wrap(err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to close control listener", "error", err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove control socket", "path", s.socketPath, "error", err)
	}
	s.logger.Info("control server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, StatusResponse{
		Running:       true,
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Accounts:      s.dir.Len(),
		Pending:       s.workflow.Ledger().Len(),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, ShutdownResponse{Message: "shutdown initiated"})
	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	defer func() { req.Password.Destroy() }()
	if err := decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}

	acct, ok := s.dir.Authenticate(req.Username, req.Password.take())
	if !ok {
		s.reply(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication failed", Code: CodeUnauthenticated})
		return
	}
	s.reply(w, http.StatusOK, viewOf(acct))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	defer func() { req.CurrentPassword.Destroy() }()
	defer func() { req.NewPassword.Destroy() }()
	if err := decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}

	ok, err := s.dir.ChangePassword(req.Username, req.CurrentPassword.take(), req.NewPassword.take())
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		s.reply(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication failed", Code: CodeUnauthenticated})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		acct *identity.Account
		ok   bool
	)
	switch {
	case q.Get("username") != "":
		acct, ok = s.dir.FindByUsername(q.Get("username"))
	case q.Get("staff_number") != "":
		acct, ok = s.dir.FindByStaffNumber(q.Get("staff_number"))
	default:
		s.fail(w, oops.Code(CodeBadRequest).Errorf("username or staff_number is required"))
		return
	}
	if !ok {
		s.fail(w, notFound())
		return
	}
	s.reply(w, http.StatusOK, viewOf(acct))
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	defer func() { req.Password.Destroy() }()
	if err := decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}

	acct, err := s.dir.CreateAccount(req.Username, req.Password.take(), role)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusCreated, viewOf(acct))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status identity.Status
	switch q.Get("status") {
	case "":
	case "active":
		status = identity.StatusActive
	case "inactive":
		status = identity.StatusInactive
	default:
		s.fail(w, oops.Code(CodeBadRequest).With("status", q.Get("status")).Errorf("status must be 'active' or 'inactive'"))
		return
	}

	var accounts []*identity.Account
	if q.Get("role") == "" {
		accounts = s.dir.ListAll()
	} else {
		role, err := identity.ParseRole(q.Get("role"))
		if err != nil {
			s.fail(w, err)
			return
		}
		if status == identity.StatusInactive {
			accounts = s.dir.ListDeactivated(role)
		} else {
			accounts = s.dir.ListByRole(role)
		}
	}

	var match glob.Glob
	if pattern := q.Get("match"); pattern != "" {
		g, err := glob.Compile(identity.CanonicalUsername(pattern))
		if err != nil {
			s.fail(w, oops.Code(CodeBadRequest).With("match", pattern).Wrapf(err, "invalid username pattern"))
			return
		}
		match = g
	}

	kept := accounts[:0]
	for _, a := range accounts {
		if status != "" && a.Status != status {
			continue
		}
		if match != nil && !match.Match(a.Canonical()) {
			continue
		}
		kept = append(kept, a)
	}
	s.reply(w, http.StatusOK, viewsOf(kept))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	acct, ok := s.dir.FindByID(id)
	if !ok {
		s.fail(w, notFound())
		return
	}
	s.reply(w, http.StatusOK, viewOf(acct))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !s.dir.DeleteByID(id) {
		s.fail(w, notFound())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.dir.Activate)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.dir.Deactivate)
}

// transition applies a status change and replies with the updated account.
// A refused change on an existing account is a conflict.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, apply func(ulid.ULID) bool) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !apply(id) {
		if _, exists := s.dir.FindByID(id); exists {
			s.fail(w, oops.Code(CodeConflict).With("id", id.String()).Errorf("account status cannot be changed"))
			return
		}
		s.fail(w, notFound())
		return
	}
	s.replyAccount(w, id)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	defer func() { req.Password.Destroy() }()
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}

	ok, err := s.dir.ResetPassword(id, req.Password.take())
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		s.fail(w, notFound())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req RoleRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !s.dir.UpdateRole(id, role) {
		s.fail(w, notFound())
		return
	}
	s.replyAccount(w, id)
}

func (s *Server) handleLinkDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req LinkDoctorRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.DoctorID == "" {
		s.fail(w, oops.Code(CodeBadRequest).Errorf("doctor_id is required"))
		return
	}
	if !s.dir.LinkDoctor(id, req.DoctorID) {
		s.fail(w, notFound())
		return
	}
	s.replyAccount(w, id)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, err)
		return
	}
	subject := provision.Subject{
		ID:         req.PatientID,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
	}
	if req.BirthDate != "" {
		born, err := time.Parse(time.DateOnly, req.BirthDate)
		if err != nil {
			s.fail(w, oops.Code(CodeBadRequest).With("birth_date", req.BirthDate).Wrapf(err, "birth_date must be YYYY-MM-DD"))
			return
		}
		subject.BirthDate = &born
	}

	acct, err := s.workflow.Provision(subject)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusCreated, viewOf(acct))
}

func (s *Server) handleTakeCredential(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.workflow.Ledger().Take(r.PathValue("id"))
	if !ok {
		s.fail(w, notFound())
		return
	}
	defer cred.Destroy()

	w.Header().Set("Cache-Control", "no-store")
	s.reply(w, http.StatusOK, CredentialResponse{
		AccountID:         cred.AccountID.String(),
		Username:          cred.Username,
		TemporaryPassword: cred.TemporaryPassword.Reveal(),
		IssuedAt:          cred.IssuedAt,
	})
}

func (s *Server) replyAccount(w http.ResponseWriter, id ulid.ULID) {
	acct, ok := s.dir.FindByID(id)
	if !ok {
		s.fail(w, notFound())
		return
	}
	s.reply(w, http.StatusOK, viewOf(acct))
}

func (s *Server) reply(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Error("failed to write control response", "status", status, "error", err)
	}
}

// fail maps err onto a status code and error body.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status, resp := classify(err)
	if status == http.StatusInternalServerError {
		errutil.LogError(s.logger, "control request failed", err)
	}
	s.reply(w, status, resp)
}

func classify(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error(), Code: errutil.Code(err)}

	var violation *identity.PolicyViolation
	switch {
	case errors.As(err, &violation):
		resp.Code = identity.CodePolicyViolation
		for _, reason := range violation.Reasons {
			resp.Reasons = append(resp.Reasons, string(reason))
		}
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, identity.ErrDuplicateUsername):
		return http.StatusConflict, resp
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, resp
	}

	switch resp.Code {
	case CodeBadRequest, identity.CodeInvalidUsername, identity.CodeInvalidRole, "PROVISION_INVALID_SUBJECT":
		return http.StatusBadRequest, resp
	case CodeConflict:
		return http.StatusConflict, resp
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal}
}

func notFound() error {
	return oops.Code(CodeNotFound).Wrap(identity.ErrNotFound)
}

func pathID(r *http.Request) (ulid.ULID, error) {
	id, err := identity.ParseID(r.PathValue("id"))
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeBadRequest).Wrap(err)
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return oops.Code(CodeBadRequest).Wrapf(err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.With("operation", "encode response").Wrap(err)
	}
	return nil
}
