// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

// Package provision creates login accounts for newly registered patients.
package provision

import (
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/secret"
	"github.com/wardline/wardline/pkg/errutil"
)

const (
	// DefaultMaxNumberedAttempts bounds numbered username candidates before
	// falling back to random suffixes.
	DefaultMaxNumberedAttempts = 1000

	// randomAttempts bounds random-suffix candidates.
	randomAttempts = 8
)

// Provisioning outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Provisioned counts provisioning attempts by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Provisioned = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wardline_provision_accounts_total",
		Help: "Total number of patient account provisioning attempts by outcome",
	},
	[]string{"outcome"},
)

// RegisterMetrics registers provisioning metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Provisioned)
}

// Subject is a newly created patient-like entity.
type Subject struct {
	ID         string
	GivenName  string
	FamilyName string
	BirthDate  *time.Time
}

// Directory is the part of identity.Directory the workflow uses.
type Directory interface {
	FindByUsername(username string) (*identity.Account, bool)
	CreateAccount(username string, pw *secret.Secret, role identity.Role) (*identity.Account, error)
	LinkPatient(id ulid.ULID, patientID string) bool
	DeleteByID(id ulid.ULID) bool
	NextSequence() uint64
}

// Workflow provisions PATIENT accounts.
type Workflow struct {
	dir         Directory
	ledger      *Ledger
	policy      identity.Policy
	logger      *slog.Logger
	maxNumbered int
	now         func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithPolicy sets the policy temporary passwords are generated for. It must
// match the directory's policy.
func WithPolicy(p identity.Policy) Option {
	return func(w *Workflow) { w.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxNumberedAttempts overrides DefaultMaxNumberedAttempts.
func WithMaxNumberedAttempts(n int) Option {
	return func(w *Workflow) {
		if n >= 0 {
			w.maxNumbered = n
		}
	}
}

// NewWorkflow creates a Workflow.
func NewWorkflow(dir Directory, ledger *Ledger, opts ...Option) (*Workflow, error) {
	if dir == nil {
		return nil, oops.Code("PROVISION_INVALID_CONFIG").Errorf("directory is required")
	}
	if ledger == nil {
		return nil, oops.Code("PROVISION_INVALID_CONFIG").Errorf("credential ledger is required")
	}
	w := &Workflow{
		dir:         dir,
		ledger:      ledger,
		policy:      identity.DefaultPolicy(),
		logger:      slog.New(slog.DiscardHandler),
		maxNumbered: DefaultMaxNumberedAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Ledger returns the credential ledger.
func (w *Workflow) Ledger() *Ledger {
	return w.ledger
}

// Provision creates and links a PATIENT account for subject and records its
// temporary credential in the ledger. On failure no credential for subject
// remains in the ledger.
func (w *Workflow) Provision(subject Subject) (*identity.Account, error) {
	acct, err := w.provision(subject)
	if err != nil {
		w.ledger.Discard(subject.ID)
		Provisioned.WithLabelValues(OutcomeFailure).Inc()
		return nil, err
	}
	Provisioned.WithLabelValues(OutcomeSuccess).Inc()
	w.logger.Info("patient account provisioned",
		"subject_id", subject.ID,
		"account_id", acct.ID.String(),
		"username", acct.Username,
	)
	return acct, nil
}

// OnPatientCreated provisions an account for a patient the caller has
// already stored. Failure is logged and otherwise ignored so the patient's
// own creation is unaffected.
func (w *Workflow) OnPatientCreated(subject Subject) *identity.Account {
	acct, err := w.Provision(subject)
	if err != nil {
		errutil.LogError(w.logger, "patient account provisioning failed", err, "subject_id", subject.ID)
		return nil
	}
	return acct
}

func (w *Workflow) provision(subject Subject) (*identity.Account, error) {
	if subject.ID == "" {
		return nil, oops.Code("PROVISION_INVALID_SUBJECT").Errorf("subject id is required")
	}

	temp, err := TemporaryPassword(subject.GivenName, subject.BirthDate, w.policy)
	if err != nil {
		return nil, oops.Code("PROVISION_PASSWORD_FAILED").With("subject_id", subject.ID).Wrap(err)
	}
	defer temp.Destroy()

	acct, err := w.createWithUniqueUsername(DeriveUsername(subject.GivenName, subject.FamilyName), temp)
	if err != nil {
		return nil, oops.With("subject_id", subject.ID).Wrap(err)
	}

	if !w.dir.LinkPatient(acct.ID, subject.ID) {
		w.dir.DeleteByID(acct.ID)
		return nil, oops.Code("PROVISION_LINK_FAILED").
			With("subject_id", subject.ID).
			With("account_id", acct.ID.String()).
			Errorf("account disappeared before it could be linked")
	}
	acct.LinkedPatientID = &subject.ID

	w.ledger.Put(&ProvisionedCredential{
		SubjectID:         subject.ID,
		AccountID:         acct.ID,
		Username:          acct.Username,
		TemporaryPassword: temp.Clone(),
		IssuedAt:          w.now(),
	})
	return acct, nil
}

// createWithUniqueUsername tries base, base1, base2, ... and then random
// suffixes until the directory accepts one. temp is not consumed.
func (w *Workflow) createWithUniqueUsername(base string, temp *secret.Secret) (*identity.Account, error) {
	try := func(candidate string) (*identity.Account, bool, error) {
		if _, taken := w.dir.FindByUsername(candidate); taken {
			return nil, false, nil
		}
		acct, err := w.dir.CreateAccount(candidate, temp.Clone(), identity.RolePatient)
		if errors.Is(err, identity.ErrDuplicateUsername) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return acct, true, nil
	}

	for n := 0; n <= w.maxNumbered; n++ {
		acct, ok, err := try(numberedUsername(base, n))
		if err != nil {
			return nil, err
		}
		if ok {
			return acct, nil
		}
	}

	for range randomAttempts {
		candidate, err := randomUsername(base, w.dir.NextSequence())
		if err != nil {
			return nil, err
		}
		acct, ok, err := try(candidate)
		if err != nil {
			return nil, err
		}
		if ok {
			return acct, nil
		}
	}

	return nil, oops.Code("PROVISION_USERNAME_EXHAUSTED").
		With("base", base).
		Errorf("no free username found")
}
