// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Authentication outcomes. Failures share one label so metrics do not
// distinguish unknown users from wrong passwords.
const (
	AuthSuccess = "success"
	AuthFailure = "failure"
)

// AccountsCreated counts accounts created by role.
// Use RegisterMetrics to register this with a Prometheus registry.
var AccountsCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wardline_identity_accounts_created_total",
		Help: "Total number of accounts created by role",
	},
	[]string{"role"},
)

// AuthAttempts counts authentication attempts by outcome.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wardline_identity_auth_attempts_total",
		Help: "Total number of authentication attempts by outcome",
	},
	[]string{"outcome"},
)

// PasswordChanges counts password changes and administrative resets.
var PasswordChanges = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wardline_identity_password_changes_total",
		Help: "Total number of password changes by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

// RegisterMetrics registers identity metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AccountsCreated)
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(PasswordChanges)
}

func recordAuth(ok bool) {
	if ok {
		AuthAttempts.WithLabelValues(AuthSuccess).Inc()
		return
	}
	AuthAttempts.WithLabelValues(AuthFailure).Inc()
}

func recordPasswordChange(kind string, ok bool) {
	outcome := AuthFailure
	if ok {
		outcome = AuthSuccess
	}
	PasswordChanges.WithLabelValues(kind, outcome).Inc()
}
