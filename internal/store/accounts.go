// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

// Package store persists directory accounts in PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/identity"
)

// poolIface is the part of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it too.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var _ poolIface = (*pgxpool.Pool)(nil)

const accountColumns = `id, username, password_record, role, status,
	       staff_number, linked_patient_id, linked_doctor_id,
	       created_at, updated_at`

// AccountStore implements identity.Store on PostgreSQL.
type AccountStore struct {
	pool poolIface
}

var _ identity.Store = (*AccountStore)(nil)

// NewAccountStore creates an AccountStore over pool.
func NewAccountStore(pool poolIface) *AccountStore {
	return &AccountStore{pool: pool}
}

// Connect opens a pool for databaseURL and checks it is reachable.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// Ping checks the database is reachable.
func (s *AccountStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Insert stores a new account.
func (s *AccountStore) Insert(ctx context.Context, a *identity.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, username, username_canonical, password_record, role, status,
			staff_number, linked_patient_id, linked_doctor_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID.String(),
		a.Username,
		a.Canonical(),
		a.PasswordRecord,
		string(a.Role),
		string(a.Status),
		nullable(a.StaffNumber),
		a.LinkedPatientID,
		a.LinkedDoctorID,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code(identity.CodeDuplicateUsername).
			With("username", a.Username).
			Wrap(identity.ErrDuplicateUsername)
	}
	if err != nil {
		return oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "insert account").
			With("id", a.ID.String()).
			Wrap(err)
	}
	return nil
}

// Update replaces every mutable column of an existing account.
func (s *AccountStore) Update(ctx context.Context, a *identity.Account) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET
			username = $2,
			username_canonical = $3,
			password_record = $4,
			role = $5,
			status = $6,
			staff_number = $7,
			linked_patient_id = $8,
			linked_doctor_id = $9,
			updated_at = $10
		WHERE id = $1
	`,
		a.ID.String(),
		a.Username,
		a.Canonical(),
		a.PasswordRecord,
		string(a.Role),
		string(a.Status),
		nullable(a.StaffNumber),
		a.LinkedPatientID,
		a.LinkedDoctorID,
		a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code(identity.CodeDuplicateUsername).
			With("username", a.Username).
			Wrap(identity.ErrDuplicateUsername)
	}
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", a.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", a.ID.String()).Wrap(identity.ErrNotFound)
	}
	return nil
}

// Delete removes an account.
func (s *AccountStore) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "delete account").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(identity.ErrNotFound)
	}
	return nil
}

// GetByUsername looks an account up by canonical username.
func (s *AccountStore) GetByUsername(ctx context.Context, canonical string) (*identity.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE username_canonical = $1
	`, canonical)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("username", canonical).Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get account by username").With("username", canonical).Wrap(err)
	}
	return a, nil
}

// List returns every account ordered by id.
func (s *AccountStore) List(ctx context.Context) ([]*identity.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "list accounts").Wrap(err)
	}
	defer rows.Close()

	var out []*identity.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "scan account row").Wrap(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "iterate accounts").Wrap(err)
	}
	return out, nil
}

// scanAccount reads one row in accountColumns order. pgx.ErrNoRows is
// returned unwrapped.
func scanAccount(row pgx.Row) (*identity.Account, error) {
	var (
		idStr, username, record, role, status string
		staffNumber, patientID, doctorID      *string
		createdAt, updatedAt                  time.Time
	)
	err := row.Scan(&idStr, &username, &record, &role, &status,
		&staffNumber, &patientID, &doctorID, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err //nolint:wrapcheck // callers add lookup context
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	r := identity.Role(role)
	if !r.Valid() {
		return nil, oops.Code(identity.CodeInvalidRole).With("id", idStr).With("role", role).Errorf("unknown role %q", role)
	}

	a := &identity.Account{
		ID:              id,
		Username:        username,
		PasswordRecord:  record,
		Role:            r,
		Status:          identity.Status(status),
		LinkedPatientID: patientID,
		LinkedDoctorID:  doctorID,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
	if staffNumber != nil {
		a.StaffNumber = *staffNumber
	}
	return a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
