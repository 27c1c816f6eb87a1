// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

import (
	"hash/maphash"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardline/wardline/internal/secret"
)

const (
	shardCount = 64

	// staffNumberAttempts bounds re-rolls when a minted staff number is taken.
	staffNumberAttempts = 16
)

// Password change kinds used in metrics and logs.
const (
	changeKindUser  = "change"
	changeKindReset = "reset"
)

type shard struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// Directory is the concurrency-safe store of user accounts.
//
// Accounts are indexed by canonical username across independently locked
// shards; id and staff-number indexes resolve to the owning shard. Every
// mutation of an account happens under its shard's write lock and readers
// only ever receive copies taken under the read lock.
type Directory struct {
	shards  [shardCount]*shard
	seed    maphash.Seed
	byID    sync.Map // ulid.ULID -> canonical username
	byStaff sync.Map // staff number -> ulid.ULID
	seq     atomic.Uint64

	hasher   *Hasher
	policy   Policy
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	dummyOnce   sync.Once
	dummyRecord string
}

// Option configures a Directory.
type Option func(*Directory)

// WithHasher sets the password hasher.
func WithHasher(h *Hasher) Option {
	return func(d *Directory) {
		if h != nil {
			d.hasher = h
		}
	}
}

// WithPolicy sets the password policy.
func WithPolicy(p Policy) Option {
	return func(d *Directory) { d.policy = p }
}

// WithRecorder sets the observer of committed changes.
func WithRecorder(r Recorder) Option {
	return func(d *Directory) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDirectory creates an empty Directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		seed:     maphash.MakeSeed(),
		hasher:   NewHasher(DefaultIterations),
		policy:   DefaultPolicy(),
		recorder: nopRecorder{},
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for i := range d.shards {
		d.shards[i] = &shard{accounts: make(map[string]*Account)}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) shardFor(canonical string) *shard {
	return d.shards[maphash.String(d.seed, canonical)%shardCount]
}

// dummy returns a well-formed record that no caller-supplied password
// matches. Unknown usernames are verified against it so that lookups
// cost the same whether or not the account exists.
func (d *Directory) dummy() string {
	d.dummyOnce.Do(func() {
		filler := secret.New(ulid.Make().Bytes())
		defer filler.Destroy()
		record, err := d.hasher.Hash(filler)
		if err != nil {
			record = AlgorithmTag + "$1$AAAAAAAAAAAAAAAAAAAAAA==$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
		}
		d.dummyRecord = record
	})
	return d.dummyRecord
}

// NextSequence returns the next value of the directory's monotonic counter.
func (d *Directory) NextSequence() uint64 {
	return d.seq.Add(1)
}

// CreateAccount creates an ACTIVE account. It takes ownership of pw.
//
// Fails with ErrDuplicateUsername when the canonical username is taken and
// with a *PolicyViolation when pw is too weak. STAFF accounts receive a
// staff number.
func (d *Directory) CreateAccount(username string, pw *secret.Secret, role Role) (*Account, error) {
	defer pw.Destroy()

	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, oops.Code(CodeInvalidRole).With("role", role).Errorf("unknown role %q", role)
	}

	canonical := CanonicalUsername(username)
	if d.exists(canonical) {
		return nil, duplicate(canonical)
	}

	if err := d.policy.Validate(pw); err != nil {
		return nil, err
	}

	record, err := d.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}

	now := d.now()
	acct := &Account{
		ID:             NewID(),
		Username:       strings.TrimSpace(username),
		PasswordRecord: record,
		Role:           role,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if role == RoleStaff {
		number, err := d.reserveStaffNumber(acct.ID)
		if err != nil {
			return nil, err
		}
		acct.StaffNumber = number
	}

	sh := d.shardFor(canonical)
	sh.mu.Lock()
	if _, taken := sh.accounts[canonical]; taken {
		sh.mu.Unlock()
		d.releaseStaffNumber(acct)
		return nil, duplicate(canonical)
	}
	sh.accounts[canonical] = acct
	d.byID.Store(acct.ID, canonical)
	created := acct.clone()
	d.recorder.Record(Change{Kind: ChangeCreated, Account: created.clone()})
	sh.mu.Unlock()

	AccountsCreated.WithLabelValues(string(role)).Inc()
	d.logger.Info("account created",
		"account_id", created.ID.String(),
		"username", created.Username,
		"role", created.Role,
	)
	return created, nil
}

// Authenticate returns the account when the username exists, pw matches and
// the account is ACTIVE. It takes ownership of pw. All failures look the same.
func (d *Directory) Authenticate(username string, pw *secret.Secret) (*Account, bool) {
	defer pw.Destroy()

	acct, ok := d.verify(CanonicalUsername(username), pw)
	recordAuth(ok)
	if !ok {
		return nil, false
	}

	if d.hasher.NeedsRehash(acct.PasswordRecord) {
		d.rehash(acct, pw)
	}
	return acct, true
}

// verify checks pw against the stored record without consuming pw.
func (d *Directory) verify(canonical string, pw *secret.Secret) (*Account, bool) {
	acct := d.snapshot(canonical)

	record := d.dummy()
	if acct != nil {
		record = acct.PasswordRecord
	}
	matched := d.hasher.Verify(pw, record)

	if acct == nil {
		return nil, false
	}
	if !matched {
		if !IsWellFormed(acct.PasswordRecord) {
			d.logger.Warn("stored password record is malformed", "account_id", acct.ID.String())
		}
		d.logger.Debug("authentication failed", "account_id", acct.ID.String())
		return nil, false
	}
	if !acct.IsActive() {
		d.logger.Debug("authentication refused for inactive account", "account_id", acct.ID.String())
		return nil, false
	}
	return acct, true
}

// rehash upgrades acct's record to the current work factor if it has not
// changed since acct was read.
func (d *Directory) rehash(acct *Account, pw *secret.Secret) {
	record, err := d.hasher.Hash(pw)
	if err != nil {
		return
	}
	if d.swapRecord(acct.Canonical(), acct.ID, acct.PasswordRecord, record) {
		acct.PasswordRecord = record
		d.logger.Info("password record upgraded", "account_id", acct.ID.String(), "iterations", d.hasher.Iterations())
	}
}

// ChangePassword replaces the password after re-authenticating with current.
// It takes ownership of both secrets.
//
// Returns false with a nil error when re-authentication fails, without
// saying why. Returns a policy error when next is too weak.
func (d *Directory) ChangePassword(username string, current, next *secret.Secret) (bool, error) {
	defer current.Destroy()
	defer next.Destroy()

	acct, ok := d.verify(CanonicalUsername(username), current)
	if !ok {
		recordPasswordChange(changeKindUser, false)
		return false, nil
	}

	if err := d.policy.Validate(next); err != nil {
		recordPasswordChange(changeKindUser, false)
		return false, err
	}
	record, err := d.hasher.Hash(next)
	if err != nil {
		recordPasswordChange(changeKindUser, false)
		return false, err
	}

	// The account must still be active with the record current was checked against.
	ok = d.mutate(acct.ID, func(a *Account) bool {
		if a.PasswordRecord != acct.PasswordRecord || !a.IsActive() {
			return false
		}
		a.PasswordRecord = record
		return true
	})
	recordPasswordChange(changeKindUser, ok)
	if ok {
		d.logger.Info("password changed", "account_id", acct.ID.String())
	}
	return ok, nil
}

// ResetPassword sets a new password without checking the current one.
// It takes ownership of pw. Returns false if id is unknown.
func (d *Directory) ResetPassword(id ulid.ULID, pw *secret.Secret) (bool, error) {
	defer pw.Destroy()

	if _, ok := d.canonicalFor(id); !ok {
		recordPasswordChange(changeKindReset, false)
		return false, nil
	}
	if err := d.policy.Validate(pw); err != nil {
		recordPasswordChange(changeKindReset, false)
		return false, err
	}
	record, err := d.hasher.Hash(pw)
	if err != nil {
		recordPasswordChange(changeKindReset, false)
		return false, err
	}

	ok := d.mutate(id, func(a *Account) bool {
		a.PasswordRecord = record
		return true
	})
	recordPasswordChange(changeKindReset, ok)
	if ok {
		d.logger.Info("password reset", "account_id", id.String())
	}
	return ok, nil
}

// UpdateRole changes an account's role. Staff numbers are neither issued
// nor revoked by role changes.
func (d *Directory) UpdateRole(id ulid.ULID, role Role) bool {
	if !role.Valid() {
		return false
	}
	return d.mutate(id, func(a *Account) bool {
		a.Role = role
		return true
	})
}

// Activate marks an account ACTIVE.
func (d *Directory) Activate(id ulid.ULID) bool {
	return d.mutate(id, func(a *Account) bool {
		a.Status = StatusActive
		return true
	})
}

// Deactivate marks an account INACTIVE. ADMIN accounts cannot be deactivated.
func (d *Directory) Deactivate(id ulid.ULID) bool {
	ok := d.mutate(id, func(a *Account) bool {
		if a.Role == RoleAdmin {
			return false
		}
		a.Status = StatusInactive
		return true
	})
	if !ok {
		d.logger.Debug("deactivation refused", "account_id", id.String())
	}
	return ok
}

// LinkPatient records the patient an account belongs to.
func (d *Directory) LinkPatient(id ulid.ULID, patientID string) bool {
	return d.mutate(id, func(a *Account) bool {
		a.LinkedPatientID = &patientID
		return true
	})
}

// LinkDoctor records the doctor an account belongs to.
func (d *Directory) LinkDoctor(id ulid.ULID, doctorID string) bool {
	return d.mutate(id, func(a *Account) bool {
		a.LinkedDoctorID = &doctorID
		return true
	})
}

// DeleteByID removes an account. Linked domain entities are untouched.
func (d *Directory) DeleteByID(id ulid.ULID) bool {
	canonical, ok := d.canonicalFor(id)
	if !ok {
		return false
	}

	sh := d.shardFor(canonical)
	sh.mu.Lock()
	acct, ok := sh.accounts[canonical]
	if !ok || acct.ID != id {
		sh.mu.Unlock()
		return false
	}
	delete(sh.accounts, canonical)
	d.byID.CompareAndDelete(id, canonical)
	d.releaseStaffNumber(acct)
	d.recorder.Record(Change{Kind: ChangeDeleted, Account: acct.clone()})
	sh.mu.Unlock()

	d.logger.Info("account deleted", "account_id", id.String())
	return true
}

// FindByUsername looks an account up case-insensitively.
func (d *Directory) FindByUsername(username string) (*Account, bool) {
	acct := d.snapshot(CanonicalUsername(username))
	return acct, acct != nil
}

// FindByID looks an account up by id.
func (d *Directory) FindByID(id ulid.ULID) (*Account, bool) {
	canonical, ok := d.canonicalFor(id)
	if !ok {
		return nil, false
	}
	acct := d.snapshot(canonical)
	if acct == nil || acct.ID != id {
		return nil, false
	}
	return acct, true
}

// FindByStaffNumber looks an account up by exact staff number.
func (d *Directory) FindByStaffNumber(number string) (*Account, bool) {
	v, ok := d.byStaff.Load(number)
	if !ok {
		return nil, false
	}
	id, ok := v.(ulid.ULID)
	if !ok {
		return nil, false
	}
	return d.FindByID(id)
}

// ListAll returns every account ordered by id (creation order).
func (d *Directory) ListAll() []*Account {
	return d.collect(func(*Account) bool { return true })
}

// ListByRole returns the accounts with the given role.
func (d *Directory) ListByRole(role Role) []*Account {
	return d.collect(func(a *Account) bool { return a.Role == role })
}

// ListDeactivated returns the INACTIVE accounts with the given role.
func (d *Directory) ListDeactivated(role Role) []*Account {
	return d.collect(func(a *Account) bool {
		return a.Role == role && a.Status == StatusInactive
	})
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	n := 0
	for _, sh := range d.shards {
		sh.mu.RLock()
		n += len(sh.accounts)
		sh.mu.RUnlock()
	}
	return n
}

// Restore loads accounts from a backing store. Usernames, ids and staff
// numbers must be unique across the batch and the directory; when any is not,
// nothing is loaded. Restored accounts are not reported to the recorder.
func (d *Directory) Restore(accounts []*Account) error {
	batch := make([]*Account, 0, len(accounts))
	names := make(map[string]struct{}, len(accounts))
	ids := make(map[ulid.ULID]struct{}, len(accounts))
	staff := make(map[string]struct{})
	for _, a := range accounts {
		if a == nil {
			continue
		}
		if !IsWellFormed(a.PasswordRecord) {
			return oops.Code(CodeMalformedRecord).
				With("account_id", a.ID.String()).
				Wrap(ErrMalformedRecord)
		}
		canonical := a.Canonical()
		if _, dup := names[canonical]; dup || d.exists(canonical) {
			return duplicate(canonical)
		}
		if _, dup := ids[a.ID]; dup {
			return duplicateID(a.ID)
		}
		if _, taken := d.byID.Load(a.ID); taken {
			return duplicateID(a.ID)
		}
		if a.StaffNumber != "" {
			_, dup := staff[a.StaffNumber]
			if _, taken := d.byStaff.Load(a.StaffNumber); dup || taken {
				return duplicateStaffNumber(a.StaffNumber)
			}
			staff[a.StaffNumber] = struct{}{}
		}
		names[canonical] = struct{}{}
		ids[a.ID] = struct{}{}
		batch = append(batch, a.clone())
	}

	for i, acct := range batch {
		if err := d.restoreOne(acct); err != nil {
			for _, loaded := range batch[:i] {
				d.unrestore(loaded)
			}
			return err
		}
	}
	d.logger.Info("directory restored", "accounts", len(batch))
	return nil
}

// restoreOne inserts acct, failing if a concurrent write claimed any of its
// keys after Restore checked them.
func (d *Directory) restoreOne(acct *Account) error {
	canonical := acct.Canonical()
	sh := d.shardFor(canonical)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, taken := sh.accounts[canonical]; taken {
		return duplicate(canonical)
	}
	if _, taken := d.byID.LoadOrStore(acct.ID, canonical); taken {
		return duplicateID(acct.ID)
	}
	if acct.StaffNumber != "" {
		if _, taken := d.byStaff.LoadOrStore(acct.StaffNumber, acct.ID); taken {
			d.byID.CompareAndDelete(acct.ID, canonical)
			return duplicateStaffNumber(acct.StaffNumber)
		}
	}
	sh.accounts[canonical] = acct
	return nil
}

func (d *Directory) unrestore(acct *Account) {
	canonical := acct.Canonical()
	sh := d.shardFor(canonical)
	sh.mu.Lock()
	if cur, ok := sh.accounts[canonical]; ok && cur.ID == acct.ID {
		delete(sh.accounts, canonical)
	}
	sh.mu.Unlock()
	d.byID.CompareAndDelete(acct.ID, canonical)
	d.releaseStaffNumber(acct)
}

func (d *Directory) exists(canonical string) bool {
	sh := d.shardFor(canonical)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.accounts[canonical]
	return ok
}

func (d *Directory) snapshot(canonical string) *Account {
	sh := d.shardFor(canonical)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	acct, ok := sh.accounts[canonical]
	if !ok {
		return nil
	}
	return acct.clone()
}

func (d *Directory) canonicalFor(id ulid.ULID) (string, bool) {
	v, ok := d.byID.Load(id)
	if !ok {
		return "", false
	}
	canonical, ok := v.(string)
	return canonical, ok
}

// mutate applies fn to the live account under its shard's write lock.
// fn returns false to reject the change, leaving the account untouched.
func (d *Directory) mutate(id ulid.ULID, fn func(a *Account) bool) bool {
	canonical, ok := d.canonicalFor(id)
	if !ok {
		return false
	}

	sh := d.shardFor(canonical)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	acct, ok := sh.accounts[canonical]
	if !ok || acct.ID != id {
		return false
	}

	draft := acct.clone()
	if !fn(draft) {
		return false
	}
	draft.UpdatedAt = d.now()
	*acct = *draft
	d.recorder.Record(Change{Kind: ChangeUpdated, Account: draft.clone()})
	return true
}

func (d *Directory) swapRecord(canonical string, id ulid.ULID, old, next string) bool {
	return d.mutate(id, func(a *Account) bool {
		if a.Canonical() != canonical || a.PasswordRecord != old {
			return false
		}
		a.PasswordRecord = next
		return true
	})
}

func (d *Directory) reserveStaffNumber(id ulid.ULID) (string, error) {
	for range staffNumberAttempts {
		number, err := NewStaffNumber()
		if err != nil {
			return "", err
		}
		if _, taken := d.byStaff.LoadOrStore(number, id); !taken {
			return number, nil
		}
	}
	return "", oops.Code("IDENTITY_STAFF_NUMBER_EXHAUSTED").
		With("attempts", staffNumberAttempts).
		Errorf("could not mint a unique staff number")
}

func (d *Directory) releaseStaffNumber(acct *Account) {
	if acct.StaffNumber != "" {
		d.byStaff.CompareAndDelete(acct.StaffNumber, acct.ID)
	}
}

func (d *Directory) collect(keep func(*Account) bool) []*Account {
	var out []*Account
	for _, sh := range d.shards {
		sh.mu.RLock()
		for _, a := range sh.accounts {
			if keep(a) {
				out = append(out, a.clone())
			}
		}
		sh.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b *Account) int { return a.ID.Compare(b.ID) })
	return out
}

func duplicate(canonical string) error {
	return oops.Code(CodeDuplicateUsername).
		With("username", canonical).
		Wrap(ErrDuplicateUsername)
}

func duplicateID(id ulid.ULID) error {
	return oops.Code(CodeDuplicateID).
		With("account_id", id.String()).
		Errorf("account id already exists")
}

func duplicateStaffNumber(number string) error {
	return oops.Code(CodeDuplicateStaffNumber).
		With("staff_number", number).
		Errorf("staff number already exists")
}
