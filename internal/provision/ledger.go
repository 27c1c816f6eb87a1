// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package provision

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardline/wardline/internal/secret"
)

// ProvisionedCredential pairs a provisioned username with its one-time
// temporary password. It is never persisted.
type ProvisionedCredential struct {
	SubjectID         string
	AccountID         ulid.ULID
	Username          string
	TemporaryPassword *secret.Secret
	IssuedAt          time.Time
}

// Destroy scrubs the temporary password.
func (c *ProvisionedCredential) Destroy() {
	if c != nil {
		c.TemporaryPassword.Destroy()
	}
}

// Ledger holds at most one undisplayed credential per subject.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*ProvisionedCredential
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*ProvisionedCredential)}
}

// Put stores cred, scrubbing any credential it replaces.
func (l *Ledger) Put(cred *ProvisionedCredential) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.entries[cred.SubjectID]; ok && old != cred {
		old.Destroy()
	}
	l.entries[cred.SubjectID] = cred
}

// Take removes and returns the credential for subjectID. The caller owns the
// result and must Destroy it after display.
func (l *Ledger) Take(subjectID string) (*ProvisionedCredential, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cred, ok := l.entries[subjectID]
	if ok {
		delete(l.entries, subjectID)
	}
	return cred, ok
}

// Discard scrubs and drops the credential for subjectID, if any.
func (l *Ledger) Discard(subjectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cred, ok := l.entries[subjectID]; ok {
		cred.Destroy()
		delete(l.entries, subjectID)
	}
}

// Purge scrubs and drops credentials issued before cutoff.
func (l *Ledger) Purge(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, cred := range l.entries {
		if cred.IssuedAt.Before(cutoff) {
			cred.Destroy()
			delete(l.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of undisplayed credentials.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
