// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

// ChangeKind identifies a committed directory mutation.
type ChangeKind int

// Change kinds.
const (
	ChangeCreated ChangeKind = iota + 1
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is a committed mutation. Account is a copy of the account after the
// change (before it, for deletions).
type Change struct {
	Kind    ChangeKind
	Account *Account
}

// Recorder observes committed changes. Record is called while the account's
// shard is locked, so changes to one account arrive in commit order.
// Implementations must not call back into the directory.
type Recorder interface {
	Record(Change)
}

type nopRecorder struct{}

func (nopRecorder) Record(Change) {}
