// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

import (
	"crypto/rand"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a new account ID.
func NewID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// ParseID parses an account ID.
func ParseID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.With("id", s).Wrapf(err, "invalid account id")
	}
	return id, nil
}

// Staff number layout: prefix, two uppercase letters, 3 to 10 digits.
const (
	StaffNumberPrefix    = "STF"
	staffNumberLetters   = 2
	staffNumberMinDigits = 3
	staffNumberMaxDigits = 10
)

// NewStaffNumber mints a random staff number.
func NewStaffNumber() (string, error) {
	var b strings.Builder
	b.WriteString(StaffNumberPrefix)

	for range staffNumberLetters {
		n, err := randInt(26)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('A' + n))
	}

	extra, err := randInt(staffNumberMaxDigits - staffNumberMinDigits + 1)
	if err != nil {
		return "", err
	}
	for range staffNumberMinDigits + extra {
		n, err := randInt(10)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n))
	}
	return b.String(), nil
}

// IsStaffNumber reports whether s has the staff number layout.
func IsStaffNumber(s string) bool {
	rest, ok := strings.CutPrefix(s, StaffNumberPrefix)
	if !ok || len(rest) < staffNumberLetters+staffNumberMinDigits || len(rest) > staffNumberLetters+staffNumberMaxDigits {
		return false
	}
	for i := range len(rest) {
		c := rest[i]
		if i < staffNumberLetters {
			if c < 'A' || c > 'Z' {
				return false
			}
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, oops.With("operation", "read random").Wrap(err)
	}
	return int(v.Int64()), nil
}
