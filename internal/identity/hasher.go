// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"

	"github.com/wardline/wardline/internal/secret"
)

// PBKDF2 parameters.
const (
	AlgorithmTag      = "pbkdf2_sha256"
	DefaultIterations = 600_000
	MaxIterations     = 10_000_000
	SaltLen           = 16
	KeyLen            = 32
)

// recordEncoding is used for both salt and derived key.
var recordEncoding = base64.StdEncoding

// PasswordRecord is the parsed form of an encoded password record.
type PasswordRecord struct {
	Algorithm  string
	Iterations int
	Salt       []byte
	Key        []byte
}

// Hasher derives and verifies PBKDF2-HMAC-SHA256 password records.
// A Hasher is stateless apart from its default work factor and is safe for
// concurrent use.
type Hasher struct {
	iterations int
}

// NewHasher creates a Hasher. Non-positive iterations select DefaultIterations.
func NewHasher(iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{iterations: iterations}
}

// Iterations returns the work factor used by Hash.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash derives a record for pw using the hasher's default work factor.
// The hasher does not retain pw; ownership stays with the caller.
func (h *Hasher) Hash(pw *secret.Secret) (string, error) {
	return h.HashWithIterations(pw, h.iterations)
}

// HashWithIterations derives a record for pw using the given work factor.
func (h *Hasher) HashWithIterations(pw *secret.Secret, iterations int) (string, error) {
	if iterations <= 0 || iterations > MaxIterations {
		return "", oops.Code(CodeHashFailed).
			With("iterations", iterations).
			Errorf("iterations must be between 1 and %d", MaxIterations)
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code(CodeHashFailed).With("operation", "generate salt").Wrap(err)
	}

	key := pbkdf2.Key(pw.Bytes(), salt, iterations, KeyLen, sha256.New)
	defer clear(key)

	return encodeRecord(iterations, salt, key), nil
}

// Verify reports whether pw matches record. Any malformed record yields false.
func (h *Hasher) Verify(pw *secret.Secret, record string) bool {
	parsed, err := ParseRecord(record)
	if err != nil {
		return false
	}
	defer clear(parsed.Key)

	derived := pbkdf2.Key(pw.Bytes(), parsed.Salt, parsed.Iterations, len(parsed.Key), sha256.New)
	defer clear(derived)

	return subtle.ConstantTimeCompare(derived, parsed.Key) == 1
}

// NeedsRehash reports whether record was produced with a weaker work factor
// than the hasher currently uses, or cannot be parsed at all.
func (h *Hasher) NeedsRehash(record string) bool {
	parsed, err := ParseRecord(record)
	if err != nil {
		return true
	}
	clear(parsed.Key)
	return parsed.Iterations < h.iterations
}

// ParseRecord decodes an encoded password record.
// Errors wrap ErrMalformedRecord.
func ParseRecord(record string) (PasswordRecord, error) {
	parts := strings.Split(record, "$")
	if len(parts) != 4 {
		return PasswordRecord{}, malformed("field count", len(parts))
	}

	if parts[0] != AlgorithmTag {
		return PasswordRecord{}, malformed("algorithm", parts[0])
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 || iterations > MaxIterations {
		return PasswordRecord{}, malformed("iterations", parts[1])
	}

	salt, err := recordEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return PasswordRecord{}, malformed("salt", "invalid encoding")
	}

	key, err := recordEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return PasswordRecord{}, malformed("key", "invalid encoding")
	}

	return PasswordRecord{
		Algorithm:  parts[0],
		Iterations: iterations,
		Salt:       salt,
		Key:        key,
	}, nil
}

// IsWellFormed reports whether record parses.
func IsWellFormed(record string) bool {
	parsed, err := ParseRecord(record)
	if err != nil {
		return false
	}
	clear(parsed.Key)
	return true
}

func encodeRecord(iterations int, salt, key []byte) string {
	var b strings.Builder
	b.WriteString(AlgorithmTag)
	b.WriteByte('$')
	b.WriteString(strconv.Itoa(iterations))
	b.WriteByte('$')
	b.WriteString(recordEncoding.EncodeToString(salt))
	b.WriteByte('$')
	b.WriteString(recordEncoding.EncodeToString(key))
	return b.String()
}

func malformed(field string, detail any) error {
	return oops.Code(CodeMalformedRecord).
		With("field", field).
		With("detail", detail).
		Wrap(ErrMalformedRecord)
}
