// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package provision

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/samber/oops"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/secret"
)

const (
	// UsernameSeparator joins name parts in derived usernames.
	UsernameSeparator = "."

	// fallbackUsername is used when a subject's name has no usable characters.
	fallbackUsername = "patient"

	// maxBaseLength leaves room for collision suffixes within MaxUsernameLength.
	maxBaseLength = identity.MaxUsernameLength - 24

	// fallbackPasswordStem is used when a given name has no letters.
	fallbackPasswordStem = "Patient"

	maxPasswordStem = 12
)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// fold lowercases s and strips diacritics, so "José" becomes "jose".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// DeriveUsername builds the base username for a subject: given and family
// name, lowercased, with each run of other characters collapsed to a single
// separator.
func DeriveUsername(given, family string) string {
	raw := fold(strings.TrimSpace(given) + " " + strings.TrimSpace(family))
	base := strings.Trim(nonAlnumRun.ReplaceAllString(raw, UsernameSeparator), UsernameSeparator)
	if len(base) > maxBaseLength {
		base = strings.TrimRight(base[:maxBaseLength], UsernameSeparator)
	}
	if base == "" {
		return fallbackUsername
	}
	return base
}

// numberedUsername returns the n-th collision candidate for base.
func numberedUsername(base string, n int) string {
	if n == 0 {
		return base
	}
	return base + strconv.Itoa(n)
}

// randomUsername returns a fallback candidate that does not depend on how
// many numbered candidates are taken.
func randomUsername(base string, seq uint64) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", oops.With("operation", "read random").Wrap(err)
	}
	return base + UsernameSeparator + strconv.FormatInt(n.Int64(), 10) + strconv.FormatUint(seq, 10), nil
}

// TemporaryPassword generates a one-time password from the subject's given
// name and birth year plus three random digits, padded with random digits to
// the policy's length. The result always satisfies policy.
func TemporaryPassword(given string, birthDate *time.Time, policy identity.Policy) (*secret.Secret, error) {
	var stem []byte
	for _, r := range fold(given) {
		if r >= 'a' && r <= 'z' {
			stem = append(stem, byte(r))
		}
		if len(stem) == maxPasswordStem {
			break
		}
	}
	if len(stem) == 0 {
		stem = []byte(fallbackPasswordStem)
	}
	stem[0] = byte(unicode.ToUpper(rune(stem[0])))

	buf := make([]byte, 0, max(policy.RequiredLength(), len(stem)+7))
	buf = append(buf, stem...)
	if birthDate != nil {
		buf = strconv.AppendInt(buf, int64(birthDate.Year()), 10)
	}

	suffix, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return nil, oops.With("operation", "read random").Wrap(err)
	}
	n := suffix.Int64()
	buf = append(buf, byte('0'+n/100), byte('0'+n/10%10), byte('0'+n%10))

	for len(buf) < policy.RequiredLength() {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			clear(buf)
			return nil, oops.With("operation", "read random").Wrap(err)
		}
		buf = append(buf, byte('0'+d.Int64()))
	}

	pw := secret.New(buf)
	if err := policy.Validate(pw); err != nil {
		pw.Destroy()
		return nil, err
	}
	return pw, nil
}
