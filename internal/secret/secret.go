// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

// Package secret provides an owned plaintext buffer that is scrubbed when
// its owner is done with it.
//
// A *Secret is single-owner. Functions that accept one take ownership and
// destroy it before returning, on every path. Callers that need to keep the
// plaintext after such a call pass a Clone.
package secret

import (
	"log/slog"
	"runtime"
	"sync"
)

const redacted = "[REDACTED]"

// Secret holds plaintext secret material.
type Secret struct {
	mu        sync.Mutex
	buf       []byte
	destroyed bool
}

// New takes ownership of b. The caller must not use b afterwards.
func New(b []byte) *Secret {
	s := &Secret{buf: b}
	// Backstop for secrets dropped without Destroy.
	runtime.AddCleanup(s, func(buf []byte) { clear(buf) }, b)
	return s
}

// FromString copies str into a new Secret.
// The string itself is immutable and cannot be scrubbed.
func FromString(str string) *Secret {
	return New([]byte(str))
}

// Bytes returns the backing buffer. It is valid until Destroy is called.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

// Len returns the length of the plaintext in bytes.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Reveal returns a copy of the plaintext. Use only at display boundaries.
func (s *Secret) Reveal() string {
	return string(s.Bytes())
}

// String implements fmt.Stringer without exposing the plaintext.
func (s *Secret) String() string {
	return redacted
}

// LogValue implements slog.LogValuer without exposing the plaintext.
func (s *Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// Clone returns an independently owned copy.
func (s *Secret) Clone() *Secret {
	b := s.Bytes()
	cp := make([]byte, len(b))
	copy(cp, b)
	return New(cp)
}

// Destroy zeroes the buffer and releases it. Safe to call more than once.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.buf)
	s.buf = nil
	s.destroyed = true
}

// IsDestroyed reports whether Destroy has been called.
func (s *Secret) IsDestroyed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
