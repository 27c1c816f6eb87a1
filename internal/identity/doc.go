// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

// Package identity provides the account directory and credential primitives
// for Wardline.
//
// # Credentials
//
// Passwords travel as *secret.Secret values. Directory methods that accept
// one take ownership and scrub it before returning. Hasher and Policy only
// borrow the secret; the caller still owns it and must Destroy it:
//   - Hasher - PBKDF2-HMAC-SHA256 records in the form
//     pbkdf2_sha256$<iterations>$<salt>$<key>
//   - Policy - minimum length and letter+digit rules
//
// # Directory
//
// Directory owns all accounts for the lifetime of the process. It is created
// once by the composition root and passed to the services that need it.
// Accounts returned from it are copies.
//
// Not-found conditions and malformed stored records degrade to false/empty
// results. Duplicate usernames and policy violations are returned as errors
// carrying the codes in errors.go.
package identity
