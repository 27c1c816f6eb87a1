// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

package main

import (
	"context"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/store"
)

// AccountStore is the persistent backend serve restores from and writes to.
type AccountStore interface {
	identity.Store
	Ping(ctx context.Context) error
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Applied() ([]uint, error)
	Close() error
}

// Deps contains injectable dependencies for commands that reach the
// database. Nil fields use their default implementations.
type Deps struct {
	// StoreFactory connects to the account store. The returned function
	// releases the connection.
	// Default: store.Connect + store.NewAccountStore
	StoreFactory func(ctx context.Context, url string) (AccountStore, func(), error)

	// MigratorFactory opens a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.StoreFactory == nil {
		out.StoreFactory = func(ctx context.Context, url string) (AccountStore, func(), error) {
			pool, err := store.Connect(ctx, url)
			if err != nil {
				return nil, nil, err
			}
			return store.NewAccountStore(pool), pool.Close, nil
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			m, err := store.NewMigrator(url)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return &out
}
