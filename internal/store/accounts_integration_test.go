// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/secret"
	"github.com/wardline/wardline/internal/store"
)

var _ = Describe("AccountStore", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pool      *pgxpool.Pool
		accounts  *store.AccountStore
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("wardline_test"),
			postgres.WithUsername("wardline"),
			postgres.WithPassword("wardline"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		accounts = store.NewAccountStore(pool)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	AfterEach(func() {
		_, err := pool.Exec(ctx, `DELETE FROM accounts`)
		Expect(err).NotTo(HaveOccurred())
	})

	newAccount := func(username string, role identity.Role) *identity.Account {
		h := identity.NewHasher(1000)
		rec, err := h.Hash(secret.FromString("password123"))
		Expect(err).NotTo(HaveOccurred())
		now := time.Now().UTC().Truncate(time.Microsecond)
		return &identity.Account{
			ID:             identity.NewID(),
			Username:       username,
			PasswordRecord: rec,
			Role:           role,
			Status:         identity.StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	Describe("Insert", func() {
		It("round-trips an account", func() {
			a := newAccount("Alice", identity.RoleStaff)
			a.StaffNumber = "STFAB123"
			Expect(accounts.Insert(ctx, a)).To(Succeed())

			got, err := accounts.GetByUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(a.ID))
			Expect(got.Username).To(Equal("Alice"))
			Expect(got.StaffNumber).To(Equal("STFAB123"))
			Expect(got.PasswordRecord).To(Equal(a.PasswordRecord))
			Expect(got.CreatedAt).To(BeTemporally("==", a.CreatedAt))
		})

		It("rejects a case-insensitive duplicate", func() {
			Expect(accounts.Insert(ctx, newAccount("alice", identity.RolePatient))).To(Succeed())

			err := accounts.Insert(ctx, newAccount("ALICE", identity.RolePatient))
			Expect(err).To(MatchError(identity.ErrDuplicateUsername))
		})
	})

	Describe("Update", func() {
		It("persists status and links", func() {
			a := newAccount("bob", identity.RolePatient)
			Expect(accounts.Insert(ctx, a)).To(Succeed())

			patient := "pat-9"
			a.Status = identity.StatusInactive
			a.LinkedPatientID = &patient
			a.UpdatedAt = a.UpdatedAt.Add(time.Minute)
			Expect(accounts.Update(ctx, a)).To(Succeed())

			got, err := accounts.GetByUsername(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(identity.StatusInactive))
			Expect(got.LinkedPatientID).To(HaveValue(Equal("pat-9")))
		})

		It("reports a missing account", func() {
			Expect(accounts.Update(ctx, newAccount("ghost", identity.RoleStaff))).
				To(MatchError(identity.ErrNotFound))
		})
	})

	Describe("Delete and List", func() {
		It("lists remaining accounts in id order", func() {
			a := newAccount("a", identity.RoleDoctor)
			b := newAccount("b", identity.RolePatient)
			Expect(accounts.Insert(ctx, a)).To(Succeed())
			Expect(accounts.Insert(ctx, b)).To(Succeed())
			Expect(accounts.Delete(ctx, a.ID)).To(Succeed())
			Expect(accounts.Delete(ctx, a.ID)).To(MatchError(identity.ErrNotFound))

			list, err := accounts.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].ID).To(Equal(b.ID))
		})

		It("restores into a directory", func() {
			Expect(accounts.Insert(ctx, newAccount("carol", identity.RoleDoctor))).To(Succeed())
			list, err := accounts.List(ctx)
			Expect(err).NotTo(HaveOccurred())

			dir := identity.NewDirectory(identity.WithHasher(identity.NewHasher(1000)))
			Expect(dir.Restore(list)).To(Succeed())

			got, ok := dir.Authenticate("Carol", secret.FromString("password123"))
			Expect(ok).To(BeTrue())
			Expect(got.Role).To(Equal(identity.RoleDoctor))
		})
	})

	Describe("Migrator", func() {
		It("steps down and back up", func() {
			m, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer m.Close()

			latest, dirty, err := m.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(dirty).To(BeFalse())
			Expect(latest).To(BeNumerically(">", 0))

			Expect(m.Steps(-1)).To(Succeed())
			v, _, err := m.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(latest - 1))

			Expect(m.Up()).To(Succeed())
			pending, err := m.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})
})
