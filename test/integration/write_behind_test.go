// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

//go:build integration

package integration

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/persist"
	"github.com/wardline/wardline/internal/provision"
	"github.com/wardline/wardline/internal/secret"
	"github.com/wardline/wardline/internal/store"
)

var _ = Describe("Directory write-behind", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
		accounts  *store.AccountStore
		quiet     *slog.Logger
	)

	BeforeAll(func() {
		ctx = context.Background()
		quiet = slog.New(slog.DiscardHandler)
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("wardline_e2e"),
			postgres.WithUsername("wardline"),
			postgres.WithPassword("wardline"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
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

	// boot restores a directory from the store and wires a writer into it,
	// the way serve does.
	boot := func() (*identity.Directory, *persist.Writer) {
		existing, err := accounts.List(ctx)
		Expect(err).NotTo(HaveOccurred())

		writer, err := persist.NewWriter(accounts, persist.WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		dir := identity.NewDirectory(
			identity.WithHasher(identity.NewHasher(1000)),
			identity.WithRecorder(writer),
			identity.WithLogger(quiet),
		)
		Expect(dir.Restore(existing)).To(Succeed())
		Expect(writer.Start()).To(Succeed())
		return dir, writer
	}

	It("survives a restart", func() {
		dir, writer := boot()

		staff, err := dir.CreateAccount("Nurse.Joy", secret.FromString("goodpw123"), identity.RoleStaff)
		Expect(err).NotTo(HaveOccurred())
		doomed, err := dir.CreateAccount("temp", secret.FromString("goodpw123"), identity.RoleDoctor)
		Expect(err).NotTo(HaveOccurred())

		changed, err := dir.ChangePassword("nurse.joy", secret.FromString("goodpw123"), secret.FromString("betterpw456"))
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())
		Expect(dir.Deactivate(staff.ID)).To(BeTrue())
		Expect(dir.DeleteByID(doomed.ID)).To(BeTrue())

		workflow, err := provision.NewWorkflow(dir, provision.NewLedger(), provision.WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		born := time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC)
		patient, err := workflow.Provision(provision.Subject{
			ID: "P-100", GivenName: "Jane", FamilyName: "Doe", BirthDate: &born,
		})
		Expect(err).NotTo(HaveOccurred())
		cred, ok := workflow.Ledger().Take("P-100")
		Expect(ok).To(BeTrue())
		temporary := cred.TemporaryPassword.Reveal()
		cred.Destroy()

		closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		Expect(writer.Close(closeCtx)).To(Succeed())

		restarted, writer2 := boot()
		DeferCleanup(func() { _ = writer2.Close(context.Background()) })

		Expect(restarted.Len()).To(Equal(2))
		_, found := restarted.FindByID(doomed.ID)
		Expect(found).To(BeFalse())

		joy, found := restarted.FindByStaffNumber(staff.StaffNumber)
		Expect(found).To(BeTrue())
		Expect(joy.Status).To(Equal(identity.StatusInactive))

		Expect(restarted.Activate(staff.ID)).To(BeTrue())
		_, ok = restarted.Authenticate("NURSE.JOY", secret.FromString("betterpw456"))
		Expect(ok).To(BeTrue())

		jane, ok := restarted.Authenticate("jane.doe", secret.FromString(temporary))
		Expect(ok).To(BeTrue())
		Expect(jane.ID).To(Equal(patient.ID))
		Expect(jane.LinkedPatientID).NotTo(BeNil())
		Expect(*jane.LinkedPatientID).To(Equal("P-100"))
	})
})
