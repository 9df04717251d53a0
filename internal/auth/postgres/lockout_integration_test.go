// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/campusgate/campusgate/internal/audit"
	"github.com/campusgate/campusgate/internal/auth"
	authpg "github.com/campusgate/campusgate/internal/auth/postgres"
	"github.com/campusgate/campusgate/internal/store"
)

func TestAccountRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Account Repository Integration Suite")
}

var (
	pool      *pgxpool.Pool
	container *pgcontainer.PostgresContainer
	repo      *authpg.AccountRepository
)

var _ = BeforeSuite(func() {
	ctx := context.Background()

	var err error
	container, err = pgcontainer.Run(ctx,
		"postgres:18-alpine",
		pgcontainer.WithDatabase("campusgate_test"),
		pgcontainer.WithUsername("campusgate"),
		pgcontainer.WithPassword("campusgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	_ = migrator.Close()

	pool, err = pgxpool.New(ctx, connStr)
	Expect(err).NotTo(HaveOccurred())

	repo = authpg.NewAccountRepository(pool)
})

var _ = AfterSuite(func() {
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		_ = container.Terminate(context.Background())
	}
})

func cleanupAccounts(ctx context.Context) {
	_, _ = pool.Exec(ctx, "DELETE FROM audit_log")
	_, _ = pool.Exec(ctx, "DELETE FROM accounts")
}

func mustCreate(ctx context.Context, username string) *auth.Account {
	account, err := auth.NewAccount(username, "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", auth.RoleStudent, auth.DeptCivil, "")
	Expect(err).NotTo(HaveOccurred())
	Expect(repo.Create(ctx, account)).To(Succeed())
	return account
}

var _ = Describe("AccountRepository", func() {
	BeforeEach(func() {
		cleanupAccounts(context.Background())
	})

	Describe("Create", func() {
		It("round-trips an account", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")

			got, err := repo.GetByUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(account.ID))
			Expect(got.Role).To(Equal(auth.RoleStudent))
			Expect(got.Department).To(Equal(auth.DeptCivil))
			Expect(got.FailedAttempts).To(BeZero())
		})

		It("maps duplicate usernames to ErrConflict", func() {
			ctx := context.Background()
			mustCreate(ctx, "alice")

			dup, err := auth.NewAccount("alice", "hashhash", auth.RoleProfessor, "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, dup)).To(MatchError(auth.ErrConflict))
		})

		It("treats usernames as case-sensitive", func() {
			ctx := context.Background()
			mustCreate(ctx, "alice")

			_, err := repo.GetByUsername(ctx, "Alice")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("RecordFailure", func() {
		It("counts up without locking below the threshold", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")

			for i := 1; i <= 4; i++ {
				state, err := repo.RecordFailure(ctx, account.ID, 5, 24*time.Hour)
				Expect(err).NotTo(HaveOccurred())
				Expect(state.FailedAttempts).To(Equal(i))
				Expect(state.LockedUntil).To(BeNil())
			}
		})

		It("sets the lock in the same statement that reaches the threshold", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")

			var state auth.LockState
			var err error
			for i := 0; i < 5; i++ {
				state, err = repo.RecordFailure(ctx, account.ID, 5, 24*time.Hour)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(state.FailedAttempts).To(Equal(5))
			Expect(state.LockApplied).To(BeTrue())
			Expect(state.LockedUntil).NotTo(BeNil())
			Expect(state.LockedUntil.After(time.Now().Add(23 * time.Hour))).To(BeTrue())
		})

		It("caps the counter and keeps the original expiry once locked", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")

			var locked auth.LockState
			var err error
			for i := 0; i < 5; i++ {
				locked, err = repo.RecordFailure(ctx, account.ID, 5, 24*time.Hour)
				Expect(err).NotTo(HaveOccurred())
			}

			state, err := repo.RecordFailure(ctx, account.ID, 5, 24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.FailedAttempts).To(Equal(5))
			Expect(state.LockApplied).To(BeFalse())
			Expect(state.LockedUntil.Equal(*locked.LockedUntil)).To(BeTrue())
		})

		It("locks exactly once under concurrent failures", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")
			before := time.Now()

			const attempts = 10
			states := make([]auth.LockState, attempts)
			var wg sync.WaitGroup
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					state, err := repo.RecordFailure(ctx, account.ID, 5, 24*time.Hour)
					Expect(err).NotTo(HaveOccurred())
					states[i] = state
				}(i)
			}
			wg.Wait()

			// The counter never escapes [0, maxAttempts], exactly one write
			// carries the lock transition, and every attempt that observed
			// the cap saw the lock in place.
			transitions := 0
			for _, state := range states {
				Expect(state.FailedAttempts).To(BeNumerically("<=", 5))
				if state.LockApplied {
					transitions++
				}
				if state.FailedAttempts >= 5 {
					Expect(state.LockedUntil).NotTo(BeNil())
				}
			}
			Expect(transitions).To(Equal(1))

			// Late failures must not have extended the lock past the expiry
			// the transitioning write set.
			got, err := repo.GetByUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.FailedAttempts).To(Equal(5))
			Expect(got.LockedUntil).NotTo(BeNil())
			Expect(got.LockedUntil.Before(before.Add(24*time.Hour + time.Minute))).To(BeTrue())
		})
	})

	Describe("RecordSuccess", func() {
		It("clears the counter, the lock, and stamps last login", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")

			for i := 0; i < 5; i++ {
				_, err := repo.RecordFailure(ctx, account.ID, 5, 24*time.Hour)
				Expect(err).NotTo(HaveOccurred())
			}

			loginAt := time.Now().UTC().Truncate(time.Microsecond)
			Expect(repo.RecordSuccess(ctx, account.ID, loginAt)).To(Succeed())

			got, err := repo.GetByUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.FailedAttempts).To(BeZero())
			Expect(got.LockedUntil).To(BeNil())
			Expect(got.LastLoginAt).NotTo(BeNil())
			Expect(got.LastLoginAt.Equal(loginAt)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("removes the account", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")

			Expect(repo.Delete(ctx, account.ID)).To(Succeed())
			_, err := repo.GetByUsername(ctx, "alice")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("returns ErrNotFound for an unknown account", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")
			Expect(repo.Delete(ctx, account.ID)).To(Succeed())
			Expect(repo.Delete(ctx, account.ID)).To(MatchError(auth.ErrNotFound))
		})

		It("leaves audit rows untouched when the actor is deleted", func() {
			ctx := context.Background()
			account := mustCreate(ctx, "alice")

			auditStore := audit.NewPostgresStore(pool)
			event := audit.NewEvent(audit.ActionLogin, audit.SeverityInfo, audit.OutcomeSuccess)
			event.ActorID = &account.ID
			event.Username = "alice"
			Expect(auditStore.Append(ctx, event)).To(Succeed())

			Expect(repo.Delete(ctx, account.ID)).To(Succeed())

			events, err := auditStore.Search(ctx, audit.Query{ActorID: &account.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(*events[0].ActorID).To(Equal(account.ID))
		})
	})
})
