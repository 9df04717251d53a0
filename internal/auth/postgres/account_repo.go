// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/campusgate/campusgate/internal/auth"
)

// querier is the pgx surface the repository depends on; satisfied by
// *pgxpool.Pool and pgxmock.PgxPoolIface.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
//
// The lockout transitions (RecordFailure, RecordSuccess) are single
// conditional UPDATE statements: the database serializes concurrent
// read-modify-writes on the same row, so two simultaneous failures can never
// both observe the pre-threshold counter and skip the lock.
type AccountRepository struct {
	pool querier
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool querier) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account. A unique-username violation maps to
// auth.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, username, password_hash, role, department, display_name,
			failed_attempts, locked_until, last_login_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		account.ID.String(),
		account.Username,
		account.PasswordHash,
		string(account.Role),
		nullableDepartment(account.Department),
		account.DisplayName,
		account.FailedAttempts,
		account.LockedUntil,
		account.LastLoginAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_USERNAME_TAKEN").
				With("username", account.Username).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, department, display_name,
		       failed_attempts, locked_until, last_login_at, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByUsername retrieves an account by exact (case-sensitive) username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, department, display_name,
		       failed_attempts, locked_until, last_login_at, created_at, updated_at
		FROM accounts
		WHERE username = $1
	`, username)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_USERNAME_FAILED").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// RecordFailure advances the attempt counter and sets the lock in one
// statement. The CASE sets locked_until in the same write that reaches the
// threshold, so there is no window with the counter at max and no lock. The
// counter is capped at maxAttempts and the CASE only fires while no lock is
// in force, so a statement that lost the race cannot push the counter past
// the threshold or extend a lock another statement just set. The prev CTE
// takes the row lock and captures the pre-update locked_until; comparing it
// against the post-update value tells the caller whether this write was the
// lock transition.
func (r *AccountRepository) RecordFailure(ctx context.Context, id ulid.ULID, maxAttempts int, lockDuration time.Duration) (auth.LockState, error) {
	row := r.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT locked_until FROM accounts WHERE id = $1 FOR UPDATE
		)
		UPDATE accounts SET
			failed_attempts = LEAST(failed_attempts + 1, $2),
			locked_until = CASE
				WHEN failed_attempts + 1 >= $2
				     AND (locked_until IS NULL OR locked_until <= NOW())
					THEN NOW() + make_interval(secs => $3)
				ELSE locked_until
			END,
			updated_at = NOW()
		FROM prev
		WHERE accounts.id = $1
		RETURNING accounts.failed_attempts, accounts.locked_until,
		          accounts.locked_until IS DISTINCT FROM prev.locked_until
	`, id.String(), maxAttempts, lockDuration.Seconds())

	var state auth.LockState
	if err := row.Scan(&state.FailedAttempts, &state.LockedUntil, &state.LockApplied); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.LockState{}, oops.Code("ACCOUNT_NOT_FOUND").
				With("id", id.String()).
				Wrap(auth.ErrNotFound)
		}
		return auth.LockState{}, oops.Code("ACCOUNT_RECORD_FAILURE_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	return state, nil
}

// RecordSuccess resets the counter, clears the lock, and stamps last login
// in one statement.
func (r *AccountRepository) RecordSuccess(ctx context.Context, id ulid.ULID, loginAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET
			failed_attempts = 0,
			locked_until = NULL,
			last_login_at = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id.String(), loginAt)
	if err != nil {
		return oops.Code("ACCOUNT_RECORD_SUCCESS_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes an account. Callers audit this as an administrative action.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM accounts WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// nullableDepartment maps the unset department to SQL NULL.
func nullableDepartment(d auth.Department) *string {
	if d == "" {
		return nil
	}
	s := string(d)
	return &s
}

// scanAccount scans a single row into an Account. Callers handle
// pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr       string
		username    string
		hash        string
		role        string
		dept        *string
		displayName string
		attempts    int
		lockedUntil *time.Time
		lastLoginAt *time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(
		&idStr,
		&username,
		&hash,
		&role,
		&dept,
		&displayName,
		&attempts,
		&lockedUntil,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}

	parsedRole, err := auth.ParseRole(role)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ROLE").
			With("id", idStr).
			Wrap(err)
	}

	department := auth.Department("")
	if dept != nil {
		department, err = auth.ParseDepartment(*dept)
		if err != nil {
			return nil, oops.Code("ACCOUNT_INVALID_DEPARTMENT").
				With("id", idStr).
				Wrap(err)
		}
	}

	return &auth.Account{
		ID:             id,
		Username:       username,
		PasswordHash:   hash,
		Role:           parsedRole,
		Department:     department,
		DisplayName:    displayName,
		FailedAttempts: attempts,
		LockedUntil:    lockedUntil,
		LastLoginAt:    lastLoginAt,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
