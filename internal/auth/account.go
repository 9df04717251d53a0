// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the closed set of capabilities an account can hold.
type Role string

// Account roles, ordered roughly by privilege.
const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
	RoleAdmin     Role = "admin"
	RoleRoot      Role = "root"
)

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleProfessor, RoleAdmin, RoleRoot:
		return true
	}
	return false
}

// ParseRole converts a string into a Role, rejecting anything outside the
// closed set so a typo can never become a silently-always-false comparison.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", oops.Code("AUTH_INVALID_ROLE").With("role", s).Errorf("unknown role %q", s)
	}
	return r, nil
}

// Department is the academic department an account belongs to. It scopes
// content, never capability.
type Department string

// Known departments. The zero value means unset.
const (
	DeptElectrical Department = "electrical"
	DeptChemical   Department = "chemical"
	DeptCivil      Department = "civil"
	DeptMechanical Department = "mechanical"
	DeptMedical    Department = "medical"
)

// Valid reports whether d is a known department or unset.
func (d Department) Valid() bool {
	switch d {
	case "", DeptElectrical, DeptChemical, DeptCivil, DeptMechanical, DeptMedical:
		return true
	}
	return false
}

// ParseDepartment converts a string into a Department. Empty input is the
// unset department.
func ParseDepartment(s string) (Department, error) {
	d := Department(s)
	if !d.Valid() {
		return "", oops.Code("AUTH_INVALID_DEPARTMENT").With("department", s).Errorf("unknown department %q", s)
	}
	return d, nil
}

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a portal identity record. Usernames are case-sensitive and
// immutable after creation; the password hash is an argon2id PHC string.
type Account struct {
	ID             ulid.ULID
	Username       string
	PasswordHash   string
	Role           Role
	Department     Department
	DisplayName    string
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocked returns true if a lockout is currently in force.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// EffectiveDisplayName falls back to the username when no display name is set.
func (a *Account) EffectiveDisplayName() string {
	if a.DisplayName == "" {
		return a.Username
	}
	return a.DisplayName
}

// ValidateUsername validates a username against creation rules.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// NewAccount creates a validated account with a fresh ULID. The caller
// supplies an already-hashed password.
func NewAccount(username, passwordHash string, role Role, dept Department, displayName string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if !role.Valid() {
		return nil, oops.Code("AUTH_INVALID_ROLE").With("role", string(role)).Errorf("unknown role %q", string(role))
	}
	if !dept.Valid() {
		return nil, oops.Code("AUTH_INVALID_DEPARTMENT").With("department", string(dept)).Errorf("unknown department %q", string(dept))
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		Department:   dept,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// LockState is the attempt counter and lock expiry after a recorded failure.
// It is returned by the repository so the caller observes the post-update
// state without a second read.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time

	// LockApplied is true only when this write set locked_until. Concurrent
	// failures racing past the threshold all come back locked, but exactly
	// one of them carries the transition.
	LockApplied bool
}

// Locked reports whether the state carries a lock in force at now.
func (s LockState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// AccountRepository manages account persistence.
//
// RecordFailure and RecordSuccess must each apply their read-modify-write as
// a single atomic statement: two concurrent failures for the same account
// must never both observe the pre-threshold counter and neither set the lock.
type AccountRepository interface {
	// Create stores a new account. Returns ErrConflict (wrapped) when the
	// username is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by exact username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// RecordFailure atomically increments the failure counter, capped at
	// maxAttempts, and sets locked_until when the counter reaches the cap
	// with no lock in force. Returns the post-update state; LockApplied is
	// set on exactly the call that created the lock.
	RecordFailure(ctx context.Context, id ulid.ULID, maxAttempts int, lockDuration time.Duration) (LockState, error)

	// RecordSuccess atomically resets the failure counter, clears any lock,
	// and stamps last_login_at.
	RecordSuccess(ctx context.Context, id ulid.ULID, loginAt time.Time) error

	// Delete removes an account. Administrative callers must audit this.
	Delete(ctx context.Context, id ulid.ULID) error
}
