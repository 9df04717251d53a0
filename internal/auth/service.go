// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/campusgate/campusgate/internal/audit"
)

// dummyPasswordHash is verified when a username does not resolve to an
// account, so the response time does not betray account existence. It is a
// fake hash that can never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing parity, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// InvalidCredentialsError carries the remaining attempt budget alongside the
// ErrInvalidCredentials sentinel.
type InvalidCredentialsError struct {
	// AttemptsLeft is the number of failures remaining before lockout, or -1
	// when the account does not exist and no budget applies.
	AttemptsLeft int

	// LockoutTriggered is true only for the failure that created the lock.
	// A concurrent failure that exhausted the budget after another one
	// already locked the account reports AttemptsLeft zero without it.
	LockoutTriggered bool
}

func (e *InvalidCredentialsError) Error() string {
	return ErrInvalidCredentials.Error()
}

// Unwrap makes errors.Is(err, ErrInvalidCredentials) hold.
func (e *InvalidCredentialsError) Unwrap() error {
	return ErrInvalidCredentials
}

// AccountLockedError carries the lock expiry alongside the ErrAccountLocked
// sentinel.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Until.Format(time.RFC3339))
}

// Unwrap makes errors.Is(err, ErrAccountLocked) hold.
func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}

// LoginResult is the outcome of a successful authentication.
type LoginResult struct {
	Account *Account
	Token   string
}

// Origin describes where a request came from, for the audit trail.
type Origin struct {
	IPAddress string
	UserAgent string
}

// Service orchestrates the login flow: lookup, lockout evaluation, password
// verification, atomic counter transitions, token minting, and audit
// emission. Exactly one audit event is recorded per login attempt.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	issuer   *TokenIssuer
	policy   LockoutPolicy
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. Returns an error if a required dependency is
// nil.
func NewService(accounts AccountRepository, hasher PasswordHasher, issuer *TokenIssuer, policy LockoutPolicy, sink audit.Sink, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if issuer == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if sink == nil {
		return nil, oops.Errorf("audit sink is required")
	}
	if policy.MaxAttempts <= 0 || policy.LockDuration <= 0 {
		return nil, oops.Errorf("lockout policy must set max attempts and lock duration")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		issuer:   issuer,
		policy:   policy,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Login authenticates a principal. On success the failure counter is reset,
// any expired lock cleared, last_login stamped, and a signed bearer token
// returned. Failure modes:
//   - unknown username or wrong password: *InvalidCredentialsError
//   - lock in force: *AccountLockedError (password never consulted)
//   - backing store failure: wrapped storage error
func (s *Service) Login(ctx context.Context, username, password string, origin Origin) (*LoginResult, error) {
	now := s.now()

	account, lookupErr := s.accounts.GetByUsername(ctx, username)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			// Verify a dummy hash so unknown usernames cost the same as wrong
			// passwords, then fail with the uniform credentials error.
			_, _ = s.hasher.Verify(password, dummyPasswordHash) //nolint:errcheck // timing parity only
			s.recordLogin(ctx, audit.NewEvent(audit.ActionLoginFailed, audit.SeverityWarning, audit.OutcomeFailure),
				nil, username, "", origin, map[string]any{"reason": "unknown_username"})
			return nil, &InvalidCredentialsError{AttemptsLeft: -1}
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by username").
			Wrap(lookupErr)
	}

	// Lockout is evaluated before the password: while the lock is in force
	// the submitted credential must not influence the outcome or the counter.
	if IsLockedOut(account.LockedUntil, now) {
		s.recordLogin(ctx, audit.NewEvent(audit.ActionLoginFailed, audit.SeverityWarning, audit.OutcomeFailure),
			account, username, string(account.Role), origin,
			map[string]any{"reason": "account_locked", "locked_until": account.LockedUntil})
		return nil, &AccountLockedError{Until: *account.LockedUntil}
	}

	valid, verifyErr := s.hasher.Verify(password, account.PasswordHash)
	if verifyErr != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !valid {
		state, recErr := s.accounts.RecordFailure(ctx, account.ID, s.policy.MaxAttempts, s.policy.LockDuration)
		if recErr != nil {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "record failed attempt").
				Wrap(recErr)
		}

		if state.LockApplied {
			// The failure that crossed the threshold; its single audit event
			// is the lock trigger. A concurrent failure that arrived after
			// the lock was set falls through to the ordinary failure event.
			s.recordLogin(ctx, audit.NewEvent(audit.ActionAccountLocked, audit.SeverityCritical, audit.OutcomeFailure),
				account, username, string(account.Role), origin,
				map[string]any{"failed_attempts": state.FailedAttempts, "locked_until": state.LockedUntil})
		} else {
			s.recordLogin(ctx, audit.NewEvent(audit.ActionLoginFailed, audit.SeverityWarning, audit.OutcomeFailure),
				account, username, string(account.Role), origin,
				map[string]any{"reason": "wrong_password", "failed_attempts": state.FailedAttempts})
		}

		return nil, &InvalidCredentialsError{
			AttemptsLeft:     s.policy.AttemptsRemaining(state.FailedAttempts),
			LockoutTriggered: state.LockApplied,
		}
	}

	// Success: reset counter, clear any expired lock, stamp last login. Login
	// succeeds even if the bookkeeping write fails.
	if err := s.accounts.RecordSuccess(ctx, account.ID, now); err != nil {
		s.logger.Error("failed to reset lockout state after successful login",
			"username", account.Username,
			"error", err,
		)
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &now

	token, err := s.issuer.Issue(account, now)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	s.recordLogin(ctx, audit.NewEvent(audit.ActionLogin, audit.SeverityInfo, audit.OutcomeSuccess),
		account, username, string(account.Role), origin, nil)

	return &LoginResult{Account: account, Token: token}, nil
}

// Logout acknowledges a client-side token discard. Tokens are not revocable
// before expiry; the only server-side effect is the audit record.
func (s *Service) Logout(ctx context.Context, claims *Claims, origin Origin) {
	event := audit.NewEvent(audit.ActionLogout, audit.SeverityInfo, audit.OutcomeSuccess)
	event.Username = claims.Username
	event.Role = string(claims.Role)
	event.IPAddress = origin.IPAddress
	event.UserAgent = origin.UserAgent
	if id, err := ulid.Parse(claims.AccountID); err == nil {
		event.ActorID = &id
	}
	s.sink.Record(ctx, event)
}

// Provision creates an account out of the normal login path (administrative
// provisioning). The caller supplies the plaintext password exactly once;
// only the hash is stored. The mutation is audited as user_create.
func (s *Service) Provision(ctx context.Context, username, password string, role Role, dept Department, displayName string, actor *Claims, origin Origin) (*Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	account, err := NewAccount(username, hash, role, dept, displayName)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	event := audit.NewEvent(audit.ActionUserCreate, audit.SeverityInfo, audit.OutcomeSuccess)
	event.Username = usernameOf(actor)
	event.Role = roleOf(actor)
	event.IPAddress = origin.IPAddress
	event.UserAgent = origin.UserAgent
	event.ResourceType = "user"
	event.ResourceID = account.ID.String()
	event.Detail = map[string]any{"created_username": account.Username, "created_role": string(account.Role)}
	if actor != nil {
		if id, err := ulid.Parse(actor.AccountID); err == nil {
			event.ActorID = &id
		}
	}
	s.sink.Record(ctx, event)

	return account, nil
}

// recordLogin fills the shared envelope of a login-flow audit event and
// hands it to the sink.
func (s *Service) recordLogin(ctx context.Context, event audit.Event, account *Account, username, role string, origin Origin, detail map[string]any) {
	event.Username = username
	event.Role = role
	event.IPAddress = origin.IPAddress
	event.UserAgent = origin.UserAgent
	event.Detail = detail
	if account != nil {
		id := account.ID
		event.ActorID = &id
	}
	s.sink.Record(ctx, event)
}

func usernameOf(c *Claims) string {
	if c == nil {
		return ""
	}
	return c.Username
}

func roleOf(c *Claims) string {
	if c == nil {
		return ""
	}
	return string(c.Role)
}
