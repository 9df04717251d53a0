// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package auth

import "time"

// Default lockout parameters.
const (
	// DefaultMaxAttempts is the number of consecutive failures that locks an
	// account.
	DefaultMaxAttempts = 5

	// DefaultLockDuration is how long an account stays locked.
	DefaultLockDuration = 24 * time.Hour
)

// LockoutPolicy is the pure brute-force mitigation decision logic. It never
// touches storage; callers feed it the current account state and apply the
// transitions it prescribes.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// DefaultLockoutPolicy returns the portal's standard policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		LockDuration: DefaultLockDuration,
	}
}

// IsLockedOut returns true if the lockout timestamp is set and in the future.
// Expiry is lazy: nothing clears a stale lock except the next successful
// login evaluated after this returns false.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// AttemptsRemaining returns how many failures are left before lockout,
// clamped at zero.
func (p LockoutPolicy) AttemptsRemaining(failedAttempts int) int {
	remaining := p.MaxAttempts - failedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ShouldLock reports whether the given post-increment failure count triggers
// a lock.
func (p LockoutPolicy) ShouldLock(failedAttempts int) bool {
	return failedAttempts >= p.MaxAttempts
}

// LockExpiry returns the lock expiry for a lock triggered at now.
func (p LockoutPolicy) LockExpiry(now time.Time) time.Time {
	return now.Add(p.LockDuration)
}
