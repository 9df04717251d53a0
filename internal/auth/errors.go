// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package auth

import "errors"

// Sentinel errors for the authentication taxonomy. Callers branch on these
// with errors.Is; transport layers map them to status codes.
var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials is returned for a wrong password and, deliberately,
	// for an unknown username so the response does not reveal account existence.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned while a lockout is in force.
	ErrAccountLocked = errors.New("account locked")

	// ErrConflict is returned when a unique constraint (username) is violated.
	ErrConflict = errors.New("conflict")
)
