// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

// Package access implements the authorization gate: the single arbiter of
// whether a bearer token may reach a capability.
package access

import (
	"errors"

	"github.com/samber/oops"

	"github.com/campusgate/campusgate/internal/auth"
)

// Reason explains a denial.
type Reason string

// Denial reasons.
const (
	ReasonMissingToken     Reason = "missing_token"
	ReasonInvalidToken     Reason = "invalid_token"
	ReasonExpiredToken     Reason = "expired_token"
	ReasonInsufficientRole Reason = "insufficient_role"
)

// Decision is the outcome of an authorization check. Claims is set only when
// Allowed is true.
type Decision struct {
	Allowed bool
	Claims  *auth.Claims
	Reason  Reason
}

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Gate decides whether a token grants a required capability set. It is
// stateless: every decision is a pure function of the token, the shared
// secret behind the verifier, and the required roles.
type Gate struct {
	verifier TokenVerifier
}

// NewGate creates a Gate.
func NewGate(verifier TokenVerifier) (*Gate, error) {
	if verifier == nil {
		return nil, oops.Errorf("token verifier is required")
	}
	return &Gate{verifier: verifier}, nil
}

// Authorize validates the token and checks role membership. An empty
// required set admits any valid, unexpired token; otherwise the token's role
// must be a member of the set.
func (g *Gate) Authorize(token string, required []auth.Role) Decision {
	if token == "" {
		return Decision{Reason: ReasonMissingToken}
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return Decision{Reason: ReasonExpiredToken}
		}
		return Decision{Reason: ReasonInvalidToken}
	}

	if !RoleAllowed(claims.Role, required) {
		return Decision{Reason: ReasonInsufficientRole}
	}

	return Decision{Allowed: true, Claims: claims}
}

// RoleAllowed is the membership rule shared by both enforcement points: an
// empty required set allows any role, otherwise the role must be a member.
// The client-side route guard reimplements this rule independently; the two
// are cross-checked in tests and must never disagree.
func RoleAllowed(role auth.Role, required []auth.Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}
