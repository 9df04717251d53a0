// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// DefaultTokenLifetime is the bearer token validity window. There is no
// refresh mechanism; an expired token forces re-authentication.
const DefaultTokenLifetime = 7 * 24 * time.Hour

// Token verification failures. The gate maps these onto deny reasons.
var (
	// ErrTokenExpired is returned for a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenSignature is returned when the signature does not verify against
	// the server secret.
	ErrTokenSignature = errors.New("token signature invalid")

	// ErrTokenMalformed is returned for anything that is not a well-formed JWT.
	ErrTokenMalformed = errors.New("token malformed")
)

// Claims are the identity and authorization claims embedded in a session
// token. The server is stateless with respect to issued tokens: verification
// is a pure function of the token and the shared secret.
type Claims struct {
	AccountID  string     `json:"account_id"`
	Username   string     `json:"username"`
	Role       Role       `json:"role"`
	Department Department `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies signed session tokens.
type TokenIssuer struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenIssuer creates a TokenIssuer. The secret must be non-empty; the
// lifetime defaults to DefaultTokenLifetime when zero.
func NewTokenIssuer(secret string, lifetime time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, oops.Code("TOKEN_SECRET_EMPTY").Errorf("session secret cannot be empty")
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &TokenIssuer{secret: []byte(secret), lifetime: lifetime}, nil
}

// Issue mints a signed token for an authenticated account.
func (i *TokenIssuer) Issue(account *Account, now time.Time) (string, error) {
	claims := Claims{
		AccountID:  account.ID.String(),
		Username:   account.Username,
		Role:       account.Role,
		Department: account.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims. Failures map to
// ErrTokenExpired, ErrTokenSignature, or ErrTokenMalformed.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, oops.Code("TOKEN_BAD_ALG").Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return i.secret, nil
		},
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	if !claims.Role.Valid() {
		// A token signed by us always carries a closed-set role; anything else
		// is treated as malformed rather than mapped to a capability.
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// Lifetime returns the configured token validity window.
func (i *TokenIssuer) Lifetime() time.Duration {
	return i.lifetime
}
