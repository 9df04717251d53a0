// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/auth"
)

func newIssuer(t *testing.T, secret string, lifetime time.Duration) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(secret, lifetime)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_EmptySecret(t *testing.T) {
	_, err := auth.NewTokenIssuer("", time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := newIssuer(t, "test-secret", time.Hour)

	account := &auth.Account{
		ID:         ulid.Make(),
		Username:   "bob",
		Role:       auth.RoleProfessor,
		Department: auth.DeptElectrical,
	}

	now := time.Now()
	token, err := issuer.Issue(account, now)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), claims.AccountID)
	assert.Equal(t, "bob", claims.Username)
	assert.Equal(t, auth.RoleProfessor, claims.Role)
	assert.Equal(t, auth.DeptElectrical, claims.Department)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := newIssuer(t, "test-secret", time.Hour)

	account := &auth.Account{ID: ulid.Make(), Username: "bob", Role: auth.RoleStudent}

	// Issue in the past so the token is already expired.
	token, err := issuer.Issue(account, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenIssuer_ForeignSecret(t *testing.T) {
	issuer := newIssuer(t, "test-secret", time.Hour)
	foreign := newIssuer(t, "other-secret", time.Hour)

	account := &auth.Account{ID: ulid.Make(), Username: "bob", Role: auth.RoleStudent}
	token, err := foreign.Issue(account, time.Now())
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, auth.ErrTokenSignature)
}

func TestTokenIssuer_Malformed(t *testing.T) {
	issuer := newIssuer(t, "test-secret", time.Hour)

	for _, tok := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err := issuer.Verify(tok)
		assert.ErrorIs(t, err, auth.ErrTokenMalformed, "token %q", tok)
	}
}

func TestTokenIssuer_RejectsUnsignedAlgorithm(t *testing.T) {
	issuer := newIssuer(t, "test-secret", time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"account_id": ulid.Make().String(),
		"username":   "mallory",
		"role":       "root",
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}

func TestTokenIssuer_RejectsUnknownRole(t *testing.T) {
	// A token that is correctly signed but carries a role outside the closed
	// set is treated as malformed.
	issuer := newIssuer(t, "test-secret", time.Hour)

	claims := jwt.MapClaims{
		"account_id": ulid.Make().String(),
		"username":   "mallory",
		"role":       "superuser",
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}

func TestNewTokenIssuer_DefaultLifetime(t *testing.T) {
	issuer := newIssuer(t, "test-secret", 0)
	assert.Equal(t, auth.DefaultTokenLifetime, issuer.Lifetime())
}
