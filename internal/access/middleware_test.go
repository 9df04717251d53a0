// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package access_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/access"
	"github.com/campusgate/campusgate/internal/audit"
	"github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/auth/authtest"
)

func newTestRouter(t *testing.T, sink audit.Sink, required ...auth.Role) (*gin.Engine, *auth.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	gate, err := access.NewGate(issuer)
	require.NoError(t, err)

	mw := access.NewMiddleware(gate, sink)

	router := gin.New()
	router.GET("/protected", mw.RequireRoles(required...), func(c *gin.Context) {
		claims := access.ClaimsFrom(c)
		require.NotNil(t, claims)
		c.JSON(http.StatusOK, gin.H{"username": claims.Username})
	})

	return router, issuer
}

func doRequest(router *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddleware_MissingToken(t *testing.T) {
	sink := &authtest.CaptureSink{}
	router, _ := newTestRouter(t, sink)

	w := doRequest(router, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing_token")

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionAccessDenied, events[0].Action)
	assert.Equal(t, "missing_token", events[0].Detail["reason"])
}

func TestMiddleware_InvalidToken(t *testing.T) {
	sink := &authtest.CaptureSink{}
	router, _ := newTestRouter(t, sink)

	w := doRequest(router, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_token")
}

func TestMiddleware_InsufficientRole(t *testing.T) {
	sink := &authtest.CaptureSink{}
	router, issuer := newTestRouter(t, sink, auth.RoleAdmin, auth.RoleRoot)

	student := &auth.Account{ID: ulid.Make(), Username: "alice", Role: auth.RoleStudent}
	token, err := issuer.Issue(student, time.Now())
	require.NoError(t, err)

	w := doRequest(router, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_role")
}

func TestMiddleware_AllowsAndExposesClaims(t *testing.T) {
	sink := &authtest.CaptureSink{}
	router, issuer := newTestRouter(t, sink, auth.RoleProfessor)

	prof := &auth.Account{ID: ulid.Make(), Username: "bob", Role: auth.RoleProfessor}
	token, err := issuer.Issue(prof, time.Now())
	require.NoError(t, err)

	w := doRequest(router, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bob")
	assert.Empty(t, sink.Events())
}

func TestMiddleware_IdentifyNeverRejects(t *testing.T) {
	sink := &authtest.CaptureSink{}
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	gate, err := access.NewGate(issuer)
	require.NoError(t, err)

	mw := access.NewMiddleware(gate, sink)

	router := gin.New()
	router.GET("/protected", mw.Identify(), func(c *gin.Context) {
		claims := access.ClaimsFrom(c)
		if claims == nil {
			c.JSON(http.StatusOK, gin.H{"username": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": claims.Username})
	})

	// Anonymous and garbage tokens both pass through without claims and
	// without a denial record.
	w := doRequest(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(router, "not-a-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sink.Events())

	// A valid token attaches claims.
	prof := &auth.Account{ID: ulid.Make(), Username: "bob", Role: auth.RoleProfessor}
	token, err := issuer.Issue(prof, time.Now())
	require.NoError(t, err)
	w = doRequest(router, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bob")
}

func TestMiddleware_OnDenialHook(t *testing.T) {
	sink := &authtest.CaptureSink{}
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	gate, err := access.NewGate(issuer)
	require.NoError(t, err)

	var seen []access.Reason
	mw := access.NewMiddleware(gate, sink)
	mw.OnDenial(func(reason access.Reason) { seen = append(seen, reason) })

	router := gin.New()
	router.GET("/protected", mw.RequireRoles(), func(c *gin.Context) { c.Status(http.StatusOK) })

	doRequest(router, "")
	require.Len(t, seen, 1)
	assert.Equal(t, access.ReasonMissingToken, seen[0])
}
