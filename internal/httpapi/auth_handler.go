// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/campusgate/internal/access"
	"github.com/campusgate/campusgate/internal/auth"
)

// loginRequest is the POST /api/auth/login body.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// userPayload is the account shape returned to clients. The password hash and
// lockout bookkeeping never leave the server.
type userPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	Department  string `json:"department,omitempty"`
	DisplayName string `json:"displayName"`
}

func userPayloadFrom(account *auth.Account) userPayload {
	return userPayload{
		ID:          account.ID.String(),
		Username:    account.Username,
		Role:        string(account.Role),
		Department:  string(account.Department),
		DisplayName: account.EffectiveDisplayName(),
	}
}

// handleLogin authenticates a username/password pair and returns a bearer
// token. Responses:
//   - 200 with token and user on success
//   - 401 with attemptsLeft (when the account exists) on bad credentials
//   - 423 while a lockout is in force
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	result, err := s.service.Login(c.Request.Context(), req.Username, req.Password, originFrom(c))
	if err != nil {
		s.writeLoginError(c, err)
		return
	}

	s.countLogin("success")
	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"user":  userPayloadFrom(result.Account),
	})
}

// writeLoginError maps a login failure to its HTTP shape without leaking
// which part of the credential was wrong.
func (s *Server) writeLoginError(c *gin.Context, err error) {
	var lockedErr *auth.AccountLockedError
	if errors.As(err, &lockedErr) {
		s.countLogin("locked")
		c.JSON(http.StatusLocked, gin.H{
			"error":       "Account is locked due to repeated failed login attempts. Try again later.",
			"lockedUntil": lockedErr.Until.UTC().Format(time.RFC3339),
		})
		return
	}

	var credsErr *auth.InvalidCredentialsError
	if errors.As(err, &credsErr) {
		s.countLogin("invalid_credentials")
		if s.metrics != nil && credsErr.LockoutTriggered {
			s.metrics.LockoutsTotal.Inc()
		}
		body := gin.H{"error": "Invalid credentials"}
		if credsErr.AttemptsLeft >= 0 {
			body["attemptsLeft"] = credsErr.AttemptsLeft
		}
		c.JSON(http.StatusUnauthorized, body)
		return
	}

	s.countLogin("error")
	s.logger.Error("login failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// handleLogout acknowledges a client-side token discard. The token stays
// cryptographically valid until expiry; the server records the event and
// nothing else.
func (s *Server) handleLogout(c *gin.Context) {
	claims := access.ClaimsFrom(c)
	if claims != nil {
		s.service.Logout(c.Request.Context(), claims, originFrom(c))
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// handleMe returns the identity claims of the presented token.
func (s *Server) handleMe(c *gin.Context) {
	claims := access.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user": userPayload{
			ID:         claims.AccountID,
			Username:   claims.Username,
			Role:       string(claims.Role),
			Department: string(claims.Department),
		},
	})
}

// countLogin records a login outcome metric when metrics are wired.
func (s *Server) countLogin(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
}
