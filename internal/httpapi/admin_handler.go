// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/campusgate/campusgate/internal/access"
	"github.com/campusgate/campusgate/internal/audit"
	"github.com/campusgate/campusgate/internal/auth"
)

// handleAuditSearch serves GET /api/admin/audit. Filters arrive as query
// parameters: from, to (RFC 3339), actor_id, username, action, severity,
// limit.
func (s *Server) handleAuditSearch(c *gin.Context) {
	q, err := auditQueryFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := s.audit.Search(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("audit search failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// auditQueryFrom parses the audit filter parameters.
func auditQueryFrom(c *gin.Context) (audit.Query, error) {
	var q audit.Query

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("from must be an RFC 3339 timestamp")
		}
		q.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("to must be an RFC 3339 timestamp")
		}
		q.To = t
	}
	if v := c.Query("actor_id"); v != "" {
		id, err := ulid.Parse(v)
		if err != nil {
			return q, errors.New("actor_id must be a ULID")
		}
		q.ActorID = &id
	}
	q.Username = c.Query("username")
	if v := c.Query("action"); v != "" {
		action := audit.Action(v)
		if !action.Valid() {
			return q, errors.New("unknown action")
		}
		q.Action = action
	}
	if v := c.Query("severity"); v != "" {
		q.Severity = audit.Severity(v)
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = n
	}

	return q, nil
}

// createUserRequest is the POST /api/admin/users body.
type createUserRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Role        string `json:"role" binding:"required"`
	Department  string `json:"department"`
	DisplayName string `json:"displayName"`
}

// handleCreateUser provisions an account. Returns 409 when the username is
// already taken.
func (s *Server) handleCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, password, and role are required"})
		return
	}

	role, err := auth.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	dept, err := auth.ParseDepartment(req.Department)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown department"})
		return
	}

	account, err := s.service.Provision(c.Request.Context(),
		req.Username, req.Password, role, dept, req.DisplayName,
		access.ClaimsFrom(c), originFrom(c))
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
			return
		}
		if usernameErr := auth.ValidateUsername(req.Username); usernameErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": usernameErr.Error()})
			return
		}
		s.logger.Error("user provisioning failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": userPayloadFrom(account)})
}
