// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package access

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/campusgate/internal/audit"
	"github.com/campusgate/campusgate/internal/auth"
)

// claimsKey is the gin context key under which middleware stores verified
// claims.
const claimsKey = "campusgate_claims"

// bearerPrefix per RFC 6750.
const bearerPrefix = "Bearer "

// Middleware enforces the gate at the request boundary and audits denials.
type Middleware struct {
	gate     *Gate
	sink     audit.Sink
	onDenial func(Reason)
}

// NewMiddleware creates the request-boundary enforcement middleware.
func NewMiddleware(gate *Gate, sink audit.Sink) *Middleware {
	return &Middleware{gate: gate, sink: sink}
}

// OnDenial registers a callback invoked once per denied request, after the
// audit event is recorded. Used to feed denial metrics.
func (m *Middleware) OnDenial(fn func(Reason)) {
	m.onDenial = fn
}

// RequireRoles returns a gin handler that admits only tokens whose role is
// in the given set. With no roles, any valid token passes. Denials abort the
// request with 401 (token problems) or 403 (role problems).
func (m *Middleware) RequireRoles(required ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := m.gate.Authorize(extractBearer(c), required)
		if !decision.Allowed {
			m.recordDenial(c, decision.Reason)
			if m.onDenial != nil {
				m.onDenial(decision.Reason)
			}
			status := http.StatusUnauthorized
			if decision.Reason == ReasonInsufficientRole {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"error": string(decision.Reason)})
			return
		}

		c.Set(claimsKey, decision.Claims)
		c.Next()
	}
}

// Identify returns a gin handler that attaches claims when a valid token is
// presented but never rejects the request. Routes that must answer the same
// way with or without a token, like logout, use this instead of RequireRoles.
func (m *Middleware) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if decision := m.gate.Authorize(extractBearer(c), nil); decision.Allowed {
			c.Set(claimsKey, decision.Claims)
		}
		c.Next()
	}
}

// ClaimsFrom returns the verified claims stored by RequireRoles or Identify,
// or nil when the route was not gated.
func ClaimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, ok := v.(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// extractBearer pulls the bearer token out of the Authorization header.
func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, bearerPrefix) {
		return header[len(bearerPrefix):]
	}
	return header
}

// recordDenial emits the access_denied audit event for a rejected request.
func (m *Middleware) recordDenial(c *gin.Context, reason Reason) {
	if m.sink == nil {
		return
	}
	event := audit.NewEvent(audit.ActionAccessDenied, audit.SeverityWarning, audit.OutcomeFailure)
	event.IPAddress = c.ClientIP()
	event.UserAgent = c.Request.UserAgent()
	event.ResourceType = "route"
	event.ResourceID = c.FullPath()
	event.Detail = map[string]any{"reason": string(reason), "method": c.Request.Method}
	m.sink.Record(c.Request.Context(), event)
}
