// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

// Package routeguard is the advisory navigation-boundary twin of the
// authorization gate. A web or TUI client consults it before rendering a
// route so users are not shown pages the API will reject. It is UX only and
// never trusted for security; the request-boundary gate remains the sole
// authority. The membership rule here is an independent implementation of
// the same rule and is cross-checked against the gate in tests.
package routeguard

import (
	"sort"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/campusgate/campusgate/internal/auth"
)

// Route declares the role set required to navigate to a path pattern.
// Patterns use glob syntax with '/' as separator, e.g. "/admin/**".
type Route struct {
	Pattern string
	Roles   []auth.Role
}

// compiledRoute pairs a route with its compiled matcher.
type compiledRoute struct {
	route   Route
	matcher glob.Glob
}

// Guard evaluates navigation permissions against a route table.
type Guard struct {
	routes []compiledRoute
}

// New compiles a route table into a Guard. Longer patterns are tried first
// so the most specific declaration wins.
func New(routes []Route) (*Guard, error) {
	compiled := make([]compiledRoute, 0, len(routes))
	for _, r := range routes {
		matcher, err := glob.Compile(r.Pattern, '/')
		if err != nil {
			return nil, oops.Code("GUARD_BAD_PATTERN").
				With("pattern", r.Pattern).
				Wrap(err)
		}
		compiled = append(compiled, compiledRoute{route: r, matcher: matcher})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i].route.Pattern) > len(compiled[j].route.Pattern)
	})
	return &Guard{routes: compiled}, nil
}

// DefaultRoutes is the portal navigation table. It mirrors the role sets the
// API routes declare; TestGuardAgreesWithGate keeps the two aligned.
func DefaultRoutes() []Route {
	anyRole := []auth.Role{auth.RoleStudent, auth.RoleProfessor, auth.RoleAdmin, auth.RoleRoot}
	staff := []auth.Role{auth.RoleProfessor, auth.RoleAdmin, auth.RoleRoot}
	admins := []auth.Role{auth.RoleAdmin, auth.RoleRoot}

	return []Route{
		{Pattern: "/departments", Roles: anyRole},
		{Pattern: "/semesters", Roles: anyRole},
		{Pattern: "/courses", Roles: anyRole},
		{Pattern: "/forum/**", Roles: anyRole},
		{Pattern: "/student/**", Roles: []auth.Role{auth.RoleStudent}},
		{Pattern: "/professor/**", Roles: staff},
		{Pattern: "/admin/**", Roles: admins},
		{Pattern: "/admin/security", Roles: []auth.Role{auth.RoleRoot}},
	}
}

// CanNavigate reports whether a principal with the given role may reach the
// path. Unknown paths are open: the guard only restricts what the table
// declares, exactly as the client router leaves unlisted routes public.
func (g *Guard) CanNavigate(role auth.Role, path string) bool {
	for _, cr := range g.routes {
		if cr.matcher.Match(path) {
			return roleMember(role, cr.route.Roles)
		}
	}
	return true
}

// RequiredRoles returns the declared role set for the first pattern matching
// path, or nil when the path is unlisted.
func (g *Guard) RequiredRoles(path string) []auth.Role {
	for _, cr := range g.routes {
		if cr.matcher.Match(path) {
			return cr.route.Roles
		}
	}
	return nil
}

// roleMember is the guard's own membership rule: empty set admits any role.
// Deliberately a second implementation rather than a call into the gate.
func roleMember(role auth.Role, required []auth.Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}
