// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

// Package audit provides the append-only forensic log for security-relevant
// portal actions.
package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Action is the closed enumeration of auditable action kinds.
type Action string

// Auditable actions.
const (
	ActionLogin         Action = "login"
	ActionLogout        Action = "logout"
	ActionLoginFailed   Action = "login_failed"
	ActionAccountLocked Action = "account_locked"
	ActionAccessDenied  Action = "access_denied"
	ActionFileUpload    Action = "file_upload"
	ActionFileDownload  Action = "file_download"
	ActionFileDelete    Action = "file_delete"
	ActionCourseCreate  Action = "course_create"
	ActionCourseUpdate  Action = "course_update"
	ActionCourseDelete  Action = "course_delete"
	ActionUserCreate    Action = "user_create"
	ActionUserUpdate    Action = "user_update"
	ActionUserDelete    Action = "user_delete"
	ActionForumPost     Action = "forum_post"
	ActionForumDelete   Action = "forum_delete"
	ActionAdminAction   Action = "admin_action"
)

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool {
	switch a {
	case ActionLogin, ActionLogout, ActionLoginFailed, ActionAccountLocked,
		ActionAccessDenied,
		ActionFileUpload, ActionFileDownload, ActionFileDelete,
		ActionCourseCreate, ActionCourseUpdate, ActionCourseDelete,
		ActionUserCreate, ActionUserUpdate, ActionUserDelete,
		ActionForumPost, ActionForumDelete, ActionAdminAction:
		return true
	}
	return false
}

// Severity classifies the operational weight of an event.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome records whether the audited action succeeded.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a single immutable forensic record. ActorID is nil when the
// action happened before identity resolution (a failed login still records
// the attempted username).
type Event struct {
	ID           ulid.ULID      `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      *ulid.ULID     `json:"actor_id,omitempty"`
	Username     string         `json:"username,omitempty"`
	Role         string         `json:"role,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Action       Action         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	Severity     Severity       `json:"severity"`
	Outcome      Outcome        `json:"outcome"`
}

// NewEvent creates an event stamped with a fresh ULID and the current time.
func NewEvent(action Action, severity Severity, outcome Outcome) Event {
	return Event{
		ID:        ulid.Make(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Severity:  severity,
		Outcome:   outcome,
	}
}

// Query filters the audit log for reporting consumers. Zero fields are
// unconstrained.
type Query struct {
	From     time.Time
	To       time.Time
	ActorID  *ulid.ULID
	Username string
	Action   Action
	Severity Severity
	Limit    int
}

// Sink accepts events for recording. Record is fire-and-forget: a sink never
// propagates persistence failures to the triggering action.
type Sink interface {
	Record(ctx context.Context, event Event)
}
