// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultSearchLimit caps reporting queries that do not set their own limit.
const DefaultSearchLimit = 100

// querier is the pgx surface the store depends on; satisfied by
// *pgxpool.Pool and pgxmock.PgxPoolIface.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore implements Store using PostgreSQL. The audit_log table is
// append-only: no update or delete statements exist in this package.
type PostgresStore struct {
	pool querier
}

// NewPostgresStore creates a PostgresStore on the given pool.
func NewPostgresStore(pool querier) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append writes a single event.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		return oops.Code("AUDIT_APPEND_FAILED").
			With("operation", "marshal detail").
			Wrap(err)
	}

	var actorID *string
	if event.ActorID != nil {
		str := event.ActorID.String()
		actorID = &str
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (
			id, timestamp, actor_id, username, role, ip_address, user_agent,
			action, resource_type, resource_id, detail, severity, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		event.ID.String(),
		event.Timestamp,
		actorID,
		event.Username,
		event.Role,
		event.IPAddress,
		event.UserAgent,
		string(event.Action),
		event.ResourceType,
		event.ResourceID,
		detailJSON,
		string(event.Severity),
		string(event.Outcome),
	)
	if err != nil {
		return oops.Code("AUDIT_APPEND_FAILED").
			With("action", string(event.Action)).
			With("username", event.Username).
			Wrap(err)
	}
	return nil
}

// Search returns events matching the query, newest first.
func (s *PostgresStore) Search(ctx context.Context, q Query) ([]Event, error) {
	var (
		conds []string
		args  []any
	)

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if !q.From.IsZero() {
		add("timestamp >= ", q.From)
	}
	if !q.To.IsZero() {
		add("timestamp < ", q.To)
	}
	if q.ActorID != nil {
		add("actor_id = ", q.ActorID.String())
	}
	if q.Username != "" {
		add("username = ", q.Username)
	}
	if q.Action != "" {
		add("action = ", string(q.Action))
	}
	if q.Severity != "" {
		add("severity = ", string(q.Severity))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	args = append(args, limit)

	query := `
		SELECT id, timestamp, actor_id, username, role, ip_address, user_agent,
		       action, resource_type, resource_id, detail, severity, outcome
		FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("AUDIT_SEARCH_FAILED").Wrap(err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_SEARCH_FAILED").Wrap(err)
	}
	return events, nil
}

// Close is a no-op: the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}

// scanEvent scans a single audit row.
func scanEvent(row pgx.Row) (Event, error) {
	var (
		idStr      string
		timestamp  time.Time
		actorIDStr *string
		username   string
		role       string
		ipAddress  string
		userAgent  string
		action     string
		resType    string
		resID      string
		detailJSON []byte
		severity   string
		outcome    string
	)

	if err := row.Scan(
		&idStr, &timestamp, &actorIDStr, &username, &role, &ipAddress,
		&userAgent, &action, &resType, &resID, &detailJSON, &severity, &outcome,
	); err != nil {
		return Event{}, oops.Code("AUDIT_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return Event{}, oops.Code("AUDIT_INVALID_ID").With("id", idStr).Wrap(err)
	}

	var actorID *ulid.ULID
	if actorIDStr != nil {
		parsed, err := ulid.Parse(*actorIDStr)
		if err != nil {
			return Event{}, oops.Code("AUDIT_INVALID_ACTOR_ID").With("actor_id", *actorIDStr).Wrap(err)
		}
		actorID = &parsed
	}

	var detail map[string]any
	if len(detailJSON) > 0 {
		if err := json.Unmarshal(detailJSON, &detail); err != nil {
			return Event{}, oops.Code("AUDIT_INVALID_DETAIL").Wrap(err)
		}
	}

	return Event{
		ID:           id,
		Timestamp:    timestamp,
		ActorID:      actorID,
		Username:     username,
		Role:         role,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		Action:       Action(action),
		ResourceType: resType,
		ResourceID:   resID,
		Detail:       detail,
		Severity:     Severity(severity),
		Outcome:      Outcome(outcome),
	}, nil
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
