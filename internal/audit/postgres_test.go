// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Append(t *testing.T) {
	tests := []struct {
		name      string
		event     func() Event
		setupMock func(mock pgxmock.PgxPoolIface, event Event)
		wantErr   bool
	}{
		{
			name: "success with actor",
			event: func() Event {
				event := NewEvent(ActionLogin, SeverityInfo, OutcomeSuccess)
				actorID := ulid.Make()
				event.ActorID = &actorID
				event.Username = "alice"
				event.Detail = map[string]any{"k": "v"}
				return event
			},
			setupMock: func(mock pgxmock.PgxPoolIface, _ Event) {
				mock.ExpectExec(`INSERT INTO audit_log`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "success without actor",
			event: func() Event {
				event := NewEvent(ActionLoginFailed, SeverityWarning, OutcomeFailure)
				event.Username = "ghost"
				return event
			},
			setupMock: func(mock pgxmock.PgxPoolIface, _ Event) {
				mock.ExpectExec(`INSERT INTO audit_log`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "database error",
			event: func() Event {
				return NewEvent(ActionLogin, SeverityInfo, OutcomeSuccess)
			},
			setupMock: func(mock pgxmock.PgxPoolIface, _ Event) {
				mock.ExpectExec(`INSERT INTO audit_log`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg()).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			event := tt.event()
			tt.setupMock(mock, event)

			store := NewPostgresStore(mock)
			err = store.Append(context.Background(), event)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func auditRows(events ...Event) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "timestamp", "actor_id", "username", "role", "ip_address",
		"user_agent", "action", "resource_type", "resource_id", "detail",
		"severity", "outcome",
	})
	for _, e := range events {
		var actorID *string
		if e.ActorID != nil {
			str := e.ActorID.String()
			actorID = &str
		}
		rows.AddRow(
			e.ID.String(), e.Timestamp, actorID, e.Username, e.Role,
			e.IPAddress, e.UserAgent, string(e.Action), e.ResourceType,
			e.ResourceID, []byte(`{}`), string(e.Severity), string(e.Outcome),
		)
	}
	return rows
}

func TestPostgresStore_Search(t *testing.T) {
	event := NewEvent(ActionAccountLocked, SeverityCritical, OutcomeFailure)
	event.Username = "alice"

	t.Run("no filters uses default limit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT (.+) FROM audit_log ORDER BY timestamp DESC LIMIT \$1`).
			WithArgs(DefaultSearchLimit).
			WillReturnRows(auditRows(event))

		store := NewPostgresStore(mock)
		events, err := store.Search(context.Background(), Query{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, ActionAccountLocked, events[0].Action)
		assert.Equal(t, "alice", events[0].Username)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all filters build positional conditions", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 1, 0)
		actorID := ulid.Make()

		mock.ExpectQuery(`SELECT (.+) FROM audit_log WHERE timestamp >= \$1 AND timestamp < \$2 AND actor_id = \$3 AND username = \$4 AND action = \$5 AND severity = \$6 ORDER BY timestamp DESC LIMIT \$7`).
			WithArgs(from, to, actorID.String(), "alice", string(ActionLoginFailed), string(SeverityWarning), 10).
			WillReturnRows(auditRows())

		store := NewPostgresStore(mock)
		events, err := store.Search(context.Background(), Query{
			From:     from,
			To:       to,
			ActorID:  &actorID,
			Username: "alice",
			Action:   ActionLoginFailed,
			Severity: SeverityWarning,
			Limit:    10,
		})
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error surfaces", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT (.+) FROM audit_log`).
			WithArgs(pgxmock.AnyArg()).
			WillReturnError(errors.New("connection refused"))

		store := NewPostgresStore(mock)
		_, err = store.Search(context.Background(), Query{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}
