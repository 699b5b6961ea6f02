// Package audit is the append-only lifecycle log for forms and responses.
// Entries are never edited or deleted; the autoincrement seq breaks timestamp
// ties and defines the canonical order.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/model"
)

// Execer is satisfied by both *sql.DB and *sql.Tx, so events can be recorded
// inside the transaction that performs the mutation they describe.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func RecordForm(ctx context.Context, q Execer, formID string, event model.EventType, actor string, payload map[string]any) error {
	return record(ctx, q, "form_history", "form_id", formID, event, actor, payload)
}

func RecordResponse(ctx context.Context, q Execer, responseID string, event model.EventType, actor string, payload map[string]any) error {
	return record(ctx, q, "response_history", "response_id", responseID, event, actor, payload)
}

func record(ctx context.Context, q Execer, table, fkColumn, fkValue string, event model.EventType, actor string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJson, err := json.Marshal(payload)
	if err != nil {
		return errs.Internal(err, "marshal %s payload", event)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO `+table+` (id, `+fkColumn+`, event_type, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		fkValue,
		string(event),
		actor,
		string(payloadJson),
		time.Now().UTC(),
	)
	if err != nil {
		return errs.Internal(err, "append %s event", event)
	}
	return nil
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ResponseHistory returns the full audit trail of a response, oldest first.
func ResponseHistory(ctx context.Context, q Querier, responseID string) ([]model.HistoryEntry, error) {
	return history(ctx, q, "response_history", "response_id", responseID)
}

// FormHistory returns the full lifecycle log of a form, oldest first.
func FormHistory(ctx context.Context, q Querier, formID string) ([]model.HistoryEntry, error) {
	return history(ctx, q, "form_history", "form_id", formID)
}

func history(ctx context.Context, q Querier, table, fkColumn, fkValue string) ([]model.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, id, event_type, actor, payload, created_at
		FROM `+table+`
		WHERE `+fkColumn+` = ?
		ORDER BY seq`,
		fkValue,
	)
	if err != nil {
		return nil, errs.Internal(err, "query %s", table)
	}
	defer rows.Close()

	entries := []model.HistoryEntry{}
	for rows.Next() {
		var e model.HistoryEntry
		var eventType, payload string
		err = rows.Scan(&e.Seq, &e.ID, &eventType, &e.Actor, &payload, &e.CreatedAt)
		if err != nil {
			return nil, errs.Internal(err, "scan %s", table)
		}
		e.EventType = model.EventType(eventType)
		err = json.Unmarshal([]byte(payload), &e.Payload)
		if err != nil {
			return nil, errs.Internal(err, "parse %s payload", table)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
