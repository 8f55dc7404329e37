// Package audit records every request status transition in an append-only
// ledger. Terminal request states stay in the primary store forever; the
// ledger additionally preserves the path that led there, for operators.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded transition.
type Entry struct {
	ID         int64     `json:"id"`
	RequestID  uuid.UUID `json:"request_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ledger is the append-only transition log. It speaks database/sql and
// supports SQLite and Postgres; the station shares its SQLite handle with
// the index store by default.
type Ledger struct {
	db     *sql.DB
	driver string
}

// NewLedger wraps db. driver is "sqlite" or "postgres" and only affects
// placeholder syntax.
func NewLedger(db *sql.DB, driver string) *Ledger {
	return &Ledger{db: db, driver: driver}
}

const schema = `
CREATE TABLE IF NOT EXISTS status_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS status_transitions_request ON status_transitions (request_id, id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS status_transitions (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS status_transitions_request ON status_transitions (request_id, id);
`

func (l *Ledger) Init(ctx context.Context) error {
	ddl := schema
	if l.driver == "postgres" {
		ddl = schemaPostgres
	}
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init audit ledger: %w", err)
	}
	return nil
}

// Append records one transition.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	q := l.bind(`INSERT INTO status_transitions (request_id, from_status, to_status, actor, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	_, err := l.db.ExecContext(ctx, q,
		e.RequestID.String(), e.FromStatus, e.ToStatus, e.Actor, e.Reason, e.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// History returns a request's transitions in recording order.
func (l *Ledger) History(ctx context.Context, requestID uuid.UUID) ([]Entry, error) {
	q := l.bind(`SELECT id, request_id, from_status, to_status, actor, reason, recorded_at
		FROM status_transitions WHERE request_id = $1 ORDER BY id`)
	rows, err := l.db.QueryContext(ctx, q, requestID.String())
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var reqID, recordedAt string
		if err := rows.Scan(&e.ID, &reqID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Reason, &recordedAt); err != nil {
			return nil, fmt.Errorf("audit history scan: %w", err)
		}
		id, err := uuid.Parse(reqID)
		if err != nil {
			return nil, fmt.Errorf("audit history request id: %w", err)
		}
		e.RequestID = id
		t, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("audit history timestamp: %w", err)
		}
		e.RecordedAt = t
		out = append(out, e)
	}
	return out, rows.Err()
}

// bind rewrites $N placeholders to ? for SQLite. Queries here never exceed
// nine parameters.
func (l *Ledger) bind(q string) string {
	if l.driver == "postgres" {
		return q
	}
	for i := 9; i >= 1; i-- {
		q = strings.ReplaceAll(q, fmt.Sprintf("$%d", i), "?")
	}
	return q
}
