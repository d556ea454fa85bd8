package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/katta-cluster/katta/pkg/postgres"
)

// Log persists index state transitions to PostgreSQL.
//
// It requires an `index_audit_log` table:
//
//	CREATE TABLE index_audit_log (
//	    id          BIGSERIAL PRIMARY KEY,
//	    index_name  TEXT NOT NULL,
//	    from_state  TEXT NOT NULL,
//	    to_state    TEXT NOT NULL,
//	    error_msg   TEXT NOT NULL DEFAULT '',
//	    actor       TEXT NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Log struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates an audit Log backed by db.
func New(db *postgres.Client) *Log {
	return &Log{
		db:     db,
		logger: slog.Default().With("component", "audit-log"),
	}
}

// Record writes one transition row. It satisfies master.AuditLogger. A
// failed write is logged and swallowed: the Master's placement decisions
// never wait on, or roll back because of, the audit trail.
func (l *Log) Record(ctx context.Context, index, fromState, toState, errMsg, actor string) {
	_, err := l.db.DB.ExecContext(ctx,
		`INSERT INTO index_audit_log (index_name, from_state, to_state, error_msg, actor, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		index, fromState, toState, errMsg, actor, time.Now().UTC(),
	)
	if err != nil {
		l.logger.Error("audit write failed", "index", index, "from", fromState, "to", toState, "error", err)
		return
	}
	l.logger.Debug("audit record written", "index", index, "from", fromState, "to", toState, "actor", actor)
}

// Entry is one persisted transition row, as returned by ListRecent and
// ListForIndex.
type Entry struct {
	Index      string    `json:"index"`
	FromState  string    `json:"fromState"`
	ToState    string    `json:"toState"`
	ErrorMsg   string    `json:"errorMsg,omitempty"`
	Actor      string    `json:"actor"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ListRecent returns the most recent limit transitions across every
// index, newest first. No command of the katta CLI reads it; listErrors
// reads the metadata store.
func (l *Log) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.DB.QueryContext(ctx,
		`SELECT index_name, from_state, to_state, error_msg, actor, recorded_at
		 FROM index_audit_log ORDER BY recorded_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListForIndex returns the most recent limit transitions for one index,
// newest first. No command of the katta CLI reads it; showStructure
// reads the metadata store.
func (l *Log) ListForIndex(ctx context.Context, index string, limit int) ([]Entry, error) {
	rows, err := l.db.DB.QueryContext(ctx,
		`SELECT index_name, from_state, to_state, error_msg, actor, recorded_at
		 FROM index_audit_log WHERE index_name = $1 ORDER BY recorded_at DESC LIMIT $2`,
		index, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries for %s: %w", index, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Index, &e.FromState, &e.ToState, &e.ErrorMsg, &e.Actor, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
