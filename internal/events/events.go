// Package events writes and reads the ledger's event log.
package events

import (
	"database/sql"
	"fmt"
)

// Event kinds recorded by sync runs.
const (
	KindGenerated = "entity.generated"
	KindRelocated = "entity.relocated"
	KindDeleted   = "entity.deleted"
	KindPushed    = "entity.pushed"
	KindCreated   = "entity.created"
	KindRepaired  = "entity.repaired"
	KindWarning   = "run.warning"
	KindFailure   = "run.failure"
)

// Event is one event_log row.
type Event struct {
	ID        int64
	RunID     *string
	Kind      string
	Key       *string
	Path      *string
	Detail    *string
	CreatedAt string
}

// Writer handles writing events to the event log
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// LogEvent writes an event to the event log
func (w *Writer) LogEvent(tx *sql.Tx, event *Event) error {
	query := `
		INSERT INTO event_log (run_id, kind, key, path, detail)
		VALUES (?, ?, ?, ?, ?)
	`

	executor := w.getExecutor(tx)
	_, err := executor.Exec(query, event.RunID, event.Kind, event.Key, event.Path, event.Detail)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Log writes an event with optional key, path and detail. Empty strings are
// stored as NULL.
func (w *Writer) Log(tx *sql.Tx, runID, kind, key, path, detail string) error {
	return w.LogEvent(tx, &Event{
		RunID:  nullable(runID),
		Kind:   kind,
		Key:    nullable(key),
		Path:   nullable(path),
		Detail: nullable(detail),
	})
}

// Filter selects event_log rows. Zero fields match everything; a Limit of
// zero is unlimited.
type Filter struct {
	RunID string
	Key   string
	Since string
	Limit int
}

// ForRun returns the events of a run in insertion order.
func (w *Writer) ForRun(runID string) ([]Event, error) {
	return w.Query(Filter{RunID: runID})
}

// Query returns the events matching f, newest last. With a Limit, the most
// recent Limit events are kept.
func (w *Writer) Query(f Filter) ([]Event, error) {
	query := `SELECT id, run_id, kind, key, path, detail, created_at FROM event_log WHERE 1=1`
	var args []any
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Key != "" {
		query += ` AND key = ?`
		args = append(args, f.Key)
	}
	if f.Since != "" {
		query += ` AND created_at >= ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := w.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Key, &e.Path, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
