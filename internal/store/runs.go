package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
)

// Run is one row of the runs table.
type Run struct {
	ID         string
	Command    string
	StartedAt  string
	FinishedAt *string
	Counts
}

// Counts are the totals a run reports.
type Counts struct {
	Processed int
	Generated int
	Relocated int
	Deleted   int
	Warnings  int
	Failures  int
}

// RunStore handles run rows.
type RunStore struct {
	store *Store
}

// Begin records the start of a run and returns a ledger bound to it.
func (rs *RunStore) Begin(command string) (*RunLedger, error) {
	id := uuid.NewString()
	started := domain.FormatTimestamp(rs.store.now())
	_, err := rs.store.db.Exec(`INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)`, id, command, started)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return &RunLedger{store: rs.store, runID: id}, nil
}

// Finish stores the final counts of a run.
func (rs *RunStore) Finish(id string, c Counts) error {
	res, err := rs.store.db.Exec(`
		UPDATE runs SET finished_at = ?, processed = ?, generated = ?, relocated = ?,
			deleted = ?, warnings = ?, failures = ?
		WHERE id = ?
	`, domain.FormatTimestamp(rs.store.now()), c.Processed, c.Generated, c.Relocated, c.Deleted, c.Warnings, c.Failures, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns one run.
func (rs *RunStore) Get(id string) (*Run, error) {
	runs, err := rs.query(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return &runs[0], nil
}

// Latest returns up to n runs, newest first.
func (rs *RunStore) Latest(n int) ([]Run, error) {
	return rs.query(`ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
}

func (rs *RunStore) query(where string, args ...any) ([]Run, error) {
	rows, err := rs.store.db.Query(`
		SELECT id, command, started_at, finished_at, processed, generated, relocated, deleted, warnings, failures
		FROM runs `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.StartedAt, &r.FinishedAt,
			&r.Processed, &r.Generated, &r.Relocated, &r.Deleted, &r.Warnings, &r.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunLedger records entity state and events on behalf of one run.
type RunLedger struct {
	store *Store
	runID string
}

// RunID returns the run this ledger writes to.
func (l *RunLedger) RunID() string {
	return l.runID
}

// Record stores an entity's synced state and logs kind against it.
func (l *RunLedger) Record(kind string, e Entity) error {
	return l.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		if err := upsertEntity(tx, e); err != nil {
			return err
		}
		return ew.Log(tx, l.runID, kind, e.Key, e.Path, "")
	})
}

// Forget removes an entity's row and logs its deletion.
func (l *RunLedger) Forget(key, path string) error {
	return l.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		if _, err := tx.Exec(`DELETE FROM entities WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to forget %s: %w", key, err)
		}
		return ew.Log(tx, l.runID, events.KindDeleted, key, path, "")
	})
}

// Event logs a free-form event for the run.
func (l *RunLedger) Event(kind, key, path, detail string) error {
	return events.NewWriter(l.store.db.DB).Log(nil, l.runID, kind, key, path, detail)
}

// Finish stores the run's final counts.
func (l *RunLedger) Finish(c Counts) error {
	return l.store.Runs.Finish(l.runID, c)
}

// IsNotFound reports whether err is a missing ledger row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
