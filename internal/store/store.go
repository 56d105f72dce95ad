// Package store provides the sync ledger: what was last synced for every
// entity, one row per run, and the run's event log.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lherron/epicsync/internal/db"
	"github.com/lherron/epicsync/internal/events"
)

// ErrNotFound is returned when a ledger row does not exist.
var ErrNotFound = errors.New("not found in ledger")

// Store is the root store that provides access to the ledger tables.
type Store struct {
	db  *db.DB
	now func() time.Time

	Entities *EntityStore
	Runs     *RunStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database, now: time.Now}
	s.Entities = &EntityStore{store: s}
	s.Runs = &RunStore{store: s}
	return s
}

// Events returns a reader/writer for the event log.
func (s *Store) Events() *events.Writer {
	return events.NewWriter(s.db.DB)
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) withTx(fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := events.NewWriter(s.db.DB)
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}
