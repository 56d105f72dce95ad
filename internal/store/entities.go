package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Entity is the ledger row for one mirrored entity.
type Entity struct {
	Key        string
	Type       string
	Component  string
	Path       string
	LocalHash  *string
	RemoteHash *string
	LastSync   *string
	UpdatedAt  string
}

// EntityStore handles entity ledger rows.
type EntityStore struct {
	store *Store
}

const entityColumns = `key, type, component, path, local_hash, remote_hash, last_sync, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	var e Entity
	if err := row.Scan(&e.Key, &e.Type, &e.Component, &e.Path, &e.LocalHash, &e.RemoteHash, &e.LastSync, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertEntity(ex execer, e Entity) error {
	_, err := ex.Exec(`
		INSERT INTO entities (key, type, component, path, local_hash, remote_hash, last_sync, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		ON CONFLICT(key) DO UPDATE SET
			type = excluded.type,
			component = excluded.component,
			path = excluded.path,
			local_hash = excluded.local_hash,
			remote_hash = excluded.remote_hash,
			last_sync = excluded.last_sync,
			updated_at = excluded.updated_at
	`, e.Key, e.Type, e.Component, e.Path, e.LocalHash, e.RemoteHash, e.LastSync)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Key, err)
	}
	return nil
}

// Upsert inserts or replaces the row for e.Key.
func (es *EntityStore) Upsert(e Entity) error {
	return upsertEntity(es.store.db, e)
}

// Get returns the row for key, or ErrNotFound.
func (es *EntityStore) Get(key string) (*Entity, error) {
	row := es.store.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE key = ?`, key)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return e, nil
}

// List returns every row ordered by path.
func (es *EntityStore) List() ([]Entity, error) {
	rows, err := es.store.db.Query(`SELECT ` + entityColumns + ` FROM entities ORDER BY path, key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Delete removes the row for key. Deleting a missing row is not an error.
func (es *EntityStore) Delete(key string) error {
	if _, err := es.store.db.Exec(`DELETE FROM entities WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to forget %s: %w", key, err)
	}
	return nil
}
