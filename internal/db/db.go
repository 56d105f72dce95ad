// Package db opens the sync ledger database and applies its migrations.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// connParams are go-sqlite3 DSN options. Set in the DSN they apply to every
// pooled connection, not only the first one.
var connParams = url.Values{
	"_foreign_keys": {"on"},
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_synchronous":  {"NORMAL"},
}

// DB is an open ledger.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the ledger at dbPath. Migrations are not applied.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+dbPath+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", dbPath, err)
	}
	// sql.Open is lazy; surface a bad path or a locked file here.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open ledger %s: %w", dbPath, err)
	}
	return &DB{DB: conn, path: dbPath}, nil
}

// Path returns the ledger file path.
func (db *DB) Path() string {
	return db.path
}

// migrationNames lists the embedded migrations in apply order.
func migrationNames() ([]string, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	for i, n := range names {
		names[i] = path.Base(n)
	}
	sort.Strings(names)
	return names, nil
}

// appliedSet reads schema_migrations. A ledger that predates the table has
// nothing applied.
func (db *DB) appliedSet() (map[string]bool, error) {
	var exists int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check for schema_migrations: %w", err)
	}
	set := make(map[string]bool)
	if exists == 0 {
		return set, nil
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		set[v] = true
	}
	return set, rows.Err()
}

// Migrate applies pending migrations, each in its own transaction, and
// returns the names it applied. On failure the names applied so far are
// returned with the error.
func (db *DB) Migrate() ([]string, error) {
	names, err := migrationNames()
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	done, err := db.appliedSet()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := db.apply(name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func (db *DB) apply(name string) error {
	content, err := migrationsFS.ReadFile(path.Join("migrations", name))
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}
	return nil
}

// MigrationStatus splits the embedded migrations into applied and pending.
func (db *DB) MigrationStatus() (applied []string, pending []string, err error) {
	names, err := migrationNames()
	if err != nil {
		return nil, nil, err
	}
	done, err := db.appliedSet()
	if err != nil {
		return nil, nil, err
	}
	for _, n := range names {
		if done[n] {
			applied = append(applied, n)
		} else {
			pending = append(pending, n)
		}
	}
	return applied, pending, nil
}

// Health is what SQLite reports about an open ledger.
type Health struct {
	JournalMode string
	ForeignKeys bool
	// Integrity is "ok" or the first problem integrity_check found.
	Integrity string
}

// Health runs the read-only pragmas doctor reports on.
func (db *DB) Health() (Health, error) {
	var h Health
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&h.JournalMode); err != nil {
		return h, fmt.Errorf("failed to read journal_mode: %w", err)
	}
	h.JournalMode = strings.ToLower(h.JournalMode)

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		return h, fmt.Errorf("failed to read foreign_keys: %w", err)
	}
	h.ForeignKeys = fk == 1

	if err := db.QueryRow(`PRAGMA integrity_check`).Scan(&h.Integrity); err != nil {
		return h, fmt.Errorf("failed to run integrity_check: %w", err)
	}
	return h, nil
}
