package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/lherron/epicsync/internal/db"
)

// TempDB creates a temporary SQLite ledger with migrations applied.
func TempDB(t *testing.T) (*db.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if _, err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	return database, dbPath
}

// WriteFile writes content below root, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// ReadFile reads content from a file
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(data)
}

// Exists reports whether anything, including a dangling link, is at path.
func Exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Lstat(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("Failed to stat %s: %v", path, err)
	}
	return err == nil
}

// Tree lists every regular file below root as sorted slash-separated
// relative paths. Symbolic links are listed but not followed.
func Tree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to walk %s: %v", root, err)
	}
	sort.Strings(out)
	return out
}

// Epic builds a raw tracker record for an epic.
func Epic(key, summary string, components ...string) map[string]any {
	comps := make([]any, 0, len(components))
	for _, c := range components {
		comps = append(comps, map[string]any{"name": c})
	}
	return map[string]any{
		"key": key,
		"fields": map[string]any{
			"project":     map[string]any{"key": projectOf(key)},
			"issuetype":   map[string]any{"name": "Epic"},
			"summary":     summary,
			"description": "Epic " + key + " description.",
			"components":  comps,
			"labels":      []any{},
		},
	}
}

// Child builds a raw tracker record for a child issue of typeName under parent.
func Child(key, typeName, parent, summary string) map[string]any {
	fields := map[string]any{
		"project":     map[string]any{"key": projectOf(key)},
		"issuetype":   map[string]any{"name": typeName},
		"summary":     summary,
		"description": summary + " in detail.",
		"labels":      []any{},
	}
	if parent != "" {
		fields["parent"] = map[string]any{"key": parent}
	}
	return map[string]any{"key": key, "fields": fields}
}

func projectOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '-' {
			return key[:i]
		}
	}
	return key
}
