// Package snapshot keeps the raw record cache: one JSON file per fetched
// entity, laid out like the mirror ({component}/epic-{slug}/{type}-{key}.json)
// and holding the wire record exactly as the tracker returned it.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/paths"
)

// Entry is one cached record and where it sits in the cache.
type Entry struct {
	Component string
	EpicDir   string
	Type      domain.IssueType
	Key       string
	Path      string
	Record    map[string]any
}

// Group is the content of one epic directory in the cache. Epic is nil when
// the directory holds children but no epic record.
type Group struct {
	Component string
	EpicDir   string
	Epic      *Entry
	Children  []Entry
}

// Cache is a snapshot cache rooted at a directory.
type Cache struct {
	root string
}

// NewCache returns a cache rooted at root. The directory is created lazily.
func NewCache(root string) *Cache {
	return &Cache{root: root}
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns where a record is stored.
func (c *Cache) Path(component, epicDir string, t domain.IssueType, key string) string {
	return paths.CanonicalPath(c.root, component, epicDir, t, key, paths.SnapshotExt)
}

// Write stores a record at its canonical cache location and removes any
// other cached copy of the same key. It reports whether anything changed.
func (c *Cache) Write(component, epicDir string, t domain.IssueType, key string, record map[string]any) (bool, error) {
	target := c.Path(component, epicDir, t, key)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode record %s: %w", key, err)
	}
	data = append(data, '\n')

	changed := false
	existing, err := os.ReadFile(target)
	if err != nil || string(existing) != string(data) {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return false, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return false, fmt.Errorf("failed to write snapshot %s: %w", target, err)
		}
		changed = true
	}

	entries, err := c.Load()
	if err != nil {
		return changed, err
	}
	for _, e := range entries {
		if e.Key == key && e.Path != target {
			if err := os.Remove(e.Path); err != nil {
				return changed, fmt.Errorf("failed to remove stale snapshot %s: %w", e.Path, err)
			}
			changed = true
		}
	}
	return changed, nil
}

// Load reads every record in the cache, in path order. Files that do not
// follow the cache layout are ignored; a file that does but cannot be
// decoded is an error. Symbolic links are never followed.
func (c *Cache) Load() ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == c.root {
				return fs.SkipAll
			}
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if path != c.root && paths.IsControlEntry(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		t, key, ok := paths.ParseFileName(parts[2], paths.SnapshotExt)
		if !ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read snapshot %s: %w", path, err)
		}
		var record map[string]any
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to decode snapshot %s: %w", path, err)
		}

		entries = append(entries, Entry{
			Component: parts[0],
			EpicDir:   parts[1],
			Type:      t,
			Key:       key,
			Path:      path,
			Record:    record,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LoadGroups returns the cache grouped by epic directory, sorted by
// component and directory name.
func (c *Cache) LoadGroups() ([]Group, error) {
	entries, err := c.Load()
	if err != nil {
		return nil, err
	}

	byDir := make(map[[2]string][]Entry)
	var order [][2]string
	for _, e := range entries {
		id := [2]string{e.Component, e.EpicDir}
		if _, ok := byDir[id]; !ok {
			order = append(order, id)
		}
		byDir[id] = append(byDir[id], e)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i][0] != order[j][0] {
			return order[i][0] < order[j][0]
		}
		return order[i][1] < order[j][1]
	})
	groups := make([]Group, 0, len(order))
	for _, id := range order {
		members := byDir[id]
		g := Group{Component: id[0], EpicDir: id[1]}
		epic := groupEpic(members)
		for i := range members {
			if i == epic {
				g.Epic = &members[i]
				continue
			}
			g.Children = append(g.Children, members[i])
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// groupEpic picks the index of the directory's epic among members, or -1.
// A grouping-type record whose parent is another record in the same
// directory is a child there, not the directory's epic.
func groupEpic(members []Entry) int {
	keys := make(map[string]bool, len(members))
	for _, e := range members {
		keys[e.Key] = true
	}

	first := -1
	for i, e := range members {
		if !e.Type.IsGrouping() {
			continue
		}
		if first < 0 {
			first = i
		}
		if !keys[parentKey(e.Record)] {
			return i
		}
	}
	// Every candidate points at another one; fall back to path order.
	return first
}

func parentKey(record map[string]any) string {
	fields, _ := record["fields"].(map[string]any)
	parent, _ := fields["parent"].(map[string]any)
	key, _ := parent["key"].(string)
	return key
}

// Prune removes every record whose key is not in keep, then any directory
// left empty. It returns the removed file paths.
func (c *Cache) Prune(keep map[string]bool) ([]string, error) {
	entries, err := c.Load()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if keep[e.Key] {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			return removed, fmt.Errorf("failed to prune snapshot %s: %w", e.Path, err)
		}
		removed = append(removed, e.Path)
	}

	if err := removeEmptyDirs(c.root); err != nil {
		return removed, err
	}
	return removed, nil
}

// removeEmptyDirs deletes empty directories below root, deepest first.
func removeEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		children, err := os.ReadDir(dirs[i])
		if err != nil {
			return err
		}
		if len(children) == 0 {
			if err := os.Remove(dirs[i]); err != nil {
				return fmt.Errorf("failed to remove empty directory %s: %w", dirs[i], err)
			}
		}
	}
	return nil
}
