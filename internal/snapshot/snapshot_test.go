package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/epicsync/internal/domain"
)

func record(key, summary string) map[string]any {
	return map[string]any{
		"key":    key,
		"fields": map[string]any{"summary": summary, "description": "<b>bold</b>"},
	}
}

func TestCanonicalJSON(t *testing.T) {
	data, err := CanonicalJSON(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": "<x>"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":"<x>","z":true},"b":1}`, string(data))
}

func TestRecordHash(t *testing.T) {
	h1, err := RecordHash(record("IDP-1", "One"))
	require.NoError(t, err)
	h2, err := RecordHash(record("IDP-1", "One"))
	require.NoError(t, err)
	h3, err := RecordHash(record("IDP-1", "Two"))
	require.NoError(t, err)

	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, h1)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestCacheWriteAndLoadGroups(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "snapshots"))

	changed, err := cache.Write("idp-infra", "epic-clusters", domain.TypeEpic, "IDP-1", record("IDP-1", "Clusters"))
	require.NoError(t, err)
	assert.True(t, changed)
	_, err = cache.Write("idp-infra", "epic-clusters", domain.TypeStory, "IDP-2", record("IDP-2", "Provision"))
	require.NoError(t, err)
	_, err = cache.Write("cp-bm-mgmt", "epic-nodes", domain.TypeTask, "IDP-7", record("IDP-7", "Stray"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(cache.Root(), "idp-infra", "epic-clusters", "story-IDP-2.json"))

	groups, err := cache.LoadGroups()
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "cp-bm-mgmt", groups[0].Component)
	assert.Nil(t, groups[0].Epic)
	require.Len(t, groups[0].Children, 1)

	g := groups[1]
	assert.Equal(t, "idp-infra", g.Component)
	assert.Equal(t, "epic-clusters", g.EpicDir)
	require.NotNil(t, g.Epic)
	assert.Equal(t, "IDP-1", g.Epic.Key)
	require.Len(t, g.Children, 1)
	assert.Equal(t, domain.TypeStory, g.Children[0].Type)
	assert.Equal(t, "Provision", g.Children[0].Record["fields"].(map[string]any)["summary"])
}

func TestLoadGroupsPicksEpicOverNestedEpic(t *testing.T) {
	cache := NewCache(t.TempDir())

	nested := record("EPIC-10", "Sub platform")
	nested["fields"].(map[string]any)["parent"] = map[string]any{"key": "EPIC-9"}

	_, err := cache.Write("core", "epic-platform", domain.TypeEpic, "EPIC-9", record("EPIC-9", "Platform"))
	require.NoError(t, err)
	_, err = cache.Write("core", "epic-platform", domain.TypeEpic, "EPIC-10", nested)
	require.NoError(t, err)

	groups, err := cache.LoadGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.NotNil(t, groups[0].Epic)
	assert.Equal(t, "EPIC-9", groups[0].Epic.Key)
	require.Len(t, groups[0].Children, 1)
	assert.Equal(t, "EPIC-10", groups[0].Children[0].Key)
}

func TestCacheWriteIsIdempotentAndMovesStaleCopies(t *testing.T) {
	cache := NewCache(t.TempDir())

	_, err := cache.Write("old", "epic-a", domain.TypeStory, "IDP-2", record("IDP-2", "x"))
	require.NoError(t, err)

	changed, err := cache.Write("old", "epic-a", domain.TypeStory, "IDP-2", record("IDP-2", "x"))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = cache.Write("new", "epic-b", domain.TypeStory, "IDP-2", record("IDP-2", "x"))
	require.NoError(t, err)
	assert.True(t, changed)

	entries, err := cache.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Component)
}

func TestCacheLoadIgnoresForeignFiles(t *testing.T) {
	root := t.TempDir()
	cache := NewCache(root)
	_, err := cache.Write("c", "epic-a", domain.TypeEpic, "IDP-1", record("IDP-1", "a"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c", "epic-a", "notes.json"), []byte("{"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "x", "y"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "x", "y", "story-IDP-3.json"), []byte("{"), 0644))

	entries, err := cache.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "IDP-1", entries[0].Key)
}

func TestCacheLoadCorruptRecord(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "c", "epic-a")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "epic-IDP-1.json"), []byte("{not json"), 0644))

	_, err := NewCache(root).Load()
	assert.Error(t, err)
}

func TestCacheMissingRootIsEmpty(t *testing.T) {
	entries, err := NewCache(filepath.Join(t.TempDir(), "absent")).Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCachePrune(t *testing.T) {
	cache := NewCache(t.TempDir())
	_, err := cache.Write("c", "epic-a", domain.TypeEpic, "IDP-1", record("IDP-1", "a"))
	require.NoError(t, err)
	_, err = cache.Write("c", "epic-a", domain.TypeStory, "IDP-2", record("IDP-2", "b"))
	require.NoError(t, err)
	_, err = cache.Write("d", "epic-gone", domain.TypeEpic, "IDP-9", record("IDP-9", "gone"))
	require.NoError(t, err)

	removed, err := cache.Prune(map[string]bool{"IDP-1": true, "IDP-2": true})
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.NoDirExists(t, filepath.Join(cache.Root(), "d"))
	assert.DirExists(t, filepath.Join(cache.Root(), "c", "epic-a"))
}
