package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/epicsync/internal/db"
	"github.com/lherron/epicsync/internal/events"
)

// setupTestDB creates a temporary test database with migrations applied.
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	require.NoError(t, err)
	_, err = database.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func strPtr(value string) *string {
	return &value
}

func TestEntityStore(t *testing.T) {
	s := New(setupTestDB(t))

	e := Entity{
		Key:       "IDP-2",
		Type:      "Story",
		Component: "idp-infra",
		Path:      "idp-infra/epic-clusters/story-IDP-2.md",
		LocalHash: strPtr("sha256:aa"),
	}
	require.NoError(t, s.Entities.Upsert(e))

	got, err := s.Entities.Get("IDP-2")
	require.NoError(t, err)
	assert.Equal(t, "idp-infra", got.Component)
	assert.Equal(t, "sha256:aa", *got.LocalHash)
	assert.Nil(t, got.RemoteHash)
	assert.NotEmpty(t, got.UpdatedAt)

	e.Path = "other/epic-x/story-IDP-2.md"
	e.RemoteHash = strPtr("sha256:bb")
	require.NoError(t, s.Entities.Upsert(e))
	require.NoError(t, s.Entities.Upsert(Entity{Key: "IDP-1", Type: "Epic", Path: "idp-infra/epic-clusters/epic-IDP-1.md"}))

	list, err := s.Entities.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "IDP-1", list[0].Key)
	assert.Equal(t, "other/epic-x/story-IDP-2.md", list[1].Path)

	require.NoError(t, s.Entities.Delete("IDP-2"))
	require.NoError(t, s.Entities.Delete("IDP-2"))
	_, err = s.Entities.Get("IDP-2")
	assert.True(t, IsNotFound(err))
}

func TestEntityTypeIsChecked(t *testing.T) {
	s := New(setupTestDB(t))
	err := s.Entities.Upsert(Entity{Key: "IDP-1", Type: "Feature", Path: "x"})
	assert.Error(t, err)
}

func TestRunLedger(t *testing.T) {
	s := New(setupTestDB(t))
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	ledger, err := s.Runs.Begin("reconcile")
	require.NoError(t, err)
	assert.Len(t, ledger.RunID(), 36)

	require.NoError(t, ledger.Record(events.KindGenerated, Entity{Key: "IDP-1", Type: "Epic", Path: "c/epic-a/epic-IDP-1.md"}))
	require.NoError(t, ledger.Event(events.KindWarning, "IDP-3", "", "parent mismatch"))
	require.NoError(t, ledger.Forget("IDP-9", "c/epic-a/story-IDP-9.md"))

	clock = clock.Add(time.Minute)
	require.NoError(t, ledger.Finish(Counts{Processed: 2, Generated: 1, Deleted: 1, Warnings: 1}))

	run, err := s.Runs.Get(ledger.RunID())
	require.NoError(t, err)
	assert.Equal(t, "reconcile", run.Command)
	assert.Equal(t, "2024-05-01T10:00:00Z", run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, "2024-05-01T10:01:00Z", *run.FinishedAt)
	assert.Equal(t, 1, run.Generated)
	assert.Equal(t, 1, run.Warnings)

	evs, err := s.Events().ForRun(ledger.RunID())
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, events.KindGenerated, evs[0].Kind)
	assert.Equal(t, events.KindWarning, evs[1].Kind)
	assert.Equal(t, "parent mismatch", *evs[1].Detail)
	assert.Nil(t, evs[1].Path)
	assert.Equal(t, events.KindDeleted, evs[2].Kind)

	_, err = s.Entities.Get("IDP-1")
	assert.NoError(t, err)
}

func TestRunsLatest(t *testing.T) {
	s := New(setupTestDB(t))
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, cmd := range []string{"fetch", "reconcile", "push"} {
		at := base.Add(time.Duration(i) * time.Hour)
		s.now = func() time.Time { return at }
		_, err := s.Runs.Begin(cmd)
		require.NoError(t, err)
	}

	runs, err := s.Runs.Latest(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "push", runs[0].Command)
	assert.Equal(t, "reconcile", runs[1].Command)

	err = s.Runs.Finish("missing", Counts{})
	assert.True(t, IsNotFound(err))
}
