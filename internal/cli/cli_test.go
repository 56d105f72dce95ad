package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/config"
	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/mapping"
	"github.com/lherron/epicsync/internal/snapshot"
	"github.com/lherron/epicsync/internal/store"
	"github.com/lherron/epicsync/internal/templates"
	"github.com/lherron/epicsync/internal/testutil"
	"github.com/lherron/epicsync/internal/tracker"
)

const validStoryBody = `## Summary

Provision clusters

## Description

### User Story

As a platform engineer, I want to provision clusters from one template, so that every region starts from the same baseline.

### Acceptance Criteria

- [ ] Clusters come up in every region.
`

// createTestApp builds an App over a temp ledger, mirror, and cache, backed
// by an in-memory tracker holding records.
func createTestApp(t *testing.T, records ...tracker.Record) (*appctx.App, *tracker.Memory) {
	t.Helper()
	root := t.TempDir()
	database, dbPath := testutil.TempDB(t)
	set, err := templates.Default()
	require.NoError(t, err)

	mem := tracker.NewMemory("IDP", records...)
	cfg := &config.Config{
		Project:             "IDP",
		MirrorDir:           filepath.Join(root, "issues"),
		SnapshotDir:         filepath.Join(root, "snapshots"),
		DBPath:              dbPath,
		UnassignedComponent: config.DefaultUnassignedComponent,
		MissingDirPolicy:    config.DefaultMissingDirPolicy,
	}
	return &appctx.App{
		Config:    cfg,
		DB:        database,
		Store:     store.New(database),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Templates: set,
		Engine:    mapping.NewEngine(mapping.Options{}),
		Cache:     snapshot.NewCache(cfg.SnapshotDir),
		Tracker:   mem,
	}, mem
}

func platformRecords() []tracker.Record {
	return []tracker.Record{
		testutil.Epic("IDP-1", "Platform", "core"),
		testutil.Child("IDP-2", "Story", "IDP-1", "Provision clusters"),
	}
}

// newTestCmd returns a command writing to buf, with flags added by setup.
func newTestCmd(buf *bytes.Buffer, setup func(*cobra.Command)) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	if setup != nil {
		setup(cmd)
	}
	return cmd
}

func fetchFlags(cmd *cobra.Command) {
	cmd.Flags().String("component", "", "")
}

func mustFetch(t *testing.T, app *appctx.App, keys ...string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, runFetch(app, newTestCmd(&buf, fetchFlags), keys))
}

func storyPath(app *appctx.App) string {
	return filepath.Join(app.Config.MirrorDir, "core", "epic-platform", "story-IDP-2.md")
}

func rewriteDoc(t *testing.T, path string, edit func(*frontmatter.Document)) {
	t.Helper()
	doc, err := frontmatter.ParseFile(path)
	require.NoError(t, err)
	edit(doc)
	data, err := frontmatter.Serialize(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestFetchByKey(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)

	var buf bytes.Buffer
	err := runFetch(app, newTestCmd(&buf, fetchFlags), []string{"IDP-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"core/epic-platform/epic-IDP-1.md",
		"core/epic-platform/story-IDP-2.md",
	}, testutil.Tree(t, app.Config.MirrorDir))
	assert.Contains(t, buf.String(), "2 processed, 2 generated")

	entities, err := app.Store.Entities.List()
	require.NoError(t, err)
	assert.Len(t, entities, 2)

	groups, err := app.Cache.LoadGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "IDP-1", groups[0].Epic.Key)

	runs, err := app.Store.Runs.Latest(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "fetch", runs[0].Command)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestFetchMissingKeyWarns(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)

	var buf bytes.Buffer
	err := runFetch(app, newTestCmd(&buf, fetchFlags), []string{"IDP-1", "IDP-99"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "IDP-99")
	assert.Contains(t, buf.String(), "1 warnings")
	assert.Len(t, testutil.Tree(t, app.Config.MirrorDir), 2)
}

func TestFetchByComponent(t *testing.T) {
	app, _ := createTestApp(t,
		testutil.Epic("IDP-1", "Platform", "core"),
		testutil.Epic("IDP-3", "Networking", "core"),
		testutil.Epic("IDP-5", "Storefront", "web"),
		testutil.Child("IDP-4", "Task", "IDP-3", "Peer the VPCs"),
	)

	var buf bytes.Buffer
	cmd := newTestCmd(&buf, fetchFlags)
	require.NoError(t, cmd.Flags().Set("component", "core"))
	require.NoError(t, runFetch(app, cmd, nil))

	assert.Equal(t, []string{
		"core/epic-networking/epic-IDP-3.md",
		"core/epic-networking/task-IDP-4.md",
		"core/epic-platform/epic-IDP-1.md",
	}, testutil.Tree(t, app.Config.MirrorDir))
}

func TestFetchKeepsCachedEpics(t *testing.T) {
	app, _ := createTestApp(t, append(platformRecords(), testutil.Epic("IDP-3", "Networking", "core"))...)

	mustFetch(t, app, "IDP-1")
	mustFetch(t, app, "IDP-3")

	assert.Equal(t, []string{
		"core/epic-networking/epic-IDP-3.md",
		"core/epic-platform/epic-IDP-1.md",
		"core/epic-platform/story-IDP-2.md",
	}, testutil.Tree(t, app.Config.MirrorDir))
}

func TestFetchRejectsBadKey(t *testing.T) {
	app, _ := createTestApp(t)
	var buf bytes.Buffer
	assert.Error(t, runFetch(app, newTestCmd(&buf, fetchFlags), []string{"not a key"}))
}

func TestReconcileRestoresFromCache(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")
	require.NoError(t, os.Remove(storyPath(app)))

	app.Tracker = nil
	var buf bytes.Buffer
	require.NoError(t, runReconcile(app, newTestCmd(&buf, nil), nil))

	assert.True(t, testutil.Exists(t, storyPath(app)))
	assert.Contains(t, buf.String(), "1 generated")
}

func TestReconcileKeepsEpicOverNestedEpic(t *testing.T) {
	nested := testutil.Epic("IDP-10", "Sub platform", "core")
	nested["fields"].(map[string]any)["parent"] = map[string]any{"key": "IDP-9"}
	app, _ := createTestApp(t, testutil.Epic("IDP-9", "Platform", "core"), nested)

	mustFetch(t, app, "IDP-9")
	want := []string{
		"core/epic-platform/epic-IDP-10.md",
		"core/epic-platform/epic-IDP-9.md",
	}
	require.Equal(t, want, testutil.Tree(t, app.Config.MirrorDir))

	app.Tracker = nil
	var buf bytes.Buffer
	require.NoError(t, runReconcile(app, newTestCmd(&buf, nil), nil))

	assert.Equal(t, want, testutil.Tree(t, app.Config.MirrorDir))
	assert.Contains(t, buf.String(), "2 processed, 0 generated, 0 relocated, 0 deleted, 0 warnings, 0 failures")
}

func TestValidateCommand(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")
	path := storyPath(app)

	var buf bytes.Buffer
	err := runValidate(app, newTestCmd(&buf, nil), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 documents failed validation")
	assert.Contains(t, buf.String(), "User Story")

	rewriteDoc(t, path, func(doc *frontmatter.Document) { doc.Body = validStoryBody })
	buf.Reset()
	assert.NoError(t, runValidate(app, newTestCmd(&buf, nil), []string{path}))
}

func pushFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("force", false, "")
	cmd.Flags().Bool("continue-on-error", false, "")
}

func TestPushUpdatesTracker(t *testing.T) {
	app, mem := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")
	path := storyPath(app)
	rewriteDoc(t, path, func(doc *frontmatter.Document) {
		doc.Body = validStoryBody
		doc.Metadata.Properties.Set(domain.PropSummary, domain.String("Provision all clusters"))
	})

	var buf bytes.Buffer
	require.NoError(t, runPush(app, newTestCmd(&buf, pushFlags), []string{path}))
	assert.Contains(t, buf.String(), "pushed IDP-2")

	updates := mem.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "IDP-2", updates[0].Key)
	assert.Equal(t, "Provision all clusters", updates[0].Fields["summary"])
	assert.Contains(t, updates[0].Fields["description"], "### Acceptance Criteria")
	_, sendsStatus := updates[0].Fields["status"]
	assert.False(t, sendsStatus)

	changes, err := localChanges(app)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestPushRefusesInvalidDocument(t *testing.T) {
	app, mem := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")

	var buf bytes.Buffer
	err := runPush(app, newTestCmd(&buf, pushFlags), []string{storyPath(app)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
	assert.Empty(t, mem.Updates())

	cmd := newTestCmd(&buf, pushFlags)
	require.NoError(t, cmd.Flags().Set("force", "true"))
	require.NoError(t, runPush(app, cmd, []string{storyPath(app)}))
	assert.Len(t, mem.Updates(), 1)
}

func TestPushContinueOnError(t *testing.T) {
	app, mem := createTestApp(t, append(platformRecords(), testutil.Child("IDP-3", "Story", "IDP-1", "Rotate keys"))...)
	mustFetch(t, app, "IDP-1")
	mem.FailUpdates("IDP-2", assert.AnError)

	var buf bytes.Buffer
	cmd := newTestCmd(&buf, pushFlags)
	require.NoError(t, cmd.Flags().Set("force", "true"))
	require.NoError(t, cmd.Flags().Set("continue-on-error", "true"))
	other := filepath.Join(app.Config.MirrorDir, "core", "epic-platform", "story-IDP-3.md")
	err := runPush(app, cmd, []string{storyPath(app), other})
	require.Error(t, err)
	assert.Equal(t, "1 of 2 items failed", err.Error())
	assert.Contains(t, buf.String(), "pushed IDP-3")

	runs, err := app.Store.Runs.Latest(1)
	require.NoError(t, err)
	assert.Equal(t, 2, runs[0].Processed)
	assert.Equal(t, 1, runs[0].Failures)
}

func TestDiffCommand(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")
	path := storyPath(app)
	diffFlags := func(cmd *cobra.Command) { cmd.Flags().Int("unified", 3, "") }

	var buf bytes.Buffer
	require.NoError(t, runDiff(app, newTestCmd(&buf, diffFlags), []string{path}))
	assert.Contains(t, buf.String(), "ok:")

	rewriteDoc(t, path, func(doc *frontmatter.Document) {
		doc.Metadata.Properties.Set(domain.PropSummary, domain.String("Provision all clusters"))
		doc.Body = frontmatter.BuildBody("Provision all clusters", "Provision clusters in three regions.")
	})
	buf.Reset()
	require.NoError(t, runDiff(app, newTestCmd(&buf, diffFlags), []string{path}))
	out := buf.String()
	assert.Contains(t, out, "~ summary: ")
	assert.Contains(t, out, "--- IDP-2 (remote)")
	assert.Contains(t, out, "-Provision clusters in detail.")
	assert.Contains(t, out, "+Provision clusters in three regions.")
}

type fakeAsker struct {
	answers map[string]string
	asked   []string
}

func (f *fakeAsker) ask(label, def string) (string, error) {
	f.asked = append(f.asked, label)
	for prefix, answer := range f.answers {
		if strings.HasPrefix(label, prefix) && answer != "" {
			return answer, nil
		}
	}
	return def, nil
}

func (f *fakeAsker) Close() error { return nil }

func useAsker(t *testing.T, a asker) {
	t.Helper()
	orig := newAsker
	newAsker = func(*cobra.Command) (asker, error) { return a, nil }
	t.Cleanup(func() { newAsker = orig })
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", "", "")
	cmd.Flags().String("summary", "", "")
	cmd.Flags().String("component", "", "")
	cmd.Flags().String("parent", "", "")
	cmd.Flags().Bool("push", false, "")
	cmd.Flags().Bool("force", false, "")
}

func TestCreatePromptsForEpic(t *testing.T) {
	app, _ := createTestApp(t)
	prompts := &fakeAsker{answers: map[string]string{"Type": "Epic", "Summary": "Observability"}}
	useAsker(t, prompts)

	var buf bytes.Buffer
	require.NoError(t, runCreate(app, newTestCmd(&buf, createFlags), nil))

	assert.Equal(t, []string{"unassigned/epic-observability/draft-epic-observability.md"}, testutil.Tree(t, app.Config.MirrorDir))
	assert.Len(t, prompts.asked, 3)

	doc, err := frontmatter.ParseFile(filepath.Join(app.Config.MirrorDir, "unassigned/epic-observability/draft-epic-observability.md"))
	require.NoError(t, err)
	project, _ := doc.Metadata.Properties.String(domain.PropProject)
	assert.Equal(t, "IDP", project)
	assert.Nil(t, doc.Metadata.Sync.RemoteKey)

	// Same summary again collides with the existing draft.
	buf.Reset()
	err = runCreate(app, newTestCmd(&buf, createFlags), nil)
	var conflict *domain.FilesystemConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestCreateChildAndPush(t *testing.T) {
	app, mem := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")
	useAsker(t, &fakeAsker{})

	var buf bytes.Buffer
	cmd := newTestCmd(&buf, createFlags)
	for name, value := range map[string]string{
		"type": "Story", "summary": "Rotate API keys", "parent": "IDP-1", "push": "true", "force": "true",
	} {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	require.NoError(t, runCreate(app, cmd, nil))

	require.Equal(t, []string{"IDP-3"}, mem.Created())
	dir := filepath.Join(app.Config.MirrorDir, "core", "epic-platform")
	assert.True(t, testutil.Exists(t, filepath.Join(dir, "story-IDP-3.md")))
	assert.False(t, testutil.Exists(t, filepath.Join(dir, "draft-story-rotate-api-keys.md")))

	doc, err := frontmatter.ParseFile(filepath.Join(dir, "story-IDP-3.md"))
	require.NoError(t, err)
	require.NotNil(t, doc.Metadata.Sync.RemoteKey)
	assert.Equal(t, "IDP-3", *doc.Metadata.Sync.RemoteKey)

	e, err := app.Store.Entities.Get("IDP-3")
	require.NoError(t, err)
	assert.Equal(t, "core/epic-platform/story-IDP-3.md", e.Path)
}

func TestCreateChildNeedsMirroredParent(t *testing.T) {
	app, _ := createTestApp(t)
	useAsker(t, &fakeAsker{})

	var buf bytes.Buffer
	cmd := newTestCmd(&buf, createFlags)
	require.NoError(t, cmd.Flags().Set("type", "Task"))
	require.NoError(t, cmd.Flags().Set("summary", "Peer the VPCs"))
	require.NoError(t, cmd.Flags().Set("parent", "IDP-9"))
	err := runCreate(app, cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the mirror")
}

func TestStatusCommand(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")
	statusFlags := func(cmd *cobra.Command) { cmd.Flags().Int("runs", 0, "") }

	var buf bytes.Buffer
	require.NoError(t, runStatus(app, newTestCmd(&buf, statusFlags), nil))
	assert.Contains(t, buf.String(), "in sync")

	rewriteDoc(t, storyPath(app), func(doc *frontmatter.Document) { doc.Body += "\nMore detail.\n" })
	testutil.WriteFile(t, app.Config.MirrorDir, "core/epic-platform/draft-task-peer-vpcs.md", "---\nproperties:\n  type: Task\n---\n")

	app.JSON = true
	buf.Reset()
	cmd := newTestCmd(&buf, statusFlags)
	require.NoError(t, cmd.Flags().Set("runs", "5"))
	require.NoError(t, runStatus(app, cmd, nil))

	var out struct {
		Changes []statusEntry `json:"changes"`
		Runs    []runEntry    `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, []statusEntry{
		{Key: "IDP-2", State: stateModified, Path: "core/epic-platform/story-IDP-2.md"},
		{State: stateDraft, Path: "core/epic-platform/draft-task-peer-vpcs.md"},
	}, out.Changes)
	require.Len(t, out.Runs, 1)
	assert.Equal(t, "fetch", out.Runs[0].Command)
}

func TestLogCommand(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)
	mustFetch(t, app, "IDP-1")
	logFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("run", "", "")
		cmd.Flags().String("since", "", "")
		cmd.Flags().Int("limit", 50, "")
		cmd.Flags().Bool("oneline", false, "")
	}

	var buf bytes.Buffer
	cmd := newTestCmd(&buf, logFlags)
	require.NoError(t, cmd.Flags().Set("oneline", "true"))
	require.NoError(t, runLog(app, cmd, []string{"IDP-2"}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "entity.generated")
	assert.Contains(t, lines[0], "core/epic-platform/story-IDP-2.md")

	buf.Reset()
	cmd = newTestCmd(&buf, logFlags)
	require.NoError(t, cmd.Flags().Set("since", "2999-01-01"))
	require.NoError(t, runLog(app, cmd, nil))
	assert.Equal(t, "no events\n", buf.String())

	cmd = newTestCmd(&buf, logFlags)
	require.NoError(t, cmd.Flags().Set("since", "yesterday"))
	assert.Error(t, runLog(app, cmd, nil))
}

func TestDoctorCommand(t *testing.T) {
	app, _ := createTestApp(t, platformRecords()...)
	doctorFlags := func(cmd *cobra.Command) { cmd.Flags().Bool("verbose", false, "") }

	var buf bytes.Buffer
	require.NoError(t, runDoctor(app, newTestCmd(&buf, doctorFlags), nil))
	out := buf.String()
	assert.Contains(t, out, "No tracker configured")
	assert.Contains(t, out, "does not exist yet")
	assert.Contains(t, out, "Summary: 2 warning(s)")

	mustFetch(t, app, "IDP-1")
	testutil.WriteFile(t, app.Config.MirrorDir, "core/epic-platform/task-IDP-7.md", "---\nproperties: [unclosed\n---\n")
	_, err := app.Store.Runs.Begin("fetch")
	require.NoError(t, err)

	app.JSON = true
	buf.Reset()
	err = runDoctor(app, newTestCmd(&buf, doctorFlags), nil)
	require.Error(t, err)

	var report doctorReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, checkError, report.OverallStatus)
	statuses := make(map[string]string)
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, checkError, statuses["documents"])
	assert.Equal(t, checkWarning, statuses["unfinished_runs"])
	assert.Equal(t, checkOK, statuses["integrity_check"])
	assert.Equal(t, checkOK, statuses["snapshot_load"])
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "EPICSYNC_") {
			t.Setenv(name, "")
		}
	}
	t.Chdir(dir)

	initFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("project", "", "")
		cmd.Flags().String("jira-url", "", "")
		cmd.Flags().Bool("force", false, "")
	}

	var buf bytes.Buffer
	cmd := newTestCmd(&buf, initFlags)
	require.NoError(t, cmd.Flags().Set("project", "IDP"))
	require.NoError(t, runInit(cmd, nil))
	assert.Contains(t, buf.String(), "Initialized new ledger")
	assert.Contains(t, testutil.ReadFile(t, config.ProjectConfigFile), "project: IDP")
	assert.True(t, testutil.Exists(t, config.DefaultDBPath))
	assert.True(t, testutil.Exists(t, config.DefaultMirrorDir))

	buf.Reset()
	require.NoError(t, runInit(newTestCmd(&buf, initFlags), nil))
	assert.Contains(t, buf.String(), "Kept existing")
	assert.Contains(t, buf.String(), "already initialized")

	cmd = newTestCmd(&buf, initFlags)
	require.NoError(t, cmd.Flags().Set("project", "lower"))
	assert.Error(t, runInit(cmd, nil))
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	cmd := newTestCmd(&buf, func(cmd *cobra.Command) { cmd.Flags().Bool("json", false, "") })
	require.NoError(t, cmd.Flags().Set("json", "true"))
	require.NoError(t, runVersion(cmd, nil))

	var out struct {
		Version  string   `json:"version"`
		Commands []string `json:"supported_commands"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, Version, out.Version)
	assert.Subset(t, out.Commands, []string{"fetch", "reconcile", "validate", "push", "diff", "create", "status"})
}
