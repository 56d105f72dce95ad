package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/frontmatter"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List local changes that have not been pushed",
	Long: `Compares every mirrored document with the content hash recorded in the
ledger when it was last synced, and lists the ones that changed, the ones
that are gone, and drafts that were never pushed.

With --runs, the most recent sync runs are listed as well.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Int("runs", 0, "Also list the last N runs")
}

// Document states reported by status.
const (
	stateModified = "modified"
	stateMissing  = "missing"
	stateInvalid  = "invalid"
	stateDraft    = "draft"
)

type statusEntry struct {
	Key   string `json:"key,omitempty"`
	State string `json:"state"`
	Path  string `json:"path"`
}

type runEntry struct {
	ID         string  `json:"id"`
	Command    string  `json:"command"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at"`
	Processed  int     `json:"processed"`
	Failures   int     `json:"failures"`
}

func runStatus(app *appctx.App, cmd *cobra.Command, args []string) error {
	nRuns, _ := cmd.Flags().GetInt("runs")

	entries, err := localChanges(app)
	if err != nil {
		return err
	}
	var runs []runEntry
	if nRuns > 0 {
		latest, err := app.Store.Runs.Latest(nRuns)
		if err != nil {
			return err
		}
		for _, r := range latest {
			runs = append(runs, runEntry{
				ID: r.ID, Command: r.Command, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt,
				Processed: r.Processed, Failures: r.Failures,
			})
		}
	}

	r := app.Renderer(cmd.OutOrStdout())
	if r.JSON() {
		out := map[string]any{"changes": entries}
		if nRuns > 0 {
			out["runs"] = runs
		}
		return r.RenderJSON(out)
	}

	if len(entries) == 0 {
		r.OK("mirror is in sync with the ledger")
	} else {
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Key, e.State, e.Path})
		}
		if err := r.RenderTable([]string{"KEY", "STATE", "PATH"}, rows); err != nil {
			return err
		}
	}

	if len(runs) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		rows := make([][]string, 0, len(runs))
		for _, run := range runs {
			finished := "-"
			if run.FinishedAt != nil {
				finished = *run.FinishedAt
			}
			rows = append(rows, []string{run.ID, run.Command, run.StartedAt, finished,
				strconv.Itoa(run.Processed), strconv.Itoa(run.Failures)})
		}
		return r.RenderTable([]string{"RUN", "COMMAND", "STARTED", "FINISHED", "PROCESSED", "FAILURES"}, rows)
	}
	return nil
}

// localChanges lists ledger entities whose document no longer hashes to the
// recorded value, followed by drafts.
func localChanges(app *appctx.App) ([]statusEntry, error) {
	entities, err := app.Store.Entities.List()
	if err != nil {
		return nil, err
	}

	entries := []statusEntry{}
	for _, e := range entities {
		path := filepath.Join(app.Config.MirrorDir, filepath.FromSlash(e.Path))
		doc, err := frontmatter.ParseFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			entries = append(entries, statusEntry{Key: e.Key, State: stateMissing, Path: e.Path})
			continue
		case err != nil:
			app.Logger.Debug("unreadable document", "path", path, "error", err)
			entries = append(entries, statusEntry{Key: e.Key, State: stateInvalid, Path: e.Path})
			continue
		}
		hash, err := frontmatter.ContentHash(doc)
		if err != nil {
			return nil, err
		}
		if e.LocalHash == nil || *e.LocalHash != hash {
			entries = append(entries, statusEntry{Key: e.Key, State: stateModified, Path: e.Path})
		}
	}

	docs, err := mirrorDocuments(app.Config.MirrorDir)
	if err != nil {
		return nil, err
	}
	for _, path := range docs {
		if isDraftName(filepath.Base(path)) {
			entries = append(entries, statusEntry{State: stateDraft, Path: mirrorRel(app.Config.MirrorDir, path)})
		}
	}
	return entries, nil
}
