package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/paths"
	"github.com/lherron/epicsync/internal/snapshot"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, ledger, mirror, and snapshot cache health",
	Long: `Performs health checks on the configuration, the ledger database, the
mirror tree, and the snapshot cache. Exits non-zero when any check fails;
warnings never fail.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runDoctor),
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().Bool("verbose", false, "Show details of every check")
}

// Check statuses.
const (
	checkOK      = "ok"
	checkWarning = "warning"
	checkError   = "error"
)

type checkResult struct {
	Category string   `json:"category"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Details  []string `json:"details,omitempty"`
}

type doctorReport struct {
	Version       string        `json:"version"`
	DBPath        string        `json:"db_path"`
	MirrorDir     string        `json:"mirror_dir"`
	Checks        []checkResult `json:"checks"`
	Warnings      int           `json:"warnings"`
	Errors        int           `json:"errors"`
	OverallStatus string        `json:"overall_status"`
}

func runDoctor(app *appctx.App, cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	report := &doctorReport{
		Version:       Version,
		DBPath:        app.Config.DBPath,
		MirrorDir:     app.Config.MirrorDir,
		OverallStatus: checkOK,
	}
	report.Checks = append(report.Checks, checkConfig(app)...)
	report.Checks = append(report.Checks, checkLedger(app)...)
	report.Checks = append(report.Checks, checkMirror(app)...)
	report.Checks = append(report.Checks, checkSnapshots(app)...)

	for _, check := range report.Checks {
		switch check.Status {
		case checkWarning:
			report.Warnings++
		case checkError:
			report.Errors++
			report.OverallStatus = checkError
		}
	}
	if report.Warnings > 0 && report.OverallStatus == checkOK {
		report.OverallStatus = checkWarning
	}

	r := app.Renderer(cmd.OutOrStdout())
	if r.JSON() {
		if err := r.RenderJSON(report); err != nil {
			return err
		}
	} else {
		printDoctorReport(cmd.OutOrStdout(), report, verbose)
	}
	if report.Errors > 0 {
		return fmt.Errorf("%d check(s) failed", report.Errors)
	}
	return nil
}

func checkConfig(app *appctx.App) []checkResult {
	cfg := app.Config
	var results []checkResult

	if cfg.Project == "" {
		results = append(results, checkResult{Category: "Configuration", Name: "project", Status: checkWarning,
			Message: "No project configured; epics cannot be created"})
	} else {
		results = append(results, checkResult{Category: "Configuration", Name: "project", Status: checkOK,
			Message: fmt.Sprintf("Project: %s", cfg.Project)})
	}

	if cfg.HasJira() {
		results = append(results, checkResult{Category: "Configuration", Name: "tracker", Status: checkOK,
			Message: fmt.Sprintf("Tracker: %s", cfg.JiraURL)})
	} else {
		results = append(results, checkResult{Category: "Configuration", Name: "tracker", Status: checkWarning,
			Message: "No tracker configured; only --offline runs are possible",
			Details: []string{"Set EPICSYNC_JIRA_URL and EPICSYNC_JIRA_TOKEN"}})
	}
	return results
}

func checkLedger(app *appctx.App) []checkResult {
	var results []checkResult

	h, err := app.DB.Health()
	if err != nil {
		return append(results, checkResult{Category: "Ledger", Name: "integrity_check", Status: checkError, Message: err.Error()})
	}
	if h.JournalMode == "wal" {
		results = append(results, checkResult{Category: "Ledger", Name: "wal_mode", Status: checkOK,
			Message: "WAL mode enabled"})
	} else {
		results = append(results, checkResult{Category: "Ledger", Name: "wal_mode", Status: checkWarning,
			Message: fmt.Sprintf("Journal mode is %q, expected WAL", h.JournalMode)})
	}
	if !h.ForeignKeys {
		results = append(results, checkResult{Category: "Ledger", Name: "foreign_keys", Status: checkWarning,
			Message: "Foreign keys are not enforced"})
	}
	if h.Integrity == "ok" {
		results = append(results, checkResult{Category: "Ledger", Name: "integrity_check", Status: checkOK,
			Message: "Ledger integrity check passed"})
	} else {
		results = append(results, checkResult{Category: "Ledger", Name: "integrity_check", Status: checkError,
			Message: fmt.Sprintf("Ledger integrity check failed: %s", h.Integrity)})
	}

	if applied, pending, err := app.DB.MigrationStatus(); err != nil {
		results = append(results, checkResult{Category: "Ledger", Name: "migrations", Status: checkError, Message: err.Error()})
	} else if len(pending) > 0 {
		results = append(results, checkResult{Category: "Ledger", Name: "migrations", Status: checkError,
			Message: fmt.Sprintf("%d migration(s) pending", len(pending)), Details: pending})
	} else {
		results = append(results, checkResult{Category: "Ledger", Name: "migrations", Status: checkOK,
			Message: fmt.Sprintf("%d migration(s) applied", len(applied))})
	}

	var unfinished []string
	rows, err := app.DB.Query("SELECT id || ' (' || command || ', ' || started_at || ')' FROM runs WHERE finished_at IS NULL ORDER BY started_at")
	if err == nil {
		for rows.Next() {
			var s string
			if rows.Scan(&s) == nil {
				unfinished = append(unfinished, s)
			}
		}
		rows.Close()
	}
	if len(unfinished) == 0 {
		results = append(results, checkResult{Category: "Ledger", Name: "unfinished_runs", Status: checkOK,
			Message: "Every run finished"})
	} else {
		results = append(results, checkResult{Category: "Ledger", Name: "unfinished_runs", Status: checkWarning,
			Message: fmt.Sprintf("%d run(s) never finished; re-run reconcile to recover", len(unfinished)),
			Details: unfinished})
	}
	return results
}

func checkMirror(app *appctx.App) []checkResult {
	root := app.Config.MirrorDir
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return []checkResult{{Category: "Mirror", Name: "mirror_dir", Status: checkWarning,
			Message: fmt.Sprintf("Mirror directory %s does not exist yet", root)}}
	}
	results := []checkResult{{Category: "Mirror", Name: "mirror_dir", Status: checkOK,
		Message: fmt.Sprintf("Mirror directory: %s", root)}}

	docs, err := mirrorDocuments(root)
	if err != nil {
		return append(results, checkResult{Category: "Mirror", Name: "documents", Status: checkError, Message: err.Error()})
	}
	var malformed []string
	for _, path := range docs {
		if _, err := frontmatter.ParseFile(path); err != nil {
			malformed = append(malformed, err.Error())
		}
	}
	if len(malformed) == 0 {
		results = append(results, checkResult{Category: "Mirror", Name: "documents", Status: checkOK,
			Message: fmt.Sprintf("%d document(s) parse cleanly", len(docs))})
	} else {
		results = append(results, checkResult{Category: "Mirror", Name: "documents", Status: checkError,
			Message: fmt.Sprintf("%d of %d document(s) are malformed", len(malformed), len(docs)), Details: malformed})
	}

	entities, err := app.Store.Entities.List()
	if err != nil {
		return append(results, checkResult{Category: "Mirror", Name: "ledger_paths", Status: checkError, Message: err.Error()})
	}
	tracked := make(map[string]bool, len(entities))
	var missing []string
	for _, e := range entities {
		tracked[e.Path] = true
		if _, err := os.Lstat(filepath.Join(root, filepath.FromSlash(e.Path))); err != nil {
			missing = append(missing, fmt.Sprintf("%s: %s", e.Key, e.Path))
		}
	}
	var untracked []string
	for _, path := range docs {
		rel := mirrorRel(root, path)
		if !tracked[rel] && !isDraftName(filepath.Base(path)) {
			untracked = append(untracked, rel)
		}
	}
	switch {
	case len(missing) > 0:
		results = append(results, checkResult{Category: "Mirror", Name: "ledger_paths", Status: checkWarning,
			Message: fmt.Sprintf("%d ledger entr(ies) point at missing files; run reconcile", len(missing)), Details: missing})
	case len(untracked) > 0:
		results = append(results, checkResult{Category: "Mirror", Name: "ledger_paths", Status: checkWarning,
			Message: fmt.Sprintf("%d document(s) are not in the ledger; run reconcile", len(untracked)), Details: untracked})
	default:
		results = append(results, checkResult{Category: "Mirror", Name: "ledger_paths", Status: checkOK,
			Message: "Ledger and mirror agree"})
	}
	return results
}

func checkSnapshots(app *appctx.App) []checkResult {
	groups, err := app.Cache.LoadGroups()
	if err != nil {
		return []checkResult{{Category: "Snapshot Cache", Name: "snapshot_load", Status: checkError,
			Message: fmt.Sprintf("Snapshot cache cannot be read: %v", err)}}
	}

	mirrored := make(map[string]bool)
	if docs, err := mirrorDocuments(app.Config.MirrorDir); err == nil {
		for _, path := range docs {
			if _, key, ok := paths.ParseFileName(filepath.Base(path), paths.DocumentExt); ok {
				mirrored[key] = true
			}
		}
	}

	records := 0
	var headless, unmirrored []string
	for _, g := range groups {
		entries := g.Children
		if g.Epic == nil {
			headless = append(headless, g.Component+"/"+g.EpicDir)
		} else {
			entries = append([]snapshot.Entry{*g.Epic}, entries...)
		}
		for _, e := range entries {
			records++
			if !mirrored[e.Key] {
				unmirrored = append(unmirrored, e.Key)
			}
		}
	}

	results := []checkResult{{Category: "Snapshot Cache", Name: "snapshot_load", Status: checkOK,
		Message: fmt.Sprintf("%d record(s) in %d epic group(s)", records, len(groups))}}
	if len(headless) > 0 {
		results = append(results, checkResult{Category: "Snapshot Cache", Name: "snapshot_epics", Status: checkWarning,
			Message: fmt.Sprintf("%d cache director(ies) hold no epic record", len(headless)), Details: headless})
	}
	if len(unmirrored) > 0 {
		results = append(results, checkResult{Category: "Snapshot Cache", Name: "snapshot_mirror", Status: checkWarning,
			Message: fmt.Sprintf("%d cached record(s) have no mirrored document; run reconcile", len(unmirrored)),
			Details: unmirrored})
	}
	return results
}

func printDoctorReport(w io.Writer, report *doctorReport, verbose bool) {
	fmt.Fprintf(w, "epicsync doctor %s\n\n", report.Version)
	fmt.Fprintf(w, "Ledger: %s\n", report.DBPath)
	fmt.Fprintf(w, "Mirror: %s\n\n", report.MirrorDir)

	var order []string
	byCategory := make(map[string][]checkResult)
	for _, check := range report.Checks {
		if _, seen := byCategory[check.Category]; !seen {
			order = append(order, check.Category)
		}
		byCategory[check.Category] = append(byCategory[check.Category], check)
	}

	for _, category := range order {
		fmt.Fprintf(w, "%s\n", category)
		for _, check := range byCategory[category] {
			icon := "✓"
			if check.Status == checkWarning {
				icon = "⚠"
			} else if check.Status == checkError {
				icon = "✗"
			}
			fmt.Fprintf(w, "  %s %s\n", icon, check.Message)
			if verbose {
				for _, detail := range check.Details {
					fmt.Fprintf(w, "      %s\n", detail)
				}
			}
		}
		fmt.Fprintln(w)
	}

	if report.Errors > 0 {
		fmt.Fprintf(w, "Summary: %d error(s), %d warning(s)\n", report.Errors, report.Warnings)
	} else if report.Warnings > 0 {
		fmt.Fprintf(w, "Summary: %d warning(s)\n", report.Warnings)
	} else {
		fmt.Fprintf(w, "Summary: All checks passed ✓\n")
	}
	if !verbose && (report.Warnings > 0 || report.Errors > 0) {
		fmt.Fprintf(w, "\nRun with --verbose for detailed information\n")
	}
}
