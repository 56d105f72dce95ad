package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the mirror against the snapshot cache",
	Long: `Rebuilds the mirror layout from the cached snapshots without reading
from the tracker: files are regenerated or moved to their canonical
paths, stale copies and orphaned epic directories are removed.

When a tracker is configured (or --offline is set), children whose
component disagrees with their epic are repaired remotely. Otherwise they
are reported and left alone.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{NeedsDB: true, WantsTracker: true}, runReconcile),
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(app *appctx.App, cmd *cobra.Command, args []string) error {
	cached, err := app.Cache.LoadGroups()
	if err != nil {
		return fmt.Errorf("failed to load snapshot cache: %w", err)
	}
	var warnings []reconcile.Warning
	for _, g := range cached {
		if g.Epic == nil {
			warnings = append(warnings, reconcile.Warning{
				Path: g.Component + "/" + g.EpicDir,
				Err:  fmt.Errorf("snapshot directory %s/%s has no epic record", g.Component, g.EpicDir),
			})
		}
	}
	if app.Tracker == nil {
		app.Logger.Info("no tracker configured, component repairs are disabled")
	}

	_, err = reconcileGroups(app, cmd, "reconcile", reconcile.FromSnapshot(cached), warnings)
	return err
}
