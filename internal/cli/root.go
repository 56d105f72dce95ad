package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "epicsync",
	Short: "Mirror tracker epics into a markdown tree and keep it in sync",
	Long: `epicsync mirrors epics and their children from the issue tracker into
a tree of markdown files, one directory per component and epic:

  {mirror}/{component}/epic-{slug}/{type}-{key}.md

Fetched records are cached as JSON snapshots, so the mirror can be
reconciled again without talking to the tracker. Local edits are
validated against per-type templates and pushed back field by field.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to an extra config file (overrides ./.epicsync.yaml)")
	rootCmd.PersistentFlags().String("mirror", "", "Mirror directory (overrides EPICSYNC_MIRROR_DIR)")
	rootCmd.PersistentFlags().String("db", "", "Path to ledger database (overrides EPICSYNC_DB_PATH)")
	rootCmd.PersistentFlags().Bool("offline", false, "Serve tracker reads from the snapshot cache")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
}
