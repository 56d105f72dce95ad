package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/render"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Displays version, commit, and build date information.`,
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	asJSON := false
	if f := cmd.Flag("json"); f != nil {
		asJSON = f.Value.String() == "true"
	}
	if asJSON {
		commands := []string{}
		for _, c := range rootCmd.Commands() {
			if c.IsAvailableCommand() {
				commands = append(commands, c.Name())
			}
		}
		return render.NewRenderer(cmd.OutOrStdout(), render.Options{JSON: true}).RenderJSON(map[string]any{
			"version":            Version,
			"commit":             GitCommit,
			"build_date":         BuildDate,
			"supported_commands": commands,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "epicsync version %s\n", Version)
	fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
	fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
	return nil
}
