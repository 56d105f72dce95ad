package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lherron/epicsync/internal/config"
	"github.com/lherron/epicsync/internal/db"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the ledger, mirror, and project config",
	Long: `Init writes .epicsync.yaml in the working directory, creates the ledger
database and runs its migrations, and creates the mirror and snapshot cache
directories. Running it again only applies pending migrations.

Jira credentials are not written; set EPICSYNC_JIRA_URL and
EPICSYNC_JIRA_TOKEN in the environment or in .env.local.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("project", "", "Tracker project key")
	initCmd.Flags().String("jira-url", "", "Base URL of the Jira site")
	initCmd.Flags().Bool("force", false, "Overwrite an existing "+config.ProjectConfigFile)
}

// projectFile is what init writes to .epicsync.yaml.
type projectFile struct {
	Project   string `yaml:"project,omitempty"`
	MirrorDir string `yaml:"mirror_dir"`
	JiraURL   string `yaml:"jira_url,omitempty"`
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagValue(cmd, "config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if v := flagValue(cmd, "db"); v != "" {
		cfg.DBPath = v
	}
	if v := flagValue(cmd, "mirror"); v != "" {
		cfg.MirrorDir = v
	}
	project, _ := cmd.Flags().GetString("project")
	jiraURL, _ := cmd.Flags().GetString("jira-url")
	force, _ := cmd.Flags().GetBool("force")
	if project != "" {
		cfg.Project = project
	}
	if jiraURL != "" {
		cfg.JiraURL = jiraURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, statErr := os.Stat(config.ProjectConfigFile)
	switch {
	case errors.Is(statErr, os.ErrNotExist) || force:
		data, err := yaml.Marshal(projectFile{Project: cfg.Project, MirrorDir: cfg.MirrorDir, JiraURL: cfg.JiraURL})
		if err != nil {
			return err
		}
		if err := os.WriteFile(config.ProjectConfigFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", config.ProjectConfigFile, err)
		}
		fmt.Fprintf(out, "✓ Wrote %s\n", config.ProjectConfigFile)
	case statErr != nil:
		return statErr
	default:
		fmt.Fprintf(out, "✓ Kept existing %s\n", config.ProjectConfigFile)
	}

	_, dbErr := os.Stat(cfg.DBPath)
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	applied, err := database.Migrate()
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if errors.Is(dbErr, os.ErrNotExist) {
		fmt.Fprintf(out, "✓ Initialized new ledger at %s\n", cfg.DBPath)
	} else {
		fmt.Fprintf(out, "✓ Ledger already initialized at %s (%d migration(s) applied)\n", cfg.DBPath, len(applied))
	}

	for _, dir := range []string{cfg.MirrorDir, cfg.SnapshotDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	fmt.Fprintf(out, "✓ Mirror directory %s\n", cfg.MirrorDir)
	fmt.Fprintf(out, "✓ Snapshot cache %s\n", cfg.SnapshotDir)
	if cfg.Project == "" {
		fmt.Fprintf(out, "⚠ No project set; pass --project or set EPICSYNC_PROJECT before creating epics\n")
	}
	return nil
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}
