// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logging, ledger opening, and tracker
// selection to reduce boilerplate across commands.
package appctx

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/config"
	"github.com/lherron/epicsync/internal/db"
	"github.com/lherron/epicsync/internal/mapping"
	"github.com/lherron/epicsync/internal/reconcile"
	"github.com/lherron/epicsync/internal/render"
	"github.com/lherron/epicsync/internal/snapshot"
	"github.com/lherron/epicsync/internal/store"
	"github.com/lherron/epicsync/internal/templates"
	"github.com/lherron/epicsync/internal/tracker"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration, with flag overrides applied
	Config *config.Config

	// DB is the opened ledger database (nil if NeedsDB is false)
	DB    *db.DB
	Store *store.Store

	Logger    *slog.Logger
	Templates *templates.Set
	Engine    *mapping.Engine
	Cache     *snapshot.Cache

	// Tracker is nil unless NeedsTracker was set
	Tracker tracker.Client

	// Offline is true when Tracker is an in-memory copy of the snapshot cache
	Offline bool

	JSON  bool
	Color bool
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// Renderer returns a console renderer writing to w.
func (a *App) Renderer(w io.Writer) *render.Renderer {
	return render.NewRenderer(w, render.Options{JSON: a.JSON, Color: a.Color})
}

// Reconciler builds a reconciler over the configured mirror. ledger may be
// nil.
func (a *App) Reconciler(ledger reconcile.Ledger) (*reconcile.Reconciler, error) {
	opts := reconcile.Options{
		MirrorDir:           a.Config.MirrorDir,
		Project:             a.Config.Project,
		UnassignedComponent: a.Config.UnassignedComponent,
		MissingDirPolicy:    reconcile.MissingDirPolicy(a.Config.MissingDirPolicy),
		Logger:              a.Logger,
	}
	deps := reconcile.Deps{
		Engine:    a.Engine,
		Templates: a.Templates,
		Tracker:   a.Tracker,
		Cache:     a.Cache,
		Ledger:    ledger,
	}
	return reconcile.New(opts, deps)
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB indicates whether to open the ledger database.
	// Defaults to true.
	NeedsDB bool

	// NeedsTracker indicates whether to connect to the tracker.
	NeedsTracker bool

	// WantsTracker connects when a tracker is configured or --offline is
	// set, and leaves Tracker nil otherwise.
	WantsTracker bool
}

// DefaultOptions returns default options (DB required, no tracker).
func DefaultOptions() Options {
	return Options{
		NeedsDB:      true,
		NeedsTracker: false,
	}
}

// WithTracker returns options that require both DB and tracker.
func WithTracker() Options {
	return Options{
		NeedsDB:      true,
		NeedsTracker: true,
	}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The database is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// NewTracker connects to the configured remote tracker. Tests replace it.
var NewTracker = func(cfg *config.Config, logger *slog.Logger) (tracker.Client, error) {
	if !cfg.HasJira() {
		return nil, fmt.Errorf("no tracker configured (set EPICSYNC_JIRA_URL and EPICSYNC_JIRA_TOKEN, or use --offline)")
	}
	return tracker.NewJira(tracker.JiraConfig{
		BaseURL:           cfg.JiraURL,
		Email:             cfg.JiraEmail,
		Token:             cfg.JiraToken,
		Project:           cfg.Project,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	})
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load(flagString(cmd, "config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := flagString(cmd, "db"); v != "" {
		cfg.DBPath = v
	}
	if v := flagString(cmd, "mirror"); v != "" {
		cfg.MirrorDir = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	app := &App{
		Config:  cfg,
		Logger:  slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})),
		Offline: flagBool(cmd, "offline"),
		JSON:    flagBool(cmd, "json"),
		Color:   !color.NoColor,
		Cache:   snapshot.NewCache(cfg.SnapshotDir),
	}

	if cfg.TemplatesDir != "" {
		app.Templates, err = templates.Load(os.DirFS(cfg.TemplatesDir))
	} else {
		app.Templates, err = templates.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	app.Engine = mapping.NewEngine(mapping.Options{
		ReadOnly: cfg.ReadOnlyFields,
		Logger:   app.Logger,
	})

	if opts.NeedsDB {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		applied, err := database.Migrate()
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		for _, name := range applied {
			app.Logger.Debug("applied migration", "name", name)
		}
		app.DB = database
		app.Store = store.New(database)
	}

	if opts.NeedsTracker || (opts.WantsTracker && (app.Offline || cfg.HasJira())) {
		client, err := openTracker(app)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Tracker = client
	}

	return app, nil
}

// openTracker returns the remote client, or in offline mode an in-memory
// tracker seeded from the snapshot cache.
func openTracker(app *App) (tracker.Client, error) {
	if !app.Offline {
		return NewTracker(app.Config, app.Logger)
	}
	entries, err := app.Cache.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot cache: %w", err)
	}
	records := make([]tracker.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	app.Logger.Debug("offline tracker", "records", len(records))
	return tracker.NewMemory(app.Config.Project, records...), nil
}

func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func flagBool(cmd *cobra.Command, name string) bool {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String() == "true"
	}
	return false
}
