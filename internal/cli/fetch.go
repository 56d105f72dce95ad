package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/reconcile"
	"github.com/lherron/epicsync/internal/tracker"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [epic-key...]",
	Short: "Fetch epics from the tracker and reconcile the mirror",
	Long: `Fetches epics and their children from the tracker, caches the raw
records, and reconciles the mirror against them.

Epics are selected by key, or all epics of one component with --component.
Previously cached epics that were not fetched are reconciled from the
cache, so a partial fetch never deletes the rest of the mirror.

Examples:
  epicsync fetch IDP-1 IDP-7
  epicsync fetch --component idp-infra
  epicsync fetch IDP-1 --offline      # re-read from the snapshot cache
`,
	Args: func(cmd *cobra.Command, args []string) error {
		component, _ := cmd.Flags().GetString("component")
		if len(args) == 0 && component == "" {
			return fmt.Errorf("give at least one epic key or --component")
		}
		if len(args) > 0 && component != "" {
			return fmt.Errorf("epic keys and --component are mutually exclusive")
		}
		return nil
	},
	RunE: appctx.WithApp(appctx.WithTracker(), runFetch),
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().String("component", "", "Fetch every epic of this component")
}

func runFetch(app *appctx.App, cmd *cobra.Command, args []string) error {
	component, _ := cmd.Flags().GetString("component")
	for _, key := range args {
		if err := domain.ValidateIssueKey(key); err != nil {
			return err
		}
	}

	res, err := fetchGroups(contextOf(cmd), app.Tracker, args, component)
	if err != nil {
		return err
	}

	cached, err := app.Cache.LoadGroups()
	if err != nil {
		return fmt.Errorf("failed to load snapshot cache: %w", err)
	}
	groups := res.groups
	for _, g := range cached {
		if g.Epic == nil || res.epics[g.Epic.Key] || res.missing[g.Epic.Key] {
			continue
		}
		// A component listing is complete: cached epics it no longer returns are gone.
		if component != "" && g.Component == component {
			continue
		}
		grp := reconcile.Group{Epic: g.Epic.Record}
		for _, c := range g.Children {
			if !res.children[c.Key] {
				grp.Children = append(grp.Children, c.Record)
			}
		}
		groups = append(groups, grp)
	}

	app.Logger.Debug("fetched", "epics", len(res.groups), "cached", len(groups)-len(res.groups))
	_, err = reconcileGroups(app, cmd, "fetch", groups, res.warnings)
	return err
}

// fetchResult is the outcome of fetching a set of epics.
type fetchResult struct {
	groups   []reconcile.Group
	epics    map[string]bool
	children map[string]bool

	// missing holds requested keys the tracker does not know.
	missing  map[string]bool
	warnings []reconcile.Warning
}

// fetchGroups fetches the requested epics and their children. A key the
// tracker does not know becomes a warning; any other error stops the fetch.
func fetchGroups(ctx context.Context, client tracker.Client, keys []string, component string) (*fetchResult, error) {
	res := &fetchResult{
		epics:    make(map[string]bool),
		children: make(map[string]bool),
		missing:  make(map[string]bool),
	}

	var epics []tracker.Record
	if component != "" {
		records, err := client.FetchByComponentAndType(ctx, component, domain.TypeEpic)
		if err != nil {
			return nil, fmt.Errorf("failed to list epics of %s: %w", component, err)
		}
		epics = records
	}
	for _, key := range keys {
		record, err := client.FetchEntity(ctx, key)
		if errors.Is(err, tracker.ErrNotFound) {
			res.missing[key] = true
			res.warnings = append(res.warnings, reconcile.Warning{Key: key, Err: fmt.Errorf("%s: %w", key, err)})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
		}
		epics = append(epics, record)
	}

	for _, epic := range epics {
		key, _ := epic["key"].(string)
		if key == "" || res.epics[key] {
			continue
		}
		children, err := client.FetchChildren(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch children of %s: %w", key, err)
		}
		res.epics[key] = true
		for _, c := range children {
			if ck, _ := c["key"].(string); ck != "" {
				res.children[ck] = true
			}
		}
		res.groups = append(res.groups, reconcile.Group{Epic: epic, Children: children})
	}
	return res, nil
}
