package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/mapping"
	"github.com/lherron/epicsync/internal/reconcile"
	"github.com/lherron/epicsync/internal/store"
)

// contextOf returns the command context, or a background context when the
// command was not started through Execute.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// reconcileGroups runs one ledger-recorded reconciliation over groups and
// prints its report. Warnings gathered before the run are added to the
// report. The error is non-nil when the run stopped or any entity failed.
func reconcileGroups(app *appctx.App, cmd *cobra.Command, command string, groups []reconcile.Group, warnings []reconcile.Warning) (*reconcile.Report, error) {
	ledger, err := app.Store.Runs.Begin(command)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	rec, err := app.Reconciler(ledger)
	if err != nil {
		return nil, err
	}

	rep, runErr := rec.Run(contextOf(cmd), groups)
	for _, w := range warnings {
		rep.Warnings = append(rep.Warnings, w)
		if err := ledger.Event(events.KindWarning, w.Key, w.Path, w.Err.Error()); err != nil {
			app.Logger.Error("failed to record warning", "key", w.Key, "error", err)
		}
	}
	if err := ledger.Finish(rep.Counts()); err != nil {
		return rep, fmt.Errorf("failed to finish run %s: %w", ledger.RunID(), err)
	}
	if runErr != nil {
		return rep, runErr
	}

	if err := app.Renderer(cmd.OutOrStdout()).RenderReport(ledger.RunID(), rep); err != nil {
		return rep, err
	}
	if rep.Failed() {
		return rep, fmt.Errorf("%d of %d entities failed", len(rep.Failures), rep.Processed)
	}
	return rep, nil
}

// documentType reads the issue type out of a document's properties.
func documentType(doc *frontmatter.Document) (domain.IssueType, error) {
	name, _ := doc.Metadata.Properties.String(domain.PropType)
	return domain.ParseIssueType(name)
}

// documentTable returns the mapping a document carries, or the template
// mapping for its type when it carries none.
func documentTable(app *appctx.App, doc *frontmatter.Document, t domain.IssueType) *mapping.Table {
	if m := doc.Metadata.Mapping; m != nil && m.Len() > 0 {
		return m
	}
	return app.Templates.Mapping(t)
}

// remoteKeyOf returns the tracker key a document is linked to, if any.
func remoteKeyOf(doc *frontmatter.Document) string {
	if k := doc.Metadata.Sync.RemoteKey; k != nil && *k != "" {
		return *k
	}
	key, _ := doc.Metadata.Properties.String(domain.PropKey)
	return key
}

// mirrorRel returns path relative to the mirror root with forward slashes,
// the form the ledger stores. Paths outside the mirror are kept as given.
func mirrorRel(mirrorDir, path string) string {
	rel, err := filepath.Rel(mirrorDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// mirrorPlacement splits a document path into its component and epic
// directory. ok is false for files outside the {component}/{epic-dir}
// layout.
func mirrorPlacement(mirrorDir, path string) (component, epicDir string, ok bool) {
	rel, err := filepath.Rel(mirrorDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ledgerEntity builds the ledger row for a document written at path.
func ledgerEntity(app *appctx.App, path string, t domain.IssueType, key string, doc *frontmatter.Document) store.Entity {
	component, _, _ := mirrorPlacement(app.Config.MirrorDir, path)
	s := doc.Metadata.Sync
	return store.Entity{
		Key:        key,
		Type:       t.String(),
		Component:  component,
		Path:       mirrorRel(app.Config.MirrorDir, path),
		LocalHash:  s.LocalHash,
		RemoteHash: s.RemoteHash,
		LastSync:   s.LastSync,
	}
}
