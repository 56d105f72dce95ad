package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/batch"
	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/mapping"
	"github.com/lherron/epicsync/internal/paths"
	"github.com/lherron/epicsync/internal/snapshot"
	"github.com/lherron/epicsync/internal/store"
	"github.com/lherron/epicsync/internal/validate"
)

var pushCmd = &cobra.Command{
	Use:   "push <file>...",
	Short: "Write documents' fields back to the tracker",
	Long: `Flattens each document's properties and description through its field
mapping and writes them to the tracker. Read-only properties (status,
people, timestamps) are never sent.

A document without sync.remoteKey is created remotely; a draft is then
renamed to its canonical {type}-{key}.md name. The sync group, the
snapshot cache, and the ledger are updated after a successful write.

Files are pushed one at a time, in order. Documents with validation
errors are refused unless --force is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: appctx.WithApp(appctx.WithTracker(), runPush),
}

// now stamps sync.lastSync on pushed and created documents.
var now = time.Now

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().Bool("force", false, "Push even when a document fails validation")
	pushCmd.Flags().Bool("continue-on-error", false, "Keep pushing the remaining files after a failure")
}

type pushedJSON struct {
	Key     string `json:"key"`
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

func runPush(app *appctx.App, cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	continueOnError, _ := cmd.Flags().GetBool("continue-on-error")

	ledger, err := app.Store.Runs.Begin("push")
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	op := &batch.Operation{ContinueOnError: continueOnError}
	if len(args) > 1 {
		op.Progress = cmd.ErrOrStderr()
	}
	var counts store.Counts
	var pushed []pushResult
	result := op.Execute(contextOf(cmd), args, func(ctx context.Context, path string) error {
		counts.Processed++
		res, err := pushDocument(ctx, app, path, force)
		if err != nil {
			counts.Failures++
			if lerr := ledger.Event(events.KindFailure, "", mirrorRel(app.Config.MirrorDir, path), err.Error()); lerr != nil {
				app.Logger.Error("failed to record failure", "path", path, "error", lerr)
			}
			return err
		}
		if err := ledger.Record(res.kind, res.entity); err != nil {
			return fmt.Errorf("failed to record %s: %w", res.entity.Key, err)
		}
		if res.kind == events.KindCreated {
			counts.Generated++
		}
		pushed = append(pushed, *res)
		return nil
	})
	if err := ledger.Finish(counts); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", ledger.RunID(), err)
	}

	r := app.Renderer(cmd.OutOrStdout())
	if app.Offline && len(pushed) > 0 {
		r.Warn("offline: changes were written to the snapshot cache only")
	}
	if r.JSON() {
		out := make([]pushedJSON, 0, len(pushed))
		for _, p := range pushed {
			out = append(out, pushedJSON{Key: p.entity.Key, Path: p.path, Created: p.kind == events.KindCreated})
		}
		failures := make([]map[string]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			failures = append(failures, map[string]string{"path": e.Item, "message": e.Error.Error()})
		}
		if err := r.RenderJSON(map[string]any{"run_id": ledger.RunID(), "pushed": out, "failures": failures}); err != nil {
			return err
		}
		return result.Err()
	}

	for _, p := range pushed {
		if p.kind == events.KindCreated {
			r.OK("created %s at %s", p.entity.Key, p.path)
		} else {
			r.OK("pushed %s", p.entity.Key)
		}
	}
	if len(args) > 1 {
		result.PrintSummary(cmd.OutOrStdout())
	}
	return result.Err()
}

type pushResult struct {
	kind   string
	path   string
	entity store.Entity
}

// pushDocument writes one document to the tracker and stamps it with the
// resulting sync state.
func pushDocument(ctx context.Context, app *appctx.App, path string, force bool) (*pushResult, error) {
	doc, err := frontmatter.ParseFile(path)
	if err != nil {
		return nil, err
	}
	t, err := documentType(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !force {
		if res := validate.New(app.Templates.Schema()).Validate(doc.Body, t); !res.OK() {
			return nil, fmt.Errorf("%s has %d validation error(s); fix them or push with --force", path, len(res.Errors))
		}
	}

	bag := doc.Metadata.Properties.Clone()
	if _, desc := frontmatter.ParseBody(doc.Body); desc != "" {
		bag.Set(domain.PropDescription, domain.String(desc))
	}
	fields, err := mapping.Lower(app.Engine.Flatten(bag, documentTable(app, doc, t), t))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: no writable fields", path)
	}

	kind := events.KindPushed
	key := remoteKeyOf(doc)
	if key == "" {
		kind = events.KindCreated
		if key, err = app.Tracker.CreateEntity(ctx, fields); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
		app.Logger.Info("created entity", "key", key, "path", path)
	} else if err := app.Tracker.UpdateEntity(ctx, key, fields); err != nil {
		return nil, fmt.Errorf("failed to push %s: %w", key, err)
	}

	record, err := app.Tracker.FetchEntity(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to re-fetch %s: %w", key, err)
	}
	remoteHash, err := snapshot.RecordHash(record)
	if err != nil {
		return nil, err
	}

	doc.Metadata.Properties.Set(domain.PropKey, domain.String(key))
	doc.Metadata.Sync.RemoteKey = frontmatter.StringPtr(key)
	doc.Metadata.Sync.LastSync = frontmatter.StringPtr(domain.FormatTimestamp(now()))
	doc.Metadata.Sync.RemoteHash = frontmatter.StringPtr(remoteHash)
	localHash, err := frontmatter.ContentHash(doc)
	if err != nil {
		return nil, err
	}
	doc.Metadata.Sync.LocalHash = frontmatter.StringPtr(localHash)

	target := path
	if kind == events.KindCreated {
		target = filepath.Join(filepath.Dir(path), paths.FileName(t, key, paths.DocumentExt))
	}
	data, err := frontmatter.Serialize(doc)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", target, err)
	}
	if target != path {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove draft %s: %w", path, err)
		}
	}

	if component, epicDir, ok := mirrorPlacement(app.Config.MirrorDir, target); ok {
		if _, err := app.Cache.Write(component, epicDir, t, key, record); err != nil {
			return nil, err
		}
	} else {
		app.Logger.Warn("document is outside the mirror layout, snapshot not cached", "path", target)
	}

	return &pushResult{
		kind:   kind,
		path:   target,
		entity: ledgerEntity(app, target, t, key, doc),
	}, nil
}
