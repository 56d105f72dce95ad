// Package reconcile materializes remote epic groups into the local mirror
// and repairs drift: misplaced files, stale duplicates, orphaned epic
// directories, and children whose component disagrees with their epic.
//
// The valid directory and key sets of a run come only from the remote
// groups handed to Run, never from what is already on disk.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
	"github.com/lherron/epicsync/internal/mapping"
	"github.com/lherron/epicsync/internal/snapshot"
	"github.com/lherron/epicsync/internal/store"
	"github.com/lherron/epicsync/internal/templates"
	"github.com/lherron/epicsync/internal/tracker"
)

// DefaultUnassignedComponent holds epics that carry no component.
const DefaultUnassignedComponent = "unassigned"

// MissingDirPolicy decides what happens when a canonical directory does not
// exist yet.
type MissingDirPolicy string

const (
	PolicyAutoCreate MissingDirPolicy = "auto-create"
	PolicyFail       MissingDirPolicy = "fail"
)

// ParseMissingDirPolicy validates a policy name. Empty means auto-create.
func ParseMissingDirPolicy(s string) (MissingDirPolicy, error) {
	switch MissingDirPolicy(s) {
	case "", PolicyAutoCreate:
		return PolicyAutoCreate, nil
	case PolicyFail:
		return PolicyFail, nil
	}
	return "", fmt.Errorf("invalid missing directory policy %q: must be one of: %s, %s", s, PolicyAutoCreate, PolicyFail)
}

// Group is one epic and the children fetched under it, as raw records.
type Group struct {
	Epic     tracker.Record
	Children []tracker.Record
}

// FromSnapshot turns cached groups into run input. Directories that hold
// children but no epic record are dropped.
func FromSnapshot(cached []snapshot.Group) []Group {
	out := make([]Group, 0, len(cached))
	for _, g := range cached {
		if g.Epic == nil {
			continue
		}
		grp := Group{Epic: g.Epic.Record}
		for _, c := range g.Children {
			grp.Children = append(grp.Children, c.Record)
		}
		out = append(out, grp)
	}
	return out
}

// Ledger receives the entity state and events of a run. *store.RunLedger
// satisfies it.
type Ledger interface {
	Record(kind string, e store.Entity) error
	Forget(key, path string) error
	Event(kind, key, path, detail string) error
}

// Options configures a Reconciler.
type Options struct {
	// MirrorDir is the root of the markdown mirror.
	MirrorDir string

	// Project is the fallback project key for records that carry none.
	Project string

	// UnassignedComponent names the directory of epics without a component.
	UnassignedComponent string

	MissingDirPolicy MissingDirPolicy

	// Now stamps sync.lastSync. Nil means time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Reconciler runs reconciliation passes over one mirror.
type Reconciler struct {
	opts      Options
	engine    *mapping.Engine
	templates *templates.Set

	// tracker is used for component repairs only. Nil disables repairs.
	tracker tracker.Client

	// cache, when set, is rewritten to match the mirror layout.
	cache *snapshot.Cache

	ledger Ledger
	log    *slog.Logger
}

// Deps are the collaborators of a Reconciler. Engine and Templates are
// required; the rest may be nil.
type Deps struct {
	Engine    *mapping.Engine
	Templates *templates.Set
	Tracker   tracker.Client
	Cache     *snapshot.Cache
	Ledger    Ledger
}

// New creates a Reconciler.
func New(opts Options, deps Deps) (*Reconciler, error) {
	if opts.MirrorDir == "" {
		return nil, fmt.Errorf("mirror directory is required")
	}
	if deps.Engine == nil || deps.Templates == nil {
		return nil, fmt.Errorf("mapping engine and templates are required")
	}
	policy, err := ParseMissingDirPolicy(string(opts.MissingDirPolicy))
	if err != nil {
		return nil, err
	}
	opts.MissingDirPolicy = policy
	if opts.UnassignedComponent == "" {
		opts.UnassignedComponent = DefaultUnassignedComponent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Reconciler{
		opts:      opts,
		engine:    deps.Engine,
		templates: deps.Templates,
		tracker:   deps.Tracker,
		cache:     deps.Cache,
		ledger:    deps.Ledger,
		log:       log,
	}, nil
}

// Run reconciles the mirror against groups. Per-entity problems end up in
// the report; the returned error is reserved for failures that stop the run,
// such as an unreadable mirror.
func (r *Reconciler) Run(ctx context.Context, groups []Group) (*Report, error) {
	rep := &Report{}

	p, err := r.plan(ctx, groups, rep)
	if err != nil {
		return rep, err
	}

	for _, pg := range p.groups {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		files, err := scanMirror(r.opts.MirrorDir)
		if err != nil {
			return rep, err
		}
		index := indexByKey(files)
		for _, it := range pg.items {
			r.materialize(p, pg, it, index, rep)
		}
		if err := r.cleanGroup(pg, p, rep); err != nil {
			return rep, err
		}
	}

	if err := r.pruneDirs(p, rep); err != nil {
		return rep, err
	}
	if err := r.syncCache(p, rep); err != nil {
		return rep, err
	}

	r.log.Info("reconcile finished",
		"processed", rep.Processed,
		"generated", rep.Generated,
		"relocated", rep.Relocated,
		"deleted", rep.Deleted,
		"warnings", len(rep.Warnings),
		"failures", len(rep.Failures))
	return rep, nil
}

// syncCache moves cached records to the mirror layout and drops records of
// keys that are no longer valid.
func (r *Reconciler) syncCache(p *plan, rep *Report) error {
	if r.cache == nil {
		return nil
	}
	for _, pg := range p.groups {
		for _, item := range pg.items {
			if _, err := r.cache.Write(pg.component, pg.epicDir, item.entity.Type, item.entity.Key, item.record); err != nil {
				rep.fail(item.entity.Key, err)
			}
		}
	}
	keep := make(map[string]bool, len(p.validKeys)+len(p.held))
	for k := range p.validKeys {
		keep[k] = true
	}
	for k := range p.held {
		keep[k] = true
	}
	removed, err := r.cache.Prune(keep)
	if err != nil {
		return fmt.Errorf("failed to prune snapshot cache: %w", err)
	}
	for _, path := range removed {
		r.log.Debug("pruned snapshot", "path", path)
	}
	return nil
}

// warn adds a warning to the report, the log, and the ledger.
func (r *Reconciler) warn(rep *Report, key, path string, err error) {
	rep.Warnings = append(rep.Warnings, Warning{Key: key, Path: path, Err: err})
	r.log.Warn(err.Error(), "key", key)
	if r.ledger != nil {
		if lerr := r.ledger.Event(events.KindWarning, key, r.rel(path), err.Error()); lerr != nil {
			r.log.Error("failed to record warning", "key", key, "error", lerr)
		}
	}
}

// rel returns path relative to the mirror root with forward slashes.
func (r *Reconciler) rel(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(r.opts.MirrorDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func projectOf(key string) string {
	project, _, _ := strings.Cut(key, "-")
	return project
}

// entityFields returns the ledger row for an item at path.
func (r *Reconciler) entityFields(e *domain.Entity, component, path string, sync syncState) store.Entity {
	return store.Entity{
		Key:        e.Key,
		Type:       e.Type.String(),
		Component:  component,
		Path:       r.rel(path),
		LocalHash:  sync.localHash,
		RemoteHash: sync.remoteHash,
		LastSync:   sync.lastSync,
	}
}
