package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
	"github.com/lherron/epicsync/internal/mapping"
	"github.com/lherron/epicsync/internal/paths"
	"github.com/lherron/epicsync/internal/tracker"
)

// item is one entity placed by the plan.
type item struct {
	entity *domain.Entity
	bag    *domain.Bag
	record tracker.Record
	path   string
}

// planGroup is one epic directory and everything that belongs in it.
type planGroup struct {
	epicKey   string
	component string
	epicDir   string
	dir       string
	items     []*item
}

// plan is the target state of a run, derived from remote records only.
type plan struct {
	groups []*planGroup

	validKeys  map[string]bool
	validNames map[string]bool
	validDirs  map[string]map[string]bool

	// held keys failed this run; their files are left where they are.
	held map[string]bool
}

func newPlan() *plan {
	return &plan{
		validKeys:  make(map[string]bool),
		validNames: make(map[string]bool),
		validDirs:  make(map[string]map[string]bool),
		held:       make(map[string]bool),
	}
}

func (p *plan) add(pg *planGroup, it *item) {
	pg.items = append(pg.items, it)
	p.validKeys[it.entity.Key] = true
	p.validNames[paths.FileName(it.entity.Type, it.entity.Key, paths.DocumentExt)] = true
}

func (p *plan) dirTaken(component, epicDir string) bool {
	return p.validDirs[component][epicDir]
}

func (p *plan) claimDir(component, epicDir string) {
	if p.validDirs[component] == nil {
		p.validDirs[component] = make(map[string]bool)
	}
	p.validDirs[component][epicDir] = true
}

// plan computes the canonical placement of every entity in groups.
func (r *Reconciler) plan(ctx context.Context, groups []Group, rep *Report) (*plan, error) {
	p := newPlan()

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep.Processed++

		epic, err := r.identify(g.Epic)
		if err != nil {
			key := recordKey(g.Epic)
			rep.fail(key, err)
			p.held[key] = true
			continue
		}
		if !epic.entity.Type.IsGrouping() {
			rep.fail(epic.entity.Key, &domain.StructuralMismatchError{
				Key: epic.entity.Key, Field: domain.PropType,
				Expected: domain.TypeEpic.String(), Actual: epic.entity.Type.String(),
			})
			p.held[epic.entity.Key] = true
			continue
		}
		if p.validKeys[epic.entity.Key] {
			r.warn(rep, epic.entity.Key, "", fmt.Errorf("epic %s appears in more than one group; keeping the first", epic.entity.Key))
			continue
		}

		pg, err := r.placeEpic(p, epic, rep)
		if err != nil {
			rep.fail(epic.entity.Key, err)
			p.held[epic.entity.Key] = true
			continue
		}

		for _, rec := range g.Children {
			rep.Processed++
			child, ok := r.admitChild(ctx, p, pg, rec, rep)
			if !ok {
				continue
			}
			child.path = paths.CanonicalPath(r.opts.MirrorDir, pg.component, pg.epicDir, child.entity.Type, child.entity.Key, paths.DocumentExt)
			p.add(pg, child)
		}
		p.groups = append(p.groups, pg)
	}

	return p, nil
}

// placeEpic decides the component and directory of an epic.
func (r *Reconciler) placeEpic(p *plan, epic *item, rep *Report) (*planGroup, error) {
	e := epic.entity

	component := e.Component()
	if component == "" {
		component = r.opts.UnassignedComponent
		r.warn(rep, e.Key, "", fmt.Errorf("epic %s has no component; placing it under %q", e.Key, component))
	}
	if err := domain.ValidateComponentName(component); err != nil {
		return nil, err
	}

	epicDir, err := paths.EpicDirName(e.Summary)
	if err != nil {
		epicDir, err = paths.EpicDirName(e.Key)
		if err != nil {
			return nil, err
		}
		r.warn(rep, e.Key, "", fmt.Errorf("epic %s has no usable summary; naming its directory %s", e.Key, epicDir))
	}
	if p.dirTaken(component, epicDir) {
		taken := epicDir
		epicDir = taken + "-" + paths.Slugify(e.Key)
		r.warn(rep, e.Key, "", fmt.Errorf("directory %s/%s already belongs to another epic; using %s", component, taken, epicDir))
	}
	p.claimDir(component, epicDir)

	pg := &planGroup{
		epicKey:   e.Key,
		component: component,
		epicDir:   epicDir,
		dir:       paths.CanonicalDir(r.opts.MirrorDir, component, epicDir),
	}
	epic.path = paths.CanonicalPath(r.opts.MirrorDir, component, epicDir, e.Type, e.Key, paths.DocumentExt)
	p.add(pg, epic)
	return pg, nil
}

// admitChild checks a child against its epic. A grouping-type child whose
// component disagrees with the epic gets one remote repair attempt.
func (r *Reconciler) admitChild(ctx context.Context, p *plan, pg *planGroup, rec tracker.Record, rep *Report) (*item, bool) {
	child, err := r.identify(rec)
	if err != nil {
		key := recordKey(rec)
		rep.fail(key, err)
		p.held[key] = true
		return nil, false
	}
	e := child.entity

	if e.ParentKey != pg.epicKey {
		r.warn(rep, e.Key, "", &domain.StructuralMismatchError{
			Key: e.Key, Field: domain.PropParent, Expected: pg.epicKey, Actual: e.ParentKey,
		})
		return nil, false
	}

	if e.Type.IsGrouping() && e.Component() != "" && e.Component() != pg.component {
		repaired, err := r.repairComponent(ctx, child, pg.component, rep)
		if err != nil {
			r.warn(rep, e.Key, "", fmt.Errorf("excluding %s: %w", e.Key, err))
			return nil, false
		}
		child = repaired
	}

	if p.validKeys[child.entity.Key] {
		r.warn(rep, child.entity.Key, "", fmt.Errorf("%s appears under more than one epic; keeping the first placement", child.entity.Key))
		return nil, false
	}
	return child, true
}

// repairComponent writes the epic's component to a child, re-reads it, and
// checks the result.
func (r *Reconciler) repairComponent(ctx context.Context, child *item, component string, rep *Report) (*item, error) {
	e := child.entity
	mismatch := &domain.StructuralMismatchError{
		Key: e.Key, Field: domain.PropComponents, Expected: component, Actual: e.Component(),
	}
	if r.tracker == nil {
		return nil, fmt.Errorf("%w: no tracker available for repair", mismatch)
	}

	bag := domain.NewBag()
	bag.Set(domain.PropComponents, domain.Strings(component))
	table := r.templates.Mapping(e.Type).Subset(domain.PropComponents)
	fields, err := mapping.Lower(r.engine.Flatten(bag, table, e.Type))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mismatch, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: template has no component mapping", mismatch)
	}

	if err := r.tracker.UpdateEntity(ctx, e.Key, fields); err != nil {
		return nil, fmt.Errorf("%w: repair failed: %w", mismatch, err)
	}
	rec, err := r.tracker.FetchEntity(ctx, e.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: re-fetch after repair failed: %w", mismatch, err)
	}
	repaired, err := r.identify(rec)
	if err != nil {
		return nil, err
	}
	if got := repaired.entity.Component(); got != component {
		mismatch.Actual = got
		return nil, fmt.Errorf("%w: still mismatched after repair", mismatch)
	}

	rep.act(ActionRepaired, e.Key, "", "")
	r.log.Info("repaired component", "key", e.Key, "component", component)
	if r.ledger != nil {
		if err := r.ledger.Event(events.KindRepaired, e.Key, "", "component set to "+component); err != nil {
			r.log.Error("failed to record repair", "key", e.Key, "error", err)
		}
	}
	return repaired, nil
}

// identify extracts a record with the mapping of its own type.
func (r *Reconciler) identify(rec tracker.Record) (*item, error) {
	if rec == nil {
		return nil, errors.New("empty record")
	}
	typeTable := r.templates.Mapping(domain.TypeEpic).Subset(domain.PropType)
	typeBag, _ := r.engine.Extract(rec, typeTable)
	typeName, _ := typeBag.String(domain.PropType)
	t, err := domain.ParseIssueType(typeName)
	if err != nil {
		return nil, err
	}

	bag, _ := r.engine.Extract(rec, r.templates.Mapping(t))
	e, err := domain.EntityFromBag(bag)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateIssueKey(e.Key); err != nil {
		return nil, err
	}
	if e.Project == "" {
		e.Project = r.opts.Project
	}
	if e.Project == "" {
		e.Project = projectOf(e.Key)
	}
	return &item{entity: e, bag: bag, record: rec}, nil
}

func recordKey(rec tracker.Record) string {
	if k, ok := rec["key"].(string); ok && k != "" {
		return k
	}
	return "(unknown)"
}
