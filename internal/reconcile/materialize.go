package reconcile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/snapshot"
)

type syncState struct {
	lastSync   *string
	localHash  *string
	remoteHash *string
}

func stateOf(doc *frontmatter.Document) syncState {
	s := doc.Metadata.Sync
	return syncState{lastSync: s.LastSync, localHash: s.LocalHash, remoteHash: s.RemoteHash}
}

// materialize writes one entity at its canonical path. A copy elsewhere in
// the mirror is moved there. A copy with unpushed local edits is kept as is.
func (r *Reconciler) materialize(p *plan, pg *planGroup, it *item, index map[string][]mirrorFile, rep *Report) {
	e := it.entity
	target := it.path

	exists, err := regularFileAt(target)
	if err != nil {
		rep.fail(e.Key, err)
		p.held[e.Key] = true
		return
	}

	source := ""
	if exists {
		source = target
	} else {
		for _, f := range index[e.Key] {
			if f.path != target {
				source = f.path
				break
			}
		}
	}

	var existing *frontmatter.Document
	if source != "" {
		existing, err = frontmatter.ParseFile(source)
		if err != nil {
			rep.fail(e.Key, err)
			p.held[e.Key] = true
			return
		}
	}

	var doc *frontmatter.Document
	if existing != nil && r.diverged(existing) {
		r.warn(rep, e.Key, source, fmt.Errorf("%s has local changes that were never pushed; keeping the local copy", r.rel(source)))
		doc = existing
	} else {
		doc, err = r.render(it, existing)
		if err != nil {
			rep.fail(e.Key, err)
			return
		}
	}

	if source == target && existing != nil && frontmatter.Equal(doc, existing) {
		return
	}

	data, err := frontmatter.Serialize(doc)
	if err != nil {
		rep.fail(e.Key, fmt.Errorf("failed to render %s: %w", e.Key, err))
		return
	}
	if err := r.ensureDir(filepath.Dir(target)); err != nil {
		rep.fail(e.Key, err)
		p.held[e.Key] = true
		return
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		rep.fail(e.Key, fmt.Errorf("failed to write %s: %w", target, err))
		p.held[e.Key] = true
		return
	}

	kind := events.KindGenerated
	if source != "" && source != target {
		if err := os.Remove(source); err != nil && !os.IsNotExist(err) {
			rep.fail(e.Key, fmt.Errorf("failed to remove %s after relocation: %w", source, err))
			return
		}
		rep.act(ActionRelocated, e.Key, r.rel(target), r.rel(source))
		kind = events.KindRelocated
	} else {
		rep.act(ActionGenerated, e.Key, r.rel(target), "")
	}

	if r.ledger != nil {
		if err := r.ledger.Record(kind, r.entityFields(e, pg.component, target, stateOf(doc))); err != nil {
			r.log.Error("failed to record entity", "key", e.Key, "error", err)
		}
	}
}

// diverged reports whether a document was edited after its last sync.
func (r *Reconciler) diverged(doc *frontmatter.Document) bool {
	recorded := doc.Metadata.Sync.LocalHash
	if recorded == nil {
		return false
	}
	current, err := frontmatter.ContentHash(doc)
	if err != nil {
		return false
	}
	return current != *recorded
}

// render builds the document for an item from its type template. Remote
// properties replace template defaults. The sync stamps of an existing copy
// survive when nothing else changed.
func (r *Reconciler) render(it *item, existing *frontmatter.Document) (*frontmatter.Document, error) {
	e := it.entity
	tmpl, err := r.templates.Template(e.Type)
	if err != nil {
		return nil, err
	}

	props := domain.NewBag()
	tp := tmpl.Metadata.Properties
	for _, k := range tp.Keys() {
		v, _ := tp.Get(k)
		if got, ok := it.bag.Get(k); ok {
			v = got
		}
		props.Set(k, v)
	}
	for _, k := range it.bag.Keys() {
		if k == domain.PropDescription {
			continue
		}
		if _, ok := props.Get(k); !ok {
			v, _ := it.bag.Get(k)
			props.Set(k, v)
		}
	}
	if v, ok := props.Get(domain.PropProject); !ok || v.IsNull() {
		props.Set(domain.PropProject, domain.String(e.Project))
	}

	doc := frontmatter.New(props, tmpl.Metadata.Mapping, frontmatter.BuildBody(e.Summary, e.Description))
	remoteHash, err := snapshot.RecordHash(it.record)
	if err != nil {
		return nil, fmt.Errorf("failed to hash record %s: %w", e.Key, err)
	}
	doc.Metadata.Sync.RemoteKey = frontmatter.StringPtr(e.Key)
	doc.Metadata.Sync.RemoteHash = frontmatter.StringPtr(remoteHash)
	if existing != nil {
		doc.Metadata.Sync.LastSync = existing.Metadata.Sync.LastSync
		doc.Metadata.Sync.LocalHash = existing.Metadata.Sync.LocalHash
		if frontmatter.Equal(doc, existing) {
			return doc, nil
		}
	}

	doc.Metadata.Sync.LastSync = frontmatter.StringPtr(domain.FormatTimestamp(r.opts.Now()))
	hash, err := frontmatter.ContentHash(doc)
	if err != nil {
		return nil, err
	}
	doc.Metadata.Sync.LocalHash = frontmatter.StringPtr(hash)
	return doc, nil
}

// regularFileAt reports whether path holds a regular file. Anything else at
// path is a conflict.
func regularFileAt(path string) (bool, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, &domain.FilesystemConflictError{Path: path, Reason: "expected a regular file, found " + modeName(info.Mode())}
	}
	return true, nil
}

// ensureDir makes sure dir and its component parent are real directories,
// creating them when the policy allows.
func (r *Reconciler) ensureDir(dir string) error {
	if r.opts.MissingDirPolicy == PolicyAutoCreate {
		if err := os.MkdirAll(r.opts.MirrorDir, 0755); err != nil {
			return fmt.Errorf("failed to create mirror directory: %w", err)
		}
	}
	for _, d := range []string{filepath.Dir(dir), dir} {
		info, err := os.Lstat(d)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			return &domain.FilesystemConflictError{Path: d, Reason: "expected a directory, found " + modeName(info.Mode())}
		case !os.IsNotExist(err):
			return err
		case r.opts.MissingDirPolicy == PolicyFail:
			return &domain.FilesystemConflictError{Path: d, Reason: "directory does not exist"}
		}
		if err := os.Mkdir(d, 0755); err != nil && !os.IsExist(err) {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func modeName(m fs.FileMode) string {
	switch {
	case m&fs.ModeSymlink != 0:
		return "a symbolic link"
	case m.IsDir():
		return "a directory"
	}
	return "a special file"
}
