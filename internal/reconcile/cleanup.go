package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
	"github.com/lherron/epicsync/internal/paths"
)

// mirrorFile is a document found in the mirror whose name parses as
// "{type}-{key}.md".
type mirrorFile struct {
	path string
	name string
	t    domain.IssueType
	key  string
}

// scanMirror lists every document below root in path order. Symbolic links
// and control entries are skipped, never followed.
func scanMirror(root string) ([]mirrorFile, error) {
	var files []mirrorFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if path != root && paths.IsControlEntry(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		t, key, ok := paths.ParseFileName(d.Name(), paths.DocumentExt)
		if !ok {
			return nil
		}
		files = append(files, mirrorFile{path: path, name: d.Name(), t: t, key: key})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan mirror: %w", err)
	}
	return files, nil
}

func indexByKey(files []mirrorFile) map[string][]mirrorFile {
	index := make(map[string][]mirrorFile)
	for _, f := range files {
		index[f.key] = append(index[f.key], f)
	}
	return index
}

// embedsKey matches names that contain key as a whole token, so IDP-1 does
// not match IDP-12.
func embedsKey(key string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^A-Za-z0-9])` + regexp.QuoteMeta(key) + `($|[^0-9])`)
}

type doomedFile struct {
	mirrorFile
	reason string
}

// cleanGroup deletes stale copies of this group's entities, files that carry
// the epic's key under a name that is no longer valid, and files in the
// epic's directory whose key is not valid in this run. Deletions happen
// after the scan completes.
func (r *Reconciler) cleanGroup(pg *planGroup, p *plan, rep *Report) error {
	files, err := scanMirror(r.opts.MirrorDir)
	if err != nil {
		return err
	}

	canonical := make(map[string]string, len(pg.items))
	for _, it := range pg.items {
		canonical[it.entity.Key] = it.path
	}
	epicToken := embedsKey(pg.epicKey)

	var doomed []doomedFile
	for _, f := range files {
		if p.held[f.key] {
			continue
		}
		want, inGroup := canonical[f.key]
		switch {
		case inGroup && f.path != want:
			doomed = append(doomed, doomedFile{f, "duplicate of " + r.rel(want)})
		case epicToken.MatchString(f.name) && !p.validNames[f.name]:
			doomed = append(doomed, doomedFile{f, "stale name for " + pg.epicKey})
		case filepath.Dir(f.path) == pg.dir && !p.validKeys[f.key]:
			doomed = append(doomed, doomedFile{f, "orphaned"})
		}
	}

	for _, d := range doomed {
		if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
			rep.fail(d.key, fmt.Errorf("failed to delete %s: %w", d.path, err))
			continue
		}
		rep.act(ActionDeleted, d.key, r.rel(d.path), "")
		r.log.Info("deleted file", "path", r.rel(d.path), "reason", d.reason)
		r.forget(d.key, d.path, d.reason, p.validKeys[d.key])
	}
	return nil
}

// forget records a deletion. Rows of keys that are still valid stay in the
// ledger.
func (r *Reconciler) forget(key, path, reason string, stillValid bool) {
	if r.ledger == nil {
		return
	}
	var err error
	if stillValid {
		err = r.ledger.Event(events.KindDeleted, key, r.rel(path), reason)
	} else {
		err = r.ledger.Forget(key, r.rel(path))
	}
	if err != nil {
		r.log.Error("failed to record deletion", "key", key, "error", err)
	}
}

// pruneDirs removes epic directories that no group claimed and that hold no
// file of a valid key, then component directories left with nothing but
// control entries.
func (r *Reconciler) pruneDirs(p *plan, rep *Report) error {
	components, err := readDirIfExists(r.opts.MirrorDir)
	if err != nil {
		return err
	}

	var doomedDirs []string
	forgotten := make(map[string][]mirrorFile)
	for _, c := range components {
		if !c.IsDir() || paths.IsControlEntry(c.Name()) {
			continue
		}
		compDir := filepath.Join(r.opts.MirrorDir, c.Name())
		epics, err := os.ReadDir(compDir)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", compDir, err)
		}

		remaining := 0
		for _, ep := range epics {
			if paths.IsControlEntry(ep.Name()) {
				continue
			}
			if !ep.IsDir() || !paths.IsEpicDir(ep.Name()) || p.validDirs[c.Name()][ep.Name()] {
				remaining++
				continue
			}

			dir := filepath.Join(compDir, ep.Name())
			files, err := scanMirror(dir)
			if err != nil {
				return err
			}
			if key, ok := holdsValid(files, p); ok {
				r.warn(rep, key, dir, fmt.Errorf("%s is not a canonical epic directory but still holds %s; leaving it", r.rel(dir), key))
				remaining++
				continue
			}
			doomedDirs = append(doomedDirs, dir)
			forgotten[dir] = files
		}

		if remaining == 0 && len(p.validDirs[c.Name()]) == 0 {
			doomedDirs = append(doomedDirs, compDir)
		}
	}

	for _, dir := range doomedDirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to delete %s: %w", dir, err)
		}
		rep.act(ActionDeleted, "", r.rel(dir), "")
		r.log.Info("deleted directory", "path", r.rel(dir))
		for _, f := range forgotten[dir] {
			r.forget(f.key, f.path, "orphaned epic directory", false)
		}
	}
	return nil
}

// holdsValid returns the first key among files that must not be deleted.
func holdsValid(files []mirrorFile, p *plan) (string, bool) {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if p.validKeys[f.key] || p.held[f.key] {
			keys = append(keys, f.key)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)
	return keys[0], true
}

func readDirIfExists(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	return entries, nil
}
