package reconcile

import (
	"github.com/lherron/epicsync/internal/store"
)

// ActionKind names a change made to the mirror.
type ActionKind string

const (
	ActionGenerated ActionKind = "generated"
	ActionRelocated ActionKind = "relocated"
	ActionDeleted   ActionKind = "deleted"
	ActionRepaired  ActionKind = "repaired"
)

// Action is one change made to the mirror or the tracker.
type Action struct {
	Kind ActionKind `json:"kind"`
	Key  string     `json:"key,omitempty"`
	Path string     `json:"path"`
	From string     `json:"from,omitempty"`
}

// Warning is a non-fatal problem. It never affects the exit status.
type Warning struct {
	Key  string `json:"key,omitempty"`
	Path string `json:"path,omitempty"`
	Err  error  `json:"-"`
}

func (w Warning) Error() string { return w.Err.Error() }

// Failure is an entity that could not be reconciled.
type Failure struct {
	Key string `json:"key"`
	Err error  `json:"-"`
}

func (f Failure) Error() string { return f.Key + ": " + f.Err.Error() }

// Report summarizes one run.
type Report struct {
	Processed int       `json:"processed"`
	Generated int       `json:"generated"`
	Relocated int       `json:"relocated"`
	Deleted   int       `json:"deleted"`
	Warnings  []Warning `json:"-"`
	Failures  []Failure `json:"-"`
	Actions   []Action  `json:"actions"`
}

// Failed reports whether any entity failed.
func (rep *Report) Failed() bool {
	return len(rep.Failures) > 0
}

// Changed reports whether the run touched the mirror.
func (rep *Report) Changed() bool {
	return rep.Generated+rep.Relocated+rep.Deleted > 0
}

// Counts returns the ledger summary of the report.
func (rep *Report) Counts() store.Counts {
	return store.Counts{
		Processed: rep.Processed,
		Generated: rep.Generated,
		Relocated: rep.Relocated,
		Deleted:   rep.Deleted,
		Warnings:  len(rep.Warnings),
		Failures:  len(rep.Failures),
	}
}

func (rep *Report) fail(key string, err error) {
	rep.Failures = append(rep.Failures, Failure{Key: key, Err: err})
}

func (rep *Report) act(kind ActionKind, key, path, from string) {
	rep.Actions = append(rep.Actions, Action{Kind: kind, Key: key, Path: path, From: from})
	switch kind {
	case ActionGenerated:
		rep.Generated++
	case ActionRelocated:
		rep.Relocated++
	case ActionDeleted:
		rep.Deleted++
	case ActionRepaired:
	}
}
