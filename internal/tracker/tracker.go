// Package tracker talks to the remote issue tracker. Every call returns raw
// nested wire records; interpreting them is the mapping engine's job.
package tracker

import (
	"context"
	"errors"
	"strings"

	"github.com/lherron/epicsync/internal/domain"
)

// ErrNotFound is returned when an entity does not exist remotely.
var ErrNotFound = errors.New("entity not found")

// Record is one raw wire record, e.g. {"key": ..., "fields": {...}}.
type Record = map[string]any

// Client is the capability the sync engine needs from a tracker.
// Implementations do not retry; a call either returns or fails.
type Client interface {
	FetchEntity(ctx context.Context, key string) (Record, error)
	FetchChildren(ctx context.Context, parentKey string) ([]Record, error)
	FetchByComponentAndType(ctx context.Context, component string, t domain.IssueType) ([]Record, error)

	// UpdateEntity writes a lowered field object. Failures are
	// *domain.RemoteWriteError.
	UpdateEntity(ctx context.Context, key string, fields map[string]any) error

	// CreateEntity creates an entity from a lowered field object and
	// returns its new key.
	CreateEntity(ctx context.Context, fields map[string]any) (string, error)
}

// jqlQuote renders s as a quoted JQL string literal.
func jqlQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// ChildrenJQL selects the children of an epic under both the parent link
// and the legacy epic link.
func ChildrenJQL(parentKey string) string {
	return "parent = " + jqlQuote(parentKey) + ` OR "Epic Link" = ` + jqlQuote(parentKey) + " ORDER BY key ASC"
}

// ComponentTypeJQL selects entities of one type within a component.
func ComponentTypeJQL(project, component string, t domain.IssueType) string {
	var b strings.Builder
	if project != "" {
		b.WriteString("project = " + jqlQuote(project) + " AND ")
	}
	b.WriteString("component = " + jqlQuote(component))
	b.WriteString(" AND issuetype = " + jqlQuote(t.String()))
	b.WriteString(" ORDER BY key ASC")
	return b.String()
}

// lookup walks nested objects by key.
func lookup(record Record, keys ...string) (any, bool) {
	var cur any = record
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(record Record, keys ...string) string {
	v, _ := lookup(record, keys...)
	s, _ := v.(string)
	return s
}
