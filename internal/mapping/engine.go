package mapping

import (
	"io"
	"log/slog"

	"github.com/lherron/epicsync/internal/domain"
)

// DefaultReadOnly lists properties that are read from the tracker but never
// written back: workflow state, people, timestamps, and local sync metadata.
func DefaultReadOnly() []string {
	return []string{
		domain.PropKey,
		domain.PropStatus,
		"assignee",
		"reporter",
		"created",
		"updated",
		"resolution",
		"sync",
	}
}

// Options configures an Engine.
type Options struct {
	// ReadOnly properties are never emitted by Flatten. Nil means DefaultReadOnly.
	ReadOnly []string

	// GroupingProperty is only written for the grouping type.
	// Empty means "components".
	GroupingProperty string

	// Logger receives resolution warnings. Nil discards them.
	Logger *slog.Logger
}

// Engine converts between property bags and wire records.
type Engine struct {
	readOnly map[string]struct{}
	grouping string
	log      *slog.Logger
}

// NewEngine creates an Engine from options.
func NewEngine(opts Options) *Engine {
	readOnly := opts.ReadOnly
	if readOnly == nil {
		readOnly = DefaultReadOnly()
	}
	e := &Engine{
		readOnly: make(map[string]struct{}, len(readOnly)),
		grouping: opts.GroupingProperty,
		log:      opts.Logger,
	}
	for _, p := range readOnly {
		e.readOnly[p] = struct{}{}
	}
	if e.grouping == "" {
		e.grouping = domain.PropComponents
	}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// IsReadOnly reports whether a property is on the deny-list.
func (e *Engine) IsReadOnly(property string) bool {
	_, ok := e.readOnly[property]
	return ok
}

// IdentityTable maps the properties the reconciler needs to place an entity.
func IdentityTable() *Table {
	return MustTable(
		domain.PropKey, "key",
		domain.PropProject, "fields.project.key",
		domain.PropType, "fields.issuetype.name",
		domain.PropSummary, "fields.summary",
		domain.PropComponents, "fields.components[].name",
		domain.PropParent, "fields.parent.key",
	)
}
