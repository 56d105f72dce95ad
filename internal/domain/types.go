package domain

import (
	"fmt"
	"strings"
)

// IssueType is the closed set of tracker issue types mirrored locally.
// Epic is the only grouping type; every other type is a child type.
type IssueType int

const (
	TypeUnknown IssueType = iota
	TypeEpic
	TypeStory
	TypeTask
	TypeBug
	TypeSpike
)

// AllTypes lists every mirrored type, grouping type first.
func AllTypes() []IssueType {
	return []IssueType{TypeEpic, TypeStory, TypeTask, TypeBug, TypeSpike}
}

// ParseIssueType maps a tracker type name or file prefix to an IssueType.
// Matching is case-insensitive.
func ParseIssueType(s string) (IssueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "epic":
		return TypeEpic, nil
	case "story":
		return TypeStory, nil
	case "task":
		return TypeTask, nil
	case "bug":
		return TypeBug, nil
	case "spike":
		return TypeSpike, nil
	default:
		return TypeUnknown, fmt.Errorf("invalid issue type %q: must be one of: Epic, Story, Task, Bug, Spike", s)
	}
}

// String returns the tracker's display name for the type.
func (t IssueType) String() string {
	switch t {
	case TypeEpic:
		return "Epic"
	case TypeStory:
		return "Story"
	case TypeTask:
		return "Task"
	case TypeBug:
		return "Bug"
	case TypeSpike:
		return "Spike"
	case TypeUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("IssueType(%d)", int(t))
}

// Prefix returns the lower-case file name prefix for the type.
func (t IssueType) Prefix() string {
	return strings.ToLower(t.String())
}

// IsGrouping reports whether the type owns a directory and groups children.
func (t IssueType) IsGrouping() bool {
	switch t {
	case TypeEpic:
		return true
	case TypeStory, TypeTask, TypeBug, TypeSpike, TypeUnknown:
		return false
	}
	return false
}

// Property names with a fixed meaning across templates.
const (
	PropKey         = "key"
	PropProject     = "project"
	PropType        = "type"
	PropSummary     = "summary"
	PropDescription = "description"
	PropComponents  = "components"
	PropLabels      = "labels"
	PropParent      = "parent"
	PropStatus      = "status"
)

// Entity is one issue in the remote tracker, reduced to the attributes the
// mirror needs for placement. Everything else stays in Attributes.
type Entity struct {
	Key         string
	Project     string
	Type        IssueType
	Summary     string
	Description string
	Components  []string
	Labels      []string
	ParentKey   string
	Attributes  *Bag
}

// Component returns the first component, or "" when none is set.
func (e *Entity) Component() string {
	if len(e.Components) == 0 {
		return ""
	}
	return e.Components[0]
}

// EntityFromBag reads the well-known properties out of an extracted bag.
// A missing key or an unknown type is an error; everything else is optional.
func EntityFromBag(bag *Bag) (*Entity, error) {
	key, _ := bag.String(PropKey)
	if key == "" {
		return nil, fmt.Errorf("entity has no %q property", PropKey)
	}

	typeName, _ := bag.String(PropType)
	t, err := ParseIssueType(typeName)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", key, err)
	}

	e := &Entity{
		Key:        key,
		Type:       t,
		Attributes: bag,
	}
	e.Project, _ = bag.String(PropProject)
	e.Summary, _ = bag.String(PropSummary)
	e.Description, _ = bag.String(PropDescription)
	e.ParentKey, _ = bag.String(PropParent)
	if v, ok := bag.Get(PropComponents); ok {
		e.Components = v.Strings()
	}
	if v, ok := bag.Get(PropLabels); ok {
		e.Labels = v.Strings()
	}

	return e, nil
}
