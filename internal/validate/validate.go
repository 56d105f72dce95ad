package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lherron/epicsync/internal/domain"
)

// Kind classifies a finding.
type Kind string

const (
	KindMissingSection Kind = "missing required section"
	KindPlaceholder    Kind = "unresolved placeholder"
	KindStoryClause    Kind = "incomplete user story"
	KindTooShort       Kind = "body too short"
	KindNoCheckbox     Kind = "no checkboxes"
)

// Issue is one finding. Line is 1-based, or 0 when it applies to the body
// as a whole.
type Issue struct {
	Kind    Kind
	Message string
	Line    int
}

func (i Issue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", i.Line, i.Kind, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}

// Result collects findings. Warnings never fail validation.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether there are no errors.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

func (r *Result) errorf(kind Kind, line int, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Kind: kind, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(kind Kind, line int, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Kind: kind, Line: line, Message: fmt.Sprintf(format, args...)})
}

const (
	userStorySection          = "User Story"
	acceptanceCriteriaSection = "Acceptance Criteria"
)

var (
	checkboxRe = regexp.MustCompile(`(?m)^\s*[-*+] \[[ xX]\]`)
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)

	storyClauses = []struct {
		name string
		re   *regexp.Regexp
	}{
		// "As a" opens a line or a sentence; "such as a" mid-sentence does not count.
		{"As a", regexp.MustCompile(`(?im)(?:^[\s>*_-]*|[.!?]\s+)as an?\b`)},
		{"I want to", regexp.MustCompile(`(?i)\bI want to\b`)},
		{"so that", regexp.MustCompile(`(?i)\bso that\b`)},
	}
)

// Validator checks bodies against a schema.
type Validator struct {
	schema *Schema
}

// New creates a Validator.
func New(schema *Schema) *Validator {
	return &Validator{schema: schema}
}

// Validate checks a document body for the given type.
func (v *Validator) Validate(body string, t domain.IssueType) Result {
	var res Result
	ts := v.schema.For(t)
	outline := parseOutline(body)

	for _, sec := range ts.Sections {
		parent, ok := outline.find(2, sec.Title, 0, len(outline.lines))
		if !ok {
			res.errorf(KindMissingSection, 0, "## %s", sec.Title)
		}
		for _, sub := range sec.Subsections {
			found := false
			if ok {
				_, found = outline.find(3, sub, parent.start, parent.end)
			}
			if !found {
				res.errorf(KindMissingSection, 0, "### %s", sub)
			}
		}
	}

	marker := DefaultPlaceholderMarker
	if v.schema != nil && v.schema.PlaceholderMarker != "" {
		marker = v.schema.PlaceholderMarker
	}
	for i, line := range outline.lines {
		for n := strings.Count(line, marker); n > 0; n-- {
			res.errorf(KindPlaceholder, i+1, "unfilled template instruction")
		}
	}

	if title, ok := narrativeSection(t); ok {
		if h, found := outline.findAny(title); found {
			text := outline.text(h)
			for _, c := range storyClauses {
				if !c.re.MatchString(text) {
					res.errorf(KindStoryClause, h.line+1, "missing %q clause", c.name)
				}
			}
		}
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(body)); ts.MinLength > 0 && n < ts.MinLength {
		res.warnf(KindTooShort, 0, "%d characters, expected at least %d", n, ts.MinLength)
	}

	if h, ok := outline.findAny(acceptanceCriteriaSection); ok {
		if !checkboxRe.MatchString(outline.text(h)) {
			res.warnf(KindNoCheckbox, h.line+1, "%s has no checkbox items", acceptanceCriteriaSection)
		}
	}

	return res
}

// narrativeSection names the section that must carry the three user story
// clauses, if the type has one.
func narrativeSection(t domain.IssueType) (string, bool) {
	switch t {
	case domain.TypeStory:
		return userStorySection, true
	case domain.TypeEpic, domain.TypeTask, domain.TypeBug, domain.TypeSpike, domain.TypeUnknown:
		return "", false
	}
	return "", false
}

type heading struct {
	level int
	title string
	line  int
	// start and end bound the section's content lines.
	start, end int
}

type outline struct {
	lines    []string
	headings []heading
}

// parseOutline indexes markdown headings, skipping fenced code blocks.
func parseOutline(body string) *outline {
	o := &outline{lines: strings.Split(body, "\n")}
	inFence := false
	for i, line := range o.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		o.headings = append(o.headings, heading{level: len(m[1]), title: m[2], line: i, start: i + 1})
	}

	for i := range o.headings {
		o.headings[i].end = len(o.lines)
		for _, next := range o.headings[i+1:] {
			if next.level <= o.headings[i].level {
				o.headings[i].end = next.line
				break
			}
		}
	}
	return o
}

// find returns the first heading at level with a matching title whose line
// falls in [from, to).
func (o *outline) find(level int, title string, from, to int) (heading, bool) {
	for _, h := range o.headings {
		if h.level == level && h.line >= from && h.line < to && strings.EqualFold(h.title, title) {
			return h, true
		}
	}
	return heading{}, false
}

func (o *outline) findAny(title string) (heading, bool) {
	for _, h := range o.headings {
		if strings.EqualFold(h.title, title) {
			return h, true
		}
	}
	return heading{}, false
}

func (o *outline) text(h heading) string {
	return strings.Join(o.lines[h.start:h.end], "\n")
}
