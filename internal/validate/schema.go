// Package validate checks document bodies against the per-type section
// schema. It only reads; documents are never modified.
package validate

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lherron/epicsync/internal/domain"
)

// DefaultPlaceholderMarker opens an unfilled template instruction.
const DefaultPlaceholderMarker = "<!-- INSTRUCTION:"

// Section is a required level-2 header with optional level-3 subsections.
type Section struct {
	Title       string   `yaml:"title"`
	Subsections []string `yaml:"subsections,omitempty"`
}

// TypeSchema is the section schema for one issue type.
type TypeSchema struct {
	MinLength int       `yaml:"min_length"`
	Sections  []Section `yaml:"sections"`
}

type schemaFile struct {
	PlaceholderMarker string                `yaml:"placeholder_marker"`
	Types             map[string]TypeSchema `yaml:"types"`
}

// Schema holds the required sections for every issue type.
type Schema struct {
	PlaceholderMarker string
	types             map[domain.IssueType]TypeSchema
}

// ParseSchema decodes a sections file. Type names must be known issue types.
func ParseSchema(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid section schema: %w", err)
	}

	s := &Schema{
		PlaceholderMarker: f.PlaceholderMarker,
		types:             make(map[domain.IssueType]TypeSchema, len(f.Types)),
	}
	if s.PlaceholderMarker == "" {
		s.PlaceholderMarker = DefaultPlaceholderMarker
	}
	for name, ts := range f.Types {
		t, err := domain.ParseIssueType(name)
		if err != nil {
			return nil, fmt.Errorf("section schema: %w", err)
		}
		for _, sec := range ts.Sections {
			if sec.Title == "" {
				return nil, fmt.Errorf("section schema: %s has a section with no title", t)
			}
		}
		s.types[t] = ts
	}
	return s, nil
}

// For returns the schema for a type. Types without an entry have no
// required sections.
func (s *Schema) For(t domain.IssueType) TypeSchema {
	if s == nil {
		return TypeSchema{}
	}
	return s.types[t]
}
