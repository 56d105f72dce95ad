// Package templates provides the per-type document templates and the
// required-section schema. Defaults are embedded; a directory holding files
// with the same names overrides them one by one.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/mapping"
	"github.com/lherron/epicsync/internal/validate"
)

//go:embed data/*.md data/sections.yaml
var embedded embed.FS

// SectionsFile is the name of the section schema file.
const SectionsFile = "sections.yaml"

// Set is a loaded set of templates and their section schema.
type Set struct {
	docs   map[domain.IssueType]*frontmatter.Document
	schema *validate.Schema
}

// FileName returns the template file name for a type.
func FileName(t domain.IssueType) string {
	return t.Prefix() + ".md"
}

// Default loads the embedded templates.
func Default() (*Set, error) {
	return Load(nil)
}

// Load reads templates from overrides, falling back to the embedded copy for
// any file overrides does not have. A nil overrides uses only the defaults.
func Load(overrides fs.FS) (*Set, error) {
	set := &Set{docs: make(map[domain.IssueType]*frontmatter.Document)}

	for _, t := range domain.AllTypes() {
		data, err := readFile(overrides, FileName(t))
		if err != nil {
			return nil, err
		}
		doc, err := frontmatter.ParseTemplate(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", FileName(t), err)
		}
		if doc.Metadata.Mapping.Len() == 0 {
			return nil, fmt.Errorf("template %s has an empty mapping", FileName(t))
		}
		set.docs[t] = doc
	}

	data, err := readFile(overrides, SectionsFile)
	if err != nil {
		return nil, err
	}
	if set.schema, err = validate.ParseSchema(data); err != nil {
		return nil, err
	}

	return set, nil
}

func readFile(overrides fs.FS, name string) ([]byte, error) {
	if overrides != nil {
		data, err := fs.ReadFile(overrides, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
	}
	data, err := embedded.ReadFile("data/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
	}
	return data, nil
}

// Template returns a fresh copy of the template for t.
func (s *Set) Template(t domain.IssueType) (*frontmatter.Document, error) {
	doc, ok := s.docs[t]
	if !ok {
		return nil, fmt.Errorf("no template for type %s", t)
	}
	return doc.Clone(), nil
}

// Mapping returns the mapping table carried by the template for t.
func (s *Set) Mapping(t domain.IssueType) *mapping.Table {
	if doc, ok := s.docs[t]; ok {
		return doc.Metadata.Mapping
	}
	return mapping.IdentityTable()
}

// Schema returns the section schema.
func (s *Set) Schema() *validate.Schema {
	return s.schema
}
