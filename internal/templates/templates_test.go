package templates

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/validate"
)

func TestDefaultTemplates(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	for _, typ := range domain.AllTypes() {
		t.Run(typ.String(), func(t *testing.T) {
			doc, err := set.Template(typ)
			require.NoError(t, err)

			name, _ := doc.Metadata.Properties.String(domain.PropType)
			assert.Equal(t, typ.String(), name)

			path, ok := set.Mapping(typ).Path(domain.PropSummary)
			assert.True(t, ok)
			assert.Equal(t, "fields.summary", path)

			// Every type reads the parent link, epics included.
			path, ok = set.Mapping(typ).Path(domain.PropParent)
			assert.True(t, ok)
			assert.Equal(t, "fields.parent.key", path)

			// An untouched template must fail validation on its placeholders
			// but carry every required section.
			res := validate.New(set.Schema()).Validate(doc.Body, typ)
			assert.False(t, res.OK())
			for _, e := range res.Errors {
				assert.NotEqual(t, validate.KindMissingSection, e.Kind, "template %s lacks %s", FileName(typ), e.Message)
			}
		})
	}
}

func TestTemplateReturnsCopy(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	a, err := set.Template(domain.TypeStory)
	require.NoError(t, err)
	a.Metadata.Properties.Set(domain.PropSummary, domain.String("changed"))
	a.Body = "changed"

	b, err := set.Template(domain.TypeStory)
	require.NoError(t, err)
	v, _ := b.Metadata.Properties.Get(domain.PropSummary)
	assert.True(t, v.IsNull())
	assert.NotEqual(t, "changed", b.Body)
}

func TestLoadOverrides(t *testing.T) {
	fsys := fstest.MapFS{
		"task.md": {Data: []byte("---\nproperties:\n  type: Task\nmapping:\n  summary: fields.summary\n  points: fields.customfield_99999\n---\n## Summary\n")},
	}

	set, err := Load(fsys)
	require.NoError(t, err)

	path, _ := set.Mapping(domain.TypeTask).Path("points")
	assert.Equal(t, "fields.customfield_99999", path)

	path, _ = set.Mapping(domain.TypeStory).Path("points")
	assert.Equal(t, "fields.customfield_10006", path, "non-overridden templates come from the defaults")
}

func TestLoadRejectsBadOverrides(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"no frontmatter": {"bug.md": {Data: []byte("## Summary\n")}},
		"empty mapping":  {"bug.md": {Data: []byte("---\nproperties:\n  type: Bug\n---\n")}},
		"bad schema":     {SectionsFile: {Data: []byte("types:\n  Feature: {}\n")}},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(fsys)
			assert.Error(t, err)
		})
	}
}

func TestSchemaScenarioStoryWithoutAcceptanceCriteria(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	body := `## Summary

Provision the shared clusters for the platform team.

## Description

### User Story

As a platform engineer, I want to provision clusters from code, so that environments are reproducible across regions.
`
	res := validate.New(set.Schema()).Validate(body, domain.TypeStory)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, validate.KindMissingSection, res.Errors[0].Kind)
	for _, w := range res.Warnings {
		assert.NotEqual(t, validate.KindNoCheckbox, w.Kind)
	}
}
