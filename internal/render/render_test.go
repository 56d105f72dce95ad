package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/epicsync/internal/reconcile"
	"github.com/lherron/epicsync/internal/validate"
)

func sampleReport() *reconcile.Report {
	return &reconcile.Report{
		Processed: 3,
		Generated: 1,
		Relocated: 1,
		Deleted:   1,
		Actions: []reconcile.Action{
			{Kind: reconcile.ActionGenerated, Key: "IDP-1", Path: "core/epic-a/epic-IDP-1.md"},
			{Kind: reconcile.ActionRelocated, Key: "IDP-2", Path: "core/epic-a/story-IDP-2.md", From: "core/epic-b/story-IDP-2.md"},
			{Kind: reconcile.ActionDeleted, Key: "IDP-9", Path: "core/epic-a/story-IDP-9.md"},
		},
		Warnings: []reconcile.Warning{{Key: "IDP-3", Err: errors.New("parent mismatch")}},
	}
}

func TestRenderReportText(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{})
	require.NoError(t, r.RenderReport("run-1", sampleReport()))

	want := "generated core/epic-a/epic-IDP-1.md\n" +
		"relocated core/epic-b/story-IDP-2.md -> core/epic-a/story-IDP-2.md\n" +
		"deleted   core/epic-a/story-IDP-9.md\n" +
		"warning: parent mismatch\n" +
		"3 processed, 1 generated, 1 relocated, 1 deleted, 1 warnings, 0 failures\n"
	assert.Equal(t, want, buf.String())
}

func TestRenderReportJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{JSON: true})
	rep := sampleReport()
	rep.Failures = []reconcile.Failure{{Key: "IDP-4", Err: errors.New("boom")}}
	require.NoError(t, r.RenderReport("run-1", rep))

	var got reportJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 3, got.Processed)
	assert.Len(t, got.Actions, 3)
	assert.Equal(t, []issueJSON{{Key: "IDP-3", Message: "parent mismatch"}}, got.Warnings)
	assert.Equal(t, []issueJSON{{Key: "IDP-4", Message: "boom"}}, got.Failures)
}

func TestRenderValidation(t *testing.T) {
	entries := []ValidationEntry{
		{Path: "a.md"},
		{Path: "b.md", Result: validate.Result{
			Errors:   []validate.Issue{{Kind: validate.KindMissingSection, Message: "Acceptance Criteria"}},
			Warnings: []validate.Issue{{Kind: validate.KindTooShort, Message: "40 < 150"}},
		}},
		{Path: "c.md", Err: errors.New("malformed")},
	}

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, Options{}).RenderValidation(entries))
	assert.Equal(t, "ok: a.md\n"+
		"b.md\n"+
		"error: missing required section: Acceptance Criteria\n"+
		"warning: body too short: 40 < 150\n"+
		"error: c.md: malformed\n", buf.String())

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, Options{JSON: true}).RenderValidation(entries))
	var got []validationJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 3)
	assert.True(t, got[0].OK)
	assert.False(t, got[1].OK)
	assert.Len(t, got[1].Warnings, 1)
	assert.False(t, got[2].OK)
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{})
	require.NoError(t, r.RenderTable([]string{"KEY", "PATH"}, [][]string{{"IDP-1", "a.md"}}))
	assert.Equal(t, "KEY    PATH\n-----  ----\nIDP-1  a.md\n", buf.String())
}
