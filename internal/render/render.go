package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/lherron/epicsync/internal/reconcile"
	"github.com/lherron/epicsync/internal/validate"
)

// Options for rendering
type Options struct {
	JSON bool

	// Color enables ANSI colors. It is usually set from the terminal check.
	Color bool
}

// Renderer handles output rendering
type Renderer struct {
	writer io.Writer
	opts   Options

	green  *color.Color
	yellow *color.Color
	red    *color.Color
	cyan   *color.Color
	gray   *color.Color
}

// NewRenderer creates a new renderer
func NewRenderer(writer io.Writer, opts Options) *Renderer {
	r := &Renderer{
		writer: writer,
		opts:   opts,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed, color.Bold),
		cyan:   color.New(color.FgCyan),
		gray:   color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{r.green, r.yellow, r.red, r.cyan, r.gray} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// JSON reports whether output is machine-readable.
func (r *Renderer) JSON() bool {
	return r.opts.JSON
}

// RenderJSON renders data as JSON
func (r *Renderer) RenderJSON(data interface{}) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Warn prints one warning line.
func (r *Renderer) Warn(format string, args ...any) {
	fmt.Fprintf(r.writer, "%s %s\n", r.yellow.Sprint("warning:"), fmt.Sprintf(format, args...))
}

// Fail prints one error line.
func (r *Renderer) Fail(format string, args ...any) {
	fmt.Fprintf(r.writer, "%s %s\n", r.red.Sprint("error:"), fmt.Sprintf(format, args...))
}

// OK prints one success line.
func (r *Renderer) OK(format string, args ...any) {
	fmt.Fprintf(r.writer, "%s %s\n", r.green.Sprint("ok:"), fmt.Sprintf(format, args...))
}

type reportJSON struct {
	RunID     string             `json:"run_id,omitempty"`
	Processed int                `json:"processed"`
	Generated int                `json:"generated"`
	Relocated int                `json:"relocated"`
	Deleted   int                `json:"deleted"`
	Actions   []reconcile.Action `json:"actions"`
	Warnings  []issueJSON        `json:"warnings"`
	Failures  []issueJSON        `json:"failures"`
}

type issueJSON struct {
	Key     string `json:"key,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// RenderReport prints a reconciliation report: every action, then warnings
// and failures, then a one-line summary.
func (r *Renderer) RenderReport(runID string, rep *reconcile.Report) error {
	if r.opts.JSON {
		out := reportJSON{
			RunID:     runID,
			Processed: rep.Processed,
			Generated: rep.Generated,
			Relocated: rep.Relocated,
			Deleted:   rep.Deleted,
			Actions:   rep.Actions,
			Warnings:  []issueJSON{},
			Failures:  []issueJSON{},
		}
		if out.Actions == nil {
			out.Actions = []reconcile.Action{}
		}
		for _, w := range rep.Warnings {
			out.Warnings = append(out.Warnings, issueJSON{Key: w.Key, Path: w.Path, Message: w.Err.Error()})
		}
		for _, f := range rep.Failures {
			out.Failures = append(out.Failures, issueJSON{Key: f.Key, Message: f.Err.Error()})
		}
		return r.RenderJSON(out)
	}

	for _, a := range rep.Actions {
		label := r.actionLabel(a.Kind)
		switch {
		case a.From != "":
			fmt.Fprintf(r.writer, "%s %s -> %s\n", label, a.From, a.Path)
		case a.Path != "":
			fmt.Fprintf(r.writer, "%s %s\n", label, a.Path)
		default:
			fmt.Fprintf(r.writer, "%s %s\n", label, a.Key)
		}
	}
	for _, w := range rep.Warnings {
		r.Warn("%s", w.Err)
	}
	for _, f := range rep.Failures {
		r.Fail("%s", f)
	}

	summary := fmt.Sprintf("%d processed, %d generated, %d relocated, %d deleted, %d warnings, %d failures",
		rep.Processed, rep.Generated, rep.Relocated, rep.Deleted, len(rep.Warnings), len(rep.Failures))
	if rep.Failed() {
		fmt.Fprintln(r.writer, r.red.Sprint(summary))
	} else {
		fmt.Fprintln(r.writer, r.green.Sprint(summary))
	}
	return nil
}

func (r *Renderer) actionLabel(kind reconcile.ActionKind) string {
	label := fmt.Sprintf("%-9s", kind)
	switch kind {
	case reconcile.ActionGenerated:
		return r.green.Sprint(label)
	case reconcile.ActionRelocated, reconcile.ActionRepaired:
		return r.cyan.Sprint(label)
	case reconcile.ActionDeleted:
		return r.red.Sprint(label)
	}
	return label
}

type validationJSON struct {
	Path     string      `json:"path"`
	OK       bool        `json:"ok"`
	Errors   []issueJSON `json:"errors"`
	Warnings []issueJSON `json:"warnings"`
}

// ValidationEntry pairs a file with its validation result.
type ValidationEntry struct {
	Path   string
	Result validate.Result
	Err    error
}

// RenderValidation prints validation results for a set of files.
func (r *Renderer) RenderValidation(entries []ValidationEntry) error {
	if r.opts.JSON {
		out := make([]validationJSON, 0, len(entries))
		for _, e := range entries {
			v := validationJSON{Path: e.Path, OK: e.Err == nil && e.Result.OK(), Errors: []issueJSON{}, Warnings: []issueJSON{}}
			if e.Err != nil {
				v.Errors = append(v.Errors, issueJSON{Message: e.Err.Error()})
			}
			for _, i := range e.Result.Errors {
				v.Errors = append(v.Errors, issueJSON{Message: i.String()})
			}
			for _, i := range e.Result.Warnings {
				v.Warnings = append(v.Warnings, issueJSON{Message: i.String()})
			}
			out = append(out, v)
		}
		return r.RenderJSON(out)
	}

	for _, e := range entries {
		switch {
		case e.Err != nil:
			r.Fail("%s: %v", e.Path, e.Err)
			continue
		case e.Result.OK():
			r.OK("%s", e.Path)
		default:
			fmt.Fprintln(r.writer, r.red.Sprint(e.Path))
		}
		for _, i := range e.Result.Errors {
			r.Fail("%s", i)
		}
		for _, i := range e.Result.Warnings {
			r.Warn("%s", i)
		}
	}
	return nil
}

// RenderTable renders data as a formatted table
func (r *Renderer) RenderTable(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	r.renderTableRow(headers, widths)
	r.renderTableSeparator(widths)
	for _, row := range rows {
		r.renderTableRow(row, widths)
	}
	return nil
}

func (r *Renderer) renderTableRow(cells []string, widths []int) {
	for i, cell := range cells {
		if i < len(widths) {
			fmt.Fprintf(r.writer, "%-*s", widths[i], cell)
			if i < len(cells)-1 {
				fmt.Fprint(r.writer, "  ")
			}
		}
	}
	fmt.Fprintln(r.writer)
}

func (r *Renderer) renderTableSeparator(widths []int) {
	for i, width := range widths {
		fmt.Fprint(r.writer, r.gray.Sprint(strings.Repeat("-", width)))
		if i < len(widths)-1 {
			fmt.Fprint(r.writer, "  ")
		}
	}
	fmt.Fprintln(r.writer)
}
