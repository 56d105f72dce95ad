// Package batch applies one operation to a list of items, strictly in
// order, collecting per-item failures instead of stopping at the first one
// when asked to.
package batch

import (
	"context"
	"fmt"
	"io"
)

// Operation configures a batch run.
type Operation struct {
	// ContinueOnError keeps going after a failed item.
	ContinueOnError bool

	// Progress, when set, receives one status line per item.
	Progress io.Writer
}

// Result summarizes a batch run. Items never started because an earlier
// item failed or the context ended are counted as Skipped.
type Result struct {
	TotalItems int
	Succeeded  int
	Failed     int
	Skipped    int
	Errors     []ItemError
}

// ItemError is the failure of one item.
type ItemError struct {
	Item  string
	Error error
}

// ItemFunc is the function to execute for each item
type ItemFunc func(ctx context.Context, item string) error

// Execute runs fn over items in order.
func (op *Operation) Execute(ctx context.Context, items []string, fn ItemFunc) *Result {
	result := &Result{
		TotalItems: len(items),
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			result.Skipped = len(items) - i
			return result
		}

		if err := fn(ctx, item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Item: item, Error: err})
			op.progress("%s: error: %v\n", item, err)
			if !op.ContinueOnError {
				result.Skipped = len(items) - i - 1
				return result
			}
			continue
		}
		result.Succeeded++
		op.progress("%s: ok\n", item)
	}
	return result
}

func (op *Operation) progress(format string, args ...any) {
	if op.Progress != nil {
		fmt.Fprintf(op.Progress, format, args...)
	}
}

// Err returns nil when every item succeeded, and a summary error otherwise.
func (r *Result) Err() error {
	if r.Failed == 0 && r.Skipped == 0 {
		return nil
	}
	if r.Failed == 0 {
		return fmt.Errorf("%d of %d items were not processed", r.Skipped, r.TotalItems)
	}
	if r.Failed == 1 && r.TotalItems == 1 {
		return r.Errors[0].Error
	}
	return fmt.Errorf("%d of %d items failed", r.Failed, r.TotalItems)
}

// PrintSummary prints a human-readable summary of the result
func (r *Result) PrintSummary(w io.Writer) {
	switch {
	case r.Failed == 0 && r.Skipped == 0:
		fmt.Fprintf(w, "✓ All %d operations succeeded\n", r.TotalItems)
	case r.Succeeded == 0:
		fmt.Fprintf(w, "✗ All %d operations failed or were skipped\n", r.TotalItems)
	default:
		fmt.Fprintf(w, "⚠ Partial success: %d succeeded, %d failed, %d skipped (out of %d)\n",
			r.Succeeded, r.Failed, r.Skipped, r.TotalItems)
	}

	shown := r.Errors
	if len(shown) > 10 {
		fmt.Fprintf(w, "Showing first 10 errors (of %d):\n", len(r.Errors))
		shown = shown[:10]
	} else if len(shown) > 0 {
		fmt.Fprintf(w, "Errors:\n")
	}
	for _, e := range shown {
		fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
	}
}
