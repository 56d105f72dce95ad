package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSequentialExecution(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	executed := []string{}

	op := &Operation{}
	result := op.Execute(context.Background(), items, func(_ context.Context, item string) error {
		executed = append(executed, item)
		return nil
	})

	if result.TotalItems != 5 {
		t.Errorf("Expected 5 total items, got %d", result.TotalItems)
	}
	if result.Succeeded != 5 {
		t.Errorf("Expected 5 successes, got %d", result.Succeeded)
	}
	if result.Failed != 0 {
		t.Errorf("Expected 0 failures, got %d", result.Failed)
	}
	if err := result.Err(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	// Check order is preserved
	for i, item := range items {
		if executed[i] != item {
			t.Errorf("Order not preserved: expected %s at index %d, got %s", item, i, executed[i])
		}
	}
}

func TestContinueOnError(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	op := &Operation{ContinueOnError: true}
	result := op.Execute(context.Background(), items, func(_ context.Context, item string) error {
		if item == "c" {
			return errors.New("simulated error")
		}
		return nil
	})

	if result.Succeeded != 4 {
		t.Errorf("Expected 4 successes, got %d", result.Succeeded)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", result.Failed)
	}
	if len(result.Errors) != 1 || result.Errors[0].Item != "c" {
		t.Fatalf("Expected one error for item 'c', got %+v", result.Errors)
	}
	if err := result.Err(); err == nil || err.Error() != "1 of 5 items failed" {
		t.Errorf("unexpected summary error: %v", err)
	}
}

func TestStopOnError(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	executed := []string{}

	op := &Operation{}
	result := op.Execute(context.Background(), items, func(_ context.Context, item string) error {
		executed = append(executed, item)
		if item == "c" {
			return errors.New("simulated error")
		}
		return nil
	})

	if result.Succeeded != 2 {
		t.Errorf("Expected 2 successes, got %d", result.Succeeded)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", result.Failed)
	}
	if result.Skipped != 2 {
		t.Errorf("Expected 2 skipped, got %d", result.Skipped)
	}
	if len(executed) != 3 {
		t.Errorf("Expected execution to stop after 3 items, got %d", len(executed))
	}
}

func TestSingleItemErrorIsReturnedAsIs(t *testing.T) {
	boom := errors.New("boom")
	op := &Operation{}
	result := op.Execute(context.Background(), []string{"only"}, func(context.Context, string) error {
		return boom
	})
	if !errors.Is(result.Err(), boom) {
		t.Errorf("Expected the item error, got %v", result.Err())
	}
}

func TestCancelledContextSkipsRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{ContinueOnError: true}
	result := op.Execute(ctx, []string{"a", "b", "c"}, func(_ context.Context, item string) error {
		if item == "a" {
			cancel()
		}
		return nil
	})

	if result.Succeeded != 1 || result.Skipped != 2 {
		t.Errorf("Expected 1 success and 2 skipped, got %+v", result)
	}
	if result.Err() == nil {
		t.Error("Expected an error when items were skipped")
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	op := &Operation{ContinueOnError: true, Progress: &buf}
	op.Execute(context.Background(), []string{"a", "b"}, func(_ context.Context, item string) error {
		if item == "b" {
			return errors.New("nope")
		}
		return nil
	})

	if got, want := buf.String(), "a: ok\nb: error: nope\n"; got != want {
		t.Errorf("progress = %q, want %q", got, want)
	}
}

func TestEmptyItems(t *testing.T) {
	op := &Operation{}
	result := op.Execute(context.Background(), nil, func(context.Context, string) error {
		t.Fatal("fn must not be called")
		return nil
	})

	if result.TotalItems != 0 || result.Succeeded != 0 {
		t.Errorf("Expected an empty result, got %+v", result)
	}
	if result.Err() != nil {
		t.Errorf("Expected no error, got %v", result.Err())
	}
}

func TestPrintSummary(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   string
	}{
		{
			name:   "all succeeded",
			result: &Result{TotalItems: 3, Succeeded: 3},
			want:   "✓ All 3 operations succeeded",
		},
		{
			name: "partial success",
			result: &Result{TotalItems: 3, Succeeded: 1, Failed: 1, Skipped: 1,
				Errors: []ItemError{{Item: "b", Error: errors.New("bad")}}},
			want: "⚠ Partial success: 1 succeeded, 1 failed, 1 skipped (out of 3)",
		},
		{
			name:   "all failed",
			result: &Result{TotalItems: 1, Failed: 1, Errors: []ItemError{{Item: "a", Error: errors.New("bad")}}},
			want:   "✗ All 1 operations failed or were skipped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.result.PrintSummary(&buf)
			if !strings.HasPrefix(buf.String(), tt.want) {
				t.Errorf("summary = %q, want prefix %q", buf.String(), tt.want)
			}
			for _, e := range tt.result.Errors {
				if !strings.Contains(buf.String(), fmt.Sprintf("  %s: %v\n", e.Item, e.Error)) {
					t.Errorf("summary misses error for %s", e.Item)
				}
			}
		})
	}
}
