package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
)

var logCmd = &cobra.Command{
	Use:   "log [KEY]",
	Short: "Show the ledger's event history",
	Long: `Shows events recorded by sync runs: generated, relocated, deleted,
pushed, created and repaired entities, plus run warnings and failures.

Examples:
  epicsync log                        # Most recent events
  epicsync log IDP-12                 # History of one entity
  epicsync log --run <run-id>         # Everything one run did
  epicsync log --since 2026-01-01 --oneline
`,
	Args: cobra.MaximumNArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runLog),
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().String("run", "", "Only events of this run")
	logCmd.Flags().String("since", "", "Only events since date/time (YYYY-MM-DD or RFC3339)")
	logCmd.Flags().Int("limit", 50, "Limit number of events (0 = unlimited)")
	logCmd.Flags().Bool("oneline", false, "Compact one-line format")
}

type eventJSON struct {
	ID        int64   `json:"id"`
	RunID     *string `json:"run_id"`
	Kind      string  `json:"kind"`
	Key       *string `json:"key,omitempty"`
	Path      *string `json:"path,omitempty"`
	Detail    *string `json:"detail,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func runLog(app *appctx.App, cmd *cobra.Command, args []string) error {
	f := events.Filter{}
	f.RunID, _ = cmd.Flags().GetString("run")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	oneline, _ := cmd.Flags().GetBool("oneline")

	if len(args) == 1 {
		if err := domain.ValidateIssueKey(args[0]); err != nil {
			return err
		}
		f.Key = args[0]
	}
	if since, _ := cmd.Flags().GetString("since"); since != "" {
		ts, err := parseSince(since)
		if err != nil {
			return err
		}
		f.Since = ts
	}

	evs, err := app.Store.Events().Query(f)
	if err != nil {
		return err
	}

	r := app.Renderer(cmd.OutOrStdout())
	if r.JSON() {
		out := make([]eventJSON, 0, len(evs))
		for _, e := range evs {
			out = append(out, eventJSON(e))
		}
		return r.RenderJSON(out)
	}
	if len(evs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no events")
		return nil
	}
	for i, e := range evs {
		if oneline {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-17s %s\n", e.CreatedAt, e.Kind, eventSummary(e))
			continue
		}
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		printEvent(cmd.OutOrStdout(), e, app.Color)
	}
	return nil
}

// parseSince turns a date or RFC3339 time into the event_log timestamp format.
func parseSince(s string) (string, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.FormatTimestamp(t), nil
		}
	}
	return "", fmt.Errorf("invalid --since %q: use YYYY-MM-DD or RFC3339", s)
}

func eventSummary(e events.Event) string {
	s := deref(e.Key)
	if e.Path != nil {
		if s != "" {
			s += " "
		}
		s += *e.Path
	}
	if e.Detail != nil {
		if s != "" {
			s += ": "
		}
		s += *e.Detail
	}
	return s
}

func printEvent(w io.Writer, e events.Event, useColor bool) {
	heading := fmt.Sprintf("Event %d", e.ID)
	if useColor {
		heading = color.YellowString(heading)
	}
	fmt.Fprintf(w, "%s - %s\n", heading, e.Kind)
	fmt.Fprintf(w, "  Timestamp:  %s\n", e.CreatedAt)
	if e.RunID != nil {
		fmt.Fprintf(w, "  Run:        %s\n", *e.RunID)
	}
	if e.Key != nil {
		fmt.Fprintf(w, "  Key:        %s\n", *e.Key)
	}
	if e.Path != nil {
		fmt.Fprintf(w, "  Path:       %s\n", *e.Path)
	}
	if e.Detail != nil {
		fmt.Fprintf(w, "  Detail:     %s\n", *e.Detail)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
