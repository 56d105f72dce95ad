package cli

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/frontmatter"
)

var diffCmd = &cobra.Command{
	Use:   "diff <file>",
	Short: "Show how a document differs from its tracker entity",
	Long: `Fetches the entity a document is linked to and shows what a push
would change: a unified diff of the description and a list of mapped
properties whose values differ. Nothing is written.

Examples:
  epicsync diff issues/core/epic-platform/story-IDP-2.md
  epicsync diff issues/core/epic-platform/story-IDP-2.md --unified 1
`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.Options{NeedsTracker: true}, runDiff),
}

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().Int("unified", 3, "Lines of unified context")
}

// fieldChange is one mapped property whose local and remote values differ.
type fieldChange struct {
	Property string `json:"property"`
	Remote   string `json:"remote"`
	Local    string `json:"local"`
}

type diffResult struct {
	Key             string        `json:"key"`
	Path            string        `json:"path"`
	Changed         bool          `json:"changed"`
	DescriptionDiff string        `json:"description_diff,omitempty"`
	FieldChanges    []fieldChange `json:"field_changes"`
}

func runDiff(app *appctx.App, cmd *cobra.Command, args []string) error {
	unified, _ := cmd.Flags().GetInt("unified")
	path := args[0]

	doc, err := frontmatter.ParseFile(path)
	if err != nil {
		return err
	}
	t, err := documentType(doc)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	key := remoteKeyOf(doc)
	if key == "" {
		return fmt.Errorf("%s has no remote key; push it first", path)
	}

	record, err := app.Tracker.FetchEntity(contextOf(cmd), key)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	table := documentTable(app, doc, t)
	remote, _ := app.Engine.Extract(record, table)

	res := diffResult{Key: key, Path: path, FieldChanges: []fieldChange{}}
	for _, entry := range table.Entries() {
		p := entry.Property
		if p == domain.PropDescription || app.Engine.IsReadOnly(p) {
			continue
		}
		lv, _ := doc.Metadata.Properties.Get(p)
		rv, _ := remote.Get(p)
		if !lv.Equal(rv) {
			res.FieldChanges = append(res.FieldChanges, fieldChange{Property: p, Remote: rv.String(), Local: lv.String()})
		}
	}

	_, localDesc := frontmatter.ParseBody(doc.Body)
	remoteDesc, _ := remote.String(domain.PropDescription)
	if normalizeText(localDesc) != normalizeText(remoteDesc) {
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(normalizeText(remoteDesc)),
			B:        difflib.SplitLines(normalizeText(localDesc)),
			FromFile: key + " (remote)",
			ToFile:   path,
			Context:  unified,
		}
		if res.DescriptionDiff, err = difflib.GetUnifiedDiffString(diff); err != nil {
			return fmt.Errorf("failed to diff %s: %w", key, err)
		}
	}
	res.Changed = res.DescriptionDiff != "" || len(res.FieldChanges) > 0

	r := app.Renderer(cmd.OutOrStdout())
	if r.JSON() {
		return r.RenderJSON(res)
	}
	out := cmd.OutOrStdout()
	if !res.Changed {
		r.OK("%s matches %s", path, key)
		return nil
	}
	for _, c := range res.FieldChanges {
		fmt.Fprintf(out, "~ %s: %s -> %s\n", c.Property, c.Remote, c.Local)
	}
	if res.DescriptionDiff != "" {
		fmt.Fprint(out, res.DescriptionDiff)
	}
	return nil
}

// normalizeText trims surrounding whitespace and ends non-empty text with a
// single newline, so trailing blank lines never show up as changes.
func normalizeText(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	if s == "" {
		return ""
	}
	return s + "\n"
}
