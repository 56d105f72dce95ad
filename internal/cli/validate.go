package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/paths"
	"github.com/lherron/epicsync/internal/render"
	"github.com/lherron/epicsync/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Check documents against the section schema of their type",
	Long: `Parses each document and checks its body against the required
sections of its type: missing sections, unfilled placeholders, bodies
that are too short, and acceptance criteria without checkboxes.

Without arguments every document in the mirror is checked. Exits non-zero
when any document has errors; warnings never fail.`,
	RunE: appctx.WithApp(appctx.Options{NeedsDB: false}, runValidate),
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(app *appctx.App, cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 {
		var err error
		if files, err = mirrorDocuments(app.Config.MirrorDir); err != nil {
			return err
		}
	}

	v := validate.New(app.Templates.Schema())
	entries := make([]render.ValidationEntry, 0, len(files))
	failed := 0
	for _, path := range files {
		entry := render.ValidationEntry{Path: path}
		doc, err := frontmatter.ParseFile(path)
		if err == nil {
			t, terr := documentType(doc)
			if terr != nil {
				err = fmt.Errorf("%s: %w", path, terr)
			} else {
				entry.Result = v.Validate(doc.Body, t)
			}
		}
		entry.Err = err
		if err != nil || !entry.Result.OK() {
			failed++
		}
		entries = append(entries, entry)
	}

	if err := app.Renderer(cmd.OutOrStdout()).RenderValidation(entries); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed validation", failed, len(entries))
	}
	return nil
}

// mirrorDocuments lists the documents below root in path order, drafts
// included. Symbolic links and control entries are skipped.
func mirrorDocuments(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if path != root && paths.IsControlEntry(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, _, ok := paths.ParseFileName(d.Name(), paths.DocumentExt); ok || isDraftName(d.Name()) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror documents: %w", err)
	}
	return out, nil
}

// draftPrefix marks documents created locally that have no tracker key yet.
// The name never parses as "{type}-{key}.md", so reconciliation leaves
// drafts alone.
const draftPrefix = "draft-"

func isDraftName(name string) bool {
	return strings.HasPrefix(name, draftPrefix) && strings.HasSuffix(name, paths.DocumentExt)
}
