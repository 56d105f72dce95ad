package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lherron/epicsync/internal/cli/appctx"
	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/events"
	"github.com/lherron/epicsync/internal/frontmatter"
	"github.com/lherron/epicsync/internal/paths"
	"github.com/lherron/epicsync/internal/store"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new document from its type template",
	Long: `Renders the template of a type into a draft document at the place the
entity will live: epics under {component}/epic-{slug}/, children next to
their parent epic. Missing values are prompted for.

The draft is named draft-{type}-{slug}.md until it is pushed, which
creates the entity remotely and renames the file to {type}-{key}.md.

Examples:
  epicsync create
  epicsync create --type Story --parent IDP-1 --summary "Rotate API keys"
  epicsync create --type Epic --component core --summary "Platform" --push --force
`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{NeedsDB: true, WantsTracker: true}, runCreate),
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().String("type", "", "Issue type (Epic, Story, Task, Bug, Spike)")
	createCmd.Flags().String("summary", "", "One-line summary")
	createCmd.Flags().String("component", "", "Component of a new epic")
	createCmd.Flags().String("parent", "", "Parent epic key of a new child")
	createCmd.Flags().Bool("push", false, "Create the entity in the tracker right away")
	createCmd.Flags().Bool("force", false, "With --push, push even when the draft fails validation")
}

// asker reads one answer for a prompt, falling back to def on empty input.
type asker interface {
	ask(label, def string) (string, error)
	Close() error
}

// newAsker opens the interactive prompt. Tests replace it.
var newAsker = func(cmd *cobra.Command) (asker, error) {
	rl, err := readline.NewEx(&readline.Config{
		Stdin:           io.NopCloser(cmd.InOrStdin()),
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &readlineAsker{rl: rl, label: color.New(color.FgCyan).SprintFunc()}, nil
}

type readlineAsker struct {
	rl    *readline.Instance
	label func(a ...interface{}) string
}

func (a *readlineAsker) ask(label, def string) (string, error) {
	prompt := label + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", label, def)
	}
	a.rl.SetPrompt(a.label(prompt))
	line, err := a.rl.Readline()
	if err == readline.ErrInterrupt || err == io.EOF {
		return "", errors.New("aborted")
	}
	if err != nil {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return def, nil
	}
	return line, nil
}

func (a *readlineAsker) Close() error {
	return a.rl.Close()
}

// createRequest holds the answers of one create.
type createRequest struct {
	Type      domain.IssueType
	Summary   string
	Component string
	Parent    string
}

func runCreate(app *appctx.App, cmd *cobra.Command, args []string) error {
	req, err := gatherCreateRequest(app, cmd)
	if err != nil {
		return err
	}
	path, err := writeDraft(app, req)
	if err != nil {
		return err
	}

	push, _ := cmd.Flags().GetBool("push")
	r := app.Renderer(cmd.OutOrStdout())
	if !push {
		if r.JSON() {
			return r.RenderJSON(map[string]any{"path": path, "draft": true})
		}
		r.OK("created draft %s", path)
		return nil
	}

	if app.Tracker == nil {
		return fmt.Errorf("draft written to %s, but no tracker is configured to push it", path)
	}
	force, _ := cmd.Flags().GetBool("force")
	return pushDraft(app, cmd, path, force)
}

// pushDraft pushes a freshly written draft under its own ledger run.
func pushDraft(app *appctx.App, cmd *cobra.Command, path string, force bool) error {
	ledger, err := app.Store.Runs.Begin("create")
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	res, pushErr := pushDocument(contextOf(cmd), app, path, force)
	counts := store.Counts{Processed: 1, Generated: 1}
	if pushErr != nil {
		counts = store.Counts{Processed: 1, Failures: 1}
		if err := ledger.Event(events.KindFailure, "", mirrorRel(app.Config.MirrorDir, path), pushErr.Error()); err != nil {
			app.Logger.Error("failed to record failure", "path", path, "error", err)
		}
	} else if err := ledger.Record(events.KindCreated, res.entity); err != nil {
		return fmt.Errorf("failed to record %s: %w", res.entity.Key, err)
	}
	if err := ledger.Finish(counts); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", ledger.RunID(), err)
	}
	if pushErr != nil {
		return fmt.Errorf("draft kept at %s: %w", path, pushErr)
	}

	r := app.Renderer(cmd.OutOrStdout())
	if r.JSON() {
		return r.RenderJSON(map[string]any{"run_id": ledger.RunID(), "key": res.entity.Key, "path": res.path, "draft": false})
	}
	r.OK("created %s at %s", res.entity.Key, res.path)
	return nil
}

// gatherCreateRequest takes values from flags and prompts for the rest.
func gatherCreateRequest(app *appctx.App, cmd *cobra.Command) (*createRequest, error) {
	typeName, _ := cmd.Flags().GetString("type")
	summary, _ := cmd.Flags().GetString("summary")
	component, _ := cmd.Flags().GetString("component")
	parent, _ := cmd.Flags().GetString("parent")

	var prompt asker
	ask := func(label, def string) (string, error) {
		if prompt == nil {
			p, err := newAsker(cmd)
			if err != nil {
				return "", err
			}
			prompt = p
		}
		return prompt.ask(label, def)
	}
	defer func() {
		if prompt != nil {
			prompt.Close()
		}
	}()

	var err error
	if typeName == "" {
		if typeName, err = ask("Type (Epic, Story, Task, Bug, Spike)", domain.TypeStory.String()); err != nil {
			return nil, err
		}
	}
	t, err := domain.ParseIssueType(typeName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(summary) == "" {
		if summary, err = ask("Summary", ""); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(summary) == "" {
		return nil, errors.New("summary is required")
	}

	req := &createRequest{Type: t, Summary: strings.TrimSpace(summary)}
	if t.IsGrouping() {
		if component == "" {
			if component, err = ask("Component", app.Config.UnassignedComponent); err != nil {
				return nil, err
			}
		}
		if err := domain.ValidateComponentName(component); err != nil {
			return nil, err
		}
		req.Component = component
		return req, nil
	}

	if parent == "" {
		if parent, err = ask("Parent epic key", ""); err != nil {
			return nil, err
		}
	}
	if err := domain.ValidateIssueKey(parent); err != nil {
		return nil, fmt.Errorf("parent: %w", err)
	}
	req.Parent = parent
	return req, nil
}

// writeDraft renders the type template for req and writes it where the
// entity will live.
func writeDraft(app *appctx.App, req *createRequest) (string, error) {
	dir, project, err := draftDir(app, req)
	if err != nil {
		return "", err
	}

	doc, err := app.Templates.Template(req.Type)
	if err != nil {
		return "", err
	}
	props := doc.Metadata.Properties
	props.Set(domain.PropProject, domain.String(project))
	props.Set(domain.PropSummary, domain.String(req.Summary))
	if req.Type.IsGrouping() {
		props.Set(domain.PropComponents, domain.Strings(req.Component))
	} else {
		props.Set(domain.PropParent, domain.String(req.Parent))
	}

	slug, err := paths.NormalizeSlug(req.Summary)
	if err != nil {
		return "", fmt.Errorf("summary %q: %w", req.Summary, err)
	}
	path := filepath.Join(dir, draftPrefix+req.Type.Prefix()+"-"+slug+paths.DocumentExt)
	if _, err := os.Lstat(path); err == nil {
		return "", &domain.FilesystemConflictError{Path: path, Reason: "a draft with this summary already exists"}
	}

	data, err := frontmatter.Serialize(doc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	app.Logger.Debug("wrote draft", "path", path)
	return path, nil
}

// draftDir finds the directory a new entity belongs in and its project.
// Children go next to their parent epic, which must already be mirrored.
func draftDir(app *appctx.App, req *createRequest) (dir, project string, err error) {
	project = app.Config.Project
	if req.Type.IsGrouping() {
		if project == "" {
			return "", "", errors.New("project is required to create an epic (set project in .epicsync.yaml or EPICSYNC_PROJECT)")
		}
		epicDir, err := paths.EpicDirName(req.Summary)
		if err != nil {
			return "", "", err
		}
		return paths.CanonicalDir(app.Config.MirrorDir, req.Component, epicDir), project, nil
	}

	docs, err := mirrorDocuments(app.Config.MirrorDir)
	if err != nil {
		return "", "", err
	}
	for _, path := range docs {
		t, key, ok := paths.ParseFileName(filepath.Base(path), paths.DocumentExt)
		if ok && key == req.Parent && t.IsGrouping() {
			if project == "" {
				project, _, _ = strings.Cut(req.Parent, "-")
			}
			return filepath.Dir(path), project, nil
		}
	}
	return "", "", fmt.Errorf("parent epic %s is not in the mirror; fetch it first", req.Parent)
}
