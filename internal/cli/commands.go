package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/api/internal/docpath"
	"folio/api/internal/document"
	"folio/api/internal/editor"
	"folio/api/internal/sections"
)

func kindsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the document kinds and their sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kind := range a.Catalog.Kinds() {
				reg, _ := a.Catalog.Get(kind)
				fmt.Fprintf(a.Out, "%s (%s): %s\n", reg.Kind, reg.Label, strings.Join(reg.Names(), ", "))
			}
			return nil
		},
	}
}

func listCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list <kind>",
		Short: "List documents of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()
			if err := ctrl.Open(cmd.Context()); err != nil {
				return err
			}
			printList(a.Out, ctrl.Registry(), ctrl.Documents())
			return nil
		},
	}
}

func showCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.Catalog.Lookup(args[0]); err != nil {
				return err
			}
			doc, err := a.Backend.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("show %s/%s: %w", args[0], args[1], err)
			}
			return printDocument(a.Out, doc)
		},
	}
}

// edits are the mutations requested on the command line, applied in the
// order add, remove, move, set.
type edits struct {
	sets    []string
	adds    []string
	removes []string
	moves   []string
}

func (e *edits) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&e.sets, "set", nil, "path=value; value is JSON or a plain string")
	cmd.Flags().StringArrayVar(&e.adds, "add", nil, "append a template item to the array at path")
	cmd.Flags().StringArrayVar(&e.removes, "remove", nil, "path:index of an array item to remove")
	cmd.Flags().StringArrayVar(&e.moves, "move", nil, "path:index:up|down of an array item to move")
}

func (e *edits) empty() bool {
	return len(e.sets) == 0 && len(e.adds) == 0 && len(e.removes) == 0 && len(e.moves) == 0
}

type step struct {
	path docpath.Path
	run  func(ctrl *editor.Controller, p docpath.Path)
}

// plan parses every flag before anything is applied.
func (e *edits) plan() ([]step, error) {
	var steps []step
	for _, raw := range e.adds {
		p, err := docpath.Parse(raw)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{path: p, run: func(ctrl *editor.Controller, p docpath.Path) { ctrl.AddItem(p) }})
	}
	for _, raw := range e.removes {
		p, index, err := parseIndexed(raw)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{path: p, run: func(ctrl *editor.Controller, p docpath.Path) { ctrl.RemoveItem(p, index) }})
	}
	for _, raw := range e.moves {
		rest, rawDir, ok := cutLast(raw, ":")
		if !ok {
			return nil, fmt.Errorf("move %q: want path:index:up|down", raw)
		}
		dir, err := document.ParseDirection(rawDir)
		if err != nil {
			return nil, fmt.Errorf("move %q: %w", raw, err)
		}
		p, index, err := parseIndexed(rest)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{path: p, run: func(ctrl *editor.Controller, p docpath.Path) { ctrl.MoveItem(p, index, dir) }})
	}
	for _, raw := range e.sets {
		p, value, err := parseAssignment(raw)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{path: p, run: func(ctrl *editor.Controller, p docpath.Path) { ctrl.Set(p, value) }})
	}
	return steps, nil
}

// apply runs the edits against ctrl and returns the sections they touched.
func (e *edits) apply(ctrl *editor.Controller) ([]string, error) {
	steps, err := e.plan()
	if err != nil {
		return nil, err
	}
	touched := map[string]bool{}
	err = document.Guard(func() {
		for _, st := range steps {
			st.run(ctrl, st.path)
			touched[st.path.Section()] = true
		}
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(touched))
	for name := range touched {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func newCmd(a *App) *cobra.Command {
	var (
		e    edits
		file string
	)
	cmd := &cobra.Command{
		Use:   "new <kind>",
		Short: "Create a document from a blank draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if file != "" {
				if err := loadFile(ctrl, file); err != nil {
					return err
				}
			}
			if _, err := e.apply(ctrl); err != nil {
				return err
			}
			if err := ctrl.SaveSection(cmd.Context(), sections.Complete, nil); err != nil {
				return err
			}
			fmt.Fprintln(a.Out, ctrl.Document().ID())
			return nil
		},
	}
	e.bind(cmd)
	cmd.Flags().StringVar(&file, "file", "", "JSON document to start from")
	return cmd
}

func editCmd(a *App) *cobra.Command {
	var (
		e       edits
		section string
	)
	cmd := &cobra.Command{
		Use:   "edit <kind> <id>",
		Short: "Edit a document and save the touched section",
		Long: `Apply edits to a stored document and save them.

Only the edited section is sent. Edits spanning several sections save the
whole document. --section forces the section to save.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.empty() && section == "" {
				return errors.New("nothing to edit: pass --set, --add, --remove or --move")
			}
			ctrl, err := a.controller(args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()

			doc, err := a.Backend.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("load %s/%s: %w", args[0], args[1], err)
			}
			if err := ctrl.LoadForEdit(doc); err != nil {
				return err
			}
			touched, err := e.apply(ctrl)
			if err != nil {
				return err
			}

			target := section
			switch {
			case target != "":
			case len(touched) == 1:
				target = touched[0]
			default:
				target = sections.Complete
			}
			value, _ := ctrl.Document().Section(target)
			if err := ctrl.SaveSection(cmd.Context(), target, value); err != nil {
				return err
			}
			fmt.Fprintln(a.Out, ctrl.Document().Version())
			return nil
		},
	}
	e.bind(cmd)
	cmd.Flags().StringVar(&section, "section", "", "section to save")
	return cmd
}

func deleteCmd(a *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <kind> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[1])
			}
			ctrl, err := a.controller(args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()
			return ctrl.DeleteDocument(cmd.Context(), args[1], editor.Confirm(args[1]))
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func toggleCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <kind> <id>",
		Short: "Flip a document between active and inactive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()
			return ctrl.ToggleActive(cmd.Context(), args[1])
		},
	}
}

func loadFile(ctrl *editor.Controller, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := document.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return document.Guard(func() {
		for name, value := range doc {
			switch name {
			case document.FieldID, document.FieldVersion, document.FieldActive:
				continue
			}
			ctrl.Set(docpath.New(docpath.Key(name)), value)
		}
	})
}

// parseAssignment reads path=value. Values that are not valid JSON are
// taken as plain strings.
func parseAssignment(raw string) (docpath.Path, any, error) {
	rawPath, rawValue, ok := strings.Cut(raw, "=")
	if !ok {
		return docpath.Path{}, nil, fmt.Errorf("set %q: want path=value", raw)
	}
	p, err := docpath.Parse(rawPath)
	if err != nil {
		return docpath.Path{}, nil, err
	}
	var value any
	if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
		value = rawValue
	}
	return p, value, nil
}

func parseIndexed(raw string) (docpath.Path, int, error) {
	rawPath, rawIndex, ok := cutLast(raw, ":")
	if !ok {
		return docpath.Path{}, 0, fmt.Errorf("%q: want path:index", raw)
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		return docpath.Path{}, 0, fmt.Errorf("%q: index must be a number", raw)
	}
	p, err := docpath.Parse(rawPath)
	if err != nil {
		return docpath.Path{}, 0, err
	}
	return p, index, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
