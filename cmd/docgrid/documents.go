package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docgrid/internal/attachment"
	"docgrid/internal/config"
	"docgrid/internal/document"
)

type createOptions struct {
	class        string
	title        string
	attachments  []string
	contentTypes []string
}

func newCreateCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	opts := &createOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document, uploading any attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := parseAssignments(opts.attachments)
			if err != nil {
				return err
			}
			types, err := parseAssignments(opts.contentTypes)
			if err != nil {
				return err
			}

			return withApp(cfg, func(a *app) error {
				class, err := a.schema.class(opts.class)
				if err != nil {
					return err
				}
				doc := document.New(class)
				if strings.TrimSpace(opts.title) != "" {
					if err := doc.Set("title", opts.title); err != nil {
						return err
					}
				}

				set := a.coord.For(doc)
				for _, as := range assignments {
					src, err := openSource(as.value, "")
					if err != nil {
						return err
					}
					defer src.Close()
					var assignOpts []attachment.AssignOption
					if t, ok := lookupAssignment(types, as.name); ok {
						assignOpts = append(assignOpts, attachment.WithContentType(t))
					}
					if err := set.Assign(as.name, src, assignOpts...); err != nil {
						return err
					}
				}

				if err := a.engine.Save(cmd.Context(), doc); err != nil {
					return err
				}
				return writeDocument(mode, viewDocument(set, doc))
			})
		},
	}
	cmd.Flags().StringVar(&opts.class, "class", "asset", "document class")
	cmd.Flags().StringVar(&opts.title, "title", "", "document title")
	cmd.Flags().StringArrayVarP(&opts.attachments, "attach", "a", nil, "attachment as name=path (repeatable, - reads stdin)")
	cmd.Flags().StringArrayVar(&opts.contentTypes, "content-type", nil, "declared type as name=mime (repeatable)")
	return cmd
}

func newShowCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id> [<id>...]",
		Short: "Show documents and their attachments",
		Args:  requireAtLeastOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				views := make([]documentView, 0, len(args))
				for _, id := range args {
					doc, err := a.find(cmd.Context(), id)
					if err != nil {
						return err
					}
					views = append(views, viewDocument(a.coord.For(doc), doc))
				}
				if mode.structured() && len(views) == 1 {
					return mode.write(views[0])
				}
				if mode.structured() {
					return mode.write(views)
				}
				for _, view := range views {
					if err := writeDocument(mode, view); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newListCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [class]",
		Short: "List documents, most recently updated first",
		Args:  requireAtMostArgs(1, "at most one class may be given"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				root := a.schema.root
				if len(args) == 1 {
					c, err := a.schema.class(args[0])
					if err != nil {
						return err
					}
					root = c
				}
				var names []string
				for _, c := range a.schema.all() {
					if c.IsA(root) {
						names = append(names, c.Name())
					}
				}

				records, err := a.db.List(cmd.Context(), names, limit)
				if err != nil {
					return err
				}
				views := make([]documentView, 0, len(records))
				for _, rec := range records {
					class, err := a.schema.class(rec.Class)
					if err != nil {
						return err
					}
					doc, err := document.Restore(class, rec.ID, rec.Fields, rec.CreatedAt, rec.UpdatedAt)
					if err != nil {
						return err
					}
					views = append(views, viewDocument(a.coord.For(doc), doc))
				}
				if mode.structured() {
					return mode.write(views)
				}
				for _, view := range views {
					if err := writePlain("%s\n", formatDocumentLine(view)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum documents to list (0 = no limit)")
	return cmd
}

func newRmCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id> [<id>...]",
		Short: "Destroy documents and delete their attachment blobs",
		Args:  requireAtLeastOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				removed := make([]string, 0, len(args))
				for _, id := range args {
					doc, err := a.find(cmd.Context(), id)
					if err != nil {
						return err
					}
					if err := a.engine.Destroy(cmd.Context(), doc); err != nil {
						return err
					}
					removed = append(removed, id)
				}
				if mode.structured() {
					return mode.write(map[string]any{"removed": removed})
				}
				for _, id := range removed {
					if err := writePlain("removed %s\n", id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func formatDocumentLine(view documentView) string {
	var present []string
	for _, a := range view.Attachments {
		if a.ID != "" {
			present = append(present, a.Attachment)
		}
	}
	title, _ := view.Fields["title"].(string)
	line := fmt.Sprintf("%s %s %s", bold(view.ID), faint("["+view.Class+"]"), title)
	if len(present) > 0 {
		line += " " + cyan("("+strings.Join(present, ", ")+")")
	}
	return line
}

type assignment struct {
	name  string
	value string
}

func parseAssignments(raw []string) ([]assignment, error) {
	out := make([]assignment, 0, len(raw))
	for _, item := range raw {
		name, value, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected name=value)", item)
		}
		out = append(out, assignment{name: name, value: strings.TrimSpace(value)})
	}
	return out, nil
}

func lookupAssignment(items []assignment, name string) (string, bool) {
	for _, item := range items {
		if item.name == name {
			return item.value, true
		}
	}
	return "", false
}
