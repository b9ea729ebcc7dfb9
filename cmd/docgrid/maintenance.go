package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docgrid/internal/blobstore"
	"docgrid/internal/config"
)

type classTypes struct {
	Class       string   `json:"class" yaml:"class"`
	Parent      string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Attachments []string `json:"attachments" yaml:"attachments"`
}

func newTypesCmd(mode *outputMode) *cobra.Command {
	return &cobra.Command{
		Use:   "types [class]",
		Short: "List the attachments each document class carries",
		Args:  requireAtMostArgs(1, "at most one class may be given"),
		RunE: func(cmd *cobra.Command, args []string) error {
			sch, err := newSchema()
			if err != nil {
				return err
			}
			classes := sch.all()
			if len(args) == 1 {
				c, err := sch.class(args[0])
				if err != nil {
					return err
				}
				classes = append(classes[:0], c)
			}

			out := make([]classTypes, 0, len(classes))
			for _, c := range classes {
				entry := classTypes{Class: c.Name(), Attachments: sch.registry.Catalogue(c)}
				if c.Parent() != nil {
					entry.Parent = c.Parent().Name()
				}
				out = append(out, entry)
			}
			if mode.structured() {
				return mode.write(out)
			}
			for _, entry := range out {
				header := bold(entry.Class)
				if entry.Parent != "" {
					header += " " + faint("< "+entry.Parent)
				}
				if err := writePlain("%s: %s\n", header, strings.Join(entry.Attachments, ", ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newGCCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	var apply bool
	var limit int

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Sweep blob objects no stored blob record references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Attachments.GCBatchSize
			}
			if limit < 0 {
				return fmt.Errorf("limit must be >= 0")
			}
			return withApp(cfg, func(a *app) error {
				cas, ok := a.blobs.(*blobstore.LocalCAS)
				if !ok {
					return fmt.Errorf("gc is only supported by the %q blob backend (configured: %q)", config.BackendLocal, cfg.BlobStore.Backend)
				}
				result, err := cas.GC(cmd.Context(), limit, apply)
				if err != nil {
					return err
				}
				if mode.structured() {
					return mode.write(result)
				}

				verb := "would delete"
				if apply {
					verb = "deleted"
				}
				count := result.CandidateCount
				if apply {
					count = result.DeletedCount
				}
				_ = writePlain("%s %d of %d unreferenced objects (%d bytes)\n", verb, count, result.CandidateCount, result.ReclaimedBytes)
				if result.FailedCount > 0 {
					_ = writePlain("failed: %d\n", result.FailedCount)
				}
				if result.DryRun {
					_ = writePlain("%s\n", faint("dry run; pass --apply to delete"))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "delete unreferenced objects (default is a dry run)")
	cmd.Flags().IntVar(&limit, "limit", config.DefaultGCBatchSize, "maximum objects to delete per run (0 = no cap)")
	return cmd
}

type infoView struct {
	DBPath           string         `json:"db_path" yaml:"db_path"`
	SchemaVersion    int            `json:"schema_version" yaml:"schema_version"`
	PendingMigration int            `json:"pending_migrations" yaml:"pending_migrations"`
	BlobBackend      string         `json:"blob_backend" yaml:"blob_backend"`
	BlobRoot         string         `json:"blob_root,omitempty" yaml:"blob_root,omitempty"`
	BlobCount        int            `json:"blob_count" yaml:"blob_count"`
	ReplacePolicy    string         `json:"replace_policy" yaml:"replace_policy"`
	Documents        map[string]int `json:"documents" yaml:"documents"`
}

func newInfoCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show database, blob store, and document counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				status, err := a.db.MigrationStatus()
				if err != nil {
					return err
				}
				blobs, err := a.blobs.Count(cmd.Context())
				if err != nil && !errors.Is(err, blobstore.ErrUnavailable) {
					return err
				}

				view := infoView{
					DBPath:           cfg.DBPath,
					SchemaVersion:    status.CurrentVersion,
					PendingMigration: len(status.Pending),
					BlobBackend:      cfg.BlobStore.Backend,
					BlobCount:        blobs,
					ReplacePolicy:    string(a.coord.Policy()),
					Documents:        map[string]int{},
				}
				if cfg.BlobStore.Backend != config.BackendMemory {
					view.BlobRoot = cfg.BlobStore.Root
				}
				for _, c := range a.schema.all() {
					n, err := a.db.Count(cmd.Context(), []string{c.Name()})
					if err != nil {
						return err
					}
					view.Documents[c.Name()] = n
				}

				if mode.structured() {
					return mode.write(view)
				}
				_ = writePlain("db_path: %s\n", view.DBPath)
				_ = writePlain("schema_version: %d\n", view.SchemaVersion)
				if view.PendingMigration > 0 {
					_ = writePlain("pending_migrations: %d\n", view.PendingMigration)
				}
				_ = writePlain("blob_backend: %s\n", view.BlobBackend)
				if view.BlobRoot != "" {
					_ = writePlain("blob_root: %s\n", view.BlobRoot)
				}
				_ = writePlain("blob_count: %d\n", view.BlobCount)
				_ = writePlain("replace_policy: %s\n", view.ReplacePolicy)
				_ = writePlain("documents:\n")
				for _, name := range a.schema.classNames() {
					_ = writePlain("  %s: %d\n", name, view.Documents[name])
				}
				return nil
			})
		},
	}
}
