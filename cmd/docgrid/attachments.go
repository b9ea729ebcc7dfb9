package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docgrid/internal/attachment"
	"docgrid/internal/config"
)

// upload is a source file whose recorded name can differ from its path.
type upload struct {
	io.ReadSeeker
	closer   io.Closer
	filename string
}

func (u *upload) OriginalFilename() string { return u.filename }

func (u *upload) Close() error {
	if u.closer == nil {
		return nil
	}
	return u.closer.Close()
}

// openSource opens path for upload. "-" buffers stdin so the coordinator can
// rewind it before storing.
func openSource(path, filename string) (*upload, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return &upload{ReadSeeker: bytes.NewReader(data), filename: filename}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	return &upload{ReadSeeker: f, closer: f, filename: filename}, nil
}

func newAttachCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	var contentType string
	var filename string

	cmd := &cobra.Command{
		Use:   "attach <id> <attachment> <path>",
		Short: "Upload a file into a document attachment, replacing any current one",
		Args:  requireExactlyArgs(3, "document id, attachment name, and path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				doc, err := a.find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				src, err := openSource(args[2], filename)
				if err != nil {
					return err
				}
				defer src.Close()

				var opts []attachment.AssignOption
				if contentType != "" {
					opts = append(opts, attachment.WithContentType(contentType))
				}
				set := a.coord.For(doc)
				if err := set.Assign(args[1], src, opts...); err != nil {
					return err
				}
				if err := a.engine.Save(cmd.Context(), doc); err != nil {
					return err
				}
				return writeDocument(mode, viewDocument(set, doc))
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "declared content type (default: inferred from the file name)")
	cmd.Flags().StringVar(&filename, "filename", "", "recorded file name (default: base name of path)")
	return cmd
}

func newDetachCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <id> <attachment>",
		Short: "Remove a document attachment and delete its blob",
		Args:  requireExactlyArgs(2, "document id and attachment name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				doc, err := a.find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				set := a.coord.For(doc)
				if err := set.Clear(args[1]); err != nil {
					return err
				}
				if err := a.engine.Save(cmd.Context(), doc); err != nil {
					return err
				}
				return writeDocument(mode, viewDocument(set, doc))
			})
		},
	}
}

func newCatCmd(cfg *config.Config, mode *outputMode) *cobra.Command {
	var output string
	var query string

	cmd := &cobra.Command{
		Use:   "cat <id> <attachment>",
		Short: "Write attachment content to stdout or a file",
		Args:  requireExactlyArgs(2, "document id and attachment name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				doc, err := a.find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				proxy, err := a.coord.For(doc).Get(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				defer proxy.Close()
				if proxy.Absent() {
					return fmt.Errorf("attachment %q on %s: %w", args[1], doc.ID(), attachment.ErrAttachmentNotFound)
				}

				if query != "" {
					return writeCapability(mode, proxy, query)
				}

				if output == "" {
					_, err := io.Copy(stdout, proxy)
					return err
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				if _, err := io.Copy(f, proxy); err != nil {
					_ = f.Close()
					return err
				}
				// A failed close can mean the content never reached disk.
				if err := f.Close(); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				if !mode.structured() {
					return writePlain("wrote %s (%d bytes)\n", output, proxy.Size())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write content to this file instead of stdout")
	cmd.Flags().StringVar(&query, "query", "", "print a store capability (digest, backend, blob_key, compressed, created_at) instead of content")
	return cmd
}

func writeCapability(mode *outputMode, proxy *attachment.Proxy, name string) error {
	value, ok, err := proxy.Query(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("blob store does not answer %q", name)
	}
	if mode.structured() {
		return mode.write(map[string]any{name: value})
	}
	return writePlain("%v\n", value)
}
