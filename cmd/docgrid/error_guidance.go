package main

import (
	"errors"

	"docgrid/internal/attachment"
	"docgrid/internal/blobstore"
	"docgrid/internal/document"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var destroyErr *attachment.DestroyError
	if errors.As(err, &destroyErr) {
		lines = append(lines,
			"hint: the document was removed but some attachment blobs were not deleted.",
			"hint: reclaim unreferenced objects with: docgrid gc --apply",
		)
		return uniqueLines(lines)
	}

	var declErr *attachment.DeclarationError
	if errors.As(err, &declErr) {
		lines = append(lines, "hint: attachment names must be lowercase identifiers whose _id/_name/_type/_size fields are unused by the class.")
		return uniqueLines(lines)
	}

	switch {
	case errors.Is(err, attachment.ErrStoreUnavailable), errors.Is(err, blobstore.ErrUnavailable):
		lines = append(lines, "hint: check blobstore.backend and blobstore.root with: docgrid config path")
	case errors.Is(err, attachment.ErrUnknownAttachment):
		lines = append(lines, "hint: list the attachments each class carries with: docgrid types")
	case errors.Is(err, attachment.ErrAttachmentNotFound):
		lines = append(lines, "hint: upload content first with: docgrid attach <id> <attachment> <path>")
	case errors.Is(err, blobstore.ErrNotFound):
		lines = append(lines, "hint: the referenced blob is missing from the store; re-attach the file or detach the attachment.")
	case errors.Is(err, document.ErrNotFound):
		lines = append(lines, "hint: list stored documents with: docgrid list")
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
