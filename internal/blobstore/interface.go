package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a blob id has no record in the store.
	ErrNotFound = errors.New("blob not found")
	// ErrUnavailable is returned by a store that is not configured or already closed.
	ErrUnavailable = errors.New("blob store unavailable")
)

// PutOptions carries the display metadata recorded alongside blob bytes.
type PutOptions struct {
	Name        string
	ContentType string
}

// BlobPutResult describes one persisted blob payload.
type BlobPutResult struct {
	ID        string
	Digest    string
	SizeBytes int64
	BlobKey   string
}

// BlobInfo is the stored record for one blob id.
type BlobInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Digest      string    `json:"digest"`
	BlobKey     string    `json:"blob_key"`
	Backend     string    `json:"backend"`
	Compressed  bool      `json:"compressed,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Handle is an open blob. Besides the byte stream it answers capability
// queries for store-specific metadata.
type Handle interface {
	io.ReadCloser
	Info() BlobInfo
	Capability(name string) (any, bool)
}

// BlobStore is the byte-storage abstraction used by the attachment coordinator.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader, opts PutOptions) (BlobPutResult, error)
	Open(ctx context.Context, id string) (Handle, error)
	Stat(ctx context.Context, id string) (BlobInfo, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// infoCapability answers the capability names every backend shares.
func infoCapability(info BlobInfo, name string) (any, bool) {
	switch name {
	case "id", "files_id":
		return info.ID, true
	case "filename", "name":
		return info.Name, true
	case "content_type":
		return info.ContentType, true
	case "length", "file_length", "size":
		return info.SizeBytes, true
	case "digest":
		return info.Digest, true
	case "blob_key":
		return info.BlobKey, true
	case "backend":
		return info.Backend, true
	case "compressed":
		return info.Compressed, true
	case "created_at", "upload_date":
		return info.CreatedAt, true
	default:
		return nil, false
	}
}

// readHandle adapts any ReadCloser plus a record into a Handle.
type readHandle struct {
	io.ReadCloser
	info BlobInfo
}

func (h *readHandle) Info() BlobInfo { return h.info }

func (h *readHandle) Capability(name string) (any, bool) {
	return infoCapability(h.info, name)
}
