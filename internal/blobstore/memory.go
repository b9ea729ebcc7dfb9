package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

const memoryBackend = "memory"

type memoryBlob struct {
	info BlobInfo
	data []byte
}

// Memory is a map-backed BlobStore for tests and ephemeral use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: map[string]memoryBlob{}}
}

func (m *Memory) Put(ctx context.Context, r io.Reader, opts PutOptions) (BlobPutResult, error) {
	var zero BlobPutResult
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return zero, err
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := GenerateID(func(id string) (bool, error) {
		_, ok := m.blobs[id]
		return ok, nil
	})
	if err != nil {
		return zero, err
	}
	info := BlobInfo{
		ID:          id,
		Name:        opts.Name,
		ContentType: opts.ContentType,
		SizeBytes:   int64(len(data)),
		Digest:      DigestSHA256 + ":" + digest,
		BlobKey:     id,
		Backend:     memoryBackend,
		CreatedAt:   time.Now().UTC(),
	}
	m.blobs[id] = memoryBlob{info: info, data: data}
	return BlobPutResult{ID: id, Digest: info.Digest, SizeBytes: info.SizeBytes, BlobKey: id}, nil
}

func (m *Memory) Open(ctx context.Context, id string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	blob, ok := m.blobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	return &readHandle{ReadCloser: io.NopCloser(bytes.NewReader(blob.data)), info: blob.info}, nil
}

func (m *Memory) Stat(ctx context.Context, id string) (BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[id]
	if !ok {
		return BlobInfo{}, fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	return blob.info, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		return fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	delete(m.blobs, id)
	return nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs), nil
}
