package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

const (
	DigestSHA256  = "sha256"
	DigestBlake2b = "blake2b"

	localCASBackend  = "local_cas"
	objectsDirName   = "objects"
	filesDirName     = "files"
	tmpDirName       = "tmp"
	recordExt        = ".json"
	compressedSuffix = ".zst"
)

// LocalCAS stores blob bytes in a local content-addressed tree. Each Put gets
// its own file record (id, name, content type, size) pointing at a shared
// object, so identical content is stored once while every attachment keeps an
// independent id.
type LocalCAS struct {
	root     string
	digest   string
	compress bool
}

// LocalCASOption configures a LocalCAS.
type LocalCASOption func(*LocalCAS)

// WithDigest selects the content digest (sha256 or blake2b).
func WithDigest(algo string) LocalCASOption {
	return func(c *LocalCAS) {
		c.digest = strings.ToLower(strings.TrimSpace(algo))
	}
}

// WithCompression stores new objects zstd-compressed.
func WithCompression(enabled bool) LocalCASOption {
	return func(c *LocalCAS) {
		c.compress = enabled
	}
}

// NewLocalCAS creates a local CAS rooted at root.
func NewLocalCAS(root string, opts ...LocalCASOption) (*LocalCAS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local cas root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	c := &LocalCAS{root: abs, digest: DigestSHA256}
	for _, opt := range opts {
		opt(c)
	}
	if c.digest == "" {
		c.digest = DigestSHA256
	}
	if c.digest != DigestSHA256 && c.digest != DigestBlake2b {
		return nil, fmt.Errorf("unsupported digest %q", c.digest)
	}

	for _, dir := range []string{abs, filepath.Join(abs, tmpDirName), filepath.Join(abs, filesDirName), filepath.Join(abs, objectsDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Root returns the absolute storage root.
func (c *LocalCAS) Root() string {
	return c.root
}

// Put streams bytes, computes the digest, stores content by digest and writes
// a new file record for it.
func (c *LocalCAS) Put(ctx context.Context, r io.Reader, opts PutOptions) (BlobPutResult, error) {
	var zero BlobPutResult
	if c == nil {
		return zero, fmt.Errorf("local cas: %w", ErrUnavailable)
	}
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	h, err := c.newHasher()
	if err != nil {
		return zero, err
	}

	tmp, err := os.CreateTemp(filepath.Join(c.root, tmpDirName), "put-*")
	if err != nil {
		return zero, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	var sink io.Writer = tmp
	var enc *zstd.Encoder
	if c.compress {
		enc, err = zstd.NewWriter(tmp)
		if err != nil {
			cleanup()
			return zero, err
		}
		sink = enc
	}

	n, err := io.Copy(io.MultiWriter(sink, h), r)
	if err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		cleanup()
		return zero, err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			cleanup()
			return zero, err
		}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return zero, err
	}

	digest := hex.EncodeToString(h.Sum(nil))
	key := c.objectKey(digest)
	if err := c.placeObject(tmpPath, key); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}

	id, err := GenerateID(func(id string) (bool, error) {
		_, statErr := os.Stat(c.recordPath(id))
		if statErr == nil {
			return true, nil
		}
		if errors.Is(statErr, os.ErrNotExist) {
			return false, nil
		}
		return false, statErr
	})
	if err != nil {
		return zero, err
	}

	info := BlobInfo{
		ID:          id,
		Name:        opts.Name,
		ContentType: opts.ContentType,
		SizeBytes:   n,
		Digest:      c.digest + ":" + digest,
		BlobKey:     key,
		Backend:     localCASBackend,
		Compressed:  c.compress,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.writeRecord(info); err != nil {
		return zero, err
	}

	return BlobPutResult{ID: id, Digest: info.Digest, SizeBytes: n, BlobKey: key}, nil
}

// Open returns a handle on the blob content.
func (c *LocalCAS) Open(ctx context.Context, id string) (Handle, error) {
	if c == nil {
		return nil, fmt.Errorf("local cas: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := c.readRecord(id)
	if err != nil {
		return nil, err
	}
	path, err := c.pathFromKey(info.BlobKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q object %q: %w", id, info.BlobKey, ErrNotFound)
		}
		return nil, err
	}
	if !info.Compressed {
		return &readHandle{ReadCloser: f, info: info}, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &readHandle{ReadCloser: &zstdReadCloser{dec: dec, file: f}, info: info}, nil
}

// Stat returns the file record for id.
func (c *LocalCAS) Stat(ctx context.Context, id string) (BlobInfo, error) {
	if c == nil {
		return BlobInfo{}, fmt.Errorf("local cas: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, err
	}
	return c.readRecord(id)
}

// Delete removes the file record for id. The shared object stays until GC
// finds it unreferenced.
func (c *LocalCAS) Delete(ctx context.Context, id string) error {
	if c == nil {
		return fmt.Errorf("local cas: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidID(id) {
		return fmt.Errorf("invalid blob id %q", id)
	}
	if err := os.Remove(c.recordPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("blob %q: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}

// Count returns the number of file records.
func (c *LocalCAS) Count(ctx context.Context) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("local cas: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(filepath.Join(c.root, filesDirName))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), recordExt) {
			count++
		}
	}
	return count, nil
}

// GCResult reports one object sweep.
type GCResult struct {
	CandidateCount int   `json:"candidate_count" yaml:"candidate_count"`
	DeletedCount   int   `json:"deleted_count" yaml:"deleted_count"`
	FailedCount    int   `json:"failed_count" yaml:"failed_count"`
	ReclaimedBytes int64 `json:"reclaimed_bytes" yaml:"reclaimed_bytes"`
	DryRun         bool  `json:"dry_run" yaml:"dry_run"`
}

// GC sweeps objects that no file record references. With apply=false it only
// reports what would be removed. limit caps deletions per run (0 = no cap).
func (c *LocalCAS) GC(ctx context.Context, limit int, apply bool) (GCResult, error) {
	result := GCResult{DryRun: !apply}
	if c == nil {
		return result, fmt.Errorf("local cas: %w", ErrUnavailable)
	}

	referenced, err := c.referencedKeys()
	if err != nil {
		return result, err
	}

	objectsRoot := filepath.Join(c.root, objectsDirName)
	err = filepath.WalkDir(objectsRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if _, ok := referenced[key]; ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		result.CandidateCount++
		if !apply {
			result.ReclaimedBytes += info.Size()
			return nil
		}
		if limit > 0 && result.DeletedCount >= limit {
			return nil
		}
		if err := os.Remove(path); err != nil {
			result.FailedCount++
			return nil
		}
		result.DeletedCount++
		result.ReclaimedBytes += info.Size()
		return nil
	})
	return result, err
}

func (c *LocalCAS) referencedKeys() (map[string]struct{}, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, filesDirName))
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		info, err := c.readRecord(strings.TrimSuffix(name, recordExt))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		keys[info.BlobKey] = struct{}{}
	}
	return keys, nil
}

func (c *LocalCAS) newHasher() (hash.Hash, error) {
	switch c.digest {
	case DigestBlake2b:
		return blake2b.New256(nil)
	default:
		return sha256.New(), nil
	}
}

func (c *LocalCAS) objectKey(digest string) string {
	key := fmt.Sprintf("%s/%s/%s/%s/%s", objectsDirName, c.digest, digest[0:2], digest[2:4], digest)
	if c.compress {
		key += compressedSuffix
	}
	return key
}

// placeObject moves the temp file to key unless identical content is already there.
func (c *LocalCAS) placeObject(tmpPath, key string) error {
	dst := filepath.Join(c.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(dst); err == nil {
		return os.Remove(tmpPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		if _, statErr := os.Stat(dst); statErr == nil {
			return os.Remove(tmpPath)
		}
		return err
	}
	return nil
}

func (c *LocalCAS) recordPath(id string) string {
	return filepath.Join(c.root, filesDirName, id+recordExt)
}

func (c *LocalCAS) readRecord(id string) (BlobInfo, error) {
	var info BlobInfo
	if !ValidID(id) {
		return info, fmt.Errorf("invalid blob id %q", id)
	}
	data, err := os.ReadFile(c.recordPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return info, fmt.Errorf("blob %q: %w", id, ErrNotFound)
		}
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("decoding record %q: %w", id, err)
	}
	return info, nil
}

func (c *LocalCAS) writeRecord(info BlobInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Join(c.root, tmpDirName), "record-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, c.recordPath(info.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (c *LocalCAS) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("blob key is required")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blob key must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || strings.Contains(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key")
	}
	return filepath.Join(c.root, clean), nil
}

// zstdReadCloser closes both the decoder and the underlying object file.
type zstdReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.file.Close()
}
