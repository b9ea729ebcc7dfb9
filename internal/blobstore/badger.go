package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const (
	badgerBackend = "badger"

	// BadgerRecordPrefix is the key prefix for blob records.
	BadgerRecordPrefix = "blob:"
	// BadgerDataPrefix is the key prefix for blob bytes.
	BadgerDataPrefix = "data:"
)

// Badger stores blob records and bytes in an embedded badger database.
// Values are written in a single transaction, so it suits attachments that
// fit comfortably in memory.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger-backed store at dir.
func OpenBadger(dir string) (*Badger, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger directory is required")
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenBadgerInMemory opens a badger store that keeps everything in memory.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func recordKey(id string) []byte { return []byte(BadgerRecordPrefix + id) }
func dataKey(id string) []byte   { return []byte(BadgerDataPrefix + id) }

func (b *Badger) Put(ctx context.Context, r io.Reader, opts PutOptions) (BlobPutResult, error) {
	var zero BlobPutResult
	if b == nil || b.db == nil {
		return zero, fmt.Errorf("badger: %w", ErrUnavailable)
	}
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

	id, err := GenerateID(func(id string) (bool, error) {
		return b.exists(id)
	})
	if err != nil {
		return zero, err
	}
	info := BlobInfo{
		ID:          id,
		Name:        opts.Name,
		ContentType: opts.ContentType,
		SizeBytes:   int64(len(data)),
		Digest:      DigestSHA256 + ":" + hex.EncodeToString(sum[:]),
		BlobKey:     string(dataKey(id)),
		Backend:     badgerBackend,
		CreatedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(info)
	if err != nil {
		return zero, fmt.Errorf("marshal blob record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(id), data); err != nil {
			return err
		}
		return txn.Set(recordKey(id), encoded)
	})
	if err != nil {
		return zero, err
	}
	return BlobPutResult{ID: id, Digest: info.Digest, SizeBytes: info.SizeBytes, BlobKey: info.BlobKey}, nil
}

func (b *Badger) Open(ctx context.Context, id string) (Handle, error) {
	if b == nil || b.db == nil {
		return nil, fmt.Errorf("badger: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var info BlobInfo
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = readBadgerRecord(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, badgerNotFound(id, err)
	}
	return &readHandle{ReadCloser: io.NopCloser(bytes.NewReader(data)), info: info}, nil
}

func (b *Badger) Stat(ctx context.Context, id string) (BlobInfo, error) {
	var info BlobInfo
	if b == nil || b.db == nil {
		return info, fmt.Errorf("badger: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return info, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = readBadgerRecord(txn, id)
		return err
	})
	if err != nil {
		return info, badgerNotFound(id, err)
	}
	return info, nil
}

func (b *Badger) Delete(ctx context.Context, id string) error {
	if b == nil || b.db == nil {
		return fmt.Errorf("badger: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(recordKey(id)); err != nil {
			return err
		}
		return txn.Delete(dataKey(id))
	})
	if err != nil {
		return badgerNotFound(id, err)
	}
	return nil
}

func (b *Badger) Count(ctx context.Context) (int, error) {
	if b == nil || b.db == nil {
		return 0, fmt.Errorf("badger: %w", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	prefix := []byte(BadgerRecordPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *Badger) exists(id string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readBadgerRecord(txn *badger.Txn, id string) (BlobInfo, error) {
	var info BlobInfo
	item, err := txn.Get(recordKey(id))
	if err != nil {
		return info, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	})
	return info, err
}

func badgerNotFound(id string, err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	return err
}
