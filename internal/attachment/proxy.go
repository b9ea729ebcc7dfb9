package attachment

import (
	"context"
	"fmt"
	"io"

	"docgrid/internal/blobstore"
)

// Fields mirrors the four metadata fields of one attachment. Empty strings
// and a zero size stand for null.
type Fields struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	Size int64  `json:"size,omitempty" yaml:"size,omitempty"`
}

// Proxy is a read-only view of a persisted attachment. The blob is opened
// on first read and kept open until Close.
type Proxy struct {
	ctx        context.Context
	store      blobstore.BlobStore
	attachment string
	fields     Fields
	present    bool

	handle blobstore.Handle
}

// Present reports whether the attachment is persisted.
func (p *Proxy) Present() bool { return p.present }

// Absent is the negation of Present.
func (p *Proxy) Absent() bool { return !p.present }

func (p *Proxy) ID() string     { return p.fields.ID }
func (p *Proxy) Name() string   { return p.fields.Name }
func (p *Proxy) Type() string   { return p.fields.Type }
func (p *Proxy) Size() int64    { return p.fields.Size }
func (p *Proxy) Fields() Fields { return p.fields }

// Read reads blob bytes, opening the blob on first use.
func (p *Proxy) Read(b []byte) (int, error) {
	h, err := p.open()
	if err != nil {
		return 0, err
	}
	return h.Read(b)
}

// Bytes reads the remaining blob bytes.
func (p *Proxy) Bytes() ([]byte, error) {
	h, err := p.open()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(h)
	if err != nil {
		return nil, &StoreError{Op: "read", Attachment: p.attachment, BlobID: p.fields.ID, Err: err}
	}
	return data, nil
}

// Query forwards a metadata query to the blob handle, for store-specific
// values such as digest or blob_key. ok is false when the handle does not
// know name.
func (p *Proxy) Query(name string) (any, bool, error) {
	h, err := p.open()
	if err != nil {
		return nil, false, err
	}
	v, ok := h.Capability(name)
	return v, ok, nil
}

// Close releases the blob handle if one was opened.
func (p *Proxy) Close() error {
	if p.handle == nil {
		return nil
	}
	err := p.handle.Close()
	p.handle = nil
	return err
}

func (p *Proxy) open() (blobstore.Handle, error) {
	if !p.present {
		return nil, fmt.Errorf("read %s: %w", p.attachment, ErrAttachmentNotFound)
	}
	if p.handle != nil {
		return p.handle, nil
	}
	if p.store == nil {
		return nil, &StoreError{Op: "open", Attachment: p.attachment, BlobID: p.fields.ID, Err: ErrStoreUnavailable}
	}
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := p.store.Open(ctx, p.fields.ID)
	if err != nil {
		return nil, &StoreError{Op: "open", Attachment: p.attachment, BlobID: p.fields.ID, Err: err}
	}
	p.handle = h
	return h, nil
}
