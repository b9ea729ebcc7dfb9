package attachment

import (
	"context"
	"fmt"
	"io"

	"docgrid/internal/blobstore"
	"docgrid/internal/document"
)

// setKey stores one Set per registry on a document, so a set never walks a
// catalogue other than the one it was built from.
type setKey struct {
	registry *Registry
}

// Set is the attachment surface of one document instance. It is created on
// first use and stored on the document, so every call for the same instance
// and registry sees the same slots.
type Set struct {
	doc      *document.Document
	registry *Registry
	store    blobstore.BlobStore
	slots    map[string]*slot
	// replaced holds blob ids superseded by an upload whose document write
	// has not committed yet.
	replaced map[string][]string
}

// AssignOption configures one assignment.
type AssignOption func(*assignOptions)

type assignOptions struct {
	contentType string
}

// WithContentType supplies the MIME type instead of deriving it from the name.
func WithContentType(contentType string) AssignOption {
	return func(o *assignOptions) { o.contentType = contentType }
}

// For returns the attachment set of doc using DefaultRegistry. Proxies from
// a set with no bound store report ErrStoreUnavailable on read; use
// Coordinator.For to bind one.
func For(doc *document.Document) *Set {
	return forDocument(doc, DefaultRegistry, nil)
}

func forDocument(doc *document.Document, registry *Registry, store blobstore.BlobStore) *Set {
	key := setKey{registry: registry}
	if v, ok := doc.Extension(key); ok {
		if set, ok := v.(*Set); ok {
			if set.store == nil {
				set.store = store
			}
			return set
		}
	}
	set := &Set{doc: doc, registry: registry, store: store, slots: map[string]*slot{}, replaced: map[string][]string{}}
	doc.SetExtension(key, set)
	return set
}

// Names returns the catalogue of the document's class.
func (s *Set) Names() []string {
	return s.registry.Catalogue(s.doc.Class())
}

// Assign sets the content of attachment name. A nil src clears it. Nothing
// is uploaded or deleted until the document is saved.
func (s *Set) Assign(name string, src io.Reader, opts ...AssignOption) error {
	sl, err := s.slot(name)
	if err != nil {
		return err
	}
	var o assignOptions
	for _, opt := range opts {
		opt(&o)
	}
	sl.assign(src, o.contentType, s.persistedID(name))
	return nil
}

// Clear assigns nil to attachment name.
func (s *Set) Clear(name string) error {
	return s.Assign(name, nil)
}

// State returns the lifecycle state of attachment name.
func (s *Set) State(name string) (State, error) {
	sl, err := s.slot(name)
	if err != nil {
		return StateEmpty, err
	}
	return sl.state(s.persistedID(name)), nil
}

// Present reports whether attachment name is persisted. Unknown names are
// reported as not present.
func (s *Set) Present(name string) bool {
	st, err := s.State(name)
	return err == nil && st == StatePersisted
}

// Fields returns the stored metadata fields of attachment name.
func (s *Set) Fields(name string) (Fields, error) {
	if _, err := s.slot(name); err != nil {
		return Fields{}, err
	}
	return s.fields(name), nil
}

// Get returns a proxy for attachment name. The proxy opens the blob with ctx
// on first read.
func (s *Set) Get(ctx context.Context, name string) (*Proxy, error) {
	if _, err := s.slot(name); err != nil {
		return nil, err
	}
	return &Proxy{
		ctx:        ctx,
		store:      s.store,
		attachment: name,
		fields:     s.fields(name),
		present:    s.Present(name),
	}, nil
}

// Pending returns the unsaved source of attachment name, rewound to its
// start when seekable.
func (s *Set) Pending(name string) (io.Reader, bool) {
	sl, err := s.slot(name)
	if err != nil || sl.op != opUpload {
		return nil, false
	}
	if err := rewind(sl.source); err != nil {
		return nil, false
	}
	return sl.source, true
}

func (s *Set) slot(name string) (*slot, error) {
	if sl, ok := s.slots[name]; ok {
		return sl, nil
	}
	if !s.registry.Lookup(s.doc.Class(), name) {
		return nil, fmt.Errorf("%s on %s: %w", name, s.doc.Class().Name(), ErrUnknownAttachment)
	}
	sl := &slot{}
	s.slots[name] = sl
	return sl, nil
}

func (s *Set) persistedID(name string) string {
	id, _ := s.doc.String(name + suffixID)
	return id
}

func (s *Set) fields(name string) Fields {
	var f Fields
	f.ID, _ = s.doc.String(name + suffixID)
	f.Name, _ = s.doc.String(name + suffixName)
	f.Type, _ = s.doc.String(name + suffixType)
	f.Size, _ = s.doc.Int64(name + suffixSize)
	return f
}

func (s *Set) stamp(name string, f Fields) error {
	values := []struct {
		field string
		value any
	}{
		{name + suffixID, f.ID},
		{name + suffixName, f.Name},
		{name + suffixType, f.Type},
		{name + suffixSize, f.Size},
	}
	for _, v := range values {
		if str, ok := v.value.(string); ok && str == "" {
			v.value = nil
		}
		if err := s.doc.Set(v.field, v.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) clearFields(name string) error {
	for _, field := range FieldNames(name) {
		if err := s.doc.Set(field, nil); err != nil {
			return err
		}
	}
	return nil
}
