package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"docgrid/internal/blobstore"
	"docgrid/internal/document"
)

// ReplacePolicy decides what happens to the previous blob when a persisted
// attachment is replaced by new content.
type ReplacePolicy string

const (
	// ReplaceLeaveOrphaned keeps the previous blob; run blob GC to reclaim it.
	ReplaceLeaveOrphaned ReplacePolicy = "leave_orphaned"
	// ReplaceDeleteOld deletes the previous blob once the document write that
	// replaced it has committed.
	ReplaceDeleteOld ReplacePolicy = "delete_old"
)

// ParseReplacePolicy parses a policy name. An empty string selects the default.
func ParseReplacePolicy(raw string) (ReplacePolicy, error) {
	switch ReplacePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ReplaceLeaveOrphaned:
		return ReplaceLeaveOrphaned, nil
	case ReplaceDeleteOld:
		return ReplaceDeleteOld, nil
	default:
		return "", fmt.Errorf("invalid replace policy %q (expected %s or %s)", raw, ReplaceLeaveOrphaned, ReplaceDeleteOld)
	}
}

// Coordinator synchronizes attachment slots with a blob store around
// document saves and destroys.
type Coordinator struct {
	store    blobstore.BlobStore
	registry *Registry
	logger   *slog.Logger
	policy   ReplacePolicy

	mu        sync.Mutex
	installed map[*document.Class]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReplacePolicy sets the replace policy. The default is ReplaceLeaveOrphaned.
func WithReplacePolicy(policy ReplacePolicy) Option {
	return func(c *Coordinator) {
		if policy != "" {
			c.policy = policy
		}
	}
}

// NewCoordinator constructs a Coordinator. A nil registry selects
// DefaultRegistry and a nil logger selects slog.Default.
func NewCoordinator(store blobstore.BlobStore, registry *Registry, logger *slog.Logger, opts ...Option) *Coordinator {
	if registry == nil {
		registry = DefaultRegistry
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:     store,
		registry:  registry,
		logger:    logger.With("component", "attachment"),
		policy:    ReplaceLeaveOrphaned,
		installed: map[*document.Class]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the configured replace policy.
func (c *Coordinator) Policy() ReplacePolicy { return c.policy }

// Registry returns the registry the coordinator reads catalogues from.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Install registers the coordinator's hooks on class. Subclasses inherit the
// hooks, so installing on a class whose ancestor is already covered is a
// no-op. When an ancestor is installed after a descendant, the hooks on the
// descendant stand down and only the topmost installed class runs them.
func (c *Coordinator) Install(class *document.Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coveringLocked(class) != nil {
		return
	}
	c.installed[class] = struct{}{}
	class.On(document.BeforeSave, c.hook(class, c.BeforeSave))
	class.On(document.AfterSave, c.hook(class, c.AfterSave))
	class.On(document.AfterDestroy, c.hook(class, c.AfterDestroy))
}

// hook runs fn only when owner is the topmost installed class in the
// document's lineage, so each save or destroy reaches fn once.
func (c *Coordinator) hook(owner *document.Class, fn document.Hook) document.Hook {
	return func(ctx context.Context, doc *document.Document) error {
		c.mu.Lock()
		covering := c.coveringLocked(doc.Class())
		c.mu.Unlock()
		if covering != owner {
			return nil
		}
		return fn(ctx, doc)
	}
}

func (c *Coordinator) coveringLocked(class *document.Class) *document.Class {
	for _, cls := range class.Lineage() {
		if _, ok := c.installed[cls]; ok {
			return cls
		}
	}
	return nil
}

// For returns the attachment set of doc bound to this coordinator's store.
func (c *Coordinator) For(doc *document.Document) *Set {
	return forDocument(doc, c.registry, c.store)
}

// BeforeSave uploads pending content and deletes cleared blobs, in catalogue
// order, and stamps the results onto the document fields. The first store
// failure aborts the save; the failing slot keeps its pending state so the
// save can be retried.
func (c *Coordinator) BeforeSave(ctx context.Context, doc *document.Document) error {
	set := c.For(doc)
	for _, name := range set.Names() {
		sl, err := set.slot(name)
		if err != nil {
			return err
		}
		switch sl.op {
		case opUpload:
			if err := c.upload(ctx, set, name, sl); err != nil {
				return err
			}
		case opDelete:
			if err := c.remove(ctx, set, name, sl); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Coordinator) upload(ctx context.Context, set *Set, name string, sl *slot) error {
	if c.store == nil {
		return &StoreError{Op: "put", Attachment: name, Err: ErrStoreUnavailable}
	}
	if err := rewind(sl.source); err != nil {
		return &StoreError{Op: "put", Attachment: name, Err: err}
	}

	previous := set.persistedID(name)
	filename := ResolveName(sl.source)
	contentType := ResolveType(filename, sl.declaredType)

	res, err := c.store.Put(ctx, sl.source, blobstore.PutOptions{Name: filename, ContentType: contentType})
	if err != nil {
		return &StoreError{Op: "put", Attachment: name, Err: err}
	}
	if err := set.stamp(name, Fields{ID: res.ID, Name: filename, Type: contentType, Size: res.SizeBytes}); err != nil {
		return fmt.Errorf("stamp %s fields: %w", name, err)
	}
	sl.uploaded()
	c.logger.Debug("attachment uploaded", "document", set.doc.ID(), "attachment", name, "blob_id", res.ID, "size", res.SizeBytes, "content_type", contentType)

	if previous == "" || previous == res.ID {
		return nil
	}
	if c.policy != ReplaceDeleteOld {
		c.logger.Debug("previous blob left orphaned", "document", set.doc.ID(), "attachment", name, "blob_id", previous)
		return nil
	}
	// The stored document still references previous until the write commits.
	set.replaced[name] = append(set.replaced[name], previous)
	return nil
}

// AfterSave deletes blobs replaced under ReplaceDeleteOld now that the
// document no longer references them. Failures are logged and the blob is
// left for GC.
func (c *Coordinator) AfterSave(ctx context.Context, doc *document.Document) error {
	set := c.For(doc)
	for _, name := range set.Names() {
		ids := set.replaced[name]
		if len(ids) == 0 {
			continue
		}
		delete(set.replaced, name)
		for _, id := range ids {
			if err := c.store.Delete(ctx, id); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				c.logger.Warn("delete replaced blob failed", "document", doc.ID(), "attachment", name, "blob_id", id, "error", err)
				continue
			}
			c.logger.Debug("replaced blob deleted", "document", doc.ID(), "attachment", name, "blob_id", id)
		}
	}
	return nil
}

func (c *Coordinator) remove(ctx context.Context, set *Set, name string, sl *slot) error {
	id := set.persistedID(name)
	if id != "" {
		if c.store == nil {
			return &StoreError{Op: "delete", Attachment: name, BlobID: id, Err: ErrStoreUnavailable}
		}
		if err := c.store.Delete(ctx, id); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return &StoreError{Op: "delete", Attachment: name, BlobID: id, Err: err}
		}
	}
	if err := set.clearFields(name); err != nil {
		return fmt.Errorf("clear %s fields: %w", name, err)
	}
	sl.deleted()
	c.logger.Debug("attachment deleted", "document", set.doc.ID(), "attachment", name, "blob_id", id)
	return nil
}

// AfterDestroy deletes the blob every attachment of doc still references,
// plus replaced blobs whose deletion was still waiting on a committed save.
// Every blob is attempted; failures are reported together as a
// *DestroyError.
func (c *Coordinator) AfterDestroy(ctx context.Context, doc *document.Document) error {
	set := c.For(doc)
	var errs []error
	for _, name := range set.Names() {
		ids := set.replaced[name]
		delete(set.replaced, name)
		if id := set.persistedID(name); id != "" {
			ids = append(ids, id)
		}
		for _, id := range ids {
			if c.store == nil {
				errs = append(errs, &StoreError{Op: "delete", Attachment: name, BlobID: id, Err: ErrStoreUnavailable})
				continue
			}
			if err := c.store.Delete(ctx, id); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				c.logger.Warn("delete attachment on destroy failed", "document", doc.ID(), "attachment", name, "blob_id", id, "error", err)
				errs = append(errs, &StoreError{Op: "delete", Attachment: name, BlobID: id, Err: err})
				continue
			}
			c.logger.Debug("attachment deleted on destroy", "document", doc.ID(), "attachment", name, "blob_id", id)
		}
	}
	if len(errs) > 0 {
		return &DestroyError{Document: doc.ID(), Errs: errs}
	}
	return nil
}
