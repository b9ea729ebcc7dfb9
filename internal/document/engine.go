package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no stored document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrDestroyed is returned when saving a destroyed document.
	ErrDestroyed = errors.New("document is destroyed")
)

// Record is the storage form of a document.
type Record struct {
	ID        string
	Class     string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Backend persists document records.
type Backend interface {
	Insert(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context, id string) (*Record, error)
	Count(ctx context.Context, classes []string) (int, error)
}

// Engine runs document saves and destroys against a backend, firing class
// hooks around each write.
type Engine struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.RWMutex
	classes map[string]*Class
}

// NewEngine constructs an Engine.
func NewEngine(backend Backend, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{backend: backend, logger: logger.With("component", "document"), classes: map[string]*Class{}}
}

// Register makes classes loadable by name.
func (e *Engine) Register(classes ...*Class) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range classes {
		e.classes[c.Name()] = c
	}
}

// Class returns a registered class by name.
func (e *Engine) Class(name string) (*Class, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.classes[name]
	return c, ok
}

// Save runs before-save hooks, writes the document when it is new or has
// changed fields, then runs after-save hooks.
func (e *Engine) Save(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	if doc.Destroyed() {
		return fmt.Errorf("save %s: %w", doc.ID(), ErrDestroyed)
	}

	for _, hook := range doc.Class().Hooks(BeforeSave) {
		if err := hook(ctx, doc); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	switch {
	case doc.IsNew():
		rec := recordOf(doc, now, now)
		if err := e.backend.Insert(ctx, rec); err != nil {
			return fmt.Errorf("insert %s: %w", doc.ID(), err)
		}
		e.logger.Debug("document inserted", "class", doc.Class().Name(), "id", doc.ID())
		doc.markSaved(now)
	case len(doc.ChangedFields()) > 0:
		changed := doc.ChangedFields()
		rec := recordOf(doc, doc.CreatedAt(), now)
		if err := e.backend.Update(ctx, rec); err != nil {
			return fmt.Errorf("update %s: %w", doc.ID(), err)
		}
		e.logger.Debug("document updated", "class", doc.Class().Name(), "id", doc.ID(), "fields", changed)
		doc.markSaved(now)
	}

	for _, hook := range doc.Class().Hooks(AfterSave) {
		if err := hook(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Destroy runs before-destroy hooks, deletes the stored record and runs
// after-destroy hooks. Errors from after-destroy hooks are returned after the
// record is already gone.
func (e *Engine) Destroy(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	if doc.Destroyed() {
		return nil
	}

	for _, hook := range doc.Class().Hooks(BeforeDestroy) {
		if err := hook(ctx, doc); err != nil {
			return err
		}
	}

	if !doc.IsNew() {
		if err := e.backend.Delete(ctx, doc.ID()); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete %s: %w", doc.ID(), err)
		}
	}
	doc.markDestroyed()
	e.logger.Debug("document destroyed", "class", doc.Class().Name(), "id", doc.ID())

	var errs []error
	for _, hook := range doc.Class().Hooks(AfterDestroy) {
		if err := hook(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Find loads a document by id. The stored class must be class or one of its
// registered descendants.
func (e *Engine) Find(ctx context.Context, class *Class, id string) (*Document, error) {
	rec, err := e.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	stored := class
	if rec.Class != class.Name() {
		c, ok := e.Class(rec.Class)
		if !ok || !c.IsA(class) {
			return nil, fmt.Errorf("document %s is a %s, not a %s: %w", id, rec.Class, class.Name(), ErrNotFound)
		}
		stored = c
	}
	return Restore(stored, rec.ID, rec.Fields, rec.CreatedAt, rec.UpdatedAt)
}

// Reload returns a fresh instance of doc as currently stored.
func (e *Engine) Reload(ctx context.Context, doc *Document) (*Document, error) {
	return e.Find(ctx, doc.Class(), doc.ID())
}

// Count returns the number of stored documents of class and its registered descendants.
func (e *Engine) Count(ctx context.Context, class *Class) (int, error) {
	names := []string{class.Name()}
	e.mu.RLock()
	for name, c := range e.classes {
		if c != class && c.IsA(class) {
			names = append(names, name)
		}
	}
	e.mu.RUnlock()
	return e.backend.Count(ctx, names)
}

func recordOf(doc *Document, createdAt, updatedAt time.Time) Record {
	return Record{
		ID:        doc.ID(),
		Class:     doc.Class().Name(),
		Fields:    doc.Values(),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}
