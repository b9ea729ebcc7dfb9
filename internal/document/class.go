package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind is the scalar type of a field.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
)

// Field is one scalar field on a class schema. Owner tags fields injected by
// an extension (for example "attachment:image"); plain fields have no owner.
type Field struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Nullable bool   `json:"nullable"`
	Owner    string `json:"owner,omitempty"`
}

// HookPoint selects when a hook runs relative to a write.
type HookPoint string

const (
	BeforeSave    HookPoint = "before_save"
	AfterSave     HookPoint = "after_save"
	BeforeDestroy HookPoint = "before_destroy"
	AfterDestroy  HookPoint = "after_destroy"
)

// Hook is a lifecycle callback. Errors from before-hooks abort the write.
type Hook func(ctx context.Context, doc *Document) error

// ErrFieldExists is wrapped by FieldConflictError.
var ErrFieldExists = errors.New("field already exists")

// FieldConflictError reports a field name already taken on the class or an ancestor.
type FieldConflictError struct {
	Class    string
	Field    string
	Existing Field
}

func (e *FieldConflictError) Error() string {
	owner := e.Existing.Owner
	if owner == "" {
		owner = "plain field"
	}
	return fmt.Sprintf("class %s: field %q already exists (%s)", e.Class, e.Field, owner)
}

func (e *FieldConflictError) Unwrap() error { return ErrFieldExists }

// Class is a document schema. Subclasses see every ancestor field and hook
// followed by their own; siblings share nothing.
type Class struct {
	name   string
	parent *Class

	mu     sync.RWMutex
	fields []Field
	hooks  map[HookPoint][]Hook
}

// NewClass creates a class. parent may be nil.
func NewClass(name string, parent *Class) *Class {
	return &Class{name: name, parent: parent, hooks: map[HookPoint][]Hook{}}
}

func (c *Class) Name() string   { return c.name }
func (c *Class) Parent() *Class { return c.parent }

// Lineage returns the class chain from the root ancestor down to c.
func (c *Class) Lineage() []*Class {
	var chain []*Class
	for cur := c; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// IsA reports whether c is other or descends from it.
func (c *Class) IsA(other *Class) bool {
	for cur := c; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// RegisterField adds f to the class schema.
//
// A field with the same name and the same non-empty owner is treated as a
// re-registration: it replaces an own field in place and is a no-op when an
// ancestor already carries it. Any other name clash is a FieldConflictError.
func (c *Class) RegisterField(f Field) error {
	if f.Name == "" {
		return fmt.Errorf("class %s: field name is required", c.name)
	}
	if f.Kind == "" {
		return fmt.Errorf("class %s: field %q kind is required", c.name, f.Name)
	}

	if c.parent != nil {
		if existing, ok := c.parent.Field(f.Name); ok {
			if existing.Owner != "" && existing.Owner == f.Owner {
				return nil
			}
			return &FieldConflictError{Class: c.name, Field: f.Name, Existing: existing}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.fields {
		if existing.Name != f.Name {
			continue
		}
		if existing.Owner != "" && existing.Owner == f.Owner {
			c.fields[i] = f
			return nil
		}
		return &FieldConflictError{Class: c.name, Field: f.Name, Existing: existing}
	}
	c.fields = append(c.fields, f)
	return nil
}

// Fields returns ancestor fields followed by own fields, as a fresh slice.
func (c *Class) Fields() []Field {
	var out []Field
	if c.parent != nil {
		out = c.parent.Fields()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append(out, c.fields...)
}

// Field looks up a field by name, including inherited ones.
func (c *Class) Field(name string) (Field, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for _, f := range cur.fields {
			if f.Name == name {
				cur.mu.RUnlock()
				return f, true
			}
		}
		cur.mu.RUnlock()
	}
	return Field{}, false
}

// On registers a hook on this class; subclasses inherit it.
func (c *Class) On(point HookPoint, hook Hook) {
	if hook == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[point] = append(c.hooks[point], hook)
}

// Hooks returns the hooks for point, ancestors first.
func (c *Class) Hooks(point HookPoint) []Hook {
	var out []Hook
	for _, cls := range c.Lineage() {
		cls.mu.RLock()
		out = append(out, cls.hooks[point]...)
		cls.mu.RUnlock()
	}
	return out
}
