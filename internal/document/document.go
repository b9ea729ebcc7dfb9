package document

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Document is one instance of a class. Field values are nil (null), string,
// int64 or bool according to the field kind.
type Document struct {
	id        string
	class     *Class
	values    map[string]any
	changed   map[string]struct{}
	persisted bool
	destroyed bool
	createdAt time.Time
	updatedAt time.Time

	extensions map[any]any
}

// New creates an unsaved document with a fresh id and every field null.
func New(class *Class) *Document {
	return &Document{
		id:         uuid.NewString(),
		class:      class,
		values:     map[string]any{},
		changed:    map[string]struct{}{},
		extensions: map[any]any{},
	}
}

// Restore rebuilds a persisted document from stored values. Values that do
// not match a field of the class are dropped; JSON numbers are coerced to the
// field kind.
func Restore(class *Class, id string, values map[string]any, createdAt, updatedAt time.Time) (*Document, error) {
	doc := New(class)
	doc.id = id
	doc.persisted = true
	doc.createdAt = createdAt
	doc.updatedAt = updatedAt
	for _, f := range class.Fields() {
		raw, ok := values[f.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := coerce(f, raw)
		if err != nil {
			return nil, fmt.Errorf("restore %s %s: %w", class.Name(), id, err)
		}
		doc.values[f.Name] = v
	}
	return doc, nil
}

func (d *Document) ID() string           { return d.id }
func (d *Document) Class() *Class        { return d.class }
func (d *Document) IsNew() bool          { return !d.persisted }
func (d *Document) Destroyed() bool      { return d.destroyed }
func (d *Document) CreatedAt() time.Time { return d.createdAt }
func (d *Document) UpdatedAt() time.Time { return d.updatedAt }

// Get returns the value of a field; nil means null.
func (d *Document) Get(name string) (any, error) {
	if _, ok := d.class.Field(name); !ok {
		return nil, fmt.Errorf("class %s has no field %q", d.class.Name(), name)
	}
	return d.values[name], nil
}

// String returns a string field; ok is false when the field is null.
func (d *Document) String(name string) (string, bool) {
	v, ok := d.values[name].(string)
	return v, ok
}

// Int64 returns an int field; ok is false when the field is null.
func (d *Document) Int64(name string) (int64, bool) {
	v, ok := d.values[name].(int64)
	return v, ok
}

// Bool returns a bool field; ok is false when the field is null.
func (d *Document) Bool(name string) (bool, bool) {
	v, ok := d.values[name].(bool)
	return v, ok
}

// Set assigns a field value. nil clears a nullable field. The field is only
// marked changed when the value differs from the current one.
func (d *Document) Set(name string, value any) error {
	f, ok := d.class.Field(name)
	if !ok {
		return fmt.Errorf("class %s has no field %q", d.class.Name(), name)
	}
	if value == nil {
		if !f.Nullable {
			return fmt.Errorf("field %q is not nullable", name)
		}
		if _, had := d.values[name]; had {
			delete(d.values, name)
			d.changed[name] = struct{}{}
		}
		return nil
	}
	v, err := coerce(f, value)
	if err != nil {
		return err
	}
	if cur, had := d.values[name]; had && cur == v {
		return nil
	}
	d.values[name] = v
	d.changed[name] = struct{}{}
	return nil
}

// IsNewOrChanged reports whether the field must be written on the next save.
func (d *Document) IsNewOrChanged(name string) bool {
	if !d.persisted {
		return true
	}
	_, ok := d.changed[name]
	return ok
}

// Changed reports whether the field was modified since the last save.
func (d *Document) Changed(name string) bool {
	_, ok := d.changed[name]
	return ok
}

// ChangedFields lists modified fields in name order.
func (d *Document) ChangedFields() []string {
	out := make([]string, 0, len(d.changed))
	for name := range d.changed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Values returns a copy of all non-null field values.
func (d *Document) Values() map[string]any {
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Extension returns per-instance state attached by a package under key.
func (d *Document) Extension(key any) (any, bool) {
	v, ok := d.extensions[key]
	return v, ok
}

// SetExtension attaches per-instance state under key. Keys should be
// unexported types owned by the calling package.
func (d *Document) SetExtension(key, value any) {
	d.extensions[key] = value
}

func (d *Document) markSaved(now time.Time) {
	if !d.persisted {
		d.createdAt = now
	}
	d.persisted = true
	d.updatedAt = now
	d.changed = map[string]struct{}{}
}

func (d *Document) markDestroyed() {
	d.destroyed = true
}

func coerce(f Field, value any) (any, error) {
	switch f.Kind {
	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case KindInt:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
	}
	return nil, fmt.Errorf("field %q: cannot use %T as %s", f.Name, value, f.Kind)
}
