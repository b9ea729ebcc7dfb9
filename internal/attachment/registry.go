package attachment

import (
	"errors"
	"regexp"
	"sync"

	"docgrid/internal/document"
)

const maxNameLength = 64

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Field suffixes materialized for every declared attachment.
const (
	suffixID   = "_id"
	suffixName = "_name"
	suffixType = "_type"
	suffixSize = "_size"
)

// Declaration is one attachment declared directly on a class.
type Declaration struct {
	Class string `json:"class" yaml:"class"`
	Name  string `json:"name" yaml:"name"`
}

// Registry records attachment declarations per class. Catalogues are
// computed on demand from the class lineage and returned as fresh slices.
type Registry struct {
	mu  sync.RWMutex
	own map[*document.Class][]Declaration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{own: map[*document.Class][]Declaration{}}
}

// DefaultRegistry is the process-wide registry used by Declare, Types and For.
var DefaultRegistry = NewRegistry()

// Declare registers name on class in DefaultRegistry.
func Declare(class *document.Class, name string) error {
	return DefaultRegistry.Declare(class, name)
}

// Types returns the catalogue of class in DefaultRegistry.
func Types(class *document.Class) []string {
	return DefaultRegistry.Catalogue(class)
}

// Declare registers name as an attachment of class and injects its four
// metadata fields into the class schema.
func (r *Registry) Declare(class *document.Class, name string) error {
	if class == nil {
		return &DeclarationError{Name: name, Reason: "class is required"}
	}
	if len(name) > maxNameLength || !namePattern.MatchString(name) {
		return &DeclarationError{Class: class.Name(), Name: name, Reason: "name must match " + namePattern.String() + " and be at most 64 characters", Err: ErrInvalidName}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fields := fieldSet(name)
	for _, f := range fields {
		if existing, ok := class.Field(f.Name); ok && existing.Owner != f.Owner {
			err := &document.FieldConflictError{Class: class.Name(), Field: f.Name, Existing: existing}
			return &DeclarationError{Class: class.Name(), Name: name, Reason: "field " + f.Name + " collides with an existing field", Err: err}
		}
	}
	for _, f := range fields {
		if err := class.RegisterField(f); err != nil {
			var conflict *document.FieldConflictError
			if errors.As(err, &conflict) {
				return &DeclarationError{Class: class.Name(), Name: name, Reason: "field " + conflict.Field + " collides with an existing field", Err: err}
			}
			return &DeclarationError{Class: class.Name(), Name: name, Reason: "register field " + f.Name, Err: err}
		}
	}

	decls := r.own[class]
	for i, d := range decls {
		if d.Name == name {
			decls[i] = Declaration{Class: class.Name(), Name: name}
			return nil
		}
	}
	r.own[class] = append(decls, Declaration{Class: class.Name(), Name: name})
	return nil
}

// Catalogue returns the attachment names visible to class: ancestor
// declarations first, then its own, each name once.
func (r *Registry) Catalogue(class *document.Class) []string {
	if class == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := []string{}
	seen := map[string]struct{}{}
	for _, c := range class.Lineage() {
		for _, d := range r.own[c] {
			if _, ok := seen[d.Name]; ok {
				continue
			}
			seen[d.Name] = struct{}{}
			names = append(names, d.Name)
		}
	}
	return names
}

// Declarations returns only the declarations made directly on class.
func (r *Registry) Declarations(class *document.Class) []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, len(r.own[class]))
	copy(out, r.own[class])
	return out
}

// Lookup reports whether name is in the catalogue of class.
func (r *Registry) Lookup(class *document.Class, name string) bool {
	for _, n := range r.Catalogue(class) {
		if n == name {
			return true
		}
	}
	return false
}

func fieldSet(name string) []document.Field {
	owner := "attachment:" + name
	return []document.Field{
		{Name: name + suffixID, Kind: document.KindString, Nullable: true, Owner: owner},
		{Name: name + suffixName, Kind: document.KindString, Nullable: true, Owner: owner},
		{Name: name + suffixType, Kind: document.KindString, Nullable: true, Owner: owner},
		{Name: name + suffixSize, Kind: document.KindInt, Nullable: true, Owner: owner},
	}
}

// FieldNames returns the four metadata field names of attachment name.
func FieldNames(name string) []string {
	return []string{name + suffixID, name + suffixName, name + suffixType, name + suffixSize}
}
