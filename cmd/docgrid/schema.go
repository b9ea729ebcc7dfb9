package main

import (
	"fmt"
	"sort"

	"docgrid/internal/attachment"
	"docgrid/internal/document"
)

// schema is the demo class tree the CLI manages: an asset carries an image
// and a file, and a document is an asset that also carries a preview.
type schema struct {
	registry *attachment.Registry
	classes  map[string]*document.Class
	root     *document.Class
}

func newSchema() (*schema, error) {
	reg := attachment.NewRegistry()

	asset := document.NewClass("asset", nil)
	if err := asset.RegisterField(document.Field{Name: "title", Kind: document.KindString, Nullable: true}); err != nil {
		return nil, err
	}
	doc := document.NewClass("document", asset)

	declarations := []struct {
		class *document.Class
		names []string
	}{
		{asset, []string{"image", "file"}},
		{doc, []string{"preview"}},
	}
	for _, d := range declarations {
		for _, name := range d.names {
			if err := reg.Declare(d.class, name); err != nil {
				return nil, err
			}
		}
	}

	return &schema{
		registry: reg,
		classes:  map[string]*document.Class{asset.Name(): asset, doc.Name(): doc},
		root:     asset,
	}, nil
}

func (s *schema) class(name string) (*document.Class, error) {
	c, ok := s.classes[name]
	if !ok {
		return nil, fmt.Errorf("unknown class %q (known: %v)", name, s.classNames())
	}
	return c, nil
}

func (s *schema) classNames() []string {
	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *schema) all() []*document.Class {
	out := make([]*document.Class, 0, len(s.classes))
	for _, name := range s.classNames() {
		out = append(out, s.classes[name])
	}
	return out
}
