package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"docgrid/internal/attachment"
	"docgrid/internal/document"
	"docgrid/internal/format"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var (
	faint = color.New(color.Faint).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
)

// outputMode carries the --json / --yaml flags.
type outputMode struct {
	json bool
	yaml bool
}

func (m *outputMode) structured() bool { return m.json || m.yaml }

func (m *outputMode) formatter() format.Formatter {
	if m.yaml {
		return format.YAMLFormatter{}
	}
	return format.JSONFormatter{}
}

func (m *outputMode) write(payload any) error {
	return m.formatter().Write(stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(stdout, format, args...)
	return err
}

type attachmentView struct {
	Attachment        string `json:"attachment" yaml:"attachment"`
	State             string `json:"state" yaml:"state"`
	attachment.Fields `yaml:",inline"`
}

type documentView struct {
	ID          string           `json:"id" yaml:"id"`
	Class       string           `json:"class" yaml:"class"`
	Fields      map[string]any   `json:"fields,omitempty" yaml:"fields,omitempty"`
	Attachments []attachmentView `json:"attachments" yaml:"attachments"`
	CreatedAt   time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"updated_at"`
}

func viewDocument(set *attachment.Set, doc *document.Document) documentView {
	owned := map[string]struct{}{}
	view := documentView{
		ID:          doc.ID(),
		Class:       doc.Class().Name(),
		Attachments: []attachmentView{},
		CreatedAt:   doc.CreatedAt(),
		UpdatedAt:   doc.UpdatedAt(),
	}
	for _, name := range set.Names() {
		for _, field := range attachment.FieldNames(name) {
			owned[field] = struct{}{}
		}
		state, _ := set.State(name)
		fields, _ := set.Fields(name)
		view.Attachments = append(view.Attachments, attachmentView{Attachment: name, State: state.String(), Fields: fields})
	}
	for name, value := range doc.Values() {
		if _, ok := owned[name]; ok {
			continue
		}
		if view.Fields == nil {
			view.Fields = map[string]any{}
		}
		view.Fields[name] = value
	}
	return view
}

func writeDocument(mode *outputMode, view documentView) error {
	if mode.structured() {
		return mode.write(view)
	}

	lines := []string{
		fmt.Sprintf("%s %s", bold(view.ID), faint("("+view.Class+")")),
	}
	keys := make([]string, 0, len(view.Fields))
	for k := range view.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, view.Fields[k]))
	}
	for _, a := range view.Attachments {
		if a.ID == "" {
			lines = append(lines, fmt.Sprintf("%s: %s", a.Attachment, faint(a.State)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s %s %s %s",
			a.Attachment, green(a.State), cyan(a.ID), a.Name, faint(fmt.Sprintf("%s, %d bytes", a.Type, a.Size))))
	}
	lines = append(lines,
		faint("created_at: "+formatTime(view.CreatedAt)),
		faint("updated_at: "+formatTime(view.UpdatedAt)),
	)
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
