package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docgrid/internal/document"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInsertLoadUpdateDelete(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := document.Record{
		ID:        "doc-1",
		Class:     "asset",
		Fields:    map[string]any{"title": "hello", "image_size": int64(13661)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.Insert(ctx, rec); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}

	got, err := st.Load(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Class != "asset" || got.Fields["title"] != "hello" {
		t.Fatalf("unexpected record: %#v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, got.CreatedAt)
	}

	rec.Fields = map[string]any{"title": "updated"}
	rec.UpdatedAt = now.Add(time.Second)
	if err := st.Update(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = st.Load(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load after update: %v", err)
	}
	if got.Fields["title"] != "updated" {
		t.Fatalf("expected updated title, got %#v", got.Fields)
	}
	if _, ok := got.Fields["image_size"]; ok {
		t.Fatalf("expected image_size to be gone, got %#v", got.Fields)
	}

	if err := st.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, "doc-1"); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := st.Load(ctx, "doc-1"); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on load, got %v", err)
	}
	if err := st.Update(ctx, rec); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestCountAndList(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, class := range []string{"asset", "asset", "image", "video"} {
		rec := document.Record{
			ID:        "doc-" + string(rune('a'+i)),
			Class:     class,
			Fields:    map[string]any{},
			CreatedAt: now,
			UpdatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}

	count, err := st.Count(ctx, []string{"asset", "image"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}

	records, err := st.List(ctx, []string{"asset", "image"}, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].ID != "doc-c" {
		t.Fatalf("expected newest first with limit 2, got %#v", records)
	}
}

func TestEngineRoundTripThroughSQLite(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	class := document.NewClass("asset", nil)
	_ = class.RegisterField(document.Field{Name: "title", Kind: document.KindString, Nullable: true})
	_ = class.RegisterField(document.Field{Name: "file_size", Kind: document.KindInt, Nullable: true})

	engine := document.NewEngine(st, nil)
	engine.Register(class)

	doc := document.New(class)
	_ = doc.Set("title", "report")
	_ = doc.Set("file_size", int64(68926))
	if err := engine.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := engine.Find(ctx, class, doc.ID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if size, ok := loaded.Int64("file_size"); !ok || size != 68926 {
		t.Fatalf("expected file_size 68926, got %v %v", size, ok)
	}
	if title, _ := loaded.String("title"); title != "report" {
		t.Fatalf("expected title report, got %q", title)
	}
}

func TestOpenCreatesParentDirAndAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "docs.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if st.Path() != path {
		t.Fatalf("expected path %q, got %q", path, st.Path())
	}

	var mode string
	if err := st.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("expected WAL journal mode, got %q", mode)
	}

	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
