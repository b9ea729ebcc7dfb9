package attachment

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"docgrid/internal/blobstore"
	"docgrid/internal/document"
)

// countingStore records store calls and can inject failures.
type countingStore struct {
	blobstore.BlobStore

	mu         sync.Mutex
	puts       int
	deletes    int
	opens      int
	failPut    error
	failName   map[string]error
	failDelete map[string]error
}

func (s *countingStore) Put(ctx context.Context, r io.Reader, opts blobstore.PutOptions) (blobstore.BlobPutResult, error) {
	s.mu.Lock()
	s.puts++
	err := s.failPut
	if named := s.failName[opts.Name]; named != nil {
		err = named
	}
	s.mu.Unlock()
	if err != nil {
		return blobstore.BlobPutResult{}, err
	}
	return s.BlobStore.Put(ctx, r, opts)
}

func (s *countingStore) Open(ctx context.Context, id string) (blobstore.Handle, error) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	return s.BlobStore.Open(ctx, id)
}

func (s *countingStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deletes++
	err := s.failDelete[id]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.BlobStore.Delete(ctx, id)
}

func (s *countingStore) calls() (puts, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts, s.deletes
}

// flakyBackend fails updates on demand.
type flakyBackend struct {
	*document.MemoryBackend

	mu         sync.Mutex
	failUpdate error
}

func (b *flakyBackend) Update(ctx context.Context, rec document.Record) error {
	b.mu.Lock()
	err := b.failUpdate
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBackend.Update(ctx, rec)
}

func (b *flakyBackend) setFailUpdate(err error) {
	b.mu.Lock()
	b.failUpdate = err
	b.mu.Unlock()
}

type fixture struct {
	ctx     context.Context
	store   *countingStore
	backend *flakyBackend
	coord   *Coordinator
	engine  *document.Engine
	asset   *document.Class
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := NewRegistry()

	asset := document.NewClass("asset", nil)
	if err := asset.RegisterField(document.Field{Name: "title", Kind: document.KindString, Nullable: true}); err != nil {
		t.Fatalf("register title: %v", err)
	}
	mustDeclare(t, reg, asset, "image", "file")

	store := &countingStore{BlobStore: blobstore.NewMemory(), failName: map[string]error{}, failDelete: map[string]error{}}
	coord := NewCoordinator(store, reg, logger, opts...)
	coord.Install(asset)

	backend := &flakyBackend{MemoryBackend: document.NewMemoryBackend()}
	engine := document.NewEngine(backend, logger)
	engine.Register(asset)

	return &fixture{ctx: context.Background(), store: store, backend: backend, coord: coord, engine: engine, asset: asset}
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	n, err := f.store.Count(f.ctx)
	if err != nil {
		t.Fatalf("count blobs: %v", err)
	}
	return n
}

// create builds, assigns and saves an asset.
func (f *fixture) create(t *testing.T, assign map[string]io.Reader) *document.Document {
	t.Helper()
	doc := document.New(f.asset)
	set := f.coord.For(doc)
	for name, src := range assign {
		if err := set.Assign(name, src); err != nil {
			t.Fatalf("assign %s: %v", name, err)
		}
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	return doc
}

func fixtureFile(t *testing.T, name string, content []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open fixture %s: %v", name, err)
	}
	t.Cleanup(func() { file.Close() })
	return file
}

func readAttachment(t *testing.T, set *Set, name string) []byte {
	t.Helper()
	proxy, err := set.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	defer proxy.Close()
	data, err := proxy.Bytes()
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

var (
	jpegBytes = bytes.Repeat([]byte{0xff, 0xd8, 0xff, 0xe0}, 64)
	pdfBytes  = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 300)...)
)

func TestSaveUploadsAndStampsFields(t *testing.T) {
	f := newFixture(t)
	image := fixtureFile(t, "mr_t.jpg", jpegBytes)
	file := fixtureFile(t, "unixref.pdf", pdfBytes)

	doc := f.create(t, map[string]io.Reader{"image": image, "file": file})
	set := f.coord.For(doc)

	imageFields := mustFields(t, set, "image")
	if imageFields.Name != "mr_t.jpg" || imageFields.Type != "image/jpeg" || imageFields.Size != int64(len(jpegBytes)) || imageFields.ID == "" {
		t.Fatalf("unexpected image fields: %#v", imageFields)
	}
	fileFields := mustFields(t, set, "file")
	if fileFields.Name != "unixref.pdf" || fileFields.Type != "application/pdf" || fileFields.Size != int64(len(pdfBytes)) {
		t.Fatalf("unexpected file fields: %#v", fileFields)
	}
	if id, _ := doc.String("image_id"); id != imageFields.ID {
		t.Fatalf("expected image_id field %q, got %q", imageFields.ID, id)
	}

	info, err := f.store.Stat(f.ctx, imageFields.ID)
	if err != nil {
		t.Fatalf("stat image: %v", err)
	}
	if info.ContentType != "image/jpeg" || info.Name != "mr_t.jpg" {
		t.Fatalf("unexpected stored metadata: %#v", info)
	}

	if !set.Present("image") || !set.Present("file") {
		t.Fatal("expected both attachments present")
	}
	if !bytes.Equal(readAttachment(t, set, "image"), jpegBytes) {
		t.Fatal("image content mismatch")
	}
	if !bytes.Equal(readAttachment(t, set, "file"), pdfBytes) {
		t.Fatal("file content mismatch")
	}
}

func mustFields(t *testing.T, set *Set, name string) Fields {
	t.Helper()
	fields, err := set.Fields(name)
	if err != nil {
		t.Fatalf("fields %s: %v", name, err)
	}
	return fields
}

func TestSecondSaveDoesNotUploadAgain(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})

	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("second save: %v", err)
	}
	puts, _ := f.store.calls()
	if puts != 1 {
		t.Fatalf("expected exactly one put, got %d", puts)
	}
}

func TestClearDeletesOnceAcrossSaves(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})
	set := f.coord.For(doc)

	if err := set.Clear("image"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := f.blobCount(t); got != 1 {
		t.Fatalf("expected no store change before save, got %d blobs", got)
	}
	if st, _ := set.State("image"); st != StatePendingDelete {
		t.Fatalf("expected pending_delete, got %s", st)
	}
	if set.Present("image") {
		t.Fatal("expected pending delete to report not present")
	}

	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := f.blobCount(t); got != 0 {
		t.Fatalf("expected blob removed, got %d", got)
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, deletes := f.store.calls(); deletes != 1 {
		t.Fatalf("expected exactly one delete, got %d", deletes)
	}
	if fields := mustFields(t, set, "image"); fields != (Fields{}) {
		t.Fatalf("expected fields cleared, got %#v", fields)
	}
	if st, _ := set.State("image"); st != StateEmpty {
		t.Fatalf("expected empty, got %s", st)
	}
}

func TestRoundTripIgnoresReadPosition(t *testing.T) {
	f := newFixture(t)
	image := fixtureFile(t, "mr_t.jpg", jpegBytes)
	if _, err := io.ReadAll(image); err != nil {
		t.Fatalf("advance fixture: %v", err)
	}

	doc := f.create(t, map[string]io.Reader{"image": image})
	reloaded, err := f.engine.Reload(f.ctx, doc)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	set := f.coord.For(reloaded)
	if !bytes.Equal(readAttachment(t, set, "image"), jpegBytes) {
		t.Fatal("content mismatch after assigning an advanced reader")
	}
	if size := mustFields(t, set, "image").Size; size != int64(len(jpegBytes)) {
		t.Fatalf("expected size %d, got %d", len(jpegBytes), size)
	}
}

func TestPendingSourceIsRewound(t *testing.T) {
	f := newFixture(t)
	doc := document.New(f.asset)
	set := f.coord.For(doc)
	src := strings.NewReader("pending content")
	if err := set.Assign("file", src); err != nil {
		t.Fatalf("assign: %v", err)
	}

	for i := 0; i < 2; i++ {
		r, ok := set.Pending("file")
		if !ok {
			t.Fatal("expected pending source")
		}
		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("read pending: %v", err)
		}
		if string(data) != "pending content" {
			t.Fatalf("read %d: unexpected pending content %q", i, data)
		}
	}
	if _, ok := set.Pending("image"); ok {
		t.Fatal("expected no pending source for image")
	}
}

func TestNameAndTypeResolution(t *testing.T) {
	f := newFixture(t)

	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})
	if name, _ := doc.String("image_name"); name != "mr_t.jpg" {
		t.Fatalf("expected name from path, got %q", name)
	}

	upload := &uploadedFile{
		namedReader: &namedReader{Reader: bytes.NewReader(jpegBytes), name: "/tmp/mr_t.jpg"},
		original:    "testing.txt",
	}
	doc = f.create(t, map[string]io.Reader{"image": upload})
	if name, _ := doc.String("image_name"); name != "testing.txt" {
		t.Fatalf("expected original filename, got %q", name)
	}
	if typ, _ := doc.String("image_type"); typ != "text/plain" {
		t.Fatalf("expected type from original filename, got %q", typ)
	}

	doc = document.New(f.asset)
	set := f.coord.For(doc)
	if err := set.Assign("file", bytes.NewReader([]byte("raw")), WithContentType("application/x-custom")); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	fields := mustFields(t, set, "file")
	if fields.Type != "application/x-custom" || fields.Name != "" {
		t.Fatalf("unexpected fields for anonymous reader: %#v", fields)
	}
	if v, _ := doc.Get("file_name"); v != nil {
		t.Fatalf("expected null file_name, got %#v", v)
	}
}

func TestDestroyCascade(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})
	empty := f.create(t, nil)

	if got := f.blobCount(t); got != 1 {
		t.Fatalf("expected 1 blob, got %d", got)
	}
	if err := f.engine.Destroy(f.ctx, empty); err != nil {
		t.Fatalf("destroy empty: %v", err)
	}
	if got := f.blobCount(t); got != 1 {
		t.Fatalf("expected destroying empty document to keep 1 blob, got %d", got)
	}
	if err := f.engine.Destroy(f.ctx, doc); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if got := f.blobCount(t); got != 0 {
		t.Fatalf("expected 0 blobs, got %d", got)
	}
}

func TestDestroyAttemptsEverySlot(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{
		"image": fixtureFile(t, "mr_t.jpg", jpegBytes),
		"file":  fixtureFile(t, "unixref.pdf", pdfBytes),
	})
	set := f.coord.For(doc)
	imageID := mustFields(t, set, "image").ID
	fileID := mustFields(t, set, "file").ID

	boom := errors.New("disk on fire")
	f.store.failDelete[imageID] = boom

	err := f.engine.Destroy(f.ctx, doc)
	var destroyErr *DestroyError
	if !errors.As(err, &destroyErr) {
		t.Fatalf("expected DestroyError, got %v", err)
	}
	if len(destroyErr.Errs) != 1 || !errors.Is(err, boom) {
		t.Fatalf("expected one wrapped failure, got %v", destroyErr.Errs)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.BlobID != imageID || storeErr.Op != "delete" {
		t.Fatalf("unexpected store error: %#v", storeErr)
	}
	if _, err := f.store.Stat(f.ctx, fileID); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected file blob deleted despite image failure, got %v", err)
	}
	if !doc.Destroyed() {
		t.Fatal("expected document destroyed")
	}
}

func TestPresence(t *testing.T) {
	f := newFixture(t)
	doc := document.New(f.asset)
	set := f.coord.For(doc)
	for _, name := range set.Names() {
		if set.Present(name) {
			t.Fatalf("expected %s absent on new document", name)
		}
	}
	if set.Present("nope") {
		t.Fatal("expected unknown attachment absent")
	}

	if err := set.Assign("image", bytes.NewReader(jpegBytes)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if set.Present("image") {
		t.Fatal("expected pending upload to be absent before save")
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !set.Present("image") {
		t.Fatal("expected image present after save")
	}
}

func TestAbsentProxyReportsNotFound(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, nil)
	proxy, err := f.coord.For(doc).Get(f.ctx, "image")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !proxy.Absent() {
		t.Fatal("expected absent proxy")
	}
	if _, err := proxy.Read(make([]byte, 4)); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
	}
	if _, _, err := proxy.Query("digest"); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound from query, got %v", err)
	}
	if _, err := f.coord.For(doc).Get(f.ctx, "nope"); !errors.Is(err, ErrUnknownAttachment) {
		t.Fatalf("expected ErrUnknownAttachment, got %v", err)
	}
}

func TestProxyForwardsCapabilities(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})
	proxy, err := f.coord.For(doc).Get(f.ctx, "image")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer proxy.Close()

	if f.store.opens != 0 {
		t.Fatalf("expected no open before first query, got %d", f.store.opens)
	}
	checks := map[string]any{
		"files_id":     proxy.ID(),
		"content_type": "image/jpeg",
		"filename":     "mr_t.jpg",
		"file_length":  int64(len(jpegBytes)),
	}
	for name, want := range checks {
		got, ok, err := proxy.Query(name)
		if err != nil || !ok {
			t.Fatalf("query %s: ok=%v err=%v", name, ok, err)
		}
		if got != want {
			t.Fatalf("query %s: expected %#v, got %#v", name, want, got)
		}
	}
	if _, ok, _ := proxy.Query("no_such_capability"); ok {
		t.Fatal("expected unknown capability to report ok=false")
	}
	if f.store.opens != 1 {
		t.Fatalf("expected handle opened once and cached, got %d opens", f.store.opens)
	}
}

func TestFailedUploadLeavesFieldsAndRetries(t *testing.T) {
	f := newFixture(t)
	doc := document.New(f.asset)
	set := f.coord.For(doc)
	if err := set.Assign("image", fixtureFile(t, "mr_t.jpg", jpegBytes)); err != nil {
		t.Fatalf("assign: %v", err)
	}

	f.store.failPut = blobstore.ErrUnavailable
	err := f.engine.Save(f.ctx, doc)
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "put" || !errors.Is(err, blobstore.ErrUnavailable) {
		t.Fatalf("expected put StoreError, got %v", err)
	}
	if !doc.IsNew() {
		t.Fatal("expected failed save to leave document unsaved")
	}
	if fields := mustFields(t, set, "image"); fields != (Fields{}) {
		t.Fatalf("expected no fields written, got %#v", fields)
	}
	if st, _ := set.State("image"); st != StatePendingUpload {
		t.Fatalf("expected pending_upload after failure, got %s", st)
	}

	f.store.failPut = nil
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if got := f.blobCount(t); got != 1 {
		t.Fatalf("expected 1 blob after retry, got %d", got)
	}
	if !bytes.Equal(readAttachment(t, set, "image"), jpegBytes) {
		t.Fatal("content mismatch after retry")
	}
}

func TestFailedDeleteKeepsPendingDelete(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})
	set := f.coord.For(doc)
	id := mustFields(t, set, "image").ID

	if err := set.Clear("image"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	f.store.failDelete[id] = blobstore.ErrUnavailable
	if err := f.engine.Save(f.ctx, doc); !errors.Is(err, blobstore.ErrUnavailable) {
		t.Fatalf("expected delete failure, got %v", err)
	}
	if st, _ := set.State("image"); st != StatePendingDelete {
		t.Fatalf("expected pending_delete after failure, got %s", st)
	}

	delete(f.store.failDelete, id)
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if got := f.blobCount(t); got != 0 {
		t.Fatalf("expected 0 blobs, got %d", got)
	}
}

func TestDeleteOfMissingBlobCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})
	set := f.coord.For(doc)
	if err := f.store.BlobStore.Delete(f.ctx, mustFields(t, set, "image").ID); err != nil {
		t.Fatalf("delete behind coordinator's back: %v", err)
	}

	if err := set.Clear("image"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	if st, _ := set.State("image"); st != StateEmpty {
		t.Fatalf("expected empty, got %s", st)
	}
}

func TestReplacePolicies(t *testing.T) {
	tests := []struct {
		policy    ReplacePolicy
		wantBlobs int
	}{
		{policy: ReplaceLeaveOrphaned, wantBlobs: 2},
		{policy: ReplaceDeleteOld, wantBlobs: 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t, WithReplacePolicy(tt.policy))
			doc := f.create(t, map[string]io.Reader{"file": fixtureFile(t, "test1.txt", []byte("first file"))})
			set := f.coord.For(doc)
			oldID := mustFields(t, set, "file").ID

			if err := set.Assign("file", fixtureFile(t, "test2.txt", []byte("test2"))); err != nil {
				t.Fatalf("reassign: %v", err)
			}
			if st, _ := set.State("file"); st != StatePendingUpload {
				t.Fatalf("expected pending_upload, got %s", st)
			}
			if err := f.engine.Save(f.ctx, doc); err != nil {
				t.Fatalf("save: %v", err)
			}

			fields := mustFields(t, set, "file")
			if fields.Name != "test2.txt" || fields.Type != "text/plain" || fields.Size != 5 {
				t.Fatalf("unexpected fields after replace: %#v", fields)
			}
			if fields.ID == oldID {
				t.Fatal("expected a new blob id")
			}
			if got := f.blobCount(t); got != tt.wantBlobs {
				t.Fatalf("expected %d blobs, got %d", tt.wantBlobs, got)
			}
			if string(readAttachment(t, set, "file")) != "test2" {
				t.Fatal("expected replaced content")
			}
		})
	}
}

func TestReplaceDeleteOldToleratesDeleteFailure(t *testing.T) {
	f := newFixture(t, WithReplacePolicy(ReplaceDeleteOld))
	doc := f.create(t, map[string]io.Reader{"file": strings.NewReader("one")})
	set := f.coord.For(doc)
	f.store.failDelete[mustFields(t, set, "file").ID] = blobstore.ErrUnavailable

	if err := set.Assign("file", strings.NewReader("two")); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("expected save to succeed despite old blob delete failure, got %v", err)
	}
	if string(readAttachment(t, set, "file")) != "two" {
		t.Fatal("expected new content")
	}
}

func TestReplaceDeleteOldKeepsOldBlobWhenUpdateFails(t *testing.T) {
	f := newFixture(t, WithReplacePolicy(ReplaceDeleteOld))
	doc := f.create(t, map[string]io.Reader{"file": strings.NewReader("one")})
	set := f.coord.For(doc)
	oldID := mustFields(t, set, "file").ID

	if err := set.Assign("file", strings.NewReader("two")); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	f.backend.setFailUpdate(errors.New("disk full"))
	if err := f.engine.Save(f.ctx, doc); err == nil {
		t.Fatal("expected save to fail when the update fails")
	}
	if _, deletes := f.store.calls(); deletes != 0 {
		t.Fatalf("expected no deletes before the update commits, got %d", deletes)
	}

	stored, err := f.engine.Reload(f.ctx, doc)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	storedSet := f.coord.For(stored)
	if got := mustFields(t, storedSet, "file").ID; got != oldID {
		t.Fatalf("expected stored record to keep %s, got %s", oldID, got)
	}
	if string(readAttachment(t, storedSet, "file")) != "one" {
		t.Fatal("expected stored record to still read the old content")
	}

	f.backend.setFailUpdate(nil)
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if got := f.blobCount(t); got != 1 {
		t.Fatalf("expected old blob deleted after the retry commits, got %d blobs", got)
	}
	if string(readAttachment(t, set, "file")) != "two" {
		t.Fatal("expected new content")
	}
	if _, err := f.store.Open(f.ctx, oldID); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected old blob gone, got %v", err)
	}
}

func TestReplaceDeleteOldKeepsEarlierSlotWhenLaterUploadFails(t *testing.T) {
	f := newFixture(t, WithReplacePolicy(ReplaceDeleteOld))
	doc := f.create(t, map[string]io.Reader{
		"image": fixtureFile(t, "a.jpg", jpegBytes),
		"file":  fixtureFile(t, "a.pdf", pdfBytes),
	})
	set := f.coord.For(doc)

	if err := set.Assign("image", fixtureFile(t, "b.jpg", []byte("new image"))); err != nil {
		t.Fatalf("reassign image: %v", err)
	}
	if err := set.Assign("file", fixtureFile(t, "b.pdf", []byte("new file"))); err != nil {
		t.Fatalf("reassign file: %v", err)
	}
	f.store.failName["b.pdf"] = blobstore.ErrUnavailable
	if err := f.engine.Save(f.ctx, doc); !errors.Is(err, blobstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	stored, err := f.engine.Reload(f.ctx, doc)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	storedSet := f.coord.For(stored)
	if !bytes.Equal(readAttachment(t, storedSet, "image"), jpegBytes) {
		t.Fatal("expected stored image to stay readable after the failed save")
	}
	if !bytes.Equal(readAttachment(t, storedSet, "file"), pdfBytes) {
		t.Fatal("expected stored file to stay readable after the failed save")
	}

	delete(f.store.failName, "b.pdf")
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if got := f.blobCount(t); got != 2 {
		t.Fatalf("expected both replaced blobs deleted, got %d blobs", got)
	}
	if string(readAttachment(t, set, "image")) != "new image" || string(readAttachment(t, set, "file")) != "new file" {
		t.Fatal("expected replaced content in both attachments")
	}
}

func TestDestroyDeletesReplacedBlobsOfUncommittedSave(t *testing.T) {
	f := newFixture(t, WithReplacePolicy(ReplaceDeleteOld))
	doc := f.create(t, map[string]io.Reader{"file": strings.NewReader("one")})
	set := f.coord.For(doc)

	if err := set.Assign("file", strings.NewReader("two")); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	f.backend.setFailUpdate(errors.New("disk full"))
	if err := f.engine.Save(f.ctx, doc); err == nil {
		t.Fatal("expected save to fail")
	}
	if err := f.engine.Destroy(f.ctx, doc); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if got := f.blobCount(t); got != 0 {
		t.Fatalf("expected every blob deleted on destroy, got %d", got)
	}
}

func TestClearPendingReplacementStillDeletesPersisted(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"file": strings.NewReader("one")})
	set := f.coord.For(doc)

	if err := set.Assign("file", strings.NewReader("two")); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := set.Clear("file"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if st, _ := set.State("file"); st != StatePendingDelete {
		t.Fatalf("expected pending_delete, got %s", st)
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	puts, deletes := f.store.calls()
	if puts != 1 || deletes != 1 {
		t.Fatalf("expected 1 put and 1 delete, got %d and %d", puts, deletes)
	}
}

func TestUpdatingOtherFieldsKeepsAttachment(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]io.Reader{"image": fixtureFile(t, "mr_t.jpg", jpegBytes)})
	if err := doc.Set("title", "Updated"); err != nil {
		t.Fatalf("set title: %v", err)
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := f.engine.Reload(f.ctx, doc)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if title, _ := reloaded.String("title"); title != "Updated" {
		t.Fatalf("expected updated title, got %q", title)
	}
	if !bytes.Equal(readAttachment(t, f.coord.For(reloaded), "image"), jpegBytes) {
		t.Fatal("attachment content changed")
	}
	if puts, _ := f.store.calls(); puts != 1 {
		t.Fatalf("expected one put, got %d", puts)
	}
}

func TestAssignUnknownAttachment(t *testing.T) {
	f := newFixture(t)
	set := f.coord.For(document.New(f.asset))
	if err := set.Assign("video", strings.NewReader("x")); !errors.Is(err, ErrUnknownAttachment) {
		t.Fatalf("expected ErrUnknownAttachment, got %v", err)
	}
}

func TestSubclassSharesInstalledHooks(t *testing.T) {
	f := newFixture(t)
	sub := document.NewClass("document", f.asset)
	mustDeclare(t, f.coord.Registry(), sub, "preview")
	f.coord.Install(sub)
	f.engine.Register(sub)

	doc := document.New(sub)
	set := f.coord.For(doc)
	if err := set.Assign("preview", strings.NewReader("thumb")); err != nil {
		t.Fatalf("assign preview: %v", err)
	}
	if err := set.Assign("image", bytes.NewReader(jpegBytes)); err != nil {
		t.Fatalf("assign image: %v", err)
	}
	if err := f.engine.Save(f.ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	if puts, _ := f.store.calls(); puts != 2 {
		t.Fatalf("expected 2 puts with hooks installed once, got %d", puts)
	}

	found, err := f.engine.Find(f.ctx, f.asset, doc.ID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !f.coord.For(found).Present("preview") {
		t.Fatal("expected preview present on polymorphic load")
	}
}

func TestHooksRunOnceWhenParentInstalledAfterChild(t *testing.T) {
	reg := NewRegistry()
	base := document.NewClass("asset", nil)
	sub := document.NewClass("document", base)
	mustDeclare(t, reg, base, "image")

	store := &countingStore{BlobStore: blobstore.NewMemory(), failName: map[string]error{}, failDelete: map[string]error{}}
	coord := NewCoordinator(store, reg, nil)
	coord.Install(sub)
	coord.Install(base)
	coord.Install(sub)

	engine := document.NewEngine(document.NewMemoryBackend(), nil)
	engine.Register(base, sub)
	ctx := context.Background()

	for _, class := range []*document.Class{sub, base} {
		doc := document.New(class)
		if err := coord.For(doc).Assign("image", strings.NewReader("x")); err != nil {
			t.Fatalf("assign %s: %v", class.Name(), err)
		}
		if err := engine.Save(ctx, doc); err != nil {
			t.Fatalf("save %s: %v", class.Name(), err)
		}
		if err := engine.Destroy(ctx, doc); err != nil {
			t.Fatalf("destroy %s: %v", class.Name(), err)
		}
	}
	puts, deletes := store.calls()
	if puts != 2 || deletes != 2 {
		t.Fatalf("expected one put and one delete per document, got %d puts and %d deletes", puts, deletes)
	}
}

func TestStoreUnavailable(t *testing.T) {
	reg := NewRegistry()
	class := document.NewClass("asset", nil)
	mustDeclare(t, reg, class, "image")
	coord := NewCoordinator(nil, reg, nil)
	coord.Install(class)
	engine := document.NewEngine(document.NewMemoryBackend(), nil)

	doc := document.New(class)
	if err := coord.For(doc).Assign("image", strings.NewReader("x")); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := engine.Save(context.Background(), doc); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestParseReplacePolicy(t *testing.T) {
	tests := map[string]ReplacePolicy{
		"":               ReplaceLeaveOrphaned,
		"leave_orphaned": ReplaceLeaveOrphaned,
		" DELETE_OLD ":   ReplaceDeleteOld,
	}
	for raw, want := range tests {
		got, err := ParseReplacePolicy(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: expected %s, got %s (%v)", raw, want, got, err)
		}
	}
	if _, err := ParseReplacePolicy("shred"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if NewCoordinator(nil, nil, nil).Policy() != ReplaceLeaveOrphaned {
		t.Fatal("expected leave_orphaned default")
	}
}
