package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"docgrid/internal/attachment"
	"docgrid/internal/blobstore"
	"docgrid/internal/config"
	"docgrid/internal/document"
	"docgrid/internal/store"
)

// app holds the stores and engine opened for one command.
type app struct {
	cfg    *config.Config
	db     *store.Store
	blobs  blobstore.BlobStore
	engine *document.Engine
	coord  *attachment.Coordinator
	schema *schema

	closers []func() error
}

func openApp(cfg *config.Config) (*app, error) {
	sch, err := newSchema()
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	policy, err := attachment.ParseReplacePolicy(cfg.Attachments.ReplacePolicy)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	a := &app{cfg: cfg, db: db, schema: sch, closers: []func() error{db.Close}}

	blobs, closeBlobs, err := openBlobStore(cfg.BlobStore)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.blobs = blobs
	a.closers = append(a.closers, closeBlobs)

	logger := slog.Default()
	a.coord = attachment.NewCoordinator(blobs, sch.registry, logger, attachment.WithReplacePolicy(policy))
	a.engine = document.NewEngine(db, logger)
	for _, class := range sch.all() {
		a.coord.Install(class)
		a.engine.Register(class)
	}
	return a, nil
}

func openBlobStore(cfg config.BlobStoreConfig) (blobstore.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendLocal, "":
		cas, err := blobstore.NewLocalCAS(cfg.Root, blobstore.WithDigest(cfg.Digest), blobstore.WithCompression(cfg.Compress))
		if err != nil {
			return nil, nil, fmt.Errorf("open local blob store: %w", err)
		}
		return cas, noop, nil
	case config.BackendBadger:
		b, err := blobstore.OpenBadger(filepath.Join(cfg.Root, "badger"))
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.BackendMemory:
		return blobstore.NewMemory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// Close releases every store in reverse open order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func withApp(cfg *config.Config, fn func(*app) error) (err error) {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(a)
}

// find loads a document of any class in the schema.
func (a *app) find(ctx context.Context, id string) (*document.Document, error) {
	return a.engine.Find(ctx, a.schema.root, id)
}
