package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chuncker/internal/cache"
	"chuncker/internal/chunkengine"
	"chuncker/internal/config"
	"chuncker/internal/eventbus"
	"chuncker/internal/fileservice"
	"chuncker/internal/indexer"
	"chuncker/internal/metadata"
	"chuncker/internal/storage"
)

// app bundles every constructed component a CLI command might need.
// Built once in main, closed once on exit.
type app struct {
	store    metadataStore
	cache    *cache.Cache
	bus      *eventbus.Bus
	engine   *chunkengine.Engine
	files    *fileservice.Service
	indexer  *indexer.Indexer
	closers  []func() error
}

// metadataStore is satisfied by both metadata.MemoryStore and
// metadata.MongoStore; main picks the backend from cfg.Store.ConnectionString.
type metadataStore interface {
	Files() metadata.FileStore
	Chunks() metadata.ChunkStore
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	if cfg.Store.ConnectionString != "" {
		mongoStore, err := metadata.NewMongoStore(ctx, metadata.Config{
			ConnectionString: cfg.Store.ConnectionString,
			Database:         cfg.Store.Database,
			FilesCollection:  cfg.Store.FilesCollection,
			ChunksCollection: cfg.Store.ChunksCollection,
			LogsCollection:   cfg.Store.LogsCollection,
			LogsTTL:          time.Duration(cfg.Store.LogsTTLDays) * 24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("connect metadata store: %w", err)
		}
		a.store = mongoStore
		a.closers = append(a.closers, func() error { return mongoStore.Close(ctx) })
	} else {
		logger.Warn("no store connection string configured, using in-memory metadata store")
		a.store = metadata.NewMemoryStore()
	}

	providers := make([]storage.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := storage.New(pc.Type, pc.ID, pc.Params)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("construct provider %q: %w", pc.ID, err)
		}
		providers = append(providers, p)
	}
	providerSet := storage.NewSet(providers...)
	a.closers = append(a.closers, providerSet.Close)

	c, err := cache.New(cache.Options{
		DefaultTTL:     cfg.Cache.TTL(),
		DeleteBatchMax: cfg.Cache.DeleteBatchMax,
		DeleteCooldown: cfg.Cache.DeleteCooldown(),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("construct cache: %w", err)
	}
	a.cache = c
	a.closers = append(a.closers, c.Close)

	a.bus = eventbus.New(logger)

	a.engine = chunkengine.New(chunkengine.Options{
		Sizing: chunkengine.Sizing{
			Min:     cfg.Chunking.MinChunkSizeInBytes,
			Max:     cfg.Chunking.MaxChunkSizeInBytes,
			Default: cfg.Chunking.DefaultChunkSizeInBytes,
		},
		CompressionEnabled: cfg.Chunking.CompressionEnabled,
		CompressionLevel:   cfg.Chunking.CompressionLevel,
		MaxParallelTasks:   int64(cfg.Chunking.MaxParallelTasks),
	}, providerSet, a.store.Files(), a.store.Chunks(), a.bus)

	a.files = fileservice.New(a.engine, a.store.Files(), a.store.Chunks(), a.cache, a.bus)
	a.indexer = indexer.New(a.store.Files(), a.bus)

	return a, nil
}

// Close releases every component constructed by buildApp, in reverse
// construction order, collecting (but not aborting on) individual
// close errors.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
