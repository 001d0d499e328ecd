// Package app assembles the configured components shared by the CLI and the
// HTTP server.
package app

import (
	"context"
	"fmt"

	"fluxtune/internal/domain"
	"fluxtune/internal/infra"
	"fluxtune/internal/orchestrator"
	"fluxtune/internal/polling"
	"fluxtune/internal/providers/bfl"
	"fluxtune/internal/registry"
	"fluxtune/internal/storage"
)

// Runtime holds the wired orchestrator and releases its resources on Close.
type Runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     domain.FinetuneRepository
	Images       *storage.FileStore
	RegistryName string

	closers []func()
}

// Build wires the BFL client, pollers, registry and optional image store from
// cfg. The registry lives in Postgres when REGISTRY_DATABASE_URL is set and in
// the JSON registry file otherwise.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	if logger == nil {
		logger = infra.NopLogger()
	}
	rt := &Runtime{}

	client, err := bfl.NewClient(bfl.Options{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		ImageModel:     cfg.ImageModel,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	reg, err := rt.openRegistry(ctx, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Registry = reg

	// TRANSPORT_RETRIES=0 means no retries; the engine reads zero as "default".
	retries := cfg.TransportRetries
	if retries == 0 {
		retries = -1
	}
	opts := orchestrator.Options{
		Client:   client,
		Registry: reg,
		FinetunePoller: polling.New(polling.Config{
			Interval:            cfg.FinetunePollInterval,
			MaxWait:             cfg.FinetuneMaxWait,
			MaxTransportRetries: retries,
			Logger:              logger,
		}),
		ImagePoller: polling.New(polling.Config{
			Interval:            cfg.ImagePollInterval,
			MaxWait:             cfg.ImageMaxWait,
			MaxTransportRetries: retries,
			Logger:              logger,
		}),
		Logger: logger,
	}
	if cfg.OutputDir != "" {
		images, err := storage.NewFileStore(cfg.OutputDir)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("app: output dir: %w", err)
		}
		rt.Images = images
		opts.Downloader = client
		opts.Images = images
	}

	o, err := orchestrator.New(opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Orchestrator = o
	return rt, nil
}

func (rt *Runtime) openRegistry(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (domain.FinetuneRepository, error) {
	if cfg.RegistryDatabaseURL == "" {
		store := registry.NewFileStore(cfg.RegistryPath)
		rt.RegistryName = store.Path()
		return store, nil
	}
	pool, err := infra.NewDBPool(ctx, cfg.RegistryDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: connect registry database: %w", err)
	}
	rt.closers = append(rt.closers, pool.Close)
	store := registry.NewPostgresStore(infra.NewSQLRunner(pool, *logger))
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("app: prepare registry schema: %w", err)
	}
	rt.RegistryName = "postgres"
	return store, nil
}

// Close releases database connections. It is safe to call more than once.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
