package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"itera/internal/infra"
	"itera/internal/jobstore"
	"itera/internal/metrics"
	"itera/internal/providers/image"
	"itera/internal/providers/mesh"
	"itera/internal/providers/prompt"
	"itera/internal/storage"
)

// newJobStore opens the configured backend. The returned func releases its
// connections.
func newJobStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (jobstore.Store, func(), error) {
	switch cfg.JobStore {
	case infra.JobStoreRedis:
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return jobstore.NewRedis(client, cfg.JobTTL), func() { _ = client.Close() }, nil
	case infra.JobStorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := jobstore.NewPostgres(infra.NewSQLRunner(pool, logger), cfg.JobTTL)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure job schema: %w", err)
		}
		return store, pool.Close, nil
	default:
		return jobstore.NewMemory(), func() {}, nil
	}
}

type providerSet struct {
	briefer prompt.Briefer
	images  image.Generator
	meshes  mesh.Provider
}

// newProviders resolves every capability once at startup.
func newProviders(cfg *infra.Config, jobs jobstore.Store, blobs *storage.FileStore, m *metrics.Metrics, logger zerolog.Logger) (*providerSet, error) {
	briefer := prompt.NewOpenAIBriefer(prompt.OpenAIOptions{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		VisionModel: cfg.OpenAIVisionModel,
		TextModel:   cfg.OpenAITextModel,
		OnFallback: func(operation, reason string, err error) {
			event := logger.Debug()
			if err != nil {
				event = logger.Warn().Err(err)
			}
			event.Str("operation", operation).Str("reason", reason).Msg("prompt vendor unavailable")
		},
		OnWarning: func(reason, detail string) {
			logger.Warn().Str("reason", reason).Str("detail", detail).Msg("prompt model adjusted")
		},
	})

	imageBackend, err := image.ParseBackend(cfg.ImageProvider)
	if err != nil {
		return nil, err
	}
	images, err := image.New(imageBackend, image.Options{
		HFToken:       cfg.HFAPIToken,
		HFModel:       cfg.HFImageModel,
		HFBaseURL:     cfg.HFBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIImageModel,
		OnFallback: func(provider, reason string) {
			m.PromptFallback("image", reason)
			logger.Warn().Str("provider", provider).Str("reason", reason).Msg("image backend degraded to placeholder")
		},
	})
	if err != nil {
		return nil, err
	}

	meshBackend, err := mesh.ParseBackend(cfg.MeshProvider)
	if err != nil {
		return nil, err
	}
	meshes, err := mesh.New(meshBackend, mesh.Deps{
		Jobs:           jobs,
		Blobs:          blobs,
		Logger:         logger,
		MockDuration:   cfg.MockMeshDuration,
		MeshyAPIKey:    cfg.MeshyAPIKey,
		MeshyBaseURL:   cfg.MeshyBaseURL,
		HFEndpoint:     cfg.HFEndpoint,
		HFToken:        cfg.HFAPIToken,
		HFTimeout:      cfg.HFMeshTimeout,
		AssetURLPrefix: "/assets",
	})
	if err != nil {
		return nil, err
	}
	return &providerSet{briefer: briefer, images: images, meshes: meshes}, nil
}

// wait lets background mesh jobs persist their outcome before exit.
func (p *providerSet) wait(ctx context.Context, logger zerolog.Logger) {
	w, ok := p.meshes.(interface{ Wait() })
	if !ok {
		return
	}
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("background mesh jobs still running at shutdown")
	}
}
