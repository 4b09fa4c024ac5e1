package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"itera/internal/http/handlers"
	httpapi "itera/internal/http/httpapi"
	"itera/internal/infra"
	"itera/internal/metrics"
	"itera/internal/service"
	"itera/internal/storage"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	jobs, closeJobs, err := newJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("job_store", cfg.JobStore).Msg("failed to initialize job store")
	}
	defer closeJobs()

	blobs, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	m := metrics.New()
	providers, err := newProviders(cfg, jobs, blobs, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve providers")
	}
	logger.Info().
		Str("mesh_provider", providers.meshes.Name()).
		Str("image_provider", providers.images.Name()).
		Str("job_store", cfg.JobStore).
		Msg("providers resolved")

	svc := service.New(service.Options{
		Briefer: providers.briefer,
		Images:  providers.images,
		Meshes:  providers.meshes,
		Metrics: m,
		Logger:  logger,
	})
	app := handlers.NewApp(handlers.Options{
		Service:    svc,
		Blobs:      blobs,
		Metrics:    m,
		Logger:     logger,
		ProxyHosts:        cfg.ProxyHosts(),
		ProxyAllowPrivate: cfg.ProxyAllowPrivate,
	})
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		Metrics:         m,
		AllowedOrigins:  cfg.AllowedOrigins(),
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Msgf("API listening on %s", server.Addr())
	if err := server.Run(ctx, nil); err != nil {
		logger.Error().Err(err).Msg("http server stopped with error")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	providers.wait(waitCtx, logger)
	logger.Info().Msg("server stopped")
}
