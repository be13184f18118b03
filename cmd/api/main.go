package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mirror/internal/adapter/cache"
	"mirror/internal/adapter/repo"
	"mirror/internal/domain"
	"mirror/internal/events"
	"mirror/internal/http/handlers"
	httpapi "mirror/internal/http/httpapi"
	"mirror/internal/infra"
	"mirror/internal/infra/credentials"
	"mirror/internal/mirror"
	"mirror/internal/providers/replicate"
	"mirror/internal/reaction"
	"mirror/internal/speech"
	"mirror/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, infra.Component(logger, "sql"))

	jobRepo := repo.NewJobRepository(runner)
	var jobs domain.JobStore = jobRepo
	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, job cache disabled")
	} else if rdb != nil {
		defer rdb.Close()
		jobs = cache.NewJobStore(jobRepo, rdb, cfg.JobCacheTTL, infra.Component(logger, "job_cache"))
		logger.Info().Dur("ttl", cfg.JobCacheTTL).Msg("job status cache enabled")
	}

	replicateLogger := infra.Component(logger, "replicate")
	models := replicate.NewClient(replicate.Options{
		Tokens:  credentials.NewSource(credentials.NewStore(runner), cfg.ReplicateAPIToken, cfg.TokenRefresh),
		BaseURL: cfg.ReplicateBaseURL,
		Logger:  &replicateLogger,
	})
	if !models.HasCredentials() {
		logger.Warn().Msg("REPLICATE_API_TOKEN missing, model routes will answer 500")
	}

	reflector := mirror.NewReflector(models, mirror.Options{
		CaptionModel: cfg.CaptionModel,
		TextModel:    cfg.TextModel,
		Logger:       infra.Component(logger, "reflector"),
	})
	speaker := speech.NewService(models, models, speech.Options{
		Model:        cfg.SpeechModel,
		DefaultVoice: cfg.DefaultVoice,
		Logger:       infra.Component(logger, "speech"),
	})

	var artifacts storage.Store
	routerOpts := httpapi.Options{Logger: logger, RateLimitPerMin: cfg.RateLimitPerMin}
	switch cfg.ArtifactStore {
	case infra.ArtifactStoreFilesystem:
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure file store")
		}
		artifacts = fs
		routerOpts.Static = fs.Handler()
	case infra.ArtifactStoreMinio:
		ms, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure minio store")
		}
		artifacts = ms
	}

	publisher, err := events.NewPublisher(cfg, infra.Component(logger, "events"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure job events")
	}

	processor := reaction.NewProcessor(jobs, models, speaker, artifacts, publisher, reaction.Options{
		VideoModel:   cfg.VideoModel,
		AvatarModel:  cfg.AvatarModel,
		RetryBackoff: cfg.RetryBackoff,
		StageTimeout: cfg.StageTimeout,
		EventPrefix:  cfg.EventsRouting,
		Logger:       infra.Component(logger, "reaction"),
	})

	app := &handlers.App{
		Jobs:      jobs,
		Reflector: reflector,
		Processor: processor,
		Speech:    speaker,
		Stats:     jobRepo,
		Models:    models,
		Logger:    logger,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, routerOpts))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info().Str("addr", server.Addr()).Str("artifacts", cfg.ArtifactStore).Str("events", cfg.EventsDriver).Msg("API listening")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server stopped with error")
	}

	// Jobs may still be mid-pipeline after the listener closes; they get one
	// stage budget before being cancelled and recorded as failed.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.StageTimeout+5*time.Second)
	defer cancelDrain()
	if err := processor.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Int("in_flight", processor.InFlight()).Msg("reaction jobs cancelled at shutdown")
	}
	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close event publisher")
	}
	logger.Info().Msg("server stopped")
}
