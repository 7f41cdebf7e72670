package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pictrans/internal/adapter/repo"
	"pictrans/internal/dispatch"
	api "pictrans/internal/http"
	"pictrans/internal/http/handlers"
	"pictrans/internal/imaging"
	"pictrans/internal/infra"
	"pictrans/internal/pipeline"
	"pictrans/internal/storage"
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

	store, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	producer := dispatch.NewProducer(cfg.KafkaBrokers, dispatch.Topics{
		Detect:    cfg.DetectTopic,
		Translate: cfg.TranslateTopic,
		Compose:   cfg.ComposeTopic,
	}, logger)
	defer producer.Close()

	services := repo.NewServiceRepository(dbpool)
	areas := repo.NewAreaRepository(dbpool)
	images := repo.NewImageRepository(dbpool)
	cropper := imaging.NewCropper(store, logger)
	pipe := pipeline.New(services, areas, images, cropper, producer, logger)

	app := handlers.NewApp(pipe, images, store, logger)
	router := api.NewRouter(app, api.RouterOptions{
		AllowedOrigins:    cfg.CORSOrigins,
		UploadLimitPerMin: cfg.UploadLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newStore(ctx context.Context, cfg *infra.Config) (storage.Store, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Expiry:    cfg.ResolveExpiry,
		})
	}
	return storage.NewFileStore(cfg.StoragePath)
}
