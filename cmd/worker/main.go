package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pictrans/internal/adapter/repo"
	"pictrans/internal/dispatch"
	"pictrans/internal/imaging"
	"pictrans/internal/infra"
	"pictrans/internal/pipeline"
	"pictrans/internal/providers/compose"
	"pictrans/internal/providers/ocr"
	"pictrans/internal/providers/translate"
	"pictrans/internal/storage"
	"pictrans/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	topics := dispatch.Topics{
		Detect:    cfg.DetectTopic,
		Translate: cfg.TranslateTopic,
		Compose:   cfg.ComposeTopic,
	}

	// Workers complete stages out-of-band, so they need the same emit
	// capability the API has: a retried stage re-dispatches through them.
	producer := dispatch.NewProducer(cfg.KafkaBrokers, topics, logger)
	defer producer.Close()

	services := repo.NewServiceRepository(dbpool)
	areas := repo.NewAreaRepository(dbpool)
	images := repo.NewImageRepository(dbpool)
	cropper := imaging.NewCropper(store, logger)
	pipe := pipeline.New(services, areas, images, cropper, producer, logger)

	recognizer, err := ocr.NewClient(ocr.Options{BaseURL: cfg.OCREngineURL, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure ocr client")
	}
	translator, err := translate.NewClient(translate.Options{
		APIKey:  cfg.TranslateAPIKey,
		BaseURL: cfg.TranslateAPIURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure translate client")
	}
	renderer, err := compose.NewRenderer(compose.RendererOptions{FontPath: cfg.ComposeFontPath, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure renderer")
	}

	var bridge worker.BridgeComposer
	if cfg.ComposeBridgeURL != "" {
		b, err := compose.NewBridge(compose.BridgeOptions{BaseURL: cfg.ComposeBridgeURL, Logger: &logger})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure compose bridge")
		}
		bridge = b
	}

	w := worker.New(worker.Options{
		Pipeline:   pipe,
		Areas:      areas,
		Images:     images,
		Store:      store,
		Recognizer: recognizer,
		Translator: translator,
		Renderer:   renderer,
		Bridge:     bridge,
		Logger:     logger,
	})

	consumer := dispatch.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, topics, w, logger)

	logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("worker started")
	consumer.Run(ctx)
	logger.Info().Msg("worker stopped")
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
