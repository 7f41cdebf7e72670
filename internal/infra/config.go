package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	KafkaBrokers   []string
	KafkaGroupID   string
	DetectTopic    string
	TranslateTopic string
	ComposeTopic   string

	StorageBackend string // "local" or "minio"
	StoragePath    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	ResolveExpiry  time.Duration

	OCREngineURL     string
	TranslateAPIURL  string
	TranslateAPIKey  string
	ComposeBridgeURL string
	ComposeFontPath  string

	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	UploadLimitPerMin int
	CORSOrigins       []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "pictrans-workers"),
		DetectTopic:    getEnv("KAFKA_DETECT_TOPIC", "pipeline.detect"),
		TranslateTopic: getEnv("KAFKA_TRANSLATE_TOPIC", "pipeline.translate"),
		ComposeTopic:   getEnv("KAFKA_COMPOSE_TOPIC", "pipeline.compose"),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "pictrans"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		ResolveExpiry:  time.Second * time.Duration(getEnvInt("RESOLVE_EXPIRY_SECONDS", 3600)),

		OCREngineURL:     os.Getenv("OCR_ENGINE_URL"),
		TranslateAPIURL:  getEnv("TRANSLATE_API_URL", "https://translation.googleapis.com/language/translate/v2"),
		TranslateAPIKey:  os.Getenv("TRANSLATE_API_KEY"),
		ComposeBridgeURL: os.Getenv("COMPOSE_BRIDGE_URL"),
		ComposeFontPath:  getEnv("COMPOSE_FONT_PATH", "./fonts/PretendardJP-Regular.ttf"),

		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		UploadLimitPerMin: getEnvInt("UPLOAD_LIMIT_PER_MINUTE", 30),
		CORSOrigins:       splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS is required")
	}

	switch cfg.StorageBackend {
	case "local", "minio":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be local or minio, got %q", cfg.StorageBackend)
	}

	if cfg.StorageBackend == "minio" && cfg.MinioEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_BACKEND=minio")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
