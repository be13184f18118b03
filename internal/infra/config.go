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
	DBMaxConns  int
	DBMinConns  int

	ReplicateAPIToken string
	ReplicateBaseURL  string
	TokenRefresh      time.Duration
	CaptionModel      string
	TextModel         string
	SpeechModel       string
	VideoModel        string
	AvatarModel       string
	DefaultVoice      string

	RetryBackoff   time.Duration
	StageTimeout   time.Duration
	JobRetention   time.Duration
	JobStaleAfter  time.Duration
	SweepInterval  time.Duration
	JobCacheTTL    time.Duration
	RedisURL       string
	ArtifactStore  string
	StoragePath    string
	StorageBaseURL string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	EventsDriver  string
	AMQPURL       string
	AMQPExchange  string
	KafkaBrokers  []string
	KafkaTopic    string
	EventsRouting string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// Artifact store drivers.
const (
	ArtifactStoreInline     = "inline"
	ArtifactStoreFilesystem = "filesystem"
	ArtifactStoreMinio      = "minio"
)

// Event bus drivers.
const (
	EventsDriverNone  = "none"
	EventsDriverAMQP  = "amqp"
	EventsDriverKafka = "kafka"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 2),

		ReplicateAPIToken: strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		TokenRefresh:      getEnvDuration("REPLICATE_TOKEN_REFRESH", time.Minute),
		CaptionModel:      getEnv("CAPTION_MODEL", "yorickvp/llava-13b:80537f9eead1a5bfa72d5ac6ea6414379be41d4d4f6679fd776e9535d1eb58bb"),
		TextModel:         getEnv("TEXT_MODEL", "meta/meta-llama-3-8b-instruct:5a6809ca6288247d06daf6365557e5e429063f32a21146b2a807c682652136b8"),
		SpeechModel:       getEnv("SPEECH_MODEL", "minimax/speech-02-hd"),
		VideoModel:        getEnv("VIDEO_MODEL", "bytedance/seedance-1-pro-fast"),
		AvatarModel:       getEnv("AVATAR_MODEL", "bytedance/omni-human"),
		DefaultVoice:      getEnv("DEFAULT_VOICE", "English_PlayfulGirl"),

		RetryBackoff:   getEnvDuration("RETRY_BACKOFF", 5*time.Second),
		StageTimeout:   getEnvDuration("STAGE_TIMEOUT", 3*time.Minute),
		JobRetention:   getEnvDuration("JOB_RETENTION", 24*time.Hour),
		JobStaleAfter:  getEnvDuration("JOB_STALE_AFTER", 15*time.Minute),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Minute),
		JobCacheTTL:    getEnvDuration("JOB_CACHE_TTL", 10*time.Minute),
		RedisURL:       os.Getenv("REDIS_URL"),
		ArtifactStore:  strings.ToLower(getEnv("ARTIFACT_STORE", ArtifactStoreInline)),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "mirror-frames"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    os.Getenv("MINIO_REGION"),

		EventsDriver:  strings.ToLower(getEnv("EVENTS_DRIVER", EventsDriverNone)),
		AMQPURL:       os.Getenv("AMQP_URL"),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "mirror.events"),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "mirror.reaction-jobs"),
		EventsRouting: getEnv("EVENTS_ROUTING_PREFIX", "reaction.job"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS %d/%d", cfg.DBMinConns, cfg.DBMaxConns)
	}

	switch cfg.ArtifactStore {
	case ArtifactStoreInline, ArtifactStoreFilesystem:
	case ArtifactStoreMinio:
		if cfg.MinioEndpoint == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT is required when ARTIFACT_STORE=minio")
		}
	default:
		return nil, fmt.Errorf("unsupported ARTIFACT_STORE %q", cfg.ArtifactStore)
	}

	switch cfg.EventsDriver {
	case EventsDriverNone:
	case EventsDriverAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("AMQP_URL is required when EVENTS_DRIVER=amqp")
		}
	case EventsDriverKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required when EVENTS_DRIVER=kafka")
		}
	default:
		return nil, fmt.Errorf("unsupported EVENTS_DRIVER %q", cfg.EventsDriver)
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

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
