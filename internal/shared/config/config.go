package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	DatabaseURL     string
	CORSAllowOrigin []string
	ShutdownTimeout time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	S3SSE           string
	SSEKMSKeyID     string
	MaxUploadBytes  int64

	EngineURL      string
	EngineTimeout  time.Duration
	EngineLanguage string

	DispatchMode      string
	WorkerConcurrency int
	SQSQueueURL       string
	RedisURL          string
	RedisQueueKey     string

	ReplyProvider string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	TrialMaxUploads int
	TrialDays       int

	UploadRatePerMin int
	ChatRatePerMin   int
}

const (
	DispatchInline = "inline"
	DispatchSQS    = "sqs"
	DispatchRedis  = "redis"

	defaultMaxUpload = "10MB"
)

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "../.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getDuration("JWT_TTL", 24*time.Hour),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		S3SSE:           getEnv("S3_SSE", "AES256"),
		SSEKMSKeyID:     getEnv("S3_KMS_KEY_ID", ""),

		EngineURL:      getEnv("ENGINE_URL", ""),
		EngineTimeout:  getDuration("ENGINE_TIMEOUT", 120*time.Second),
		EngineLanguage: getEnv("ENGINE_LANGUAGE", "vi"),

		DispatchMode:      normalizeDispatch(getEnv("DISPATCH_MODE", DispatchInline)),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 4),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		RedisQueueKey:     getEnv("REDIS_QUEUE_KEY", "contract:jobs"),

		ReplyProvider: strings.ToLower(getEnv("REPLY_PROVIDER", "canned")),
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		TrialMaxUploads: getInt("TRIAL_MAX_UPLOADS", 5),
		TrialDays:       getInt("TRIAL_DAYS", 30),

		UploadRatePerMin: getInt("RATE_LIMIT_UPLOAD_PER_MIN", 10),
		ChatRatePerMin:   getInt("RATE_LIMIT_CHAT_PER_MIN", 30),
	}

	maxUpload, err := units.FromHumanSize(getEnv("MAX_UPLOAD_SIZE", defaultMaxUpload))
	if err != nil {
		return Config{}, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	cfg.MaxUploadBytes = maxUpload

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	if c.Env != "dev" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in %s", c.Env)
	}
	if c.Env != "dev" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in %s", c.Env)
	}
	if c.ObjectStoreType == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when OBJECT_STORE=s3")
	}
	switch c.DispatchMode {
	case DispatchSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when DISPATCH_MODE=sqs")
		}
	case DispatchRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when DISPATCH_MODE=redis")
		}
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeDispatch(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case DispatchSQS:
		return DispatchSQS
	case DispatchRedis:
		return DispatchRedis
	default:
		return DispatchInline
	}
}
