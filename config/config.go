package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	SQLite        SQLiteConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Storage       StorageConfig
	Transcription TranscriptionConfig
	Capture       CaptureConfig
	Retry         RetryConfig
	Network       NetworkConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	WebhookSecret      string // shared secret for /webhooks/*; empty disables the check
	RunWorker          bool   // also consume the job queue in the API process
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds metadata database settings. Driver selects PostgreSQL or the embedded SQLite file.
type DatabaseConfig struct {
	Driver   string
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/voxnote?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string // file path or ":memory:"
}

// RedisConfig holds Redis connection settings. Without Redis, jobs run in-process and library events stay local.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	Endpoint             string // S3-compatible endpoint (MinIO, LocalStack); empty for AWS
	PresignExpireMinutes int
}

// Storage drivers.
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// StorageConfig selects where recording audio is kept.
type StorageConfig struct {
	Driver   string
	LocalDir string
	BaseURL  string // public URL prefix the server exposes LocalDir at
}

// TranscriptionConfig selects the strategy and configures the vendors behind it.
type TranscriptionConfig struct {
	UseHostedBatch   bool
	UseHostedOneshot bool
	Language         string

	BatchURL     string
	BatchAPIKey  string
	PollInterval time.Duration
	HardCeiling  time.Duration

	OneshotURL    string
	OneshotAPIKey string
	OneshotModel  string

	EngineURL    string
	EngineAPIKey string
	EngineModel  string
}

// CaptureConfig bounds capture sessions and uploads.
type CaptureConfig struct {
	MaxDuration    time.Duration
	WarningLead    time.Duration
	MaxUploadBytes int64
}

// RetryConfig tunes persistence retries.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// NetworkConfig configures the connectivity probe. An empty ProbeURL disables probing.
type NetworkConfig struct {
	ProbeURL      string
	ProbeInterval time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 120),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
			WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
			RunWorker:          getEnvBool("RUN_WORKER", true),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "voxnote"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/voxnote.db"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "voxnote-recordings"),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Storage: StorageConfig{
			Driver:   strings.ToLower(getEnv("STORAGE_DRIVER", StorageLocal)),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "data/files"),
			BaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:8080/files"),
		},
		Transcription: TranscriptionConfig{
			UseHostedBatch:   getEnvBool("USE_HOSTED_BATCH", false),
			UseHostedOneshot: getEnvBool("USE_HOSTED_ONESHOT", false),
			Language:         getEnv("TRANSCRIPTION_LANGUAGE", "en-US"),
			BatchURL:         getEnv("HOSTED_BATCH_URL", ""),
			BatchAPIKey:      getEnv("HOSTED_BATCH_API_KEY", ""),
			PollInterval:     getEnvDuration("HOSTED_BATCH_POLL_INTERVAL", 2*time.Second),
			HardCeiling:      getEnvDuration("HOSTED_BATCH_HARD_CEILING", 30*time.Minute),
			OneshotURL:       getEnv("HOSTED_ONESHOT_URL", ""),
			OneshotAPIKey:    getEnv("HOSTED_ONESHOT_API_KEY", ""),
			OneshotModel:     getEnv("HOSTED_ONESHOT_MODEL", "whisper-1"),
			EngineURL:        getEnv("STREAMING_ENGINE_URL", ""),
			EngineAPIKey:     getEnv("STREAMING_ENGINE_API_KEY", ""),
			EngineModel:      getEnv("STREAMING_ENGINE_MODEL", ""),
		},
		Capture: CaptureConfig{
			MaxDuration:    getEnvDuration("CAPTURE_MAX_DURATION", 2*time.Hour),
			WarningLead:    getEnvDuration("CAPTURE_WARNING_LEAD", 3*time.Minute),
			MaxUploadBytes: int64(getEnvInt("UPLOAD_MAX_MB", 200)) << 20,
		},
		Retry: RetryConfig{
			Attempts:  getEnvInt("SAVE_RETRY_ATTEMPTS", 3),
			BaseDelay: getEnvDuration("SAVE_RETRY_BASE_DELAY", time.Second),
		},
		Network: NetworkConfig{
			ProbeURL:      getEnv("NETWORK_PROBE_URL", ""),
			ProbeInterval: getEnvDuration("NETWORK_PROBE_INTERVAL", 15*time.Second),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("config: postgres needs DATABASE_URL or DB_HOST")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case StorageS3:
		if c.AWS.RecordingsBucket == "" {
			return fmt.Errorf("config: s3 storage needs AWS_S3_RECORDINGS_BUCKET")
		}
	case StorageLocal:
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Capture.WarningLead >= c.Capture.MaxDuration {
		return fmt.Errorf("config: CAPTURE_WARNING_LEAD must be shorter than CAPTURE_MAX_DURATION")
	}
	return nil
}

// AllowedOrigins splits CORSAllowedOrigins.
func (c ServerConfig) AllowedOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "2h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
