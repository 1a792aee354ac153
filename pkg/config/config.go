// Package config assembles run configuration from the environment and from
// named YAML profiles. The environment says where things live (journal
// path, stores, collector); the profile says how the kernel behaves
// (thresholds, budget, costs, protected scopes).
package config

import (
	"os"
	"strconv"

	"github.com/macterra/Axio-sub002/pkg/observability"
)

// Config holds deployment configuration.
type Config struct {
	LogLevel   string
	Profile    string
	ProfileDir string

	JournalPath     string
	SnapshotBackend string // "memory", "sqlite", "postgres" or "redis"
	SnapshotEvery   uint64
	SQLitePath      string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	OTelEnabled  bool
	OTelEndpoint string
	Environment  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	profile := os.Getenv("AXIO_PROFILE")
	if profile == "" {
		profile = "dev"
	}

	profileDir := os.Getenv("AXIO_PROFILE_DIR")
	if profileDir == "" {
		profileDir = "profiles"
	}

	journalPath := os.Getenv("AXIO_JOURNAL")
	if journalPath == "" {
		journalPath = "axio-journal.jsonl"
	}

	backend := os.Getenv("AXIO_SNAPSHOT_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	sqlitePath := os.Getenv("AXIO_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "axio-snapshots.db"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://axio@localhost:5432/axio?sslmode=disable"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	environment := os.Getenv("AXIO_ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	return &Config{
		LogLevel:        logLevel,
		Profile:         profile,
		ProfileDir:      profileDir,
		JournalPath:     journalPath,
		SnapshotBackend: backend,
		SnapshotEvery:   envUint("AXIO_SNAPSHOT_EVERY", 0),
		SQLitePath:      sqlitePath,
		DatabaseURL:     dbURL,
		RedisAddr:       redisAddr,
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		OTelEnabled:     os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:    otelEndpoint,
		Environment:     environment,
	}
}

// Observability maps the deployment knobs onto a provider configuration.
func (c *Config) Observability() *observability.Config {
	cfg := observability.DefaultConfig()
	cfg.Enabled = c.OTelEnabled
	cfg.OTLPEndpoint = c.OTelEndpoint
	cfg.Environment = c.Environment
	return cfg
}

func envUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
