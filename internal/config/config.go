package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the binaries read from the environment.
type Config struct {
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	ServerPort     string
	AllowedOrigins string

	LogLevel  string
	LogFormat string

	IngestChunkSize int

	OpenAIKey   string
	OpenAIModel string

	BlobDir        string
	JobMaxAttempts int
	JobBaseBackoff time.Duration
	JobTimeout     time.Duration
	JobRetention   time.Duration
}

// Load reads .env (if present) and then the process environment.
// DATABASE_URL is the only required variable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBMaxConns:      int32(envInt("DB_MAX_CONNS", 10)),
		DBMinConns:      int32(envInt("DB_MIN_CONNS", 0)),
		ServerPort:      envString("SERVER_PORT", "8080"),
		AllowedOrigins:  os.Getenv("ALLOWED_ORIGINS"),
		LogLevel:        envString("LOG_LEVEL", "info"),
		LogFormat:       strings.ToLower(envString("LOG_FORMAT", "json")),
		IngestChunkSize: envInt("INGEST_CHUNK_SIZE", 2000),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     envString("OPENAI_MODEL", "gpt-4o"),
		BlobDir:         envString("BLOB_DIR", os.TempDir()),
		JobMaxAttempts:  envInt("JOB_MAX_ATTEMPTS", 3),
		JobBaseBackoff:  time.Duration(envInt("JOB_BASE_BACKOFF_SECONDS", 2)) * time.Second,
		JobTimeout:      time.Duration(envInt("JOB_TIMEOUT_SECONDS", 600)) * time.Second,
		JobRetention:    time.Duration(envInt("JOB_RETENTION_MINUTES", 60)) * time.Minute,
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.DBMinConns > c.DBMaxConns {
		c.DBMinConns = c.DBMaxConns
	}
	if c.JobMaxAttempts < 1 {
		c.JobMaxAttempts = 1
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return c, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt falls back to def when the variable is unset or not a positive-or-zero integer.
func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
