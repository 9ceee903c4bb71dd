// Package config holds the flat, environment-overridable configuration
// struct shared by every component of the ingest and query surface.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Environment string
	ServerPort  string
	LogLevel    string

	// Ingest pipeline (§6.4: batch_size, num_threads, window_ms)
	BatchSize   int
	NumThreads  int
	QueueSize   int
	WindowMS    int64
	TokenMinLen int

	// Tokenizer dictionaries, opaque to the core.
	DictionaryPaths []string

	// Ingest backpressure
	IngestRateLimit float64 // lines/sec
	IngestRateBurst int

	MaxProcs int
}

// Load returns the documented defaults.
func Load() *Config {
	return &Config{
		Environment: "development",
		ServerPort:  "8080",
		LogLevel:    "info",

		BatchSize:   10,
		NumThreads:  8,
		QueueSize:   10000,
		WindowMS:    601_000,
		TokenMinLen: 3,

		DictionaryPaths: nil,

		IngestRateLimit: 20000,
		IngestRateBurst: 5000,

		MaxProcs: 2,
	}
}

// LoadFromEnv returns Load()'s defaults overlaid with any recognized
// environment variables that are set, so a deployment can tune the pipeline
// without a rebuild.
func LoadFromEnv() *Config {
	cfg := Load()

	if v := os.Getenv("STREAMTALLY_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("STREAMTALLY_PORT"); v != "" {
		cfg.ServerPort = v
	}
	if v := os.Getenv("STREAMTALLY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := envInt("STREAMTALLY_BATCH_SIZE"); ok {
		cfg.BatchSize = v
	}
	if v, ok := envInt("STREAMTALLY_NUM_THREADS"); ok {
		cfg.NumThreads = v
	}
	if v, ok := envInt64("STREAMTALLY_WINDOW_MS"); ok {
		cfg.WindowMS = v
	}
	if v := os.Getenv("STREAMTALLY_DICTIONARY_PATHS"); v != "" {
		cfg.DictionaryPaths = strings.Split(v, ",")
	}
	if v, ok := envFloat("STREAMTALLY_INGEST_RATE_LIMIT"); ok {
		cfg.IngestRateLimit = v
	}

	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
