// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port              string
	DatabaseURL       string
	MigrationsDir     string
	MigrationsTable   string
	NamingScheme      string // "v-prefixed" または "plain"
	StrictChecksum    bool
	StrictMissing     bool
	AtomicBatch       bool
	ContinueOnFailure bool
	NormalizeEOL      bool
	MigrateOnStartup  bool
	ConnectRetries    int
	LogLevel          string
	OtelEnabled       bool
	OtelEndpoint      string
	OtelServiceName   string
	OtelSamplingRate  float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		MigrationsDir:     getEnv("MIGRATIONS_DIR", "./migrations"),
		MigrationsTable:   getEnv("MIGRATIONS_TABLE", "schema_migrations"),
		NamingScheme:      getEnv("MIGRATIONS_NAMING", "v-prefixed"),
		StrictChecksum:    getEnvBool("MIGRATIONS_STRICT_CHECKSUM", false),
		StrictMissing:     getEnvBool("MIGRATIONS_STRICT_MISSING", false),
		AtomicBatch:       getEnvBool("MIGRATIONS_ATOMIC_BATCH", false),
		ContinueOnFailure: getEnvBool("CONTINUE_ON_MIGRATION_FAILURE", false),
		NormalizeEOL:      getEnvBool("MIGRATIONS_NORMALIZE_EOL", false),
		MigrateOnStartup:  getEnvBool("MIGRATE_ON_STARTUP", false),
		ConnectRetries:    getEnvInt("DB_CONNECT_RETRIES", 3),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		OtelEnabled:       getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:      getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		OtelServiceName:   getEnv("OTEL_SERVICE_NAME", "database-update"),
		OtelSamplingRate:  getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return parsed
}
