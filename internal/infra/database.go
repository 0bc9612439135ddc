// Package infra は外部サービスとの接続を提供する。
package infra

import (
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/clickhouse"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/shixiaotong123-qwe/database-update/config"
)

// openDialector はDSNのスキームから接続先の方言を選択する。
// スキームが無いDSNはMySQL形式（user:pass@tcp(host)/db）とみなす。
func openDialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn)
	case strings.HasPrefix(dsn, "clickhouse://"):
		return clickhouse.Open(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return sqlite.Open(dsn)
	default:
		return mysql.Open(dsn)
	}
}

// NewDB はgormによるデータベース接続を初期化する。
// 起動直後にデータベース側の準備ができていないことがあるため、
// 接続失敗時は間隔を広げながらリトライする。
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var db *gorm.DB
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		db, err = gorm.Open(openDialector(cfg.DatabaseURL), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err == nil {
			break
		}
		if attempt < retries {
			slog.Warn("database connection failed, retrying",
				"attempt", attempt,
				"error", err,
			)
			time.Sleep(time.Duration(attempt) * 3 * time.Second)
		}
	}
	if err != nil {
		return nil, err
	}

	if cfg.OtelEnabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 接続プール設定
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
