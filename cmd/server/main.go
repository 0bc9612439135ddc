// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shixiaotong123-qwe/database-update/config"
	"github.com/shixiaotong123-qwe/database-update/internal/handler"
	"github.com/shixiaotong123-qwe/database-update/internal/infra"
	"github.com/shixiaotong123-qwe/database-update/internal/repository"
	"github.com/shixiaotong123-qwe/database-update/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// ログレベル設定
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, logLevel)

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	// DI
	source := usecase.NewDirectorySource(cfg.MigrationsDir, usecase.NamingScheme(cfg.NamingScheme), cfg.NormalizeEOL)
	repo := repository.NewMigrationRepository(db, cfg.MigrationsTable)
	executor := usecase.NewExecutor(db, repo, cfg.MigrationsTable)
	service := usecase.NewMigrationService(source, repo, executor)

	opts := usecase.RunOptions{
		StrictChecksum:    cfg.StrictChecksum,
		StrictMissing:     cfg.StrictMissing,
		AtomicBatch:       cfg.AtomicBatch,
		ContinueOnFailure: cfg.ContinueOnFailure,
	}

	// 起動時マイグレーション
	// スキーマが最新になるまでリクエストを受け付けない
	if cfg.MigrateOnStartup {
		report, err := service.Apply(ctx, opts)
		if err != nil {
			slog.Error("startup migration failed", "error", err)
			os.Exit(1)
		}
		if !report.Success() {
			slog.Error("startup migration failed",
				"run_id", report.RunID,
				"applied", report.AppliedCount(),
				"failed", report.FailedCount(),
			)
			os.Exit(1)
		}
	}

	h := handler.NewMigrationHandler(service, opts)
	router := handler.NewRouter(h, cfg)

	// サーバー起動
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
