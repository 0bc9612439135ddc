package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shixiaotong123-qwe/database-update/config"
)

// NewRouter はルーターを生成する。
func NewRouter(h *MigrationHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Get("/healthz", h.Health)
	r.Route("/v1/migrations", func(r chi.Router) {
		r.Get("/", h.Status)
		r.Get("/plan", h.Plan)
		r.Post("/apply", h.Apply)
	})

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, "server")
	}
	return r
}
