// Package handler はワーカーの運用用HTTPエンドポイントを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/rentwatch/internal/metrics"
	"github.com/hitoshi/rentwatch/internal/middleware"
)

// HealthChecker は依存先の疎通を確認する。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	DB       HealthChecker
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	// HealthTimeout はDB疎通確認の上限時間（既定2秒）。
	HealthTimeout time.Duration
}

// NewRouter は運用エンドポイントを構成したchi.Routerを返す。
//
//	GET /health   DB疎通を確認し、200または503を返す
//	GET /metrics  Prometheus形式のメトリクス
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	timeout := deps.HealthTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	r.Get("/health", NewHealthHandler(deps.DB, timeout, deps.Logger).ServeHTTP)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}
