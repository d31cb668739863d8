package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthResponse は/healthのレスポンス。
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HealthHandler はDBへのPingで稼働状態を返す。
type HealthHandler struct {
	db      HealthChecker
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db HealthChecker, timeout time.Duration, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, timeout: timeout, logger: logger}
}

// ServeHTTP はDBに到達できれば200、できなければ503を返す。
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("ヘルスチェックでDBに接続できませんでした",
			slog.String("error", err.Error()),
		)
		resp = HealthResponse{Status: "unavailable", Database: "unreachable"}
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
