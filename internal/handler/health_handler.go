package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/omikuji/internal/middleware"
)

// Pinger はヘルスチェック対象のインターフェース。*sql.DBがそのまま満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler は死活監視エンドポイントのハンドラー。
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check はDB疎通を確認してステータスを返す。
// GET /healthz
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
