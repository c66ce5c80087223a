package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/omikuji/internal/fortune"
	"github.com/hitoshi/omikuji/internal/middleware"
	"github.com/hitoshi/omikuji/internal/model"
)

// QuotaEngineInterface はクォータ状態の参照インターフェース。
// 消費はゲートウェイミドルウェアが行うため、ハンドラーは参照のみ。
type QuotaEngineInterface interface {
	GetStatus(ctx context.Context, id *model.Identity) (*model.QuotaStatus, error)
}

// FortuneHandler はおみくじと残量照会のHTTPハンドラー。
type FortuneHandler struct {
	source fortune.Source
	quota  QuotaEngineInterface
}

// NewFortuneHandler はFortuneHandlerを生成する。
func NewFortuneHandler(source fortune.Source, quota QuotaEngineInterface) *FortuneHandler {
	return &FortuneHandler{
		source: source,
		quota:  quota,
	}
}

// Quota は当日の残り回数を返す。消費はしない。
// GET /api/fortune/quota
func (h *FortuneHandler) Quota(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		slog.Error("identity missing from context", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	status, err := h.quota.GetStatus(r.Context(), id)
	if err != nil {
		slog.Error("failed to get quota status", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, status)
}

// Draw はおみくじを1回引く。クォータ消費はゲートウェイで完了している。
// POST /api/fortune
func (h *FortuneHandler) Draw(w http.ResponseWriter, r *http.Request) {
	result := h.source.Draw()

	resp := map[string]any{"fortune": result}
	if q, ok := middleware.QuotaFromContext(r.Context()); ok {
		resp["quota"] = q
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
