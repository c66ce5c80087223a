package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/omikuji/internal/cache"
	"github.com/hitoshi/omikuji/internal/middleware"
	"github.com/hitoshi/omikuji/internal/model"
)

// CacheHandler はキャッシュ管理操作のHTTPハンドラー。
type CacheHandler struct {
	service *cache.Service
}

// NewCacheHandler はCacheHandlerを生成する。
func NewCacheHandler(service *cache.Service) *CacheHandler {
	return &CacheHandler{service: service}
}

// Stats はキャッシュの統計情報を返す。
// GET /api/cache
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, cache.Request{Op: cache.OpStats})
}

// Execute は操作タグ付きのキャッシュ管理リクエストを実行する。
// POST /api/cache
func (h *CacheHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req cache.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("JSONボディを解析できません"))
		return
	}
	h.execute(w, r, req)
}

func (h *CacheHandler) execute(w http.ResponseWriter, r *http.Request, req cache.Request) {
	if !h.service.Enabled() {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	result, apiErr := h.service.Execute(r.Context(), req)
	if apiErr != nil {
		status := http.StatusInternalServerError
		switch apiErr.Code {
		case model.ErrCodeUnknownOperation, model.ErrCodeInvalidRequest:
			status = http.StatusBadRequest
		}
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}
