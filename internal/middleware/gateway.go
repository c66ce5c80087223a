package middleware

import (
	"net/http"
	"strconv"

	"github.com/hitoshi/omikuji/internal/gateway"
	"github.com/hitoshi/omikuji/internal/ratelimit"
)

// NewGatewayMiddleware はエンドポイントポリシーに従ってアクセス制御判定を行う
// ミドルウェアを返す。許可時は解決済みIdentity（と消費後クォータ）を
// コンテキストに注入し、拒否時は判定結果をステータスとJSONボディに変換する。
func NewGatewayMiddleware(gw *gateway.Gateway, policy gateway.Policy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := gw.Authorize(r, policy)

			// リミッターが実行された場合、許可・拒否を問わずヘッダーを付与する
			if decision.RateLimit != nil {
				writeRateLimitHeaders(w, decision.RateLimit)
			}

			if !decision.Allowed() {
				WriteErrorResponse(w, decision.Status, decision.Err)
				return
			}

			ctx := ContextWithIdentity(r.Context(), decision.Identity)
			if decision.Quota != nil {
				ctx = ContextWithQuota(ctx, decision.Quota)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeRateLimitHeaders はX-RateLimit-*ヘッダーを書き込む。
func writeRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
	w.Header().Set("X-RateLimit-Window", result.Window.String())
}
