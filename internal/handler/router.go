package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/omikuji/internal/cache"
	"github.com/hitoshi/omikuji/internal/fortune"
	"github.com/hitoshi/omikuji/internal/gateway"
	"github.com/hitoshi/omikuji/internal/metrics"
	"github.com/hitoshi/omikuji/internal/middleware"
	"github.com/hitoshi/omikuji/internal/ratelimit"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Gateway           *gateway.Gateway
	Logger            *slog.Logger
	Metrics           *metrics.Collector
	Registry          *prometheus.Registry
	CORSAllowedOrigin string

	// 認証
	AuthService AuthServiceInterface
	UserFinder  UserFinder

	// おみくじ・クォータ
	FortuneSource fortune.Source
	QuotaEngine   QuotaEngineInterface

	// 管理
	CacheService *cache.Service

	// ヘルスチェック
	DB Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Gateway(ポリシー別)
//
// 運用エンドポイント（/healthz, /metrics）はゲートウェイの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))

	authHandler := NewAuthHandler(deps.AuthService, deps.UserFinder, deps.Metrics)
	fortuneHandler := NewFortuneHandler(deps.FortuneSource, deps.QuotaEngine)
	cacheHandler := NewCacheHandler(deps.CacheService)
	healthHandler := NewHealthHandler(deps.DB)

	// エンドポイントごとのゲートウェイポリシー
	gw := func(policy gateway.Policy) func(next http.Handler) http.Handler {
		return middleware.NewGatewayMiddleware(deps.Gateway, policy)
	}
	apiPolicy := gateway.Policy{LimiterClass: ratelimit.ClassAPI}
	authPolicy := gateway.Policy{LimiterClass: ratelimit.ClassAPI, RequireAuth: true}

	// --- 運用エンドポイント（ゲートウェイ対象外） ---
	r.Get("/healthz", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))

	// --- 認証 ---
	r.Route("/api/auth", func(r chi.Router) {
		// サインイン系はIdentity解決前なのでapiクラスの制限のみ
		r.With(gw(apiPolicy)).Post("/mobile/apple", authHandler.SignInApple)
		r.With(gw(apiPolicy)).Post("/mobile/google", authHandler.SignInGoogle)

		// Bearerトークンはハンドラー内で直接検証する
		r.With(gw(apiPolicy)).Get("/mobile/session", authHandler.MobileSession)
		r.With(gw(apiPolicy)).Post("/mobile/logout", authHandler.Logout)

		r.With(gw(authPolicy)).Delete("/mobile/account", authHandler.DeleteAccount)
		r.With(gw(authPolicy)).Get("/session", authHandler.Session)
	})

	// --- おみくじ ---
	r.Route("/api/fortune", func(r chi.Router) {
		r.With(gw(apiPolicy)).Get("/quota", fortuneHandler.Quota)

		// 抽選はfortuneクラスの制限とクォータ消費の両方がかかる
		r.With(gw(gateway.Policy{
			LimiterClass: ratelimit.ClassFortune,
			ConsumeQuota: true,
		})).Post("/", fortuneHandler.Draw)
	})

	// --- キャッシュ管理 ---
	r.Route("/api/cache", func(r chi.Router) {
		r.With(gw(gateway.Policy{
			LimiterClass: ratelimit.ClassStrict,
		})).Get("/", cacheHandler.Stats)

		// 変更系の操作はHMAC署名または管理トークンを要求する
		r.With(gw(gateway.Policy{
			LimiterClass:     ratelimit.ClassStrict,
			RequireSignature: true,
		})).Post("/", cacheHandler.Execute)
	})

	return r
}
