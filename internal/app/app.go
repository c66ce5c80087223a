// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/omikuji/internal/apikey"
	"github.com/hitoshi/omikuji/internal/authmobile"
	"github.com/hitoshi/omikuji/internal/cache"
	"github.com/hitoshi/omikuji/internal/config"
	"github.com/hitoshi/omikuji/internal/database"
	"github.com/hitoshi/omikuji/internal/fortune"
	"github.com/hitoshi/omikuji/internal/gateway"
	"github.com/hitoshi/omikuji/internal/handler"
	"github.com/hitoshi/omikuji/internal/identity"
	"github.com/hitoshi/omikuji/internal/logger"
	"github.com/hitoshi/omikuji/internal/metrics"
	"github.com/hitoshi/omikuji/internal/quota"
	"github.com/hitoshi/omikuji/internal/ratelimit"
	"github.com/hitoshi/omikuji/internal/repository"
	"github.com/hitoshi/omikuji/internal/signature"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. Redis接続（任意。未設定ならローカルフォールバックで動作する）
	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to configure redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresMobileUserRepo(db)
	mobileSessionRepo := repository.NewPostgresMobileSessionRepo(db)
	webSessionRepo := repository.NewPostgresWebSessionRepo(db)
	quotaRepo := repository.NewPostgresQuotaRepo(db)

	// 4. アクセス制御コンポーネントの初期化
	resolver := identity.NewResolver(mobileSessionRepo, webSessionRepo, cfg.MobileSessionTTL)

	var limiter ratelimit.Limiter
	var nonces signature.NonceStore
	var localLimiter *ratelimit.LocalLimiter
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb)
		nonces = signature.NewRedisNonceStore(rdb)
	} else {
		slog.Warn("REDIS_URL not set, using in-process rate limiter and nonce store")
		localLimiter = ratelimit.NewLocalLimiter()
		limiter = localLimiter
		nonces = signature.NewMemoryNonceStore()
	}
	if localLimiter != nil {
		defer localLimiter.Stop()
	}

	quotaEngine := quota.NewEngine(quotaRepo, quota.EngineConfig{
		GuestDailyLimit: cfg.GuestDailyLimit,
		UserDailyLimit:  cfg.UserDailyLimit,
	})

	verifier := signature.NewVerifier(cfg.SigningSecrets, cfg.SignatureMaxAge, nonces)
	keyValidator := apikey.NewValidator(cfg.APIKeys)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	gw := gateway.New(
		resolver, limiter, quotaEngine, verifier, keyValidator,
		collector, cfg.AdminToken,
	)

	// 5. ドメインサービスの初期化
	var verifiers []authmobile.IdentityTokenVerifier
	if cfg.AppleBundleID != "" {
		verifiers = append(verifiers, authmobile.NewAppleVerifier(authmobile.AppleVerifierConfig{
			BundleID: cfg.AppleBundleID,
		}))
	}
	if cfg.GoogleClientID != "" {
		verifiers = append(verifiers, authmobile.NewGoogleVerifier(authmobile.GoogleVerifierConfig{
			ClientID: cfg.GoogleClientID,
		}))
	}
	authService := authmobile.NewService(
		verifiers, userRepo, mobileSessionRepo,
		authmobile.ServiceConfig{SessionTTL: cfg.MobileSessionTTL},
	)

	cacheService := cache.NewService(rdb)
	fortuneSource := fortune.NewRandomSource()

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Gateway:           gw,
		Logger:            slog.Default(),
		Metrics:           collector,
		Registry:          registry,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		AuthService: authService,
		UserFinder:  userRepo,

		FortuneSource: fortuneSource,
		QuotaEngine:   quotaEngine,

		CacheService: cacheService,

		DB: db,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openRedis はREDIS_URLからRedisクライアントを生成する。
// URLが空の場合はnilを返し、呼び出し側はローカルフォールバックを使う。
// 接続確認に失敗してもクライアントは返す（Redis側の一時障害で
// 起動を止めない。リミッターはフェイルオープンで縮退する）。
func openRedis(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis ping failed, continuing with degraded limits",
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("redis connection established")
	}

	return rdb, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL は接続文字列のパスワード部分をマスクする。ログ出力用。
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(unparsable)"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return strings.TrimSpace(u.String())
}
