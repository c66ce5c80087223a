package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（未設定の場合、分散レート制限とキャッシュ管理は無効化される）
	RedisURL string

	// Mobile OAuth
	AppleBundleID  string
	GoogleClientID string

	// Mobile Session
	MobileSessionTTL time.Duration

	// API Key（カンマ区切り許可リスト）
	APIKeys []string

	// 署名検証
	SigningSecrets  map[string]string // keyId -> secret
	SignatureMaxAge time.Duration
	AdminToken      string // 署名の代替となる静的管理トークン。空なら無効。

	// Quota
	GuestDailyLimit int
	UserDailyLimit  int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.AppleBundleID = getEnvString("APPLE_BUNDLE_ID", "")
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.MobileSessionTTL = getEnvDuration("MOBILE_SESSION_TTL", 30*24*time.Hour)
	cfg.APIKeys = parseAPIKeys(os.Getenv("API_KEYS"))
	cfg.SignatureMaxAge = getEnvDuration("SIGNATURE_MAX_AGE", 5*time.Minute)
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.GuestDailyLimit = getEnvInt("GUEST_DAILY_LIMIT", 1)
	cfg.UserDailyLimit = getEnvInt("USER_DAILY_LIMIT", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	secrets, err := parseSigningSecrets(os.Getenv("SIGNING_SECRETS"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SIGNING_SECRETS: %w", err)
	}
	cfg.SigningSecrets = secrets

	return cfg, nil
}

// parseAPIKeys はカンマ区切りのAPIキー許可リストを解析する。
// 各要素は前後の空白を除去し、空要素は無視する。
func parseAPIKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// parseSigningSecrets は "keyId:secret" のカンマ区切りリストを解析する。
// 形式が不正な要素が含まれる場合はエラーを返す。署名検証はfail-closedであり、
// 設定不備を黙って無視してはならない。
func parseSigningSecrets(raw string) (map[string]string, error) {
	secrets := make(map[string]string)
	if raw == "" {
		return secrets, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		keyID, secret, ok := strings.Cut(pair, ":")
		keyID = strings.TrimSpace(keyID)
		secret = strings.TrimSpace(secret)
		if !ok || keyID == "" || secret == "" {
			return nil, fmt.Errorf("invalid signing secret entry: %q", pair)
		}
		secrets[keyID] = secret
	}
	return secrets, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
