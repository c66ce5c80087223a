// Package model はドメインモデルを定義する。
package model

import "time"

// サポートするIDプロバイダー。
const (
	ProviderApple  = "apple"
	ProviderGoogle = "google"
)

// MobileUser はモバイルアプリのサインインで作成されるユーザーを表す。
// (Provider, ProviderUserID) の組で一意。EmailとNameはAppleが初回認可時
// にしか開示しないため空文字になりうる。
type MobileUser struct {
	ID             string
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MobileSession はモバイルクライアントに払い出す不透明なBearerトークンの
// セッションを表す。クライアントは以降 Authorization: Bearer <token> で提示する。
type MobileSession struct {
	Token     string
	UserID    string
	Provider  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// WebSession はWebフロントエンドのCookieセッションを表す。
// セッションの発行はWeb側の認証基盤が行い、本バックエンドは検証のみ行う。
type WebSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
