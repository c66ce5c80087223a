// Package authmobile はモバイルアプリのサインイン
// （Apple/GoogleのIDトークン検証とセッション発行）を提供する。
package authmobile

import "context"

// TokenClaims はIDトークン検証後の正規化されたクレームを表す。
// プロバイダー差分は各検証器が吸収し、以降のパイプラインはプロバイダー非依存になる。
type TokenClaims struct {
	Subject string // プロバイダー内で一意のユーザー識別子
	Email   string // トークンに含まれる場合のみ
	Name    string // トークンに含まれる場合のみ
}

// IdentityTokenVerifier はプロバイダー固有のIDトークン検証インターフェース。
type IdentityTokenVerifier interface {
	// Provider はこの検証器が扱うプロバイダー名（"apple" / "google"）を返す。
	Provider() string
	// Verify はIDトークンを暗号学的に検証し、正規化されたクレームを返す。
	Verify(ctx context.Context, identityToken string) (*TokenClaims, error)
}
