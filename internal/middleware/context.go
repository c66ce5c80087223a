// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/omikuji/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey = contextKey("identity")
	quotaContextKey    = contextKey("quota")
)

// IdentityFromContext はリクエストコンテキストから解決済みIdentityを取得する。
// ゲートウェイミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	id, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || id == nil {
		return nil, fmt.Errorf("identity not found in context")
	}
	return id, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, id *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// QuotaFromContext はリクエストコンテキストから消費後のクォータ状態を取得する。
// ConsumeQuotaポリシーのエンドポイントでのみ設定される。
func QuotaFromContext(ctx context.Context) (*model.QuotaStatus, bool) {
	q, ok := ctx.Value(quotaContextKey).(*model.QuotaStatus)
	return q, ok && q != nil
}

// ContextWithQuota はコンテキストにクォータ状態を注入する。
func ContextWithQuota(ctx context.Context, q *model.QuotaStatus) context.Context {
	return context.WithValue(ctx, quotaContextKey, q)
}
