// Package gateway はリクエストごとのアクセス制御判定を合成する。
// 署名検証 → Identity解決 → レート制限 → クォータ消費の順に実行し、
// 最初の失敗で打ち切る。ストアには直接触れず、各コンポーネントの
// インターフェースのみを呼び出す。
package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/omikuji/internal/apikey"
	"github.com/hitoshi/omikuji/internal/identity"
	"github.com/hitoshi/omikuji/internal/model"
	"github.com/hitoshi/omikuji/internal/ratelimit"
	"github.com/hitoshi/omikuji/internal/signature"
)

// Policy はエンドポイントごとのアクセス制御ポリシー。
type Policy struct {
	LimiterClass     ratelimit.Class
	RequireSignature bool // 管理エンドポイント: HMAC署名または管理トークンを要求
	RequireAuth      bool // 認証済みIdentityを要求（ゲストを拒否）
	ConsumeQuota     bool // 日次クォータを1消費する
}

// Decision はアクセス制御判定の結果。HTTP層がステータスとボディに変換する。
type Decision struct {
	Identity  *model.Identity
	RateLimit *ratelimit.Result  // リミッターが実行された場合に設定
	Quota     *model.QuotaStatus // クォータが実行された場合に設定
	Err       *model.APIError    // 拒否時のみ設定
	Status    int                // Errに対応するHTTPステータス
}

// Allowed は判定が許可かどうかを返す。
func (d *Decision) Allowed() bool {
	return d.Err == nil
}

// IdentityResolver は呼び出し元の解決インターフェース。
type IdentityResolver interface {
	Resolve(r *http.Request) (*model.Identity, *model.APIError)
}

// SignatureVerifier は署名検証インターフェース。
type SignatureVerifier interface {
	Verify(ctx context.Context, sc *signature.RequestContext, method, path string, body []byte) *model.APIError
}

// QuotaEngine はクォータ照会・消費インターフェース。
type QuotaEngine interface {
	Consume(ctx context.Context, id *model.Identity) (bool, *model.QuotaStatus, error)
}

// APIKeyValidator はAPIキー検証インターフェース（ティア判定用）。
type APIKeyValidator interface {
	Valid(key string) bool
}

// Metrics はゲートウェイが記録するメトリクスのインターフェース。
type Metrics interface {
	RecordRateLimitDenied(class, tier string)
	RecordQuotaConsumed()
	RecordQuotaDenied()
	RecordSignatureFailure(reason string)
}

// Gateway はアクセス制御のオーケストレーター。独自の状態は持たない。
type Gateway struct {
	resolver   IdentityResolver
	limiter    ratelimit.Limiter
	quota      QuotaEngine
	signatures SignatureVerifier
	apiKeys    APIKeyValidator
	metrics    Metrics
	adminToken string // 空なら管理トークンによる代替経路は無効
}

// New はGatewayを生成する。
func New(
	resolver IdentityResolver,
	limiter ratelimit.Limiter,
	quota QuotaEngine,
	signatures SignatureVerifier,
	apiKeys APIKeyValidator,
	metrics Metrics,
	adminToken string,
) *Gateway {
	return &Gateway{
		resolver:   resolver,
		limiter:    limiter,
		quota:      quota,
		signatures: signatures,
		apiKeys:    apiKeys,
		metrics:    metrics,
		adminToken: adminToken,
	}
}

// Authorize はポリシーに従ってアクセス制御判定を実行する。
// 署名検証を最初に行うのは、悪意ある自動トラフィックを最も安価に
// 弾けるため。
func (g *Gateway) Authorize(r *http.Request, policy Policy) Decision {
	// 1. 署名検証（要求された場合のみ）
	if policy.RequireSignature {
		if apiErr := g.verifySignature(r); apiErr != nil {
			g.metrics.RecordSignatureFailure(apiErr.Code)
			return Decision{Err: apiErr, Status: http.StatusUnauthorized}
		}
	}

	// 2. Identity解決
	id, apiErr := g.resolver.Resolve(r)
	if apiErr != nil {
		return Decision{Err: apiErr, Status: http.StatusUnauthorized}
	}
	if policy.RequireAuth && !id.Authenticated {
		return Decision{Identity: id, Err: model.NewUnauthorizedError(), Status: http.StatusUnauthorized}
	}

	// 3. レート制限。クライアントIDはIPベース（クォータより粗い;
	// インフラ保護が目的であり、ユーザー単位の予算ではないため）。
	tier := ratelimit.TierPublic
	if g.apiKeys != nil {
		if key := apikey.FromRequest(r); key != "" && g.apiKeys.Valid(key) {
			tier = ratelimit.TierAuthenticated
		}
	}
	result := g.limiter.Check(r.Context(), policy.LimiterClass, identity.ClientIP(r), tier)
	if !result.Allowed {
		g.metrics.RecordRateLimitDenied(string(policy.LimiterClass), string(result.Tier))
		return Decision{
			Identity:  id,
			RateLimit: &result,
			Err:       ratelimit.NewExceededError(result),
			Status:    http.StatusTooManyRequests,
		}
	}

	// 4. クォータ消費（要求された場合のみ）。fail-closed:
	// ストア障害で検証できない場合は許可しない。
	var quotaStatus *model.QuotaStatus
	if policy.ConsumeQuota {
		allowed, status, err := g.quota.Consume(r.Context(), id)
		if err != nil {
			slog.Error("quota consume failed",
				slog.String("identity_key", id.Key()),
				slog.String("error", err.Error()),
			)
			return Decision{
				Identity:  id,
				RateLimit: &result,
				Err:       model.NewServerError(),
				Status:    http.StatusInternalServerError,
			}
		}
		if !allowed {
			g.metrics.RecordQuotaDenied()
			return Decision{
				Identity:  id,
				RateLimit: &result,
				Quota:     status,
				Err:       model.NewQuotaExceededError(status.ResetsAt.Format("2006-01-02 15:04 UTC")),
				Status:    http.StatusTooManyRequests,
			}
		}
		g.metrics.RecordQuotaConsumed()
		quotaStatus = status
	}

	return Decision{Identity: id, RateLimit: &result, Quota: quotaStatus}
}

// verifySignature は署名付きリクエストを検証する。
// 管理トークンが設定されている場合、Bearerでの提示を代替経路として受け付ける
// （後方互換のための弱い経路。強化時の最初の削除候補）。
func (g *Gateway) verifySignature(r *http.Request) *model.APIError {
	if g.adminToken != "" {
		if token, present := identity.BearerToken(r); present {
			if len(token) == len(g.adminToken) &&
				subtle.ConstantTimeCompare([]byte(token), []byte(g.adminToken)) == 1 {
				return nil
			}
			// 管理トークンとして不正な値を提示した場合も署名検証に進む。
			// Bearerがモバイルセッションの可能性もあるため、ここでは拒否しない。
		}
	}

	sc, err := signature.ContextFromHeaders(
		r.Header.Get(signature.HeaderKeyID),
		r.Header.Get(signature.HeaderTimestamp),
		r.Header.Get(signature.HeaderNonce),
		r.Header.Get(signature.HeaderSignature),
	)
	if err != nil {
		return model.NewInvalidSignatureError()
	}

	// 署名対象のボディを読み取り、後続ハンドラーのために復元する。
	body, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		return model.NewInvalidSignatureError()
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	return g.signatures.Verify(r.Context(), sc, r.Method, r.URL.Path, body)
}
