// Package ratelimit はクライアントIPごとの分散スライディングウィンドウ
// レート制限を提供する。日次クォータと異なり、秒〜分単位のバーストから
// 共有インフラを守るための制限であり、厳密な正確性よりも可用性を優先する
// （ストア障害時はfail-open）。
package ratelimit

import (
	"context"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
)

// Class はリミッタークラス（独立したウィンドウを持つ制限の種別）。
type Class string

const (
	// ClassAPI はAPI全般の制限。
	ClassAPI Class = "api"
	// ClassFortune はおみくじ生成の制限。公開ティアでAPIキーによる昇格がある。
	ClassFortune Class = "fortune"
	// ClassSearch は検索エンドポイントの制限。
	ClassSearch Class = "search"
	// ClassStrict は管理系・センシティブなエンドポイントの制限。
	ClassStrict Class = "strict"
)

// Tier はAPIキー所持による区分。ユーザーログインとは独立した概念。
type Tier string

const (
	TierPublic        Tier = "public"
	TierAuthenticated Tier = "authenticated"
)

// classLimit はクラスごとのウィンドウ長と上限。
// AuthLimitはAPIキー所持者に適用される上限（昇格がないクラスでは同値）。
type classLimit struct {
	Window    time.Duration
	Limit     int
	AuthLimit int
}

// classLimits は全リミッタークラスの定義。
var classLimits = map[Class]classLimit{
	ClassAPI:     {Window: 15 * time.Minute, Limit: 50, AuthLimit: 50},
	ClassFortune: {Window: 1 * time.Minute, Limit: 10, AuthLimit: 100},
	ClassSearch:  {Window: 1 * time.Minute, Limit: 30, AuthLimit: 30},
	ClassStrict:  {Window: 1 * time.Hour, Limit: 100, AuthLimit: 100},
}

// LimitFor はクラスとティアに応じた上限とウィンドウを返す。
// 未知のクラスはClassAPIとして扱う。
func LimitFor(class Class, tier Tier) (limit int, window time.Duration) {
	cl, ok := classLimits[class]
	if !ok {
		cl = classLimits[ClassAPI]
	}
	if tier == TierAuthenticated {
		return cl.AuthLimit, cl.Window
	}
	return cl.Limit, cl.Window
}

// Result はレート制限判定の結果。X-RateLimit-*ヘッダーの元になる。
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	Window    time.Duration
	Tier      Tier
}

// Limiter はレート制限判定のインターフェース。
type Limiter interface {
	// Check は(class, clientID)のウィンドウに1リクエストを記録し、判定を返す。
	Check(ctx context.Context, class Class, clientID string, tier Tier) Result
}

// NewExceededError はティアに応じた429エラーボディを生成する。
// 公開ティアにはAPIキー取得を、認証済みティアには待機を提案する。
func NewExceededError(result Result) *model.APIError {
	action := "しばらく待ってから再度お試しください。"
	if result.Tier == TierPublic {
		action = "APIキーを取得すると上限が引き上げられます。または、しばらく待ってから再度お試しください。"
	}
	return &model.APIError{
		Code:     model.ErrCodeRateLimitExceeded,
		Message:  "リクエスト数が上限を超えました（ティア: " + string(result.Tier) + "）。",
		Category: "ratelimit",
		Action:   action,
	}
}
