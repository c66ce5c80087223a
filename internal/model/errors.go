// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, signature, ratelimit, quota, validation, system
	Action   string // クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeSessionExpired    = "SESSION_EXPIRED"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeInvalidSignature  = "INVALID_SIGNATURE"
	ErrCodeStaleTimestamp    = "STALE_TIMESTAMP"
	ErrCodeUnknownKey        = "UNKNOWN_KEY"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnknownOperation  = "UNKNOWN_OPERATION"
	ErrCodeServerError       = "SERVER_ERROR"
)

// NewUnauthorizedError は認証情報が提示されていない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewSessionExpiredError は提示された認証情報が無効または期限切れの場合の
// エラーを生成する。未提示（UNAUTHORIZED）とはUXが異なるため区別する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewInvalidTokenError はIDトークンの検証失敗エラーを生成する。
// 検証器の内部事情は漏らさず、常に同一のエラーを返す。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "IDトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "新しいトークンを取得して再度サインインしてください。",
	}
}

// NewInvalidSignatureError は署名検証失敗エラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "リクエスト署名が一致しません。",
		Category: "signature",
		Action:   "署名の計算対象（メソッド・パス・ボディ・タイムスタンプ・ノンス）を確認してください。",
	}
}

// NewStaleTimestampError はタイムスタンプが鮮度ウィンドウ外の場合のエラーを生成する。
func NewStaleTimestampError() *APIError {
	return &APIError{
		Code:     ErrCodeStaleTimestamp,
		Message:  "リクエストのタイムスタンプが古すぎます。",
		Category: "signature",
		Action:   "サーバー時刻と同期した現在時刻で署名し直してください。",
	}
}

// NewUnknownKeyError は未知のキーIDが指定された場合のエラーを生成する。
func NewUnknownKeyError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownKey,
		Message:  "指定されたキーIDは登録されていません。",
		Category: "signature",
		Action:   "X-API-Key-Idヘッダーの値を確認してください。",
	}
}

// NewQuotaExceededError は日次クォータ超過エラーを生成する。
func NewQuotaExceededError(resetsAt string) *APIError {
	return &APIError{
		Code:     ErrCodeQuotaExceeded,
		Message:  "本日の利用回数の上限に達しました。",
		Category: "quota",
		Action:   fmt.Sprintf("%s 以降に再度お試しください。", resetsAt),
	}
}

// NewInvalidRequestError はリクエストボディ不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストボディの形式を確認してください。",
	}
}

// NewUnknownOperationError はキャッシュ管理APIで未知の操作が指定された場合の
// エラーを生成する。
func NewUnknownOperationError(op string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownOperation,
		Message:  fmt.Sprintf("未知の操作です: %s", op),
		Category: "validation",
		Action:   "opには stats、get、delete、flush のいずれかを指定してください。",
	}
}

// NewServerError は内部エラーの統一レスポンスを生成する。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func NewServerError() *APIError {
	return &APIError{
		Code:     ErrCodeServerError,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
