// Package signature はHMAC署名付き管理リクエストの検証を提供する。
// ユーザー認証・モバイルセッションとは独立した、サービス間認証の層。
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
)

// 署名付きリクエストの必須ヘッダー。
const (
	HeaderSignature = "X-API-Signature"
	HeaderTimestamp = "X-API-Timestamp"
	HeaderNonce     = "X-API-Nonce"
	HeaderKeyID     = "X-API-Key-Id"
)

// RequestContext は署名付きリクエストから導出される検証対象。永続化はしない。
type RequestContext struct {
	KeyID     string
	Timestamp string // Unix秒の文字列
	Nonce     string
	Signature string // hex
}

// NonceStore は鮮度ウィンドウ内で観測したノンスを記録する。
// Rememberは初見ならtrue、既出ならfalseを返す。
type NonceStore interface {
	Remember(ctx context.Context, keyID, nonce string, ttl time.Duration) (bool, error)
}

// Verifier はHMAC-SHA256署名の検証器。
// 検証不能はすべて拒否に倒す（fail-closed）。
type Verifier struct {
	secrets map[string]string // keyId -> secret
	maxAge  time.Duration
	nonces  NonceStore
	now     func() time.Time // テスト用に差し替え可能
}

// NewVerifier はVerifierを生成する。
// maxAgeはタイムスタンプの鮮度ウィンドウ。ウィンドウ外は署名が正しくても拒否する。
func NewVerifier(secrets map[string]string, maxAge time.Duration, nonces NonceStore) *Verifier {
	return &Verifier{
		secrets: secrets,
		maxAge:  maxAge,
		nonces:  nonces,
		now:     time.Now,
	}
}

// CanonicalString は署名対象の正準文字列を構築する。
// METHOD + "\n" + PATH + "\n" + BODY + "\n" + TIMESTAMP + "\n" + NONCE
func CanonicalString(method, path string, body []byte, timestamp, nonce string) string {
	return method + "\n" + path + "\n" + string(body) + "\n" + timestamp + "\n" + nonce
}

// Sign は正準文字列をHMAC-SHA256で署名し、hexエンコードして返す。
// クライアントSDKおよびテストで使用する。
func Sign(secret, method, path string, body []byte, timestamp, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(method, path, body, timestamp, nonce)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify は署名付きリクエストを検証する。
// 検証順序: キーID → タイムスタンプ鮮度 → 署名一致 → ノンス重複。
// 安価な検査を先に行い、署名計算は鮮度確認後に行う。
func (v *Verifier) Verify(ctx context.Context, sc *RequestContext, method, path string, body []byte) *model.APIError {
	secret, ok := v.secrets[sc.KeyID]
	if !ok || sc.KeyID == "" {
		return model.NewUnknownKeyError()
	}

	ts, err := strconv.ParseInt(sc.Timestamp, 10, 64)
	if err != nil {
		return model.NewStaleTimestampError()
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.maxAge || age < -v.maxAge {
		return model.NewStaleTimestampError()
	}

	expected := Sign(secret, method, path, body, sc.Timestamp, sc.Nonce)
	if !hmac.Equal([]byte(expected), []byte(sc.Signature)) {
		return model.NewInvalidSignatureError()
	}

	// ノンスの一意性検査。鮮度ウィンドウ内の完全リプレイを防ぐ。
	// ストア障害時は検証不能として拒否する。
	if sc.Nonce == "" {
		return model.NewInvalidSignatureError()
	}
	fresh, err := v.nonces.Remember(ctx, sc.KeyID, sc.Nonce, v.maxAge)
	if err != nil {
		return model.NewInvalidSignatureError()
	}
	if !fresh {
		return model.NewInvalidSignatureError()
	}

	return nil
}

// ContextFromHeaders はヘッダー値からRequestContextを構築する。
// いずれかが欠けている場合はエラーを返す。
func ContextFromHeaders(keyID, timestamp, nonce, sig string) (*RequestContext, error) {
	if keyID == "" || timestamp == "" || nonce == "" || sig == "" {
		return nil, fmt.Errorf("missing signature headers")
	}
	return &RequestContext{
		KeyID:     keyID,
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: sig,
	}, nil
}
