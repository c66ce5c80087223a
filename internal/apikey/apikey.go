// Package apikey はサービスAPIキーの検証とログ出力用マスキングを提供する。
// ここでの「認証済み」はAPIキーの所持を意味し、ユーザーログインとは別概念。
// レート制限のティア判定にのみ使用する。
package apikey

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const headerName = "X-API-Key"

// Validator は許可リスト方式のAPIキー検証器。
type Validator struct {
	keys []string
}

// NewValidator は許可リストからValidatorを生成する。
// リストが空の場合、すべてのキーは無効として扱われる。
func NewValidator(keys []string) *Validator {
	trimmed := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			trimmed = append(trimmed, k)
		}
	}
	return &Validator{keys: trimmed}
}

// Valid はキーが許可リストに含まれるかを返す。
// 比較は定数時間で行う。
func (v *Validator) Valid(key string) bool {
	if key == "" {
		return false
	}
	valid := false
	for _, k := range v.keys {
		if len(k) == len(key) && subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			valid = true
		}
	}
	return valid
}

// FromRequest はリクエストからAPIキーを取り出す。未指定なら空文字を返す。
func FromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerName))
}

// Mask はログ出力用にAPIキーをマスクする。
// 8文字以下のキーは生の文字を一切開示せず "***" を返す。
// それ以外は先頭4文字と末尾4文字のみを開示する。
func Mask(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
