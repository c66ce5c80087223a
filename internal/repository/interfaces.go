// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
)

// MobileUserRepository はモバイルユーザーの永続化インターフェース。
type MobileUserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.MobileUser, error)

	// Upsert は(provider, providerUserID)をキーに冪等にユーザーを作成または更新する。
	// 既存レコードがある場合、emailとnameは空でない値が渡されたときのみ上書きする
	// （Appleは初回認可時にしかemail/nameを開示しないため、空値で消してはならない）。
	// 作成・更新後のユーザーを返す。
	Upsert(ctx context.Context, user *model.MobileUser) (*model.MobileUser, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するmobile_sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// MobileSessionRepository はモバイルセッションの永続化インターフェース。
type MobileSessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.MobileSession) error

	// FindByToken は指定トークンのセッションを取得する。
	// 期限切れまたは存在しない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.MobileSession, error)

	// ExtendExpiry はセッションの有効期限をexpiresAtまで延長する。
	ExtendExpiry(ctx context.Context, token string, expiresAt time.Time) error

	// DeleteByToken は指定トークンのセッションを削除する。
	DeleteByToken(ctx context.Context, token string) error
}

// WebSessionFinder はWebのCookieセッション検索インターフェース。
// セッションの発行・削除はWeb側の認証基盤の責務であり、ここでは検証のみ扱う。
type WebSessionFinder interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.WebSession, error)
}

// QuotaRepository は日次クォータレコードの永続化インターフェース。
type QuotaRepository interface {
	// Get は(identityKey, dateKey)のレコードの使用数と上限を返す。
	// レコードが存在しない場合は used=0, limit=defaultLimit を返す。
	Get(ctx context.Context, identityKey, dateKey string, defaultLimit int) (used, limit int, err error)

	// Consume は1トランザクション内でread-check-writeを行い、1回分を消費する。
	// レコードが無ければ used_count=1 で作成して許可。上限未満なら加算して許可。
	// 上限に達していれば何も変更せず不許可を返す。
	// 同時リクエストが両方とも admitted になることを防ぐため、必ず単一の
	// トランザクション境界内で実行する。
	Consume(ctx context.Context, identityKey, dateKey string, defaultLimit int) (allowed bool, used, limit int, err error)
}
