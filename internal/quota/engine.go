// Package quota はIdentityごとのUTC日次利用上限を管理する。
// レート制限（秒〜分単位のインフラ保護）とは別の、ビジネス上の利用回数制限。
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
	"github.com/hitoshi/omikuji/internal/repository"
)

// EngineConfig はクォータエンジンの設定。
type EngineConfig struct {
	GuestDailyLimit int // 匿名ゲストの1日あたり上限
	UserDailyLimit  int // 認証済みユーザーの1日あたり上限
}

// Engine は日次クォータの照会と消費を提供する。
// 消費の原子性はリポジトリのトランザクション境界に委ねる。
type Engine struct {
	repo   repository.QuotaRepository
	config EngineConfig
	now    func() time.Time // テスト用に差し替え可能
}

// NewEngine はEngineを生成する。
func NewEngine(repo repository.QuotaRepository, config EngineConfig) *Engine {
	return &Engine{
		repo:   repo,
		config: config,
		now:    time.Now,
	}
}

// GetStatus は現在のクォータ状態を返す。状態を変更しない。
// Identityが解決不能（キーが空）の場合は安全側に倒し、残量0として返す。
func (e *Engine) GetStatus(ctx context.Context, id *model.Identity) (*model.QuotaStatus, error) {
	now := e.now()
	limit := e.limitFor(id)

	key := id.Key()
	if key == "" {
		return &model.QuotaStatus{
			Limit:     limit,
			Used:      limit,
			Remaining: 0,
			ResetsAt:  model.QuotaResetTime(now),
		}, nil
	}

	used, recLimit, err := e.repo.Get(ctx, key, model.QuotaDateKey(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota status: %w", err)
	}

	return e.status(used, recLimit, now), nil
}

// Consume は1回分のクォータを消費する。
// 上限到達時はallowed=falseと消費前の状態を返し、レコードは変更しない。
func (e *Engine) Consume(ctx context.Context, id *model.Identity) (bool, *model.QuotaStatus, error) {
	now := e.now()
	limit := e.limitFor(id)

	key := id.Key()
	if key == "" {
		// 解決不能なIdentityは枯渇済みとして扱う
		return false, &model.QuotaStatus{
			Limit:     limit,
			Used:      limit,
			Remaining: 0,
			ResetsAt:  model.QuotaResetTime(now),
		}, nil
	}

	allowed, used, recLimit, err := e.repo.Consume(ctx, key, model.QuotaDateKey(now), limit)
	if err != nil {
		return false, nil, fmt.Errorf("failed to consume quota: %w", err)
	}

	return allowed, e.status(used, recLimit, now), nil
}

// limitFor はIdentityの区分に応じたデフォルト上限を返す。
func (e *Engine) limitFor(id *model.Identity) int {
	if id != nil && id.Authenticated {
		return e.config.UserDailyLimit
	}
	return e.config.GuestDailyLimit
}

// status はQuotaStatusを組み立てる。ResetsAtは常に翌日0:00 UTC（計算値）。
func (e *Engine) status(used, limit int, now time.Time) *model.QuotaStatus {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &model.QuotaStatus{
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		ResetsAt:  model.QuotaResetTime(now),
	}
}
