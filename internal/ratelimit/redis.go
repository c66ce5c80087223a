package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter はRedisのソート済みセットによるスライディングウィンドウ実装。
// 複数レプリカ間でカウンタを共有する。ウィンドウ境界の揺らぎは許容する
// （ソフトな保護であり、セキュリティ境界ではない）。
// Redis障害時はfail-open: 制限を諦めて通し、警告ログのみ残す。
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time // テスト用に差し替え可能
}

// NewRedisLimiter はRedisLimiterを生成する。
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: "ratelimit",
		now:    time.Now,
	}
}

// windowKey はウィンドウのRedisキー。ティアを含めない: クライアントごとに
// ウィンドウは1つで、ティアは上限値のみを変える。APIキーの有無でバケットが
// 分かれると、公開枠と認証枠を合算した回数を通してしまう。
func (l *RedisLimiter) windowKey(class Class, clientID string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, class, clientID)
}

// Check は(class, clientID)のウィンドウに1リクエストを記録し、判定を返す。
// ZREMRANGEBYSCOREでウィンドウ外を除去し、ZADDで現在時刻を記録、ZCARDで
// カウントする。キーのTTLはウィンドウ長と同じ。
func (l *RedisLimiter) Check(ctx context.Context, class Class, clientID string, tier Tier) Result {
	limit, window := LimitFor(class, tier)
	now := l.now()

	key := l.windowKey(class, clientID)
	windowStart := now.Add(-window).UnixNano()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limit store unavailable, failing open",
			slog.String("class", string(class)),
			slog.String("error", err.Error()),
		)
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			Reset:     now.Add(window),
			Window:    window,
			Tier:      tier,
		}
	}

	used := int(count.Val())
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   used <= limit,
		Limit:     limit,
		Remaining: remaining,
		Reset:     now.Add(window),
		Window:    window,
		Tier:      tier,
	}
}

// compile-time interface check
var _ Limiter = (*RedisLimiter)(nil)
