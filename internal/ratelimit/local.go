package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter はRedis未設定環境向けのプロセス内トークンバケット実装。
// 分散カウンタの代わりにx/time/rateで各キーのバケットを保持する。
// 複数レプリカ構成ではレプリカごとに独立して数えるため、上限は近似になる。
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	stopCh   chan struct{}
}

// localEntry はキーごとのリミッターと最終アクセス時刻を保持する。
// limitは現在のバケット容量。ティアの変化で容量が変わった場合に
// バケットを作り直さず調整するために持つ。
type localEntry struct {
	limiter    *rate.Limiter
	limit      int
	lastAccess time.Time
}

const localCleanupInterval = 5 * time.Minute

// NewLocalLimiter はLocalLimiterを生成する。
// バックグラウンドで放置されたエントリのクリーンアップを開始する。
func NewLocalLimiter() *LocalLimiter {
	l := &LocalLimiter{
		limiters: make(map[string]*localEntry),
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (l *LocalLimiter) Stop() {
	close(l.stopCh)
}

// Check は(class, clientID)のバケットからトークンを1つ消費し、判定を返す。
// バケットはティアを含めずクライアントごとに1つで、ティアは容量のみを
// 変える。トークンバケットは使用数を直接持たないため、Remainingは
// バケット内の残トークン数の近似値を返す。
func (l *LocalLimiter) Check(_ context.Context, class Class, clientID string, tier Tier) Result {
	limit, window := LimitFor(class, tier)

	key := string(class) + ":" + clientID
	limiter := l.getOrCreate(key, limit, window)

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Now().Add(window),
		Window:    window,
		Tier:      tier,
	}
}

// getOrCreate はキーのリミッターを取得または作成する。
// レートはウィンドウ全体で上限数を補充する速度に設定する。
// 既存バケットの容量とlimitが異なる場合（APIキーの有無が変わった場合）は、
// 使用済み数を保ったまま容量を変える。
func (l *LocalLimiter) getOrCreate(key string, limit int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.limiters[key]; ok {
		ent.lastAccess = time.Now()
		if ent.limit != limit {
			// 使用済み数を引き継いで新容量のバケットに詰め替える
			used := ent.limit - int(ent.limiter.Tokens())
			if used < 0 {
				used = 0
			}
			replacement := rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
			if used > 0 {
				replacement.AllowN(time.Now(), min(used, limit))
			}
			ent.limiter = replacement
			ent.limit = limit
		}
		return ent.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
	l.limiters[key] = &localEntry{
		limiter:    limiter,
		limit:      limit,
		lastAccess: time.Now(),
	}
	return limiter
}

// cleanupLoop はバックグラウンドで放置されたエントリを定期的に削除する。
func (l *LocalLimiter) cleanupLoop() {
	ticker := time.NewTicker(localCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスがクリーンアップ間隔の2倍を超えたエントリを削除する。
func (l *LocalLimiter) cleanup() {
	ttl := localCleanupInterval * 2
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, ent := range l.limiters {
		if now.Sub(ent.lastAccess) > ttl {
			delete(l.limiters, key)
		}
	}
}

// compile-time interface check
var _ Limiter = (*LocalLimiter)(nil)
