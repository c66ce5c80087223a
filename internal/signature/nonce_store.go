package signature

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceStore はRedisのSET NX EXでノンスを記録するストア。
// TTLに鮮度ウィンドウを渡すことで、ウィンドウを過ぎたノンスは自然に消える。
type RedisNonceStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisNonceStore はRedisNonceStoreを生成する。
func NewRedisNonceStore(rdb *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{rdb: rdb, prefix: "signature:nonce"}
}

// Remember はノンスを記録する。初見ならtrue、既出ならfalseを返す。
// Redis障害時はエラーを返し、呼び出し側（署名検証）はfail-closedで拒否する。
func (s *RedisNonceStore) Remember(ctx context.Context, keyID, nonce string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", s.prefix, keyID, nonce)
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return ok, nil
}

// MemoryNonceStore はRedis未設定環境向けのプロセス内ノンスストア。
// 単一プロセス内でのリプレイのみ防げる。複数レプリカ構成ではRedisを使うこと。
type MemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time // key -> 期限
	now   func() time.Time
	sweep int // Remember呼び出しごとのカウンタ。一定回数ごとに期限切れを掃除する。
}

// NewMemoryNonceStore はMemoryNonceStoreを生成する。
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Remember はノンスを記録する。初見ならtrue、既出ならfalseを返す。
func (s *MemoryNonceStore) Remember(_ context.Context, keyID, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	s.sweep++
	if s.sweep >= 128 {
		s.sweep = 0
		for k, exp := range s.seen {
			if exp.Before(now) {
				delete(s.seen, k)
			}
		}
	}

	key := keyID + ":" + nonce
	if exp, ok := s.seen[key]; ok && exp.After(now) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

// compile-time interface checks
var (
	_ NonceStore = (*RedisNonceStore)(nil)
	_ NonceStore = (*MemoryNonceStore)(nil)
)
