// Package cache はRedisキャッシュの管理操作を提供する。
// 管理APIからのみ呼ばれ、操作は型付きのタグで分岐する。
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
	"github.com/redis/go-redis/v9"
)

// Op はキャッシュ管理操作のタグ。
type Op string

const (
	OpStats  Op = "stats"
	OpGet    Op = "get"
	OpDelete Op = "delete"
	OpFlush  Op = "flush"
)

// Request はキャッシュ管理操作のリクエスト。
type Request struct {
	Op     Op     `json:"op"`
	Key    string `json:"key,omitempty"`    // get / delete
	Prefix string `json:"prefix,omitempty"` // flush
}

// opHandler は個々の操作の実装。
type opHandler func(ctx context.Context, req Request) (any, *model.APIError)

// Service はキャッシュ管理操作を実行する。
// Redis未設定の場合は無効状態として動作する（全トラフィックを止めるより
// キャッシュなしで縮退する方針）。
type Service struct {
	rdb      *redis.Client
	handlers map[Op]opHandler
}

// NewService はServiceを生成する。rdbがnilの場合は無効状態になる。
func NewService(rdb *redis.Client) *Service {
	s := &Service{rdb: rdb}
	// 操作の追加はこのマップへの登録のみ。未知のタグは型付きエラーで拒否する。
	s.handlers = map[Op]opHandler{
		OpStats:  s.stats,
		OpGet:    s.get,
		OpDelete: s.delete,
		OpFlush:  s.flush,
	}
	return s
}

// Enabled はキャッシュが利用可能かを返す。
func (s *Service) Enabled() bool {
	return s.rdb != nil
}

// Execute はリクエストの操作タグに対応するハンドラーを実行する。
// 未知のタグはUNKNOWN_OPERATIONとして拒否する。
func (s *Service) Execute(ctx context.Context, req Request) (any, *model.APIError) {
	handler, ok := s.handlers[req.Op]
	if !ok {
		return nil, model.NewUnknownOperationError(string(req.Op))
	}
	if req.Op != OpStats && !s.Enabled() {
		return nil, model.NewInvalidRequestError("キャッシュは無効化されています")
	}
	return handler(ctx, req)
}

// StatsResult はstats操作の結果。
type StatsResult struct {
	Enabled bool  `json:"enabled"`
	Keys    int64 `json:"keys"`
}

func (s *Service) stats(ctx context.Context, _ Request) (any, *model.APIError) {
	if !s.Enabled() {
		return StatsResult{Enabled: false}, nil
	}
	keys, err := s.rdb.DBSize(ctx).Result()
	if err != nil {
		return nil, serverError("failed to get cache stats", err)
	}
	return StatsResult{Enabled: true, Keys: keys}, nil
}

// GetResult はget操作の結果。
type GetResult struct {
	Key   string `json:"key"`
	Found bool   `json:"found"`
	Value string `json:"value,omitempty"`
	TTL   string `json:"ttl,omitempty"`
}

func (s *Service) get(ctx context.Context, req Request) (any, *model.APIError) {
	if req.Key == "" {
		return nil, model.NewInvalidRequestError("keyは必須です")
	}
	value, err := s.rdb.Get(ctx, req.Key).Result()
	if err == redis.Nil {
		return GetResult{Key: req.Key, Found: false}, nil
	}
	if err != nil {
		return nil, serverError("failed to get cache key", err)
	}
	ttl, err := s.rdb.TTL(ctx, req.Key).Result()
	if err != nil {
		return nil, serverError("failed to get cache TTL", err)
	}
	return GetResult{Key: req.Key, Found: true, Value: value, TTL: ttl.String()}, nil
}

// DeleteResult はdelete操作の結果。
type DeleteResult struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

func (s *Service) delete(ctx context.Context, req Request) (any, *model.APIError) {
	if req.Key == "" {
		return nil, model.NewInvalidRequestError("keyは必須です")
	}
	n, err := s.rdb.Del(ctx, req.Key).Result()
	if err != nil {
		return nil, serverError("failed to delete cache key", err)
	}
	return DeleteResult{Key: req.Key, Deleted: n > 0}, nil
}

// FlushResult はflush操作の結果。
type FlushResult struct {
	Prefix  string `json:"prefix"`
	Flushed int    `json:"flushed"`
}

// flush は指定プレフィックスのキーをSCANで列挙して削除する。
// KEYSはブロッキングのため使わない。
func (s *Service) flush(ctx context.Context, req Request) (any, *model.APIError) {
	if req.Prefix == "" {
		return nil, model.NewInvalidRequestError("prefixは必須です")
	}

	var cursor uint64
	flushed := 0
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			return nil, serverError("cache flush timed out", fmt.Errorf("prefix=%s", req.Prefix))
		}
		keys, next, err := s.rdb.Scan(ctx, cursor, req.Prefix+"*", 100).Result()
		if err != nil {
			return nil, serverError("failed to scan cache keys", err)
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return nil, serverError("failed to delete cache keys", err)
			}
			flushed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return FlushResult{Prefix: req.Prefix, Flushed: flushed}, nil
}

// serverError はRedis操作の失敗をログに記録し、詳細を含まない内部エラーを返す。
func serverError(msg string, err error) *model.APIError {
	slog.Error(msg, slog.String("error", err.Error()))
	return model.NewServerError()
}
