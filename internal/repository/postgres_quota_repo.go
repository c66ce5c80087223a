package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresQuotaRepo はPostgreSQLを使用した日次クォータリポジトリ。
type PostgresQuotaRepo struct {
	db *sql.DB
}

// NewPostgresQuotaRepo はPostgresQuotaRepoを生成する。
func NewPostgresQuotaRepo(db *sql.DB) *PostgresQuotaRepo {
	return &PostgresQuotaRepo{db: db}
}

// Get は(identityKey, dateKey)のレコードの使用数と上限を返す。
// レコードが存在しない場合は used=0, limit=defaultLimit を返す。読み取り専用。
func (r *PostgresQuotaRepo) Get(ctx context.Context, identityKey, dateKey string, defaultLimit int) (int, int, error) {
	var used, limit int
	err := r.db.QueryRowContext(ctx,
		`SELECT used_count, daily_limit FROM quota_records
		 WHERE identity_key = $1 AND date_key = $2`,
		identityKey, dateKey,
	).Scan(&used, &limit)

	if err == sql.ErrNoRows {
		return 0, defaultLimit, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get quota record: %w", err)
	}

	return used, limit, nil
}

// consumeQuery は初回作成と加算を1文で行うアトミックなupsert。
// ON CONFLICT DO UPDATEは衝突時に対象行をロックして更新するため、
// 日付切り替わり直後の同時初回消費もここで直列化される（一方がINSERT、
// 残りは更新パスに落ちる）。上限到達時はWHERE述語で更新が抑止され、
// 行が返らない。上限は設定値($3)と照合するため、設定変更は当日から効く。
const consumeQuery = `
	INSERT INTO quota_records (identity_key, date_key, used_count, daily_limit)
	VALUES ($1, $2, 1, $3)
	ON CONFLICT (identity_key, date_key) DO UPDATE
	SET used_count = quota_records.used_count + 1, daily_limit = $3
	WHERE quota_records.used_count < $3
	RETURNING used_count, daily_limit`

// Consume は(identityKey, dateKey)のカウンタを1回分アトミックに消費する。
// 行が返らなければ上限到達であり、カウンタは変更されない。
func (r *PostgresQuotaRepo) Consume(ctx context.Context, identityKey, dateKey string, defaultLimit int) (bool, int, int, error) {
	if defaultLimit <= 0 {
		// 上限0は消費を一切許可しない。レコードも作らない。
		used, _, err := r.Get(ctx, identityKey, dateKey, defaultLimit)
		if err != nil {
			return false, 0, 0, err
		}
		return false, used, defaultLimit, nil
	}

	var used, limit int
	err := r.db.QueryRowContext(ctx, consumeQuery, identityKey, dateKey, defaultLimit).Scan(&used, &limit)

	if err == sql.ErrNoRows {
		// 上限到達: 現在値を読み直して返す。
		used, limit, err := r.Get(ctx, identityKey, dateKey, defaultLimit)
		if err != nil {
			return false, 0, 0, err
		}
		return false, used, limit, nil
	}
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to consume quota: %w", err)
	}

	return true, used, limit, nil
}

// compile-time interface check
var _ QuotaRepository = (*PostgresQuotaRepo)(nil)
