package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/omikuji/internal/model"
)

// PostgresWebSessionRepo はWeb側の認証基盤が書き込むsessionsテーブルの
// 読み取り専用リポジトリ。セッションの発行・破棄はWeb側の責務。
type PostgresWebSessionRepo struct {
	db *sql.DB
}

// NewPostgresWebSessionRepo はPostgresWebSessionRepoを生成する。
func NewPostgresWebSessionRepo(db *sql.DB) *PostgresWebSessionRepo {
	return &PostgresWebSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresWebSessionRepo) FindByID(ctx context.Context, id string) (*model.WebSession, error) {
	session := &model.WebSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find web session: %w", err)
	}

	return session, nil
}

// compile-time interface check
var _ WebSessionFinder = (*PostgresWebSessionRepo)(nil)
