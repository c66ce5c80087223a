package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
)

// PostgresMobileSessionRepo はPostgreSQLを使用したモバイルセッションリポジトリ。
type PostgresMobileSessionRepo struct {
	db *sql.DB
}

// NewPostgresMobileSessionRepo はPostgresMobileSessionRepoを生成する。
func NewPostgresMobileSessionRepo(db *sql.DB) *PostgresMobileSessionRepo {
	return &PostgresMobileSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresMobileSessionRepo) Create(ctx context.Context, session *model.MobileSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mobile_sessions (token, user_id, provider, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.Token, session.UserID, session.Provider, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create mobile session: %w", err)
	}
	return nil
}

// FindByToken は指定トークンのセッションを取得する。
// 期限切れまたは存在しない場合はnilを返す。
func (r *PostgresMobileSessionRepo) FindByToken(ctx context.Context, token string) (*model.MobileSession, error) {
	session := &model.MobileSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, provider, created_at, expires_at
		 FROM mobile_sessions
		 WHERE token = $1 AND expires_at > now()`,
		token,
	).Scan(&session.Token, &session.UserID, &session.Provider, &session.CreatedAt, &session.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mobile session: %w", err)
	}

	return session, nil
}

// ExtendExpiry はセッションの有効期限をexpiresAtまで延長する。
func (r *PostgresMobileSessionRepo) ExtendExpiry(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mobile_sessions SET expires_at = $1 WHERE token = $2`,
		expiresAt, token,
	)
	if err != nil {
		return fmt.Errorf("failed to extend mobile session: %w", err)
	}
	return nil
}

// DeleteByToken は指定トークンのセッションを削除する。
func (r *PostgresMobileSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mobile_sessions WHERE token = $1`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to delete mobile session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MobileSessionRepository = (*PostgresMobileSessionRepo)(nil)
