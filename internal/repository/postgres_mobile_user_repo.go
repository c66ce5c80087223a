package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/omikuji/internal/model"
)

// PostgresMobileUserRepo はPostgreSQLを使用したモバイルユーザーリポジトリ。
type PostgresMobileUserRepo struct {
	db *sql.DB
}

// NewPostgresMobileUserRepo はPostgresMobileUserRepoを生成する。
func NewPostgresMobileUserRepo(db *sql.DB) *PostgresMobileUserRepo {
	return &PostgresMobileUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresMobileUserRepo) FindByID(ctx context.Context, id string) (*model.MobileUser, error) {
	user := &model.MobileUser{}
	var email, name sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider, provider_user_id, email, name, created_at, updated_at
		 FROM mobile_users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Provider, &user.ProviderUserID, &email, &name, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mobile user by ID: %w", err)
	}

	user.Email = email.String
	user.Name = name.String
	return user, nil
}

// Upsert は(provider, providerUserID)をキーに冪等にユーザーを作成または更新する。
// SELECT→分岐→INSERT/UPDATEを同一トランザクションで行い、同時サインインでの
// 重複作成を一意制約とあわせて防ぐ。
func (r *PostgresMobileUserRepo) Upsert(ctx context.Context, user *model.MobileUser) (*model.MobileUser, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	existing := &model.MobileUser{}
	var email, name sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, provider, provider_user_id, email, name, created_at, updated_at
		 FROM mobile_users
		 WHERE provider = $1 AND provider_user_id = $2
		 FOR UPDATE`,
		user.Provider, user.ProviderUserID,
	).Scan(&existing.ID, &existing.Provider, &existing.ProviderUserID, &email, &name, &existing.CreatedAt, &existing.UpdatedAt)

	switch {
	case err == sql.ErrNoRows:
		// 新規ユーザーを作成
		created := &model.MobileUser{
			ID:             uuid.New().String(),
			Provider:       user.Provider,
			ProviderUserID: user.ProviderUserID,
			Email:          user.Email,
			Name:           user.Name,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO mobile_users (id, provider, provider_user_id, email, name, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			created.ID, created.Provider, created.ProviderUserID,
			nullable(created.Email), nullable(created.Name), created.CreatedAt, created.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert mobile user: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return created, nil

	case err != nil:
		return nil, fmt.Errorf("failed to find mobile user: %w", err)
	}

	// 既存ユーザーを更新。空でない値のみ上書きする。
	existing.Email = email.String
	existing.Name = name.String
	if user.Email != "" {
		existing.Email = user.Email
	}
	if user.Name != "" {
		existing.Name = user.Name
	}
	existing.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE mobile_users SET email = $1, name = $2, updated_at = $3 WHERE id = $4`,
		nullable(existing.Email), nullable(existing.Name), existing.UpdatedAt, existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update mobile user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return existing, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するmobile_sessionsはCASCADE削除される。
func (r *PostgresMobileUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM mobile_users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete mobile user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("mobile user not found: %s", id)
	}
	return nil
}

// nullable は空文字をNULLに変換する。
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ MobileUserRepository = (*PostgresMobileUserRepo)(nil)
