package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
)

// 各リポジトリがインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ MobileUserRepository = (*PostgresMobileUserRepo)(nil)
	var _ MobileSessionRepository = (*PostgresMobileSessionRepo)(nil)
	var _ WebSessionFinder = (*PostgresWebSessionRepo)(nil)
	var _ QuotaRepository = (*PostgresQuotaRepo)(nil)
}

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresMobileUserRepo(nil) == nil {
		t.Fatal("expected non-nil mobile user repo")
	}
	if NewPostgresMobileSessionRepo(nil) == nil {
		t.Fatal("expected non-nil mobile session repo")
	}
	if NewPostgresWebSessionRepo(nil) == nil {
		t.Fatal("expected non-nil web session repo")
	}
	if NewPostgresQuotaRepo(nil) == nil {
		t.Fatal("expected non-nil quota repo")
	}
}

func TestNullable(t *testing.T) {
	if v := nullable(""); v.Valid {
		t.Error("empty string should map to NULL")
	}
	if v := nullable("x"); !v.Valid || v.String != "x" {
		t.Errorf("nullable(\"x\") = %+v, want valid x", v)
	}
}

// 消費は単一のupsert文であること。select-then-insertに分けると、日付
// 切り替わり直後の同時初回消費が一意制約違反になり、クォータ超過ではなく
// サーバーエラーとして返ってしまう。
func TestQuotaConsume_SingleStatementUpsert(t *testing.T) {
	if !strings.Contains(consumeQuery, "ON CONFLICT (identity_key, date_key) DO UPDATE") {
		t.Error("consume must be an atomic upsert on the (identity_key, date_key) key")
	}
	// 上限到達時はDB側の述語で更新が抑止されること
	if !strings.Contains(consumeQuery, "used_count < $3") {
		t.Error("consume must guard the increment with the limit predicate")
	}
	if strings.Contains(consumeQuery, "FOR UPDATE") {
		t.Error("consume must not rely on locking a row that may not exist yet")
	}
	if strings.Count(consumeQuery, ";") > 0 {
		t.Error("consume must be a single statement")
	}
}

// 期限切れセッションはFindByTokenのWHERE句で除外される想定の検証
func TestMobileSession_ExpiryConcept(t *testing.T) {
	session := &model.MobileSession{
		Token:     "expired",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	if session.ExpiresAt.After(time.Now()) {
		t.Error("expected session to be expired")
	}
}
