package authmobile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
	"github.com/hitoshi/omikuji/internal/repository"
)

// ErrInvalidToken はIDトークン検証に起因するサインイン失敗を表す。
// 検証器の内部エラーは意図的に区別せず、すべてこのエラーに正規化する
// （失敗理由を攻撃者に漏らさない）。
var ErrInvalidToken = errors.New("invalid identity token")

// SignInInput はモバイルサインインリクエストの入力。
type SignInInput struct {
	IdentityToken  string // AppleのidentityToken / GoogleのidToken
	UserIdentifier string // Appleのみ。クライアントが主張するsubject。
	Email          string // クライアント提出のemail（任意）
	FullName       string // クライアント提出の表示名（任意）
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration // モバイルセッションの有効期間
}

// Service はモバイルサインインのビジネスロジックを提供する。
// パイプライン: トークン検証 → subject照合(Appleのみ) → ユーザーupsert → セッション発行。
// 最初の失敗で打ち切る。
type Service struct {
	verifiers   map[string]IdentityTokenVerifier
	userRepo    repository.MobileUserRepository
	sessionRepo repository.MobileSessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	verifiers []IdentityTokenVerifier,
	userRepo repository.MobileUserRepository,
	sessionRepo repository.MobileSessionRepository,
	config ServiceConfig,
) *Service {
	m := make(map[string]IdentityTokenVerifier, len(verifiers))
	for _, v := range verifiers {
		m[v.Provider()] = v
	}
	return &Service{
		verifiers:   m,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// SignIn はサインインパイプラインを実行し、セッションとユーザーを返す。
// 検証系の失敗はErrInvalidTokenにラップされる。それ以外のエラーは内部エラー。
func (s *Service) SignIn(ctx context.Context, provider string, input SignInInput) (*model.MobileSession, *model.MobileUser, error) {
	start := time.Now()
	stage := "verify_token"

	verifier, ok := s.verifiers[provider]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	// 1. IDトークンの暗号学的検証
	claims, err := verifier.Verify(ctx, input.IdentityToken)
	if err != nil {
		s.logFailure(provider, stage, start, err)
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidToken, stage)
	}

	// 2. subject照合（Appleのみ）。クライアントが主張するuserIdentifierと
	// 検証済みトークンのsubが一致しない場合、トークンのすり替えとみなし
	// 検証失敗と同一に扱う。
	if provider == model.ProviderApple && input.UserIdentifier != "" && claims.Subject != input.UserIdentifier {
		stage = "verify_subject"
		s.logFailure(provider, stage, start, fmt.Errorf("subject mismatch"))
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidToken, stage)
	}

	// 3. ユーザーのupsert。emailはクライアント提出値を優先し、
	// トークンのクレームにフォールバックする。名前はクライアント提出のみ。
	stage = "upsert_user"
	email := input.Email
	if email == "" {
		email = claims.Email
	}
	user, err := s.userRepo.Upsert(ctx, &model.MobileUser{
		Provider:       provider,
		ProviderUserID: claims.Subject,
		Email:          email,
		Name:           input.FullName,
	})
	if err != nil {
		s.logFailure(provider, stage, start, err)
		return nil, nil, fmt.Errorf("failed to upsert mobile user: %w", err)
	}

	// 4. セッション発行
	stage = "issue_session"
	session, err := s.issueSession(ctx, user.ID, provider)
	if err != nil {
		s.logFailure(provider, stage, start, err)
		return nil, nil, fmt.Errorf("failed to issue session: %w", err)
	}

	slog.Info("mobile sign-in succeeded",
		slog.String("provider", provider),
		slog.String("user_id", user.ID),
		slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
	)

	return session, user, nil
}

// GetSessionUser はBearerトークンからユーザーを取得する。
// セッションが無効・期限切れ、またはユーザーが存在しない場合はnilを返す。
func (s *Service) GetSessionUser(ctx context.Context, token string) (*model.MobileUser, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find mobile session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find mobile user: %w", err)
	}
	return user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("session token is required")
	}
	if err := s.sessionRepo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete mobile session: %w", err)
	}
	slog.Info("mobile user logged out")
	return nil
}

// DeleteAccount はユーザーと関連セッションを削除する。
// ストアの外部キーCASCADEによりセッションも消える。
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete mobile user: %w", err)
	}
	slog.Info("mobile account deleted", slog.String("user_id", userID))
	return nil
}

// issueSession は不透明トークンのセッションを作成し永続化する。
func (s *Service) issueSession(ctx context.Context, userID, provider string) (*model.MobileSession, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session := &model.MobileSession{
		Token:     token,
		UserID:    userID,
		Provider:  provider,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.config.SessionTTL),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// logFailure はサインイン失敗を段階と所要時間つきで記録する。
// エラー詳細はログにのみ残し、クライアントには返さない。
func (s *Service) logFailure(provider, stage string, start time.Time, err error) {
	slog.Warn("mobile sign-in failed",
		slog.String("provider", provider),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
	)
}

// generateToken は暗号的に安全な不透明セッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
