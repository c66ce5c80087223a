// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/omikuji/internal/authmobile"
	"github.com/hitoshi/omikuji/internal/identity"
	"github.com/hitoshi/omikuji/internal/middleware"
	"github.com/hitoshi/omikuji/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, provider string, input authmobile.SignInInput) (*model.MobileSession, *model.MobileUser, error)
	GetSessionUser(ctx context.Context, token string) (*model.MobileUser, error)
	Logout(ctx context.Context, token string) error
	DeleteAccount(ctx context.Context, userID string) error
}

// UserFinder は解決済みIdentityからユーザー情報を引くためのインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.MobileUser, error)
}

// SignInMetrics はサインインの結果を記録するメトリクスのインターフェース。
type SignInMetrics interface {
	RecordSignIn(provider, outcome string, duration time.Duration)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	users   UserFinder
	metrics SignInMetrics
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, users UserFinder, metrics SignInMetrics) *AuthHandler {
	return &AuthHandler{
		service: service,
		users:   users,
		metrics: metrics,
	}
}

// userResponse はユーザー情報のレスポンス表現。
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Provider  string `json:"provider,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func toUserResponse(user *model.MobileUser) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Provider:  user.Provider,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// signInRequest はモバイルサインインのリクエストボディ。
// AppleはidentityToken、GoogleはidTokenのフィールド名を使用するため両方受ける。
type signInRequest struct {
	IdentityToken  string `json:"identityToken"`
	IDToken        string `json:"idToken"`
	UserIdentifier string `json:"userIdentifier"`
	Email          string `json:"email"`
	FullName       string `json:"fullName"`
}

// token は提供されたIDトークンを返す。
func (r *signInRequest) token() string {
	if r.IdentityToken != "" {
		return r.IdentityToken
	}
	return r.IDToken
}

// SignInApple はAppleサインインを処理する。
// POST /api/auth/mobile/apple
func (h *AuthHandler) SignInApple(w http.ResponseWriter, r *http.Request) {
	h.signIn(w, r, model.ProviderApple)
}

// SignInGoogle はGoogleサインインを処理する。
// POST /api/auth/mobile/google
func (h *AuthHandler) SignInGoogle(w http.ResponseWriter, r *http.Request) {
	h.signIn(w, r, model.ProviderGoogle)
}

// signIn はサインインパイプラインを実行し、セッショントークンとユーザーを返す。
func (h *AuthHandler) signIn(w http.ResponseWriter, r *http.Request, provider string) {
	start := time.Now()

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordSignIn(provider, "invalid_request", time.Since(start))
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("JSONボディを解析できません"))
		return
	}
	if req.token() == "" {
		h.metrics.RecordSignIn(provider, "invalid_request", time.Since(start))
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("IDトークンは必須です"))
		return
	}

	session, user, err := h.service.SignIn(r.Context(), provider, authmobile.SignInInput{
		IdentityToken:  req.token(),
		UserIdentifier: req.UserIdentifier,
		Email:          req.Email,
		FullName:       req.FullName,
	})
	if err != nil {
		// 検証失敗は詳細を問わず一律401。内部事情はログにのみ残る。
		if errors.Is(err, authmobile.ErrInvalidToken) {
			h.metrics.RecordSignIn(provider, "invalid_token", time.Since(start))
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
			return
		}
		h.metrics.RecordSignIn(provider, "server_error", time.Since(start))
		slog.Error("mobile sign-in failed unexpectedly",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	h.metrics.RecordSignIn(provider, "success", time.Since(start))
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"token": session.Token,
		"user":  toUserResponse(user),
	})
}

// MobileSession はBearerトークンに対応するユーザーを返す。
// GET /api/auth/mobile/session
func (h *AuthHandler) MobileSession(w http.ResponseWriter, r *http.Request) {
	token, present := identity.BearerToken(r)
	if !present || token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetSessionUser(r.Context(), token)
	if err != nil {
		slog.Error("failed to get session user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はモバイルセッションを破棄する。
// POST /api/auth/mobile/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, present := identity.BearerToken(r)
	if !present || token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteAccount はユーザーアカウントと関連セッションを削除する。
// DELETE /api/auth/mobile/account
// ゲートウェイミドルウェアで認証済みIdentityが保証されている前提。
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.IdentityFromContext(r.Context())
	if err != nil || !id.Authenticated {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.DeleteAccount(r.Context(), id.UserID); err != nil {
		slog.Error("failed to delete account",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Session は解決済みIdentityに対応するユーザー情報を返す。
// GET /api/auth/session
// 未認証（ゲスト）はゲートウェイミドルウェアで401になる。
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.IdentityFromContext(r.Context())
	if err != nil || !id.Authenticated {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.users.FindByID(r.Context(), id.UserID)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// Webセッション由来のユーザーはmobile_usersに存在しないことがある。
	// その場合はIDのみを返す。
	resp := userResponse{ID: id.UserID}
	if user != nil {
		resp = toUserResponse(user)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"user": resp})
}
