// Package identity はリクエストの呼び出し元解決を提供する。
// Web Cookieセッション・モバイルBearerトークン・匿名ゲストの3経路を
// 単一のIdentityに統一する。
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
	"github.com/hitoshi/omikuji/internal/repository"
)

const (
	sessionCookieName  = "session_id"
	clientIDHeader     = "X-Client-Id"
	forwardedForHeader = "X-Forwarded-For"
)

// Resolver はリクエストからIdentityを解決する。副作用は持たない
// （モバイルセッションの有効期限延長を除く）。
type Resolver struct {
	mobileSessions repository.MobileSessionRepository
	webSessions    repository.WebSessionFinder
	sessionTTL     time.Duration
	now            func() time.Time // テスト用に差し替え可能
}

// NewResolver はResolverを生成する。
// sessionTTLはモバイルセッションの延長時に使用する有効期間。
func NewResolver(
	mobileSessions repository.MobileSessionRepository,
	webSessions repository.WebSessionFinder,
	sessionTTL time.Duration,
) *Resolver {
	return &Resolver{
		mobileSessions: mobileSessions,
		webSessions:    webSessions,
		sessionTTL:     sessionTTL,
		now:            time.Now,
	}
}

// Resolve はリクエストからIdentityを解決する。
// 優先順位: (1) Bearerトークン（モバイル）、(2) Cookieセッション（Web）、(3) 匿名ゲスト。
// Bearerトークンが提示されていて無効な場合はSESSION_EXPIREDを返す。
// トークンの提示は認証の明示的な主張であり、黙ってゲストに降格してはならない。
func (r *Resolver) Resolve(req *http.Request) (*model.Identity, *model.APIError) {
	// 1. Bearerトークン
	if token, present := BearerToken(req); present {
		session, err := r.mobileSessions.FindByToken(req.Context(), token)
		if err != nil {
			slog.Error("failed to find mobile session",
				slog.String("error", err.Error()),
			)
			return nil, model.NewSessionExpiredError()
		}
		if session == nil {
			return nil, model.NewSessionExpiredError()
		}

		r.maybeExtend(req.Context(), session)
		return model.AuthenticatedUser(session.UserID), nil
	}

	// 2. WebのCookieセッション
	if cookie, err := req.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		session, err := r.webSessions.FindByID(req.Context(), cookie.Value)
		if err != nil {
			slog.Error("failed to find web session",
				slog.String("error", err.Error()),
			)
		} else if session != nil {
			return model.AuthenticatedUser(session.UserID), nil
		}
		// Cookieセッションの失効は匿名扱いにフォールスルーする。
		// Bearerと異なり、Cookieは自動送信されるため明示的な認証主張ではない。
	}

	// 3. 匿名ゲスト
	return model.Guest(GuestKey(req)), nil
}

// maybeExtend は残り有効期間がTTLの半分を下回ったセッションを延長する。
// 毎回書き込むと読み取りがすべて書き込みになるため、閾値を設ける。
// 延長失敗は解決結果に影響しない。
func (r *Resolver) maybeExtend(ctx context.Context, session *model.MobileSession) {
	remaining := session.ExpiresAt.Sub(r.now())
	if remaining >= r.sessionTTL/2 {
		return
	}
	if err := r.mobileSessions.ExtendExpiry(ctx, session.Token, r.now().Add(r.sessionTTL)); err != nil {
		slog.Warn("failed to extend mobile session",
			slog.String("error", err.Error()),
		)
	}
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// 2番目の戻り値はBearerスキームが提示されたかどうかを表す。
// トークンが空の場合もtrue（不正な提示として扱う）。
func BearerToken(req *http.Request) (string, bool) {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// GuestKey は匿名呼び出し元のゲストIDを導出する。
// クライアント指定のIDヘッダー → X-Forwarded-Forの先頭IP → RemoteAddr → "unknown"
// の順にフォールバックする。
func GuestKey(req *http.Request) string {
	if v := strings.TrimSpace(req.Header.Get(clientIDHeader)); v != "" {
		return v
	}
	return ClientIP(req)
}

// ClientIP はリクエスト元のIPアドレスを返す。レート制限のキーにも使用する。
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get(forwardedForHeader); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if req.RemoteAddr != "" {
		return req.RemoteAddr
	}
	return "unknown"
}
