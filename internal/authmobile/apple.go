package authmobile

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/omikuji/internal/model"
)

const (
	defaultAppleJWKSURL = "https://appleid.apple.com/auth/keys"
	appleIssuer         = "https://appleid.apple.com"
)

// AppleVerifierConfig はApple IDトークン検証器の設定。
type AppleVerifierConfig struct {
	BundleID string // audクレームと照合するアプリのBundle ID

	// テスト用にオーバーライド可能なURL
	JWKSURL string
}

// AppleVerifier はSign in with AppleのIDトークンを検証する。
type AppleVerifier struct {
	config AppleVerifierConfig
	jwks   *JWKSCache
}

// NewAppleVerifier はAppleVerifierを生成する。
func NewAppleVerifier(config AppleVerifierConfig) *AppleVerifier {
	if config.JWKSURL == "" {
		config.JWKSURL = defaultAppleJWKSURL
	}
	return &AppleVerifier{
		config: config,
		jwks:   NewJWKSCache(config.JWKSURL),
	}
}

// Provider はプロバイダー名を返す。
func (v *AppleVerifier) Provider() string { return model.ProviderApple }

// appleClaims はAppleのIDトークンのクレーム。
// emailは初回認可時、またはクライアントが再提出しなかった場合にのみ含まれる。
type appleClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Verify はAppleのIDトークンを検証し、正規化されたクレームを返す。
// iss・aud・exp・署名（RS256、Apple JWKS）をすべて確認する。
func (v *AppleVerifier) Verify(ctx context.Context, identityToken string) (*TokenClaims, error) {
	claims := &appleClaims{}
	_, err := jwt.ParseWithClaims(identityToken, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("missing kid header")
			}
			return v.jwks.Key(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(v.config.BundleID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify apple identity token: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("empty subject in apple identity token")
	}

	// Appleのトークンはnameクレームを持たない。名前はクライアントの初回提出のみ。
	return &TokenClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
	}, nil
}

// compile-time interface check
var _ IdentityTokenVerifier = (*AppleVerifier)(nil)
