package authmobile

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/omikuji/internal/model"
)

const defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// googleIssuers はGoogleのIDトークンで許容されるissクレーム。
// 歴史的経緯によりスキーム有無の2種類が存在する。
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// GoogleVerifierConfig はGoogle IDトークン検証器の設定。
type GoogleVerifierConfig struct {
	ClientID string // audクレームと照合するOAuthクライアントID

	// テスト用にオーバーライド可能なURL
	JWKSURL string
}

// GoogleVerifier はGoogleサインインのIDトークンを検証する。
type GoogleVerifier struct {
	config GoogleVerifierConfig
	jwks   *JWKSCache
}

// NewGoogleVerifier はGoogleVerifierを生成する。
func NewGoogleVerifier(config GoogleVerifierConfig) *GoogleVerifier {
	if config.JWKSURL == "" {
		config.JWKSURL = defaultGoogleJWKSURL
	}
	return &GoogleVerifier{
		config: config,
		jwks:   NewJWKSCache(config.JWKSURL),
	}
}

// Provider はプロバイダー名を返す。
func (v *GoogleVerifier) Provider() string { return model.ProviderGoogle }

// googleClaims はGoogleのIDトークンのクレーム。
type googleClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Verify はGoogleのIDトークンを検証し、正規化されたクレームを返す。
// issは2種類の表記を許容するため、パース後に手動で照合する。
func (v *GoogleVerifier) Verify(ctx context.Context, identityToken string) (*TokenClaims, error) {
	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(identityToken, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("missing kid header")
			}
			return v.jwks.Key(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.config.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify google id token: %w", err)
	}

	validIssuer := false
	for _, iss := range googleIssuers {
		if claims.Issuer == iss {
			validIssuer = true
		}
	}
	if !validIssuer {
		return nil, fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("empty subject in google id token")
	}

	return &TokenClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// compile-time interface check
var _ IdentityTokenVerifier = (*GoogleVerifier)(nil)
