package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/omikuji/internal/gateway"
	"github.com/hitoshi/omikuji/internal/model"
	"github.com/hitoshi/omikuji/internal/ratelimit"
	"github.com/hitoshi/omikuji/internal/signature"
)

// --- モック定義 ---

type allowAllLimiter struct{}

func (allowAllLimiter) Check(_ context.Context, _ ratelimit.Class, _ string, tier ratelimit.Tier) ratelimit.Result {
	return ratelimit.Result{
		Allowed:   true,
		Limit:     50,
		Remaining: 49,
		Reset:     time.Unix(1900000000, 0),
		Window:    15 * time.Minute,
		Tier:      tier,
	}
}

type denyAllLimiter struct{}

func (denyAllLimiter) Check(_ context.Context, _ ratelimit.Class, _ string, tier ratelimit.Tier) ratelimit.Result {
	return ratelimit.Result{
		Allowed:   false,
		Limit:     10,
		Remaining: 0,
		Reset:     time.Unix(1900000000, 0),
		Window:    time.Minute,
		Tier:      tier,
	}
}

type guestResolver struct{}

func (guestResolver) Resolve(_ *http.Request) (*model.Identity, *model.APIError) {
	return model.Guest("203.0.113.1"), nil
}

type noopVerifier struct{}

func (noopVerifier) Verify(_ context.Context, _ *signature.RequestContext, _, _ string, _ []byte) *model.APIError {
	return nil
}

type noopKeys struct{}

func (noopKeys) Valid(_ string) bool { return false }

type noopMetrics struct{}

func (noopMetrics) RecordRateLimitDenied(_, _ string) {}
func (noopMetrics) RecordQuotaConsumed()              {}
func (noopMetrics) RecordQuotaDenied()                {}
func (noopMetrics) RecordSignatureFailure(_ string)   {}

type staticQuota struct{}

func (staticQuota) Consume(_ context.Context, _ *model.Identity) (bool, *model.QuotaStatus, error) {
	return true, &model.QuotaStatus{Limit: 1, Used: 1, Remaining: 0}, nil
}

var _ gateway.QuotaEngine = staticQuota{}

func newTestGateway(limiter ratelimit.Limiter) *gateway.Gateway {
	return gateway.New(
		guestResolver{}, limiter, staticQuota{},
		noopVerifier{}, noopKeys{}, noopMetrics{}, "",
	)
}

// --- テスト ---

func TestGatewayMiddleware_Allowed_InjectsIdentity(t *testing.T) {
	gw := newTestGateway(allowAllLimiter{})
	mw := NewGatewayMiddleware(gw, gateway.Policy{LimiterClass: ratelimit.ClassAPI})

	var gotIdentity *model.Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/fortune/quota", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotIdentity == nil || gotIdentity.GuestID != "203.0.113.1" {
		t.Errorf("identity = %+v, want guest 203.0.113.1", gotIdentity)
	}
}

func TestGatewayMiddleware_RateLimitHeaders(t *testing.T) {
	gw := newTestGateway(allowAllLimiter{})
	mw := NewGatewayMiddleware(gw, gateway.Policy{LimiterClass: ratelimit.ClassAPI})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/fortune/quota", nil))

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "50" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "50")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "49" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "49")
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != "1900000000" {
		t.Errorf("X-RateLimit-Reset = %q, want %q", got, "1900000000")
	}
	if got := rec.Header().Get("X-RateLimit-Window"); got != "15m0s" {
		t.Errorf("X-RateLimit-Window = %q, want %q", got, "15m0s")
	}
}

func TestGatewayMiddleware_Denied_WritesErrorBodyAndHeaders(t *testing.T) {
	gw := newTestGateway(denyAllLimiter{})
	mw := NewGatewayMiddleware(gw, gateway.Policy{LimiterClass: ratelimit.ClassFortune})

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		handlerCalled = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/fortune", nil))

	if handlerCalled {
		t.Error("handler must not run when denied")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	// 拒否時もレート制限ヘッダーが付くこと
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "0")
	}

	var body ErrorResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}
}

func TestGatewayMiddleware_QuotaPolicy_InjectsQuotaStatus(t *testing.T) {
	gw := newTestGateway(allowAllLimiter{})
	mw := NewGatewayMiddleware(gw, gateway.Policy{
		LimiterClass: ratelimit.ClassFortune,
		ConsumeQuota: true,
	})

	var gotQuota *model.QuotaStatus
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuota, _ = QuotaFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/fortune", nil))

	if gotQuota == nil {
		t.Fatal("expected quota status in context")
	}
	if gotQuota.Used != 1 {
		t.Errorf("quota used = %d, want 1", gotQuota.Used)
	}
}
