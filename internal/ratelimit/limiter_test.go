package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
)

func TestLimitFor(t *testing.T) {
	cases := []struct {
		name       string
		class      Class
		tier       Tier
		wantLimit  int
		wantWindow time.Duration
	}{
		{"api public", ClassAPI, TierPublic, 50, 15 * time.Minute},
		{"api authenticated (no elevation)", ClassAPI, TierAuthenticated, 50, 15 * time.Minute},
		{"fortune public", ClassFortune, TierPublic, 10, time.Minute},
		{"fortune authenticated (elevated)", ClassFortune, TierAuthenticated, 100, time.Minute},
		{"search public", ClassSearch, TierPublic, 30, time.Minute},
		{"strict public", ClassStrict, TierPublic, 100, time.Hour},
		{"unknown class falls back to api", Class("bogus"), TierPublic, 50, 15 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limit, window := LimitFor(tc.class, tc.tier)
			if limit != tc.wantLimit {
				t.Errorf("limit = %d, want %d", limit, tc.wantLimit)
			}
			if window != tc.wantWindow {
				t.Errorf("window = %v, want %v", window, tc.wantWindow)
			}
		})
	}
}

func TestLocalLimiter_AllowsUpToLimit(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()
	ctx := context.Background()

	// fortune/publicは1分あたり10。バースト10まで許可されること
	for i := 0; i < 10; i++ {
		result := l.Check(ctx, ClassFortune, "203.0.113.1", TierPublic)
		if !result.Allowed {
			t.Fatalf("request #%d should be allowed", i+1)
		}
	}

	result := l.Check(ctx, ClassFortune, "203.0.113.1", TierPublic)
	if result.Allowed {
		t.Error("request #11 should be denied")
	}
	if result.Limit != 10 {
		t.Errorf("limit = %d, want 10", result.Limit)
	}
}

func TestLocalLimiter_SeparateClientsSeparateWindows(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Check(ctx, ClassFortune, "203.0.113.1", TierPublic)
	}

	// 別のクライアントは影響を受けないこと
	result := l.Check(ctx, ClassFortune, "203.0.113.2", TierPublic)
	if !result.Allowed {
		t.Error("different client should not be limited")
	}
}

func TestLocalLimiter_SeparateClassesSeparateWindows(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Check(ctx, ClassFortune, "203.0.113.1", TierPublic)
	}

	// 同一クライアントでもクラスが異なれば独立して数えること
	result := l.Check(ctx, ClassSearch, "203.0.113.1", TierPublic)
	if !result.Allowed {
		t.Error("different class should have its own window")
	}
}

func TestLocalLimiter_AuthenticatedTierElevation(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()
	ctx := context.Background()

	// 認証済みティアなら公開上限10を超えても許可されること
	for i := 0; i < 50; i++ {
		result := l.Check(ctx, ClassFortune, "203.0.113.1", TierAuthenticated)
		if !result.Allowed {
			t.Fatalf("request #%d should be allowed for authenticated tier", i+1)
		}
	}
}

func TestLocalLimiter_TierChangeSharesWindow(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()
	ctx := context.Background()

	// 公開枠を使い切ってから昇格しても、使用済み数は引き継がれること
	for i := 0; i < 10; i++ {
		l.Check(ctx, ClassFortune, "203.0.113.1", TierPublic)
	}
	if result := l.Check(ctx, ClassFortune, "203.0.113.1", TierPublic); result.Allowed {
		t.Fatal("public tier should be exhausted")
	}

	result := l.Check(ctx, ClassFortune, "203.0.113.1", TierAuthenticated)
	if !result.Allowed {
		t.Error("authenticated tier should elevate the cap over the same window")
	}
	if result.Remaining > 90 {
		t.Errorf("remaining = %d, elevation must not grant a fresh bucket", result.Remaining)
	}
}

func TestLocalLimiter_TierDowngradeKeepsUsage(t *testing.T) {
	l := NewLocalLimiter()
	defer l.Stop()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		l.Check(ctx, ClassFortune, "203.0.113.1", TierAuthenticated)
	}

	// APIキーなしのリクエストに公開枠が新規に与えられないこと
	if result := l.Check(ctx, ClassFortune, "203.0.113.1", TierPublic); result.Allowed {
		t.Error("public tier should see the window already over its cap")
	}
}

func TestRedisLimiter_WindowKeyPerClassAndClient(t *testing.T) {
	l := NewRedisLimiter(nil)

	// キーは(クラス, クライアント)のみで構成され、ティアを含まないこと。
	// ティアがキーに入ると、APIキーの有無でウィンドウが分かれてしまう。
	got := l.windowKey(ClassFortune, "203.0.113.1")
	if got != "ratelimit:fortune:203.0.113.1" {
		t.Errorf("window key = %q, want %q", got, "ratelimit:fortune:203.0.113.1")
	}
	if l.windowKey(ClassFortune, "203.0.113.2") == got {
		t.Error("different clients must have different windows")
	}
	if l.windowKey(ClassAPI, "203.0.113.1") == got {
		t.Error("different classes must have different windows")
	}
}

func TestNewExceededError(t *testing.T) {
	errPublic := NewExceededError(Result{Tier: TierPublic})
	if errPublic.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", errPublic.Code, model.ErrCodeRateLimitExceeded)
	}
	// 公開ティアにはAPIキー取得の案内が含まれること
	if errPublic.Action == "" {
		t.Error("expected non-empty action for public tier")
	}

	errAuth := NewExceededError(Result{Tier: TierAuthenticated})
	if errAuth.Action == errPublic.Action {
		t.Error("authenticated tier should get a different action message")
	}
}
