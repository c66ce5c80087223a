package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/omikuji/internal/model"
	"github.com/hitoshi/omikuji/internal/repository"
)

// --- モック定義 ---

// memQuotaRepo はトランザクション相当の排他をミューテックスで再現する
// インメモリ実装。並行Consumeの検証に使う。
type memQuotaRepo struct {
	mu      sync.Mutex
	used    map[string]int // identityKey + "/" + dateKey -> used
	getErr  error
	consErr error
}

func newMemQuotaRepo() *memQuotaRepo {
	return &memQuotaRepo{used: make(map[string]int)}
}

func (m *memQuotaRepo) Get(_ context.Context, identityKey, dateKey string, defaultLimit int) (int, int, error) {
	if m.getErr != nil {
		return 0, 0, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[identityKey+"/"+dateKey], defaultLimit, nil
}

func (m *memQuotaRepo) Consume(_ context.Context, identityKey, dateKey string, defaultLimit int) (bool, int, int, error) {
	if m.consErr != nil {
		return false, 0, 0, m.consErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identityKey + "/" + dateKey
	used := m.used[key]
	if used >= defaultLimit {
		return false, used, defaultLimit, nil
	}
	m.used[key] = used + 1
	return true, used + 1, defaultLimit, nil
}

var _ repository.QuotaRepository = (*memQuotaRepo)(nil)

func newTestEngine(repo repository.QuotaRepository) *Engine {
	return NewEngine(repo, EngineConfig{GuestDailyLimit: 1, UserDailyLimit: 10})
}

// --- テスト ---

func TestConsume_GuestLimitOne(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemQuotaRepo())
	guest := model.Guest("ip:203.0.113.7")

	allowed, status, err := e.Consume(ctx, guest)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if !allowed {
		t.Fatal("first consume should be allowed")
	}
	if status.Used != 1 || status.Remaining != 0 || status.Limit != 1 {
		t.Errorf("status = %+v, want used=1 remaining=0 limit=1", status)
	}

	// 2回目は拒否され、使用数は変わらないこと
	allowed, status, err = e.Consume(ctx, guest)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if allowed {
		t.Error("second consume should be denied")
	}
	if status.Used != 1 {
		t.Errorf("used = %d, want 1 (denied consume must not increment)", status.Used)
	}
}

func TestConsume_AuthenticatedUserLimitTen(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemQuotaRepo())
	user := model.AuthenticatedUser("user-1")

	for i := 0; i < 10; i++ {
		allowed, _, err := e.Consume(ctx, user)
		if err != nil {
			t.Fatalf("Consume() #%d error = %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("consume #%d should be allowed", i+1)
		}
	}

	allowed, status, err := e.Consume(ctx, user)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if allowed {
		t.Error("11th consume should be denied")
	}
	if status.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", status.Remaining)
	}
}

func TestConsume_ConcurrentRequests_AdmitExactlyLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemQuotaRepo())
	user := model.AuthenticatedUser("user-concurrent")

	const n = 50 // 上限10を大きく超える同時リクエスト
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := e.Consume(ctx, user)
			if err != nil {
				t.Errorf("Consume() error = %v", err)
				return
			}
			if allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Errorf("admitted = %d, want exactly 10", admitted)
	}
}

func TestConsume_ZeroLimit_AlwaysDenied(t *testing.T) {
	ctx := context.Background()
	// ゲスト枠を0にしてゲストの消費を止める運用を想定
	e := NewEngine(newMemQuotaRepo(), EngineConfig{GuestDailyLimit: 0, UserDailyLimit: 10})
	guest := model.Guest("ip:203.0.113.8")

	allowed, status, err := e.Consume(ctx, guest)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if allowed {
		t.Error("consume with zero limit should be denied")
	}
	if status.Used != 0 {
		t.Errorf("used = %d, want 0 (denied consume must not increment)", status.Used)
	}

	// 認証済みユーザーには影響しないこと
	if allowed, _, _ := e.Consume(ctx, model.AuthenticatedUser("user-1")); !allowed {
		t.Error("authenticated user should still be allowed")
	}
}

func TestConsume_SeparateIdentities_SeparateCounters(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemQuotaRepo())

	g1 := model.Guest("ip:203.0.113.1")
	g2 := model.Guest("ip:203.0.113.2")

	if allowed, _, _ := e.Consume(ctx, g1); !allowed {
		t.Fatal("g1 first consume should be allowed")
	}
	// 別のゲストの消費に影響しないこと
	if allowed, _, _ := e.Consume(ctx, g2); !allowed {
		t.Error("g2 first consume should be allowed")
	}
}

func TestConsume_DayRollover_ResetsCounter(t *testing.T) {
	ctx := context.Background()
	repo := newMemQuotaRepo()
	e := newTestEngine(repo)
	guest := model.Guest("ip:203.0.113.9")

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	e.now = func() time.Time { return day1 }

	if allowed, _, _ := e.Consume(ctx, guest); !allowed {
		t.Fatal("day1 consume should be allowed")
	}
	if allowed, _, _ := e.Consume(ctx, guest); allowed {
		t.Fatal("day1 second consume should be denied")
	}

	// 日付が変わると新しいレコードで再び消費できること
	e.now = func() time.Time { return day1.Add(2 * time.Minute) }
	allowed, status, err := e.Consume(ctx, guest)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if !allowed {
		t.Error("consume after rollover should be allowed")
	}
	if status.Used != 1 {
		t.Errorf("used = %d, want 1", status.Used)
	}
}

func TestConsume_UnresolvableIdentity_TreatedAsExhausted(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemQuotaRepo())

	allowed, status, err := e.Consume(ctx, &model.Identity{})
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if allowed {
		t.Error("unresolvable identity should be denied")
	}
	if status.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", status.Remaining)
	}
}

func TestConsume_RepoError_Propagates(t *testing.T) {
	repo := newMemQuotaRepo()
	repo.consErr = errors.New("db down")
	e := newTestEngine(repo)

	if _, _, err := e.Consume(context.Background(), model.Guest("ip:1.2.3.4")); err == nil {
		t.Fatal("expected error when repo fails")
	}
}

func TestGetStatus_DoesNotConsume(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemQuotaRepo())
	guest := model.Guest("ip:203.0.113.5")

	for i := 0; i < 3; i++ {
		status, err := e.GetStatus(ctx, guest)
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if status.Used != 0 || status.Remaining != 1 {
			t.Errorf("status = %+v, want used=0 remaining=1", status)
		}
	}
}

func TestGetStatus_ResetsAtNextUTCMidnight(t *testing.T) {
	e := newTestEngine(newMemQuotaRepo())
	e.now = func() time.Time {
		return time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	}

	status, err := e.GetStatus(context.Background(), model.Guest("ip:1.1.1.1"))
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}

	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !status.ResetsAt.Equal(want) {
		t.Errorf("ResetsAt = %v, want %v", status.ResetsAt, want)
	}
}
