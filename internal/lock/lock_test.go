package lock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

func setupTestManager(t *testing.T, ttls models.LockConfig) (*Manager, func()) {
	cfg := models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 10,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
		MaxRetries:   2,
	}
	store, err := kvstore.NewStore(context.Background(), cfg, kvstore.TableSpec{Name: "users"})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	manager := NewManager(store, "users", ttls)
	cleanup := func() {
		store.Close()
	}
	return manager, cleanup
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m, cleanup := setupTestManager(t, models.LockConfig{})
	defer cleanup()

	ctx := context.Background()
	token, err := m.Acquire(ctx, "alice", OpDeposit)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if token == "" {
		t.Fatalf("Expected a lock token")
	}

	released, err := m.Release(ctx, "alice", token)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !released {
		t.Errorf("Expected first release to report true")
	}

	// Releasing again is idempotent and reports false.
	released, err = m.Release(ctx, "alice", token)
	if err != nil {
		t.Fatalf("Second release failed: %v", err)
	}
	if released {
		t.Errorf("Expected second release to report false")
	}
}

func TestAcquireWhileHeld(t *testing.T) {
	m, cleanup := setupTestManager(t, models.LockConfig{})
	defer cleanup()

	ctx := context.Background()
	token, err := m.Acquire(ctx, "bob", OpBuyOrder)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err = m.Acquire(ctx, "bob", OpWithdraw)
	if !errors.Is(err, apperrors.ErrLockAcquireFailed) {
		t.Errorf("Expected ErrLockAcquireFailed while held, got %v", err)
	}

	// A different user is unaffected.
	other, err := m.Acquire(ctx, "carol", OpWithdraw)
	if err != nil {
		t.Fatalf("Acquire for other user failed: %v", err)
	}
	if _, err := m.Release(ctx, "carol", other); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := m.Release(ctx, "bob", token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestExpiredLockTakeover(t *testing.T) {
	ttls := DefaultTTLs()
	ttls.Deposit = 10 * time.Millisecond
	m, cleanup := setupTestManager(t, ttls)
	defer cleanup()

	ctx := context.Background()
	stale, err := m.Acquire(ctx, "dave", OpDeposit)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	// The crashed holder's row has expired; a new acquirer takes over.
	fresh, err := m.Acquire(ctx, "dave", OpDeposit)
	if err != nil {
		t.Fatalf("Expected takeover of expired lock, got %v", err)
	}
	if fresh == stale {
		t.Errorf("Expected a new lock token")
	}

	// The stale token can no longer release the lock.
	released, err := m.Release(ctx, "dave", stale)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released {
		t.Errorf("Expected stale token release to report false")
	}

	released, err = m.Release(ctx, "dave", fresh)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !released {
		t.Errorf("Expected fresh token release to report true")
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m, cleanup := setupTestManager(t, models.LockConfig{})
	defer cleanup()

	ctx := context.Background()
	const contenders = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := m.Acquire(ctx, "erin", OpSellOrder)
			if err != nil {
				return
			}
			mu.Lock()
			winners = append(winners, token)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("Expected exactly one winner, got %d", len(winners))
	}
	if _, err := m.Release(ctx, "erin", winners[0]); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	m, cleanup := setupTestManager(t, models.LockConfig{})
	defer cleanup()

	ctx := context.Background()
	wantErr := errors.New("boom")
	err := m.WithLock(ctx, "frank", OpWithdraw, func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected fn error to surface, got %v", err)
	}

	// The lock must be free again.
	token, err := m.Acquire(ctx, "frank", OpWithdraw)
	if err != nil {
		t.Fatalf("Expected lock free after WithLock, got %v", err)
	}
	if _, err := m.Release(ctx, "frank", token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestTTLFor(t *testing.T) {
	m, cleanup := setupTestManager(t, models.LockConfig{})
	defer cleanup()

	if got := m.TTLFor(OpBuyOrder); got != 5*time.Second {
		t.Errorf("Expected 5s for buy_order, got %v", got)
	}
	if got := m.TTLFor(OpGetBalance); got != time.Second {
		t.Errorf("Expected 1s for get_balance, got %v", got)
	}
	if got := m.TTLFor("unknown_op"); got != 2*time.Second {
		t.Errorf("Expected 2s default, got %v", got)
	}
}
