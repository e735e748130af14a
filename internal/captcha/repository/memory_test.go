package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hotelhub/slidegate/internal/captcha/model"
	"github.com/hotelhub/slidegate/internal/captcha/repository"
)

func newChallenge(t *testing.T, store *repository.MemoryChallengeRepository, ttl time.Duration) uuid.UUID {
	t.Helper()
	ch := &model.Challenge{
		TargetX:     150,
		TargetY:     60,
		MaxAttempts: 3,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
	if err := store.Create(context.Background(), ch); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ch.ID
}

func TestChallengeLifecycle(t *testing.T) {
	store := repository.NewMemoryChallengeRepository()
	id := newChallenge(t, store, time.Minute)

	ch, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ch.TargetX != 150 || ch.AttemptsUsed != 0 || ch.Consumed {
		t.Fatalf("unexpected fresh challenge state: %+v", ch)
	}

	for want := 1; want <= 3; want++ {
		got, err := store.MarkAttempt(context.Background(), id)
		if err != nil {
			t.Fatalf("MarkAttempt %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("MarkAttempt returned %d, want %d", got, want)
		}
	}

	if _, err := store.MarkAttempt(context.Background(), id); !errors.Is(err, repository.ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
}

func TestConsume_secondCallLoses(t *testing.T) {
	store := repository.NewMemoryChallengeRepository()
	id := newChallenge(t, store, time.Minute)

	if err := store.Consume(context.Background(), id); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if err := store.Consume(context.Background(), id); !errors.Is(err, repository.ErrAlreadyConsumed) {
		t.Fatalf("second Consume err = %v, want ErrAlreadyConsumed", err)
	}
}

func TestConsume_concurrentSingleWinner(t *testing.T) {
	store := repository.NewMemoryChallengeRepository()
	id := newChallenge(t, store, time.Minute)

	const callers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Consume(context.Background(), id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d consumers won, want exactly 1", wins)
	}
}

func TestExpiredChallengeInvisible(t *testing.T) {
	store := repository.NewMemoryChallengeRepository()
	id := newChallenge(t, store, -time.Second)

	if _, err := store.GetByID(context.Background(), id); !errors.Is(err, repository.ErrChallengeNotFound) {
		t.Fatalf("GetByID err = %v, want ErrChallengeNotFound", err)
	}
	if _, err := store.MarkAttempt(context.Background(), id); !errors.Is(err, repository.ErrChallengeNotFound) {
		t.Fatalf("MarkAttempt err = %v, want ErrChallengeNotFound", err)
	}
	if err := store.Consume(context.Background(), id); !errors.Is(err, repository.ErrChallengeNotFound) {
		t.Fatalf("Consume err = %v, want ErrChallengeNotFound", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	store := repository.NewMemoryChallengeRepository()
	stale := newChallenge(t, store, -time.Second)
	fresh := newChallenge(t, store, time.Minute)

	n, err := store.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, err := store.GetByID(context.Background(), stale); !errors.Is(err, repository.ErrChallengeNotFound) {
		t.Error("stale challenge still readable")
	}
	if _, err := store.GetByID(context.Background(), fresh); err != nil {
		t.Errorf("fresh challenge gone: %v", err)
	}
}

// ── Nonce store ────────────────────────────────────────────────────────────

func TestNonceSpend_onceOnly(t *testing.T) {
	store := repository.NewMemoryNonceRepository()
	exp := time.Now().Add(5 * time.Minute)

	if err := store.Spend(context.Background(), "nonce-1", exp); err != nil {
		t.Fatalf("first Spend: %v", err)
	}
	if err := store.Spend(context.Background(), "nonce-1", exp); !errors.Is(err, repository.ErrNonceAlreadySpent) {
		t.Fatalf("second Spend err = %v, want ErrNonceAlreadySpent", err)
	}
	if err := store.Spend(context.Background(), "nonce-2", exp); err != nil {
		t.Fatalf("unrelated nonce: %v", err)
	}
}

func TestNonceSpend_concurrentSingleWinner(t *testing.T) {
	store := repository.NewMemoryNonceRepository()
	exp := time.Now().Add(5 * time.Minute)

	const callers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Spend(context.Background(), "nonce-1", exp); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d spenders won, want exactly 1", wins)
	}
}

func TestNonceDeleteExpired(t *testing.T) {
	store := repository.NewMemoryNonceRepository()
	_ = store.Spend(context.Background(), "stale", time.Now().Add(-time.Second))
	_ = store.Spend(context.Background(), "fresh", time.Now().Add(time.Minute))

	n, err := store.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}

	// The fresh entry must still block replays.
	if err := store.Spend(context.Background(), "fresh", time.Now().Add(time.Minute)); !errors.Is(err, repository.ErrNonceAlreadySpent) {
		t.Fatalf("err = %v, want ErrNonceAlreadySpent", err)
	}
}
