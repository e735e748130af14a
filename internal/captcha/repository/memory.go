package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hotelhub/slidegate/internal/captcha/model"
)

// MemoryChallengeRepository is an in-memory, thread-safe challenge store
// with the same transition semantics as the Postgres implementation.
// Challenges are transient state, so this is the default backend for
// single-process deployments; it is also what tests run against.
type MemoryChallengeRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Challenge
}

// NewMemoryChallengeRepository creates an empty in-memory store.
func NewMemoryChallengeRepository() *MemoryChallengeRepository {
	return &MemoryChallengeRepository{rows: make(map[uuid.UUID]*model.Challenge)}
}

// Create inserts a new challenge, assigning its id and creation time.
func (r *MemoryChallengeRepository) Create(_ context.Context, ch *model.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.ID = uuid.New()
	ch.CreatedAt = time.Now().UTC()
	cp := *ch
	r.rows[ch.ID] = &cp
	return nil
}

// GetByID returns a copy of the challenge. Expired entries read as
// ErrChallengeNotFound even before the sweep removes them.
func (r *MemoryChallengeRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.rows[id]
	if !ok || ch.ExpiredAt(time.Now()) {
		return nil, ErrChallengeNotFound
	}
	cp := *ch
	return &cp, nil
}

// MarkAttempt increments the attempt counter under the store lock,
// mirroring the conditional UPDATE of the Postgres repository.
func (r *MemoryChallengeRepository) MarkAttempt(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.rows[id]
	if !ok || ch.ExpiredAt(time.Now()) || ch.Consumed {
		return 0, ErrChallengeNotFound
	}
	if ch.AttemptsUsed >= ch.MaxAttempts {
		return ch.AttemptsUsed, ErrAttemptsExhausted
	}
	ch.AttemptsUsed++
	return ch.AttemptsUsed, nil
}

// Consume flips the consumed flag check-and-set style: the mutation and
// the precondition check happen under one lock acquisition, so exactly
// one concurrent caller wins.
func (r *MemoryChallengeRepository) Consume(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.rows[id]
	if !ok || ch.ExpiredAt(time.Now()) {
		return ErrChallengeNotFound
	}
	if ch.Consumed {
		return ErrAlreadyConsumed
	}
	ch.Consumed = true
	return nil
}

// DeleteExpired drops challenges past their expiry. Ids are uuids and
// never reused, so removal cannot resurrect stale client state.
func (r *MemoryChallengeRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for id, ch := range r.rows {
		if ch.ExpiredAt(now) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}
