package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNonceAlreadySpent is returned by Spend when the nonce has been
// recorded before; a spent nonce blocks token replay until its expiry.
var ErrNonceAlreadySpent = errors.New("captcha token nonce already spent")

// NonceRepository records spent captcha-token nonces in Postgres. The
// insert is the atomic mark-spent step: ON CONFLICT DO NOTHING turns a
// replay into zero affected rows without a read-then-write window.
type NonceRepository struct {
	db *pgxpool.Pool
}

// NewNonceRepository creates a NonceRepository.
func NewNonceRepository(db *pgxpool.Pool) *NonceRepository {
	return &NonceRepository{db: db}
}

// Spend marks the nonce as used until expiresAt. Exactly one call per
// nonce returns nil.
func (r *NonceRepository) Spend(ctx context.Context, nonce string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO captcha_spent_nonces (nonce, expires_at)
		 VALUES ($1, $2)
		 ON CONFLICT (nonce) DO NOTHING`,
		nonce, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("spend nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNonceAlreadySpent
	}
	return nil
}

// DeleteExpired prunes nonces whose tokens can no longer validate
// anyway. Returns the number of rows removed.
func (r *NonceRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM captcha_spent_nonces WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired nonces: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MemoryNonceRepository is the in-memory spent-nonce store. Check and
// insert happen under one lock acquisition.
type MemoryNonceRepository struct {
	mu    sync.Mutex
	spent map[string]time.Time
}

// NewMemoryNonceRepository creates an empty in-memory nonce store.
func NewMemoryNonceRepository() *MemoryNonceRepository {
	return &MemoryNonceRepository{spent: make(map[string]time.Time)}
}

// Spend marks the nonce spent; the second and later calls for the same
// nonce return ErrNonceAlreadySpent.
func (r *MemoryNonceRepository) Spend(_ context.Context, nonce string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.spent[nonce]; ok {
		return ErrNonceAlreadySpent
	}
	r.spent[nonce] = expiresAt
	return nil
}

// DeleteExpired drops nonce records whose backing tokens have expired.
func (r *MemoryNonceRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for nonce, exp := range r.spent {
		if now.After(exp) {
			delete(r.spent, nonce)
			n++
		}
	}
	return n, nil
}
