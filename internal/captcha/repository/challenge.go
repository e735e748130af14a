package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hotelhub/slidegate/internal/captcha/model"
)

// Sentinel errors shared by all ChallengeRepository implementations.
var (
	// ErrChallengeNotFound is returned for unknown ids and for expired
	// challenges, which read operations must treat identically.
	ErrChallengeNotFound = errors.New("captcha challenge not found")

	// ErrAlreadyConsumed is returned by Consume when another caller won
	// the race; exactly one Consume per challenge ever returns nil.
	ErrAlreadyConsumed = errors.New("captcha challenge already consumed")

	// ErrAttemptsExhausted is returned by MarkAttempt once the attempt
	// budget is spent.
	ErrAttemptsExhausted = errors.New("captcha attempt budget exhausted")
)

// ChallengeRepository persists slider challenges in Postgres. All state
// transitions are single conditional UPDATEs so that concurrent verify
// calls racing on one challenge resolve inside the database.
type ChallengeRepository struct {
	db *pgxpool.Pool
}

// NewChallengeRepository creates a ChallengeRepository.
func NewChallengeRepository(db *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Create inserts a new challenge record. The id and creation timestamp
// are assigned here.
func (r *ChallengeRepository) Create(ctx context.Context, ch *model.Challenge) error {
	ch.ID = uuid.New()
	ch.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx,
		`INSERT INTO captcha_challenges
		   (id, target_x, target_y, attempts_used, max_attempts, consumed, created_at, expires_at)
		 VALUES ($1, $2, $3, 0, $4, false, $5, $6)`,
		ch.ID, ch.TargetX, ch.TargetY, ch.MaxAttempts, ch.CreatedAt, ch.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// GetByID returns a challenge by id. Expired rows are reported as
// ErrChallengeNotFound, whether or not the sweep has removed them yet.
func (r *ChallengeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	ch := &model.Challenge{}
	err := r.db.QueryRow(ctx,
		`SELECT id, target_x, target_y, attempts_used, max_attempts, consumed, created_at, expires_at
		 FROM captcha_challenges
		 WHERE id = $1 AND expires_at > now()`, id,
	).Scan(&ch.ID, &ch.TargetX, &ch.TargetY, &ch.AttemptsUsed, &ch.MaxAttempts,
		&ch.Consumed, &ch.CreatedAt, &ch.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return ch, nil
}

// MarkAttempt atomically increments the attempt counter and returns the
// new count. Once attempts_used reaches max_attempts the increment no
// longer matches and ErrAttemptsExhausted is returned; consumed and
// expired challenges report ErrChallengeNotFound.
func (r *ChallengeRepository) MarkAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var used int
	err := r.db.QueryRow(ctx,
		`UPDATE captcha_challenges
		 SET attempts_used = attempts_used + 1
		 WHERE id = $1 AND consumed = false AND expires_at > now()
		   AND attempts_used < max_attempts
		 RETURNING attempts_used`, id,
	).Scan(&used)
	if err == nil {
		return used, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("mark attempt: %w", err)
	}

	// The conditional update matched nothing; work out why.
	var consumed bool
	var attempts, maxAttempts int
	diagErr := r.db.QueryRow(ctx,
		`SELECT consumed, attempts_used, max_attempts
		 FROM captcha_challenges
		 WHERE id = $1 AND expires_at > now()`, id,
	).Scan(&consumed, &attempts, &maxAttempts)
	if diagErr != nil {
		if errors.Is(diagErr, pgx.ErrNoRows) {
			return 0, ErrChallengeNotFound
		}
		return 0, fmt.Errorf("mark attempt: %w", diagErr)
	}
	if !consumed && attempts >= maxAttempts {
		return attempts, ErrAttemptsExhausted
	}
	return 0, ErrChallengeNotFound
}

// Consume atomically marks the challenge consumed. Exactly one caller
// observes nil; concurrent losers observe ErrAlreadyConsumed.
func (r *ChallengeRepository) Consume(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE captcha_challenges
		 SET consumed = true
		 WHERE id = $1 AND consumed = false AND expires_at > now()`, id,
	)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var consumed bool
	diagErr := r.db.QueryRow(ctx,
		`SELECT consumed FROM captcha_challenges
		 WHERE id = $1 AND expires_at > now()`, id,
	).Scan(&consumed)
	if diagErr != nil {
		if errors.Is(diagErr, pgx.ErrNoRows) {
			return ErrChallengeNotFound
		}
		return fmt.Errorf("consume challenge: %w", diagErr)
	}
	if consumed {
		return ErrAlreadyConsumed
	}
	return ErrChallengeNotFound
}

// DeleteExpired removes challenges past their expiry. Returns the number
// of rows deleted. Safe to call from a background sweep.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM captcha_challenges WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
