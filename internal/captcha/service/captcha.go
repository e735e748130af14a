// Package service implements challenge issuance and verification for
// the slider captcha.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hotelhub/slidegate/internal/audit"
	"github.com/hotelhub/slidegate/internal/captcha/model"
	"github.com/hotelhub/slidegate/internal/captcha/repository"
	"github.com/hotelhub/slidegate/internal/puzzle"
	"github.com/hotelhub/slidegate/internal/risk"
)

// Verification failure reasons. All are expected, recoverable-at-the-
// caller outcomes; only storage unavailability surfaces as a plain
// wrapped error.
var (
	// ErrInvalidOrExpired covers unknown, expired and already-consumed
	// challenges. The three cases are deliberately indistinguishable to
	// the client.
	ErrInvalidOrExpired = errors.New("invalid_or_expired")

	// ErrTooManyAttempts means the attempt budget is exhausted and the
	// challenge has been burned.
	ErrTooManyAttempts = errors.New("too_many_attempts")

	// ErrPositionMismatch means the submitted offset missed the target.
	// The challenge stays usable while attempts remain.
	ErrPositionMismatch = errors.New("position_mismatch")
)

// ChallengeStore is the storage interface required by CaptchaService.
// *repository.ChallengeRepository and *repository.MemoryChallengeRepository
// satisfy it.
type ChallengeStore interface {
	Create(ctx context.Context, ch *model.Challenge) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	MarkAttempt(ctx context.Context, id uuid.UUID) (int, error)
	Consume(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// puzzleGenerator renders one puzzle. *puzzle.Generator satisfies it;
// tests stub it to skip rasterisation.
type puzzleGenerator interface {
	Generate() (*puzzle.Puzzle, error)
}

// tokenMinter mints a signed captcha token. *token.Issuer satisfies it.
type tokenMinter interface {
	Mint(scope, challengeID string) (string, error)
}

// Config holds the verification policy knobs.
type Config struct {
	ChallengeTTL time.Duration // lifetime of a pending challenge
	MaxAttempts  int           // verify attempts per challenge
	TolerancePx  int           // inclusive max deviation from the target
	TokenScope   string        // scope bound into minted tokens
}

func (c Config) withDefaults() Config {
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 2 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.TolerancePx == 0 {
		c.TolerancePx = 6
	}
	if c.TokenScope == "" {
		c.TokenScope = "registration"
	}
	return c
}

// CaptchaService issues slider challenges and verifies submissions.
type CaptchaService struct {
	cfg    Config
	store  ChallengeStore
	gen    puzzleGenerator
	minter tokenMinter
	scorer risk.Scorer
	log    audit.Log
	logger *zap.Logger
}

// NewCaptchaService creates a CaptchaService. scorer may be nil to
// disable the advisory trace heuristic.
func NewCaptchaService(cfg Config, store ChallengeStore, gen puzzleGenerator, minter tokenMinter, scorer risk.Scorer, auditLog audit.Log, logger *zap.Logger) *CaptchaService {
	if auditLog == nil {
		auditLog = audit.NewMemoryLog()
	}
	return &CaptchaService{
		cfg:    cfg.withDefaults(),
		store:  store,
		gen:    gen,
		minter: minter,
		scorer: scorer,
		log:    auditLog,
		logger: logger,
	}
}

// Generate renders a fresh puzzle and registers its challenge. Nothing
// is persisted when rendering fails, so a generation error leaves no
// orphaned pending record. The returned view withholds the target X.
func (s *CaptchaService) Generate(ctx context.Context, client string) (*model.IssuedChallenge, error) {
	p, err := s.gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate puzzle: %w", err)
	}

	ch := &model.Challenge{
		TargetX:     p.TargetX,
		TargetY:     p.TargetY,
		MaxAttempts: s.cfg.MaxAttempts,
		ExpiresAt:   time.Now().UTC().Add(s.cfg.ChallengeTTL),
	}
	if err := s.store.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	s.auditEvent(ctx, ch.ID, audit.EventChallengeIssued, client, map[string]any{
		"expires_at": ch.ExpiresAt,
	})

	s.logger.Debug("challenge issued",
		zap.String("id", ch.ID.String()),
		zap.Time("expires_at", ch.ExpiresAt),
	)

	return &model.IssuedChallenge{
		ID:         ch.ID,
		BgImage:    dataURI(p.Background),
		PieceImage: dataURI(p.Piece),
		PieceY:     p.PieceY,
		ExpiresAt:  ch.ExpiresAt,
	}, nil
}

// Verify checks a submitted offset against the challenge target. On a
// match it atomically consumes the challenge and returns a minted
// token; exactly one of any set of racing calls can succeed. trace is
// the optional interaction metadata for the advisory scorer.
func (s *CaptchaService) Verify(ctx context.Context, id uuid.UUID, submittedX int, trace risk.Trace, client string) (string, error) {
	ch, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return "", ErrInvalidOrExpired
		}
		return "", fmt.Errorf("load challenge: %w", err)
	}
	if ch.Consumed {
		return "", ErrInvalidOrExpired
	}

	attempts, err := s.store.MarkAttempt(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptsExhausted):
			s.burn(ctx, id, client, "attempt budget exhausted")
			return "", ErrTooManyAttempts
		case errors.Is(err, repository.ErrChallengeNotFound):
			return "", ErrInvalidOrExpired
		default:
			return "", fmt.Errorf("mark attempt: %w", err)
		}
	}

	// Advisory only: a rejected trace burns this attempt but reports
	// the generic mismatch reason so the heuristic stays opaque.
	if s.scorer != nil {
		report, scoreErr := s.scorer.Score(ctx, trace)
		if scoreErr != nil {
			s.logger.Warn("trace scoring failed", zap.Error(scoreErr))
		} else if report.Rejected {
			s.logger.Info("trace rejected",
				zap.String("id", id.String()),
				zap.Int("score", report.Score),
				zap.String("severity", report.Severity),
			)
			return "", ErrPositionMismatch
		}
	}

	if abs(submittedX-ch.TargetX) > s.cfg.TolerancePx {
		s.logger.Debug("position mismatch",
			zap.String("id", id.String()),
			zap.Int("attempt", attempts),
		)
		return "", ErrPositionMismatch
	}

	// The consume is the race arbiter: a concurrent call that already
	// burned or solved the challenge makes this one fail closed.
	if err := s.store.Consume(ctx, id); err != nil {
		if errors.Is(err, repository.ErrAlreadyConsumed) || errors.Is(err, repository.ErrChallengeNotFound) {
			return "", ErrInvalidOrExpired
		}
		return "", fmt.Errorf("consume challenge: %w", err)
	}

	s.auditEvent(ctx, id, audit.EventChallengeSolved, client, map[string]any{
		"attempts": attempts,
	})

	// Minting after a successful consume is best-effort sequential: if
	// it fails the challenge stays burned and the client restarts.
	tok, err := s.minter.Mint(s.cfg.TokenScope, id.String())
	if err != nil {
		return "", fmt.Errorf("mint captcha token: %w", err)
	}

	s.logger.Info("challenge solved",
		zap.String("id", id.String()),
		zap.Int("attempts", attempts),
	)
	return tok, nil
}

// DeleteExpired prunes challenges past their TTL. Safe to call from a
// background sweep goroutine.
func (s *CaptchaService) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned expired challenges", zap.Int64("count", n))
	}
	return n, nil
}

// Tolerance returns the configured inclusive pixel tolerance.
func (s *CaptchaService) Tolerance() int { return s.cfg.TolerancePx }

// burn consumes a challenge that can no longer succeed and records the
// event. Consume errors are ignored: a concurrent burn means the
// challenge is already terminal, which is the state we want.
func (s *CaptchaService) burn(ctx context.Context, id uuid.UUID, client, reason string) {
	_ = s.store.Consume(ctx, id)
	s.auditEvent(ctx, id, audit.EventChallengeBurned, client, map[string]any{
		"reason": reason,
	})
}

// auditEvent appends to the audit chain. Audit failures are logged, not
// propagated; the challenge flow never fails on observability.
func (s *CaptchaService) auditEvent(ctx context.Context, id uuid.UUID, event, client string, payload any) {
	if _, err := s.log.Append(ctx, id.String(), event, client, payload); err != nil {
		s.logger.Warn("audit append failed",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func dataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
