// Package register implements the captcha-gated signup flow. It is the
// reference consumer of captcha tokens: the service validates (and
// thereby spends) the token under its own scope before any account is
// created, and rejects the whole request when the token fails.
package register

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hotelhub/slidegate/internal/token"
)

// Scope is the protected-operation class signup tokens must be minted
// for. A token minted for any other scope is rejected.
const Scope = "registration"

// ErrCaptchaRejected wraps every captcha-token failure. The underlying
// token error stays in the chain for errors.Is at the handler.
var ErrCaptchaRejected = errors.New("captcha check failed")

// Input validation failures, safe to echo to the client.
var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// ErrBadCredentials is returned by Login for an unknown email or wrong
// password, indistinguishably.
var ErrBadCredentials = errors.New("invalid credentials")

// UserStore is the storage interface consumed by Service.
// *UserRepository and *MemoryUserRepository satisfy it.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// captchaValidator validates and spends a captcha token.
// *token.Issuer satisfies it.
type captchaValidator interface {
	Validate(ctx context.Context, tokenStr, expectedScope string) (*token.CaptchaClaims, error)
}

// Service implements signup business logic.
type Service struct {
	store     UserStore
	validator captchaValidator
	logger    *zap.Logger
}

// NewService creates a registration Service.
func NewService(store UserStore, validator captchaValidator, logger *zap.Logger) *Service {
	return &Service{store: store, validator: validator, logger: logger}
}

// Signup creates a user account. The captcha token is checked first and
// is spent by the check, so a failed signup after a valid token burns
// the token; the client must solve a fresh challenge to retry.
func (s *Service) Signup(ctx context.Context, email, password, captchaToken string) (*User, error) {
	claims, err := s.validator.Validate(ctx, captchaToken, Scope)
	if err != nil {
		s.logger.Info("signup rejected by captcha", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCaptchaRejected, err)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{Email: email, PasswordHash: string(hash)}
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", u.ID.String()),
		zap.String("challenge_id", claims.ChallengeID),
	)
	return u, nil
}

// Login verifies email/password credentials. Not captcha-gated; it
// exists so the demo account is usable after signup.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return u, nil
}
