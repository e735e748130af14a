// Package token mints and validates captcha tokens: compact, signed,
// expiring, single-use proofs that a slider challenge was solved.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hotelhub/slidegate/internal/audit"
	"github.com/hotelhub/slidegate/internal/captcha/repository"
)

// Validation failures. All are fatal to the token; none is retried.
var (
	ErrBadSignature  = errors.New("captcha token signature invalid")
	ErrExpired       = errors.New("captcha token expired")
	ErrScopeMismatch = errors.New("captcha token scope mismatch")
	ErrAlreadyUsed   = errors.New("captcha token already used")
)

// nonceStore records spent token nonces. Spend must be atomic: exactly
// one call per nonce returns nil. *repository.MemoryNonceRepository and
// *repository.NonceRepository satisfy this interface.
type nonceStore interface {
	Spend(ctx context.Context, nonce string, expiresAt time.Time) error
}

// CaptchaClaims are the JWT claims of a captcha token. The jti nonce
// makes every token unique and is the single-use handle; the challenge
// id is carried for audit only and plays no part in validation.
type CaptchaClaims struct {
	jwt.RegisteredClaims
	Scope       string `json:"scope"`
	ChallengeID string `json:"cid,omitempty"`
}

// Issuer signs captcha tokens with HS256 over a server-held secret and
// validates them against a spent-nonce store.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	nonces nonceStore
	audit  audit.Log
}

// NewIssuer creates an Issuer.
//
//	secret — HMAC key; must stay in server-side configuration.
//	issuerURL — the "iss" claim value.
//	ttl — token lifetime (default: 5 minutes).
func NewIssuer(secret []byte, issuerURL string, ttl time.Duration, nonces nonceStore) *Issuer {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{secret: secret, issuer: issuerURL, ttl: ttl, nonces: nonces}
}

// SetAuditLog enables recording a token.spent audit entry for every
// successful validation.
func (i *Issuer) SetAuditLog(l audit.Log) { i.audit = l }

// Mint creates a signed token bound to scope. challengeID records which
// challenge produced it.
func (i *Issuer) Mint(scope, challengeID string) (string, error) {
	now := time.Now().UTC()
	claims := CaptchaClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		Scope:       scope,
		ChallengeID: challengeID,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign captcha token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, expiry and scope, then atomically spends
// the token's nonce. A token that validated once returns ErrAlreadyUsed
// on every later call, for as long as it could otherwise still be
// accepted. No claim is trusted before the signature checks out.
func (i *Issuer) Validate(ctx context.Context, tokenStr, expectedScope string) (*CaptchaClaims, error) {
	tok, err := jwt.ParseWithClaims(
		tokenStr,
		&CaptchaClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrBadSignature
	}

	claims, ok := tok.Claims.(*CaptchaClaims)
	if !ok || !tok.Valid {
		return nil, ErrBadSignature
	}
	if claims.Scope != expectedScope {
		return nil, ErrScopeMismatch
	}
	if claims.ID == "" {
		return nil, ErrBadSignature
	}

	// Mark-spent is part of granting access, not a follow-up step; the
	// store resolves concurrent validations to a single winner.
	if err := i.nonces.Spend(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, repository.ErrNonceAlreadySpent) {
			return nil, ErrAlreadyUsed
		}
		return nil, fmt.Errorf("spend token nonce: %w", err)
	}

	// Best effort: a write failure on the audit chain must not revoke
	// an access that was already granted.
	if i.audit != nil {
		_, _ = i.audit.Append(ctx, claims.ChallengeID, audit.EventTokenSpent, "", map[string]any{
			"scope": claims.Scope,
			"nonce": claims.ID,
		})
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
