package model

import (
	"time"

	"github.com/google/uuid"
)

// Challenge is one issued slider puzzle. The target coordinates are the
// server-held secret; they never leave the service layer.
type Challenge struct {
	ID           uuid.UUID `json:"id"`
	TargetX      int       `json:"target_x"`
	TargetY      int       `json:"target_y"`
	AttemptsUsed int       `json:"attempts_used"`
	MaxAttempts  int       `json:"max_attempts"`
	Consumed     bool      `json:"consumed"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the challenge has passed its expiry at the
// given moment. Expired challenges must be indistinguishable from
// unknown ones to all readers.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IssuedChallenge is the client-facing view of a freshly generated
// challenge. It carries the rendered images but withholds TargetX; only
// the vertical piece position is disclosed so the widget can place the
// piece on the correct row.
type IssuedChallenge struct {
	ID         uuid.UUID `json:"captchaId"`
	BgImage    string    `json:"bgImage"`    // data:image/png;base64,...
	PieceImage string    `json:"pieceImage"` // data:image/png;base64,...
	PieceY     int       `json:"y"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
