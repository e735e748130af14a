package register

import (
	"time"

	"github.com/google/uuid"
)

// User is a guest account created through the captcha-gated signup.
// The booking platform owns the rest of the profile; this subsystem
// only needs enough of an account to demonstrate the protected flow.
type User struct {
	ID           uuid.UUID `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
