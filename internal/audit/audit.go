// Package audit implements a hash-chained audit log for captcha
// lifecycle events: challenges issued, solved and burned, and tokens
// spent. Every entry records the SHA-256 of its predecessor, so
// after-the-fact tampering with the abuse record is detectable via
// Verify.
//
// Two implementations of the Log interface are provided:
//   - MemoryLog: in-process, for testing and single-node deployments.
//   - PostgresLog: durable, for production use.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Lifecycle events recorded by the captcha service.
const (
	EventChallengeIssued = "challenge.issued"
	EventChallengeSolved = "challenge.solved"
	EventChallengeBurned = "challenge.burned"
	EventTokenSpent      = "token.spent"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// All subsequent entry hashes chain from this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single audit record.
type Entry struct {
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	ChallengeID string    `json:"challenge_id"`
	Event       string    `json:"event"`  // challenge.issued, challenge.solved, challenge.burned, token.spent, genesis
	Client      string    `json:"client"` // caller identity, typically the client IP, or "slidegate-system"
	DataHash    string    `json:"data_hash"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
}

// Log is the interface for the append-only audit chain.
type Log interface {
	// Append adds a new entry chained to the previous one. payload is
	// JSON-marshalled and its SHA-256 stored as DataHash.
	Append(ctx context.Context, challengeID, event, client string, payload any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries, genesis included.
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry.
	Root(ctx context.Context) (string, error)
}

// hashEntry computes a deterministic SHA-256 hash over an entry's
// fields. Never called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.ChallengeID, e.Event, e.Client, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
