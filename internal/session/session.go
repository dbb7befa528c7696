// Package session issues and validates streaming session tokens.
//
// Each chat session owns at most one Open slot at a time. The token stored
// in the slot is the only artifact binding the client that received the
// streamed chunks to the client permitted to commit the final transcript;
// every transition is a compare-and-swap on the chat-session key so that
// racing opens, finalizes, and expiry sweeps resolve deterministically.
package session

import (
	"context"
	"errors"
	"time"
)

// Protocol errors surfaced to callers.
var (
	// ErrNoOpenSession indicates no open slot exists for the chat session.
	ErrNoOpenSession = errors.New("session: no open streaming session")
	// ErrExpired indicates the slot passed its expiry window before finalize.
	ErrExpired = errors.New("session: streaming session expired")
	// ErrMismatch indicates the supplied token does not match the open slot.
	// This is a security-relevant rejection and is logged as such.
	ErrMismatch = errors.New("session: streaming session id mismatch")
)

// Status is the lifecycle state of a streaming session slot.
type Status string

// Slot statuses.
const (
	// StatusOpen marks a stream in flight awaiting finalize.
	StatusOpen Status = "open"
	// StatusCommitted marks a successfully finalized slot. Terminal.
	StatusCommitted Status = "committed"
	// StatusExpired marks a slot that timed out or was superseded. Terminal.
	StatusExpired Status = "expired"
	// StatusMismatched marks a slot rejected on a wrong token. Terminal.
	StatusMismatched Status = "mismatched"
)

// Slot is one streaming session record keyed by chat session id.
type Slot struct {
	Token         string
	ChatSessionID string
	UserID        uint64
	Status        Status
	CreatedAt     time.Time
	TotalTokens   int64
	Content       string
}

// Outcome is the result class of a store finalize transition.
type Outcome int

// Finalize outcomes.
const (
	// OutcomeNone means no slot exists for the chat session.
	OutcomeNone Outcome = iota
	// OutcomeCommitted means the slot transitioned Open -> Committed.
	OutcomeCommitted
	// OutcomeDuplicate means the slot was already committed with this token.
	OutcomeDuplicate
	// OutcomeMismatch means the token did not match the open slot.
	OutcomeMismatch
	// OutcomeExpired means the slot is past its expiry window.
	OutcomeExpired
)

// Store holds streaming session slots keyed by chat session id. Every method
// is an atomic transition: implementations must guarantee that concurrent
// calls for the same chat session serialize.
type Store interface {
	// Open installs a new open slot, superseding any existing open slot for
	// the same chat session. The superseded slot, if any, is returned with
	// StatusExpired so the caller can audit it.
	Open(ctx context.Context, slot Slot) (*Slot, error)

	// Attach records accumulated content and token counts on the open slot
	// identified by token. Attaching to a non-open or mismatched slot is a
	// no-op.
	Attach(ctx context.Context, chatSessionID, token, content string, totalTokens int64) error

	// Finalize attempts the Open -> Committed transition. The expiry window
	// is checked lazily against now, so a slot past its timeout reports
	// OutcomeExpired even before a sweep runs.
	Finalize(ctx context.Context, chatSessionID, token string, now time.Time, timeout time.Duration) (Slot, Outcome, error)

	// ExpireStale transitions open slots created before cutoff to
	// StatusExpired and returns them. Implementations that delegate expiry
	// to the backing store (e.g. key TTLs) may return nil.
	ExpireStale(ctx context.Context, cutoff time.Time) ([]Slot, error)
}
