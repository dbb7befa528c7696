package session

import (
	"context"
	"fmt"
	"time"

	"github.com/flowchat/creditgate/internal/models"
	"github.com/flowchat/creditgate/internal/security"
	"github.com/flowchat/creditgate/internal/settings"
	"github.com/flowchat/creditgate/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Registry issues streaming session tokens and validates them at commit
// time. Terminal transitions are persisted as audit rows when a database is
// attached.
type Registry struct {
	store   Store
	db      *gorm.DB
	timeout time.Duration
}

// NewRegistry constructs a Registry. db may be nil to skip audit persistence.
func NewRegistry(store Store, db *gorm.DB, timeout time.Duration) *Registry {
	return &Registry{store: store, db: db, timeout: timeout}
}

// Timeout returns the active expiry window, preferring the settings override.
func (r *Registry) Timeout() time.Duration {
	if seconds := settings.DBConfigInt(settings.SessionTimeoutSecondsKey, 0); seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return r.timeout
}

// OpenSession generates an unguessable token, installs the open slot, and
// returns the token for out-of-band delivery to the client. An existing open
// slot for the same chat session is superseded: a chat session is
// single-threaded from the user's perspective.
func (r *Registry) OpenSession(ctx context.Context, chatSessionID string, userID uint64) (string, error) {
	token, errToken := security.GenerateStreamToken()
	if errToken != nil {
		return "", errToken
	}

	slot := Slot{
		Token:         token,
		ChatSessionID: chatSessionID,
		UserID:        userID,
		Status:        StatusOpen,
		CreatedAt:     time.Now().UTC(),
	}
	superseded, errOpen := r.store.Open(ctx, slot)
	if errOpen != nil {
		return "", fmt.Errorf("session: open: %w", errOpen)
	}
	if superseded != nil {
		log.WithFields(log.Fields{
			"chat_session": chatSessionID,
			"user_id":      superseded.UserID,
		}).Info("streaming session superseded by new stream")
		r.audit(ctx, *superseded)
	}
	return token, nil
}

// Attach records accumulated content and token counts on the open slot.
func (r *Registry) Attach(ctx context.Context, chatSessionID, token, content string, totalTokens int64) error {
	return r.store.Attach(ctx, chatSessionID, token, content, totalTokens)
}

// Finalize validates the client-supplied token against the open slot and
// commits it. On success the returned slot carries the accumulated content
// for downstream persistence and committed reports whether this call
// performed the commit; a duplicate finalize with the correct token returns
// the prior committed slot with committed=false so callers stay idempotent.
// The stored token is never echoed back through the returned error values.
func (r *Registry) Finalize(ctx context.Context, chatSessionID, suppliedToken string) (slot Slot, committed bool, err error) {
	slot, outcome, errFinalize := r.store.Finalize(ctx, chatSessionID, suppliedToken, time.Now().UTC(), r.Timeout())
	if errFinalize != nil {
		return Slot{}, false, errFinalize
	}

	switch outcome {
	case OutcomeCommitted:
		r.audit(ctx, slot)
		return slot, true, nil
	case OutcomeDuplicate:
		return slot, false, nil
	case OutcomeMismatch:
		// Potential spoofing attempt: a client presented a token for a chat
		// session whose open stream it does not own.
		log.WithFields(log.Fields{
			"chat_session":   chatSessionID,
			"user_id":        slot.UserID,
			"supplied_token": util.MaskToken(suppliedToken),
		}).Warn("streaming session token mismatch rejected")
		r.audit(ctx, slot)
		return Slot{}, false, ErrMismatch
	case OutcomeExpired:
		r.audit(ctx, slot)
		return Slot{}, false, ErrExpired
	default:
		return Slot{}, false, ErrNoOpenSession
	}
}

// Sweep expires open slots past the timeout window and audits them. It
// returns the number of slots expired.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.Timeout())
	expired, errExpire := r.store.ExpireStale(ctx, cutoff)
	if errExpire != nil {
		log.WithError(errExpire).Warn("session sweep failed")
		return 0
	}
	for _, slot := range expired {
		r.audit(ctx, slot)
	}
	return len(expired)
}

// audit persists a terminal slot transition. Audit failures are logged, not
// propagated: the in-store transition already happened.
func (r *Registry) audit(ctx context.Context, slot Slot) {
	if r.db == nil || slot.Status == StatusOpen {
		return
	}
	row := models.StreamingSession{
		Token:         slot.Token,
		ChatSessionID: slot.ChatSessionID,
		UserID:        slot.UserID,
		Status:        string(slot.Status),
		TotalTokens:   slot.TotalTokens,
		OpenedAt:      slot.CreatedAt,
		ClosedAt:      time.Now().UTC(),
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("failed to persist streaming session audit row")
	}
}
