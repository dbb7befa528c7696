package models

import "time"

// Streaming session terminal states persisted for audit.
const (
	// StreamingSessionCommitted marks a finalized session.
	StreamingSessionCommitted = "committed"
	// StreamingSessionExpired marks a session that timed out or was
	// superseded before finalize.
	StreamingSessionExpired = "expired"
	// StreamingSessionMismatched marks a rejected finalize with a wrong token.
	StreamingSessionMismatched = "mismatched"
)

// StreamingSession is an audit row for a terminal streaming-session slot.
//
// The live Open slot is held by the session registry store; only terminal
// transitions are written here. One chat session accumulates many rows over
// its lifetime, one per message exchange.
type StreamingSession struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Token         string `gorm:"type:text;not null;index"`      // Session token.
	ChatSessionID string `gorm:"type:text;not null;index"`      // Owning chat session.
	UserID        uint64 `gorm:"not null;index"`                // Owning user.
	Status        string `gorm:"type:text;not null;index"`      // Terminal status.

	TotalTokens int64 `gorm:"not null;default:0"` // Accumulated token count at close.

	OpenedAt time.Time `gorm:"not null"`                // Slot open timestamp.
	ClosedAt time.Time `gorm:"not null;autoCreateTime"` // Terminal transition timestamp.
}
