package models

import (
	"time"

	"gorm.io/datatypes"
)

// Usage outcome markers.
const (
	// UsageOutcomeCommitted marks a fully charged operation.
	UsageOutcomeCommitted = "committed"
	// UsageOutcomeFailed marks an operation whose deduction failed after
	// the response was already delivered (reconciliation debt).
	UsageOutcomeFailed = "failed"
)

// UsageRecord is one immutable ledger entry per completed billable operation.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`           // Charged user.
	Model  string `gorm:"type:text;not null;index"` // Model id used.

	InputTokens  int64 `gorm:"not null;default:0"` // Input token count.
	OutputTokens int64 `gorm:"not null;default:0"` // Output token count.

	Credits int64 `gorm:"not null;default:0"` // Computed credit cost.

	CorrelationID      string `gorm:"type:text;index"` // Request correlation id.
	ChatSessionID      string `gorm:"type:text;index"` // Owning chat session.
	StreamingSessionID string `gorm:"type:text"`       // Streaming session token id.

	Outcome     string         `gorm:"type:text;not null;index"` // committed or failed.
	ErrorDetail datatypes.JSON `gorm:"type:jsonb"`               // Failure detail, when failed.

	RequestedAt time.Time `gorm:"not null;index"`          // Request timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
