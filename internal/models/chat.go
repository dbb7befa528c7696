package models

import "time"

// Chat message roles.
const (
	// ChatRoleUser marks a user-authored message.
	ChatRoleUser = "user"
	// ChatRoleAssistant marks a model-authored message.
	ChatRoleAssistant = "assistant"
)

// ChatSession groups the messages of one conversation.
type ChatSession struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SessionID string `gorm:"type:text;not null;uniqueIndex"` // External chat session id.
	UserID    uint64 `gorm:"not null;index"`                 // Owning user.
	Model     string `gorm:"type:text"`                      // Last model used.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ChatMessage is one persisted message of a chat session.
//
// Assistant messages are only written through a successful finalize, which
// makes the finalized transcript the authoritative history entry.
type ChatMessage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ChatSessionID string `gorm:"type:text;not null;index"` // Owning chat session.
	UserID        uint64 `gorm:"not null;index"`           // Owning user.

	Role    string `gorm:"type:text;not null"` // user or assistant.
	Content string `gorm:"type:text;not null"` // Message body.

	StreamingSessionID string `gorm:"type:text"` // Token of the committing stream, when assistant.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
