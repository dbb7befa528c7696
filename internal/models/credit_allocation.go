package models

import "time"

// CreditAllocation is a time-bounded grant of spendable credits.
//
// Remaining credits only ever decrease after creation. Expired allocations
// are excluded from balances and deductions but are retained for audit.
type CreditAllocation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`         // Owning user.
	User   *User  `gorm:"foreignKey:UserID"`      // Owning user record.

	TotalCredits     int64 `gorm:"not null"`           // Granted amount, immutable.
	RemainingCredits int64 `gorm:"not null;default:0"` // 0 <= remaining <= total.

	AllocatedAt time.Time `gorm:"not null;index"` // Grant timestamp.
	ExpiresAt   time.Time `gorm:"not null;index"` // Hard expiry, always set.

	AllocatedBy string `gorm:"type:text;not null"` // Granting principal.
	Note        string `gorm:"type:text"`          // Free-text note, optional.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
