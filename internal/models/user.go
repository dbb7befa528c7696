package models

import "time"

// User is a gateway account that credits are allocated to.
//
// Identity is owned by the external auth service; the verified user id from
// a token maps directly onto this primary key. Users may be auto-provisioned
// by the first credit allocation; such users start with zero credits and no
// elevated permissions.
type User struct {
	ID uint64 `gorm:"primaryKey"` // Verified user id from the auth service.

	Name string `gorm:"type:text"` // Display name, optional.

	Disabled bool `gorm:"not null;default:false"` // Blocks all metered operations.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
