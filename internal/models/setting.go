package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores a runtime configuration value as raw JSON.
type Setting struct {
	Key   string         `gorm:"primaryKey;type:text"` // Config key.
	Value datatypes.JSON `gorm:"type:jsonb"`           // Raw JSON value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
