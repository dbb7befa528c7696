package db

import (
	"fmt"

	"github.com/flowchat/creditgate/internal/models"
	"gorm.io/gorm"
)

// Migrate runs schema migrations for all persisted models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.User{},
		&models.CreditAllocation{},
		&models.UsageRecord{},
		&models.StreamingSession{},
		&models.ChatSession{},
		&models.ChatMessage{},
		&models.Setting{},
	)
}
