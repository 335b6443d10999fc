package database

import (
	"github.com/wabridge/pkg/entities"
	"gorm.io/gorm"
)

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entities.User{},
		&entities.WhatsAppSession{},
		&entities.WhatsAppMessage{},
		&entities.WhatsAppGroup{},
		&entities.WhatsAppGroupMember{},
	)
}
