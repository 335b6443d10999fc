package entities

import (
	"time"

	"gorm.io/gorm"
)

// WhatsAppSession mirrors the lifecycle state of one tenant's connection.
// The orchestrator writes it on every externally visible transition; the
// frontend reads it to render pairing codes and connection status.
type WhatsAppSession struct {
	gorm.Model
	TenantID     uint      `json:"tenant_id" gorm:"uniqueIndex;not null"`
	Status       string    `json:"status" gorm:"type:varchar(20);default:'idle'"`
	QRCode       string    `json:"qr_code" gorm:"type:text"`
	PhoneNumber  string    `json:"phone_number" gorm:"type:varchar(20)"`
	LastActiveAt time.Time `json:"last_active_at"`

	// Relations
	User User `json:"user" gorm:"foreignKey:TenantID"`
}
