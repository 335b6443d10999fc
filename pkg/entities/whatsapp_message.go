package entities

import (
	"time"

	"gorm.io/gorm"
)

// WhatsAppMessage is the chat mirror row. (tenant_id, message_id) is the
// idempotency key: history replays and duplicate change-feed deliveries
// upsert the same row instead of creating a second one.
type WhatsAppMessage struct {
	gorm.Model
	TenantID         uint      `json:"tenant_id" gorm:"uniqueIndex:ux_tenant_message,priority:1;not null"`
	MessageID        string    `json:"message_id" gorm:"type:varchar(255);uniqueIndex:ux_tenant_message,priority:2;not null"`
	ChatJID          string    `json:"chat_jid" gorm:"type:varchar(255);index;not null"`
	SenderPhone      string    `json:"sender_phone" gorm:"type:varchar(30)"`
	SenderName       string    `json:"sender_name" gorm:"type:varchar(255)"`
	Direction        string    `json:"direction" gorm:"type:varchar(10);not null"`
	MessageType      string    `json:"message_type" gorm:"type:varchar(20);not null"`
	Content          string    `json:"content" gorm:"type:text"`
	MediaURL         string    `json:"media_url" gorm:"type:text"`
	QuotedID         string    `json:"quoted_id" gorm:"type:varchar(255)"`
	Status           string    `json:"status" gorm:"type:varchar(20);default:'received'"`
	MessageTimestamp time.Time `json:"message_timestamp"`
}
