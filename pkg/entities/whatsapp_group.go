package entities

import (
	"gorm.io/gorm"
)

// WhatsAppGroup is upserted by the group synchronizer on every successful
// connection. OwnerID is the tenant holding an elevated role inside the
// remote group, when known. Status doubles as the provisioning intent
// channel: the external layer writes "creating"/"deleting" rows and the
// dispatch bridge resolves them.
type WhatsAppGroup struct {
	gorm.Model
	GroupJID string `json:"group_jid" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name     string `json:"name" gorm:"type:varchar(255)"`
	OwnerID  *uint  `json:"owner_id" gorm:"index"`
	Status   string `json:"status" gorm:"type:varchar(20);default:'active'"`
}

// WhatsAppGroupMember is one (group, phone) membership. Rows with status
// "pending" are member-add intents written by the external layer.
type WhatsAppGroupMember struct {
	gorm.Model
	GroupJID    string `json:"group_jid" gorm:"type:varchar(255);uniqueIndex:ux_group_phone,priority:1;not null"`
	Phone       string `json:"phone" gorm:"type:varchar(30);uniqueIndex:ux_group_phone,priority:2;not null"`
	DisplayName string `json:"display_name" gorm:"type:varchar(255)"`
	Status      string `json:"status" gorm:"type:varchar(20);default:'active'"`
}
