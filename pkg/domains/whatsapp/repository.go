package whatsapp

import (
	"context"
	"time"

	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/entities"
	"github.com/wabridge/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	UpsertSessionStatus(ctx context.Context, tenantID uint, status string, qrCode string, phone string) error
	GetSession(ctx context.Context, tenantID uint) (entities.WhatsAppSession, error)

	UpsertMessage(ctx context.Context, msg *entities.WhatsAppMessage) error
	CreateOutbound(ctx context.Context, msg *entities.WhatsAppMessage) error
	FinishOutbound(ctx context.Context, rowID uint, messageID string, status string, sentAt time.Time) error
	PendingOutbound(ctx context.Context) ([]entities.WhatsAppMessage, error)
	MarkDelivered(ctx context.Context, tenantID uint, messageIDs []string) error
	MessagesPage(ctx context.Context, tenantID uint, chatJID string, page int) ([]entities.WhatsAppMessage, int, error)

	GetGroupByJID(ctx context.Context, groupJID string) (entities.WhatsAppGroup, error)
	UpsertGroup(ctx context.Context, group *entities.WhatsAppGroup) error
	UpdateGroup(ctx context.Context, rowID uint, updates map[string]interface{}) error
	DeleteGroup(ctx context.Context, groupJID string) error
	GroupsByStatus(ctx context.Context, status string) ([]entities.WhatsAppGroup, error)
	ReleaseOwnedGroups(ctx context.Context, tenantID uint) error

	ReassignMembers(ctx context.Context, oldJID string, newJID string) error
	UpsertMember(ctx context.Context, member *entities.WhatsAppGroupMember) error
	MembersOfGroup(ctx context.Context, groupJID string) ([]entities.WhatsAppGroupMember, error)
	PendingMembers(ctx context.Context) ([]entities.WhatsAppGroupMember, error)
	MarkMemberActive(ctx context.Context, rowID uint) error
}

type repository struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) UpsertSessionStatus(ctx context.Context, tenantID uint, status string, qrCode string, phone string) error {
	session := entities.WhatsAppSession{
		TenantID:     tenantID,
		Status:       status,
		QRCode:       qrCode,
		PhoneNumber:  phone,
		LastActiveAt: time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "qr_code", "phone_number", "last_active_at", "updated_at"}),
	}).Create(&session).Error
}

func (r *repository) GetSession(ctx context.Context, tenantID uint) (entities.WhatsAppSession, error) {
	var session entities.WhatsAppSession
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&session).Error
	return session, err
}

// UpsertMessage persists a message keyed on (tenant_id, message_id); replays
// of the same protocol id update the existing row in place.
func (r *repository) UpsertMessage(ctx context.Context, msg *entities.WhatsAppMessage) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sender_phone", "sender_name", "message_type", "content",
			"media_url", "quoted_id", "status", "message_timestamp", "updated_at",
		}),
	}).Create(msg).Error
}

func (r *repository) CreateOutbound(ctx context.Context, msg *entities.WhatsAppMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// FinishOutbound records the dispatch outcome, replacing the provisional
// message id with the protocol-assigned one so echoed copies dedupe.
func (r *repository) FinishOutbound(ctx context.Context, rowID uint, messageID string, status string, sentAt time.Time) error {
	updates := map[string]interface{}{"status": status}
	if messageID != "" {
		updates["message_id"] = messageID
	}
	if !sentAt.IsZero() {
		updates["message_timestamp"] = sentAt
	}
	return r.db.WithContext(ctx).Model(&entities.WhatsAppMessage{}).
		Where("id = ?", rowID).Updates(updates).Error
}

func (r *repository) PendingOutbound(ctx context.Context) ([]entities.WhatsAppMessage, error) {
	var messages []entities.WhatsAppMessage
	err := r.db.WithContext(ctx).
		Where("direction = ? AND status = ?", constant.DirectionOutbound, constant.StatusPending).
		Order("created_at asc").
		Find(&messages).Error
	return messages, err
}

// MarkDelivered upgrades sent outbound rows to delivered once the remote
// side acknowledges the ids. Rows in any other state are left alone.
func (r *repository) MarkDelivered(ctx context.Context, tenantID uint, messageIDs []string) error {
	return r.db.WithContext(ctx).Model(&entities.WhatsAppMessage{}).
		Where("tenant_id = ? AND message_id IN ? AND direction = ? AND status = ?",
			tenantID, messageIDs, constant.DirectionOutbound, constant.StatusSent).
		Update("status", constant.StatusDelivered).Error
}

func (r *repository) MessagesPage(ctx context.Context, tenantID uint, chatJID string, page int) ([]entities.WhatsAppMessage, int, error) {
	var messages []entities.WhatsAppMessage
	query := "tenant_id = ?"
	args := []interface{}{tenantID}
	if chatJID != "" {
		query = "tenant_id = ? AND chat_jid = ?"
		args = append(args, chatJID)
	}
	totalPages, err := utils.Pagination(&messages, page, r.db.Order("message_timestamp desc"), ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return messages, totalPages, nil
}

func (r *repository) GetGroupByJID(ctx context.Context, groupJID string) (entities.WhatsAppGroup, error) {
	var group entities.WhatsAppGroup
	err := r.db.WithContext(ctx).Where("group_jid = ?", groupJID).First(&group).Error
	return group, err
}

func (r *repository) UpsertGroup(ctx context.Context, group *entities.WhatsAppGroup) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_jid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "owner_id", "status", "updated_at"}),
	}).Create(group).Error
}

func (r *repository) UpdateGroup(ctx context.Context, rowID uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entities.WhatsAppGroup{}).
		Where("id = ?", rowID).Updates(updates).Error
}

func (r *repository) DeleteGroup(ctx context.Context, groupJID string) error {
	if err := r.db.WithContext(ctx).Where("group_jid = ?", groupJID).
		Delete(&entities.WhatsAppGroupMember{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("group_jid = ?", groupJID).
		Delete(&entities.WhatsAppGroup{}).Error
}

func (r *repository) GroupsByStatus(ctx context.Context, status string) ([]entities.WhatsAppGroup, error) {
	var groups []entities.WhatsAppGroup
	err := r.db.WithContext(ctx).Where("status = ?", status).Find(&groups).Error
	return groups, err
}

func (r *repository) ReleaseOwnedGroups(ctx context.Context, tenantID uint) error {
	return r.db.WithContext(ctx).Model(&entities.WhatsAppGroup{}).
		Where("owner_id = ?", tenantID).Update("owner_id", nil).Error
}

func (r *repository) ReassignMembers(ctx context.Context, oldJID string, newJID string) error {
	return r.db.WithContext(ctx).Model(&entities.WhatsAppGroupMember{}).
		Where("group_jid = ?", oldJID).
		Updates(map[string]interface{}{"group_jid": newJID, "status": constant.MemberActive}).Error
}

func (r *repository) UpsertMember(ctx context.Context, member *entities.WhatsAppGroupMember) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_jid"}, {Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "status", "updated_at"}),
	}).Create(member).Error
}

func (r *repository) MembersOfGroup(ctx context.Context, groupJID string) ([]entities.WhatsAppGroupMember, error) {
	var members []entities.WhatsAppGroupMember
	err := r.db.WithContext(ctx).Where("group_jid = ?", groupJID).Find(&members).Error
	return members, err
}

func (r *repository) PendingMembers(ctx context.Context) ([]entities.WhatsAppGroupMember, error) {
	var members []entities.WhatsAppGroupMember
	err := r.db.WithContext(ctx).Where("status = ?", constant.MemberPending).Find(&members).Error
	return members, err
}

func (r *repository) MarkMemberActive(ctx context.Context, rowID uint) error {
	return r.db.WithContext(ctx).Model(&entities.WhatsAppGroupMember{}).
		Where("id = ?", rowID).Update("status", constant.MemberActive).Error
}
