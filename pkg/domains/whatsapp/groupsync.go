package whatsapp

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/entities"
	"github.com/wabridge/pkg/protocol"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// syncGroups reconciles the group directory with the server view after a
// session connects. Ownership: a tenant claims a group when no record
// exists yet or when it holds an elevated role there. When the role cannot
// be determined the claim goes through anyway, so a directory hiccup never
// silently drops groups from a tenant's view.
func (m *Manager) syncGroups(ctx context.Context, s *Session) {
	driver := s.Driver()
	if driver == nil {
		return
	}
	groups, err := driver.JoinedGroups(ctx)
	if err != nil {
		zap.L().Error("whatsapp: failed to list joined groups",
			zap.Uint("tenant_id", s.tenantID), zap.Error(err))
		return
	}

	for _, g := range groups {
		m.syncGroup(ctx, s, g)
	}
	zap.L().Info("whatsapp: group sync finished",
		zap.Uint("tenant_id", s.tenantID), zap.Int("groups", len(groups)))
}

func (m *Manager) syncGroup(ctx context.Context, s *Session, g protocol.GroupInfo) {
	existing, err := m.repo.GetGroupByJID(ctx, g.JID)
	known := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().Error("whatsapp: group lookup failed",
			zap.String("group_jid", g.JID), zap.Error(err))
		return
	}

	owner := existing.OwnerID
	switch {
	case !known:
		owner = lo.ToPtr(s.tenantID)
	case g.OwnRole == protocol.RoleAdmin:
		owner = lo.ToPtr(s.tenantID)
	case g.OwnRole == protocol.RoleUnknown:
		zap.L().Warn("whatsapp: own role unknown, claiming group anyway",
			zap.Uint("tenant_id", s.tenantID), zap.String("group_jid", g.JID))
		owner = lo.ToPtr(s.tenantID)
	}

	row := &entities.WhatsAppGroup{
		GroupJID: g.JID,
		Name:     g.Name,
		OwnerID:  owner,
		Status:   constant.GroupActive,
	}
	if known {
		row.ID = existing.ID
	}
	if err := m.repo.UpsertGroup(ctx, row); err != nil {
		zap.L().Error("whatsapp: failed to upsert group",
			zap.String("group_jid", g.JID), zap.Error(err))
		return
	}

	members := lo.Map(g.Participants, func(p protocol.GroupParticipant, _ int) *entities.WhatsAppGroupMember {
		return &entities.WhatsAppGroupMember{
			GroupJID:    g.JID,
			Phone:       normalizePhone(p.Phone),
			DisplayName: s.resolveSenderName(ctx, p.Phone, "", normalizePhone(p.Phone)),
			Status:      constant.MemberActive,
		}
	})
	for _, member := range members {
		if err := m.repo.UpsertMember(ctx, member); err != nil {
			zap.L().Warn("whatsapp: failed to upsert group member",
				zap.String("group_jid", g.JID), zap.String("phone", member.Phone), zap.Error(err))
		}
	}
}
