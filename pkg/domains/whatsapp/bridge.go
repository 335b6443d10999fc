package whatsapp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/entities"
	"go.uber.org/zap"
)

// Bus topics. Publishing on one wakes the dispatcher immediately; the cron
// poll behind it picks up rows written by external processes.
const (
	TopicOutboundPending = "whatsapp:outbound"
	TopicGroupIntent     = "whatsapp:groups"
)

// pendingPrefix marks provisional identifiers written by the API layer
// before the protocol assigns real ones.
const pendingPrefix = "pending:"

// Bridge drains intent rows (outbound messages, group provisioning) into
// protocol sends. Delivery is at-least-once: rows stay pending until a send
// definitively succeeds or fails, and the poll re-scans everything.
type Bridge struct {
	bus  EventBus.Bus
	cron *cron.Cron
	mgr  *Manager
	repo Repository

	pollMu sync.Mutex
}

func NewBridge(bus EventBus.Bus, mgr *Manager, repo Repository) *Bridge {
	return &Bridge{
		bus:  bus,
		cron: cron.New(),
		mgr:  mgr,
		repo: repo,
	}
}

func (b *Bridge) Start() error {
	if err := b.bus.SubscribeAsync(TopicOutboundPending, b.pollMessages, false); err != nil {
		return err
	}
	if err := b.bus.SubscribeAsync(TopicGroupIntent, b.pollGroups, false); err != nil {
		return err
	}
	if _, err := b.cron.AddFunc("@every 5s", b.poll); err != nil {
		return err
	}
	if _, err := b.cron.AddFunc("@every 10m", b.resyncGroups); err != nil {
		return err
	}
	b.cron.Start()
	zap.L().Info("whatsapp: dispatch bridge started")
	return nil
}

func (b *Bridge) Stop() {
	b.cron.Stop()
	b.bus.Unsubscribe(TopicOutboundPending, b.pollMessages)
	b.bus.Unsubscribe(TopicGroupIntent, b.pollGroups)
}

func (b *Bridge) poll() {
	b.pollMessages()
	b.pollGroups()
}

// pollMessages dispatches every pending outbound row. Serialized so a slow
// send never interleaves with the next poll tick.
func (b *Bridge) pollMessages() {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	ctx := context.Background()

	rows, err := b.repo.PendingOutbound(ctx)
	if err != nil {
		zap.L().Error("whatsapp: failed to scan pending outbound", zap.Error(err))
		return
	}
	for i := range rows {
		b.dispatchMessage(ctx, &rows[i])
	}
}

func (b *Bridge) dispatchMessage(ctx context.Context, row *entities.WhatsAppMessage) {
	session := b.mgr.Session(row.TenantID)
	if session == nil || !session.IsConnected() {
		// Stays pending; the next poll retries once the session is back.
		return
	}

	// Recorded before the send so the echoed copy is swallowed even when
	// the server is faster than our own bookkeeping.
	session.RecordEcho(row.ChatJID, row.Content)

	receipt, err := session.Driver().SendText(ctx, row.ChatJID, row.Content)
	if err != nil {
		zap.L().Warn("whatsapp: outbound send failed",
			zap.Uint("tenant_id", row.TenantID), zap.Uint("row_id", row.ID), zap.Error(err))
		if ferr := b.repo.FinishOutbound(ctx, row.ID, row.MessageID, constant.StatusFailed, time.Now()); ferr != nil {
			zap.L().Error("whatsapp: failed to mark outbound failed", zap.Uint("row_id", row.ID), zap.Error(ferr))
		}
		return
	}
	if err := b.repo.FinishOutbound(ctx, row.ID, receipt.ID, constant.StatusSent, receipt.Timestamp); err != nil {
		zap.L().Error("whatsapp: failed to mark outbound sent", zap.Uint("row_id", row.ID), zap.Error(err))
	}
}

// pollGroups drains group provisioning intents: creations, deletions, then
// member additions against already-live groups.
func (b *Bridge) pollGroups() {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	ctx := context.Background()

	if creating, err := b.repo.GroupsByStatus(ctx, constant.GroupCreating); err != nil {
		zap.L().Error("whatsapp: failed to scan group creations", zap.Error(err))
	} else {
		for i := range creating {
			b.createGroup(ctx, &creating[i])
		}
	}

	if deleting, err := b.repo.GroupsByStatus(ctx, constant.GroupDeleting); err != nil {
		zap.L().Error("whatsapp: failed to scan group deletions", zap.Error(err))
	} else {
		for i := range deleting {
			b.deleteGroup(ctx, &deleting[i])
		}
	}

	b.dispatchMembers(ctx)
}

func (b *Bridge) createGroup(ctx context.Context, row *entities.WhatsAppGroup) {
	session := b.ownerSession(row)
	if session == nil {
		return
	}

	pending, err := b.repo.PendingMembers(ctx)
	if err != nil {
		zap.L().Error("whatsapp: failed to load pending members", zap.Error(err))
		return
	}
	members := lo.Filter(pending, func(m entities.WhatsAppGroupMember, _ int) bool {
		return m.GroupJID == row.GroupJID
	})
	phones := lo.Map(members, func(m entities.WhatsAppGroupMember, _ int) string {
		return m.Phone
	})

	realJID, err := session.Driver().CreateGroup(ctx, row.Name, phones)
	if err != nil {
		zap.L().Warn("whatsapp: group creation failed",
			zap.Uint("row_id", row.ID), zap.String("name", row.Name), zap.Error(err))
		if uerr := b.repo.UpdateGroup(ctx, row.ID, map[string]interface{}{"status": constant.GroupFailedCreation}); uerr != nil {
			zap.L().Error("whatsapp: failed to mark group failed", zap.Uint("row_id", row.ID), zap.Error(uerr))
		}
		return
	}

	placeholder := row.GroupJID
	if err := b.repo.UpdateGroup(ctx, row.ID, map[string]interface{}{
		"group_jid": realJID,
		"status":    constant.GroupActive,
	}); err != nil {
		zap.L().Error("whatsapp: failed to finalize created group", zap.Uint("row_id", row.ID), zap.Error(err))
		return
	}
	if strings.HasPrefix(placeholder, pendingPrefix) {
		if err := b.repo.ReassignMembers(ctx, placeholder, realJID); err != nil {
			zap.L().Warn("whatsapp: failed to reassign members to created group",
				zap.String("group_jid", realJID), zap.Error(err))
		}
	}
	zap.L().Info("whatsapp: group created",
		zap.String("group_jid", realJID), zap.String("name", row.Name))
}

func (b *Bridge) deleteGroup(ctx context.Context, row *entities.WhatsAppGroup) {
	session := b.ownerSession(row)
	if session != nil && !strings.HasPrefix(row.GroupJID, pendingPrefix) {
		driver := session.Driver()
		// Best effort: strip the other participants, then leave. The local
		// record goes away regardless.
		members, err := b.repo.MembersOfGroup(ctx, row.GroupJID)
		if err != nil {
			zap.L().Warn("whatsapp: failed to load members of deleting group",
				zap.String("group_jid", row.GroupJID), zap.Error(err))
		}
		own := normalizePhone(session.Phone())
		for _, m := range members {
			if normalizePhone(m.Phone) == own {
				continue
			}
			if rerr := driver.RemoveGroupParticipant(ctx, row.GroupJID, m.Phone); rerr != nil {
				zap.L().Debug("whatsapp: participant removal failed",
					zap.String("group_jid", row.GroupJID), zap.String("phone", m.Phone), zap.Error(rerr))
			}
		}
		if err := driver.LeaveGroup(ctx, row.GroupJID); err != nil {
			zap.L().Warn("whatsapp: failed to leave group",
				zap.String("group_jid", row.GroupJID), zap.Error(err))
		}
	}
	if err := b.repo.DeleteGroup(ctx, row.GroupJID); err != nil {
		zap.L().Error("whatsapp: failed to delete group record",
			zap.String("group_jid", row.GroupJID), zap.Error(err))
	}
}

func (b *Bridge) dispatchMembers(ctx context.Context) {
	pending, err := b.repo.PendingMembers(ctx)
	if err != nil {
		zap.L().Error("whatsapp: failed to scan pending members", zap.Error(err))
		return
	}
	for _, member := range pending {
		if strings.HasPrefix(member.GroupJID, pendingPrefix) {
			// Belongs to a group still being created.
			continue
		}
		group, err := b.repo.GetGroupByJID(ctx, member.GroupJID)
		if err != nil || group.Status != constant.GroupActive {
			continue
		}
		session := b.ownerSession(&group)
		if session == nil {
			continue
		}
		if err := session.Driver().AddGroupParticipant(ctx, member.GroupJID, member.Phone); err != nil {
			zap.L().Warn("whatsapp: member addition failed",
				zap.String("group_jid", member.GroupJID), zap.String("phone", member.Phone), zap.Error(err))
			continue
		}
		if err := b.repo.MarkMemberActive(ctx, member.ID); err != nil {
			zap.L().Error("whatsapp: failed to mark member active",
				zap.Uint("row_id", member.ID), zap.Error(err))
		}
	}
}

func (b *Bridge) ownerSession(group *entities.WhatsAppGroup) *Session {
	if group.OwnerID == nil {
		return nil
	}
	session := b.mgr.Session(*group.OwnerID)
	if session == nil || !session.IsConnected() {
		return nil
	}
	return session
}

// resyncGroups refreshes the group directory for every connected session.
func (b *Bridge) resyncGroups() {
	ctx := context.Background()
	for _, session := range b.mgr.ConnectedSessions() {
		b.mgr.syncGroups(ctx, session)
	}
}
