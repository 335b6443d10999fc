package whatsapp

import (
	"context"
	"testing"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/require"
	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/dtos"
	"github.com/wabridge/pkg/entities"
	"github.com/wabridge/pkg/state"
)

func newTestService(h *testHarness) (Service, EventBus.Bus) {
	bus := EventBus.New()
	return NewService(h.mgr, h.repo, bus), bus
}

func userCtx(userID uint) context.Context {
	return state.SetCurrentUser(context.Background(), userID)
}

func TestService_SendMessageQueuesAndPublishes(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, bus := newTestService(h)

	published := make(chan struct{}, 1)
	req.NoError(bus.Subscribe(TopicOutboundPending, func() {
		published <- struct{}{}
	}))

	resp, err := svc.SendMessage(userCtx(1), dtos.SendMessageDTO{
		PhoneNumber: "+905551112233",
		Message:     "Teklif hazır",
	})
	req.NoError(err)
	req.Equal(constant.StatusPending, resp.Status)
	req.Contains(resp.MessageID, pendingPrefix)
	req.Len(published, 1)

	rows := h.repo.messagesFor(1)
	req.Len(rows, 1)
	req.Equal(constant.DirectionOutbound, rows[0].Direction)
	req.Equal(constant.StatusPending, rows[0].Status)
	req.Equal("905551112233@s.whatsapp.net", rows[0].ChatJID)
}

func TestService_SendMessageRejectsBadNumber(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, _ := newTestService(h)

	_, err := svc.SendMessage(userCtx(1), dtos.SendMessageDTO{
		PhoneNumber: "12345",
		Message:     "x",
	})
	req.Error(err)
	req.Empty(h.repo.messagesFor(1))
}

func TestService_CreateGroupWritesIntent(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, _ := newTestService(h)

	resp, err := svc.CreateGroup(userCtx(1), dtos.CreateGroupDTO{
		Name:         "Satış Ekibi",
		Participants: []string{"+905551112233", "+905554443322"},
	})
	req.NoError(err)
	req.Equal(constant.GroupCreating, resp.Status)
	req.Contains(resp.GroupJID, pendingPrefix)

	group, ok := h.repo.groupByJID(resp.GroupJID)
	req.True(ok)
	req.NotNil(group.OwnerID)
	req.Equal(uint(1), *group.OwnerID)

	pending, err := h.repo.PendingMembers(context.Background())
	req.NoError(err)
	req.Len(pending, 2)
}

func TestService_AddGroupMemberChecksOwnership(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, _ := newTestService(h)

	other := uint(2)
	req.NoError(h.repo.UpsertGroup(context.Background(), &entities.WhatsAppGroup{
		GroupJID: "12036304684@g.us",
		OwnerID:  &other,
		Status:   constant.GroupActive,
	}))

	err := svc.AddGroupMember(userCtx(1), dtos.AddMemberDTO{
		GroupJID:    "12036304684@g.us",
		PhoneNumber: "+905551112233",
	})
	req.Error(err)

	req.NoError(svc.AddGroupMember(userCtx(2), dtos.AddMemberDTO{
		GroupJID:    "12036304684@g.us",
		PhoneNumber: "+905551112233",
	}))
	pending, err := h.repo.PendingMembers(context.Background())
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal("5551112233", pending[0].Phone)
}

func TestService_DeleteGroupMarksDeleting(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, _ := newTestService(h)

	owner := uint(1)
	req.NoError(h.repo.UpsertGroup(context.Background(), &entities.WhatsAppGroup{
		GroupJID: "12036304684@g.us",
		OwnerID:  &owner,
		Status:   constant.GroupActive,
	}))

	req.NoError(svc.DeleteGroup(userCtx(1), "12036304684@g.us"))

	group, ok := h.repo.groupByJID("12036304684@g.us")
	req.True(ok)
	req.Equal(constant.GroupDeleting, group.Status)
}

func TestService_GetStatusFallsBackToStoredRow(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, _ := newTestService(h)

	// No live session, no row: reported idle.
	status, err := svc.GetStatus(userCtx(1))
	req.NoError(err)
	req.Equal(constant.SessionIdle, status.Status)

	req.NoError(h.repo.UpsertSessionStatus(context.Background(), 1, constant.SessionDisconnected, "", "905554443322"))
	status, err = svc.GetStatus(userCtx(1))
	req.NoError(err)
	req.Equal(constant.SessionDisconnected, status.Status)
	req.Equal("905554443322", status.PhoneNumber)
}

func TestService_GetMessagesScopedToTenant(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, _ := newTestService(h)

	req.NoError(h.repo.UpsertMessage(context.Background(), &entities.WhatsAppMessage{
		TenantID: 1, MessageID: "A", ChatJID: "905551112233@s.whatsapp.net",
		Direction: constant.DirectionInbound, Status: constant.StatusReceived,
	}))
	req.NoError(h.repo.UpsertMessage(context.Background(), &entities.WhatsAppMessage{
		TenantID: 2, MessageID: "B", ChatJID: "905551112233@s.whatsapp.net",
		Direction: constant.DirectionInbound, Status: constant.StatusReceived,
	}))

	messages, _, err := svc.GetMessages(userCtx(1), "", 1)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("A", messages[0].MessageID)
}

func TestService_ConnectStartsSession(t *testing.T) {
	req := require.New(t)
	h := newTestHarness()
	svc, _ := newTestService(h)

	req.NoError(svc.Connect(userCtx(1)))
	req.NotNil(h.mgr.Session(1))

	req.NoError(svc.Disconnect(userCtx(1)))
	req.Nil(h.mgr.Session(1))
}
