package whatsapp

import (
	"context"
	"fmt"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/dtos"
	"github.com/wabridge/pkg/entities"
	"github.com/wabridge/pkg/protocol"
	"github.com/wabridge/pkg/state"
)

type Service interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GetQRCode(ctx context.Context) (*dtos.QRCodeDTO, error)
	GetStatus(ctx context.Context) (*dtos.WhatsAppStatusDTO, error)
	SendMessage(ctx context.Context, req dtos.SendMessageDTO) (*dtos.MessageResponseDTO, error)
	GetMessages(ctx context.Context, chatJID string, page int) ([]entities.WhatsAppMessage, int, error)
	CreateGroup(ctx context.Context, req dtos.CreateGroupDTO) (*dtos.GroupResponseDTO, error)
	AddGroupMember(ctx context.Context, req dtos.AddMemberDTO) error
	DeleteGroup(ctx context.Context, groupJID string) error
}

type service struct {
	manager *Manager
	repo    Repository
	bus     EventBus.Bus
}

func NewService(manager *Manager, repo Repository, bus EventBus.Bus) Service {
	return &service{
		manager: manager,
		repo:    repo,
		bus:     bus,
	}
}

// getUserIDFromContext extracts the authenticated user ID from a Gin context.
func (s *service) getUserIDFromContext(ctx context.Context) (uint, error) {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		userID, exists := ginCtx.Get(state.CurrentUserId)
		if !exists {
			return 0, fmt.Errorf("user ID not found in context")
		}
		if uid, ok := userID.(uint); ok {
			return uid, nil
		}
		return 0, fmt.Errorf("invalid user ID type in context")
	}
	if uid := state.CurrentUser(ctx); uid != 0 {
		return uid, nil
	}
	return 0, fmt.Errorf("user ID not found in context")
}

func (s *service) Connect(ctx context.Context) error {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return err
	}
	return s.manager.Start(ctx, userID)
}

func (s *service) Disconnect(ctx context.Context) error {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return err
	}
	return s.manager.Stop(ctx, userID)
}

func (s *service) GetQRCode(ctx context.Context) (*dtos.QRCodeDTO, error) {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if session := s.manager.Session(userID); session != nil {
		return &dtos.QRCodeDTO{PhoneNumber: session.Phone(), QRCode: session.QRCode()}, nil
	}
	row, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf(constant.WHATSAPP_NOT_INIT)
	}
	return &dtos.QRCodeDTO{PhoneNumber: row.PhoneNumber, QRCode: row.QRCode}, nil
}

func (s *service) GetStatus(ctx context.Context) (*dtos.WhatsAppStatusDTO, error) {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if session := s.manager.Session(userID); session != nil {
		return &dtos.WhatsAppStatusDTO{Status: session.State(), PhoneNumber: session.Phone()}, nil
	}
	row, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		return &dtos.WhatsAppStatusDTO{Status: constant.SessionIdle}, nil
	}
	return &dtos.WhatsAppStatusDTO{Status: row.Status, PhoneNumber: row.PhoneNumber}, nil
}

// SendMessage records the outbound intent and wakes the dispatch bridge.
// The send itself is asynchronous; the returned ID is provisional until the
// protocol acknowledges delivery.
func (s *service) SendMessage(ctx context.Context, req dtos.SendMessageDTO) (*dtos.MessageResponseDTO, error) {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	jid, err := protocol.ToJID(req.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf(constant.INVALID_PHONE_NUMBER)
	}

	row := &entities.WhatsAppMessage{
		TenantID:         userID,
		MessageID:        pendingPrefix + uuid.NewString(),
		ChatJID:          jid.String(),
		SenderPhone:      s.senderPhone(userID),
		Direction:        constant.DirectionOutbound,
		MessageType:      constant.TypeText,
		Content:          req.Message,
		Status:           constant.StatusPending,
		MessageTimestamp: time.Now(),
	}
	if err := s.repo.CreateOutbound(ctx, row); err != nil {
		return nil, err
	}
	s.bus.Publish(TopicOutboundPending)

	return &dtos.MessageResponseDTO{
		MessageID: row.MessageID,
		Timestamp: row.MessageTimestamp.Format(time.RFC3339),
		Status:    row.Status,
		To:        req.PhoneNumber,
	}, nil
}

func (s *service) GetMessages(ctx context.Context, chatJID string, page int) ([]entities.WhatsAppMessage, int, error) {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.MessagesPage(ctx, userID, chatJID, page)
}

func (s *service) CreateGroup(ctx context.Context, req dtos.CreateGroupDTO) (*dtos.GroupResponseDTO, error) {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	placeholder := pendingPrefix + uuid.NewString()
	group := &entities.WhatsAppGroup{
		GroupJID: placeholder,
		Name:     req.Name,
		OwnerID:  &userID,
		Status:   constant.GroupCreating,
	}
	if err := s.repo.UpsertGroup(ctx, group); err != nil {
		return nil, err
	}
	for _, phone := range req.Participants {
		member := &entities.WhatsAppGroupMember{
			GroupJID: placeholder,
			Phone:    normalizePhone(phone),
			Status:   constant.MemberPending,
		}
		if err := s.repo.UpsertMember(ctx, member); err != nil {
			return nil, err
		}
	}
	s.bus.Publish(TopicGroupIntent)

	return &dtos.GroupResponseDTO{
		GroupJID: placeholder,
		Name:     req.Name,
		Status:   group.Status,
	}, nil
}

func (s *service) AddGroupMember(ctx context.Context, req dtos.AddMemberDTO) error {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return err
	}
	group, err := s.repo.GetGroupByJID(ctx, req.GroupJID)
	if err != nil {
		return fmt.Errorf("group not found")
	}
	if group.OwnerID == nil || *group.OwnerID != userID {
		return fmt.Errorf("group is not managed by this account")
	}

	member := &entities.WhatsAppGroupMember{
		GroupJID: req.GroupJID,
		Phone:    normalizePhone(req.PhoneNumber),
		Status:   constant.MemberPending,
	}
	if err := s.repo.UpsertMember(ctx, member); err != nil {
		return err
	}
	s.bus.Publish(TopicGroupIntent)
	return nil
}

func (s *service) DeleteGroup(ctx context.Context, groupJID string) error {
	userID, err := s.getUserIDFromContext(ctx)
	if err != nil {
		return err
	}
	group, err := s.repo.GetGroupByJID(ctx, groupJID)
	if err != nil {
		return fmt.Errorf("group not found")
	}
	if group.OwnerID == nil || *group.OwnerID != userID {
		return fmt.Errorf("group is not managed by this account")
	}

	if err := s.repo.UpdateGroup(ctx, group.ID, map[string]interface{}{"status": constant.GroupDeleting}); err != nil {
		return err
	}
	s.bus.Publish(TopicGroupIntent)
	return nil
}

func (s *service) senderPhone(userID uint) string {
	if session := s.manager.Session(userID); session != nil {
		return session.Phone()
	}
	return ""
}
