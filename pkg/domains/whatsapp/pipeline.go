package whatsapp

import (
	"context"
	"fmt"

	"github.com/wabridge/pkg/constant"
	"github.com/wabridge/pkg/entities"
	"github.com/wabridge/pkg/protocol"
	"go.uber.org/zap"
)

// handleInbound classifies a message event, runs echo suppression and
// persists the row. Text rows are written inline on the event goroutine;
// media downloads run in a per-message goroutine so a slow CDN never blocks
// the stream.
func (m *Manager) handleInbound(ctx context.Context, s *Session, ev *protocol.MessageEvent) {
	if ev.IsBroadcast || ev.IsReaction || ev.IsPoll {
		return
	}

	msgType, content := classifyMessage(ev)
	if msgType == "" {
		return
	}

	direction := constant.DirectionInbound
	if reason := detectEcho(ev, s.Phone(), s.echo); reason != "" {
		if reason == echoByCache {
			// The dispatch bridge already owns this row; dropping the echoed
			// copy keeps exactly one record per logical message.
			return
		}
		direction = constant.DirectionOutbound
	}

	senderJID := ev.ChatJID
	if ev.IsGroup {
		senderJID = ev.SenderJID
	}
	senderPhone := normalizePhone(senderJID)
	senderName := s.resolveSenderName(ctx, senderJID, ev.PushName, senderPhone)

	row := &entities.WhatsAppMessage{
		TenantID:         s.tenantID,
		MessageID:        ev.ID,
		ChatJID:          ev.ChatJID,
		SenderPhone:      senderPhone,
		SenderName:       senderName,
		Direction:        direction,
		MessageType:      msgType,
		Content:          content,
		QuotedID:         ev.QuotedID,
		Status:           constant.StatusReceived,
		MessageTimestamp: ev.Timestamp,
	}
	if direction == constant.DirectionOutbound {
		row.Status = constant.StatusSent
	}

	if ev.Media != nil && msgType != constant.TypeUnsupported {
		go m.persistWithMedia(ctx, s, row, ev.Media)
		return
	}
	m.persistMessage(ctx, s, row)
}

// handleReceipt upgrades sent outbound rows to delivered on remote
// acknowledgment. A read receipt implies delivery.
func (m *Manager) handleReceipt(ctx context.Context, s *Session, ev *protocol.ReceiptEvent) {
	if len(ev.MessageIDs) == 0 {
		return
	}
	if err := m.repo.MarkDelivered(ctx, s.tenantID, ev.MessageIDs); err != nil {
		zap.L().Warn("whatsapp: failed to record delivery receipt",
			zap.Uint("tenant_id", s.tenantID), zap.Strings("message_ids", ev.MessageIDs), zap.Error(err))
	}
}

// classifyMessage maps an event to a (type, content) pair. Returns an empty
// type for events that carry nothing worth persisting.
func classifyMessage(ev *protocol.MessageEvent) (string, string) {
	if ev.Media != nil {
		mt := mediaType(ev.Media.Kind)
		if mt == constant.TypeUnsupported && ev.Text == "" {
			return mt, fmt.Sprintf(constant.MediaPlaceholder, ev.Media.Kind)
		}
		return mt, ev.Text
	}
	if ev.Text != "" {
		return constant.TypeText, ev.Text
	}
	if ev.RawSize > constant.UnsupportedPayloadThreshold {
		return constant.TypeUnsupported, fmt.Sprintf(constant.MediaPlaceholder, "unsupported payload")
	}
	return "", ""
}

func mediaType(kind string) string {
	switch kind {
	case constant.TypeImage, constant.TypeVideo, constant.TypeDocument, constant.TypeAudio, constant.TypeSticker:
		return kind
	default:
		return constant.TypeUnsupported
	}
}

// persistWithMedia downloads the attachment with bounded retries and
// degrades to a text placeholder when every attempt fails. The row is
// upserted either way.
func (m *Manager) persistWithMedia(ctx context.Context, s *Session, row *entities.WhatsAppMessage, media *protocol.MediaPayload) {
	url, err := m.media.Fetch(ctx, s.tenantID, row.MessageID, media)
	if err != nil {
		zap.L().Warn("whatsapp: media download exhausted, degrading to placeholder",
			zap.Uint("tenant_id", s.tenantID), zap.String("message_id", row.MessageID), zap.Error(err))
		row.MessageType = constant.TypeText
		if row.Content == "" {
			row.Content = fmt.Sprintf(constant.MediaPlaceholder, media.Kind)
		}
	} else {
		row.MediaURL = url
	}
	m.persistMessage(ctx, s, row)
}

func (m *Manager) persistMessage(ctx context.Context, s *Session, row *entities.WhatsAppMessage) {
	if err := m.repo.UpsertMessage(ctx, row); err != nil {
		zap.L().Error("whatsapp: failed to persist message",
			zap.Uint("tenant_id", s.tenantID), zap.String("message_id", row.MessageID), zap.Error(err))
		return
	}
	zap.L().Debug("whatsapp: message persisted",
		zap.Uint("tenant_id", s.tenantID),
		zap.String("message_id", row.MessageID),
		zap.String("direction", row.Direction),
		zap.String("type", row.MessageType))
}

// resolveSenderName prefers the address book, then the push name from the
// event, then the bare phone number.
func (s *Session) resolveSenderName(ctx context.Context, senderJID, pushName, phone string) string {
	if driver := s.Driver(); driver != nil {
		if name := driver.ContactName(ctx, senderJID); name != "" {
			return name
		}
	}
	if pushName != "" {
		return pushName
	}
	return phone
}
