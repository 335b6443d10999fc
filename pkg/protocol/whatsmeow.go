package protocol

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// OutboundIDPrefix is the prefix of message ids generated by this driver for
// its own sends. Used by the echo-suppression chain.
const OutboundIDPrefix = "3EB0"

var nonPhoneChars = regexp.MustCompile(`[^\d+]`)

// WhatsmeowDriver adapts a whatsmeow client to the Driver interface.
// Reconnection is owned by the session manager, so the client's own
// auto-reconnect is disabled.
type WhatsmeowDriver struct {
	client *whatsmeow.Client

	mu       sync.RWMutex
	handlers []EventHandler
}

// NewWhatsmeowDriver wraps the device credentials in a client and registers
// the event translation handler.
func NewWhatsmeowDriver(device *store.Device) *WhatsmeowDriver {
	clientLog := waLog.Stdout(fmt.Sprintf("WhatsApp_%d", device.RegistrationID), "INFO", true)
	client := whatsmeow.NewClient(device, clientLog)
	client.EnableAutoReconnect = false

	d := &WhatsmeowDriver{client: client}
	client.AddEventHandler(d.translate)
	return d
}

// NewDriver is the DriverFactory used by the session manager. Credentials
// must be a *store.Device produced by the credential store.
func NewDriver(creds Credentials) (Driver, error) {
	device, ok := creds.(*store.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("invalid credentials: expected *store.Device, got %T", creds)
	}
	return NewWhatsmeowDriver(device), nil
}

func (d *WhatsmeowDriver) AddEventHandler(handler EventHandler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, handler)
	d.mu.Unlock()
}

func (d *WhatsmeowDriver) emit(evt interface{}) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (d *WhatsmeowDriver) Connect() error {
	return d.client.Connect()
}

func (d *WhatsmeowDriver) Disconnect() {
	d.client.Disconnect()
}

func (d *WhatsmeowDriver) Logout(ctx context.Context) error {
	return d.client.Logout(ctx)
}

func (d *WhatsmeowDriver) IsConnected() bool {
	return d.client.IsConnected()
}

func (d *WhatsmeowDriver) OwnPhone() string {
	if d.client.Store.ID == nil {
		return ""
	}
	return d.client.Store.ID.User
}

func (d *WhatsmeowDriver) SendText(ctx context.Context, toJID string, text string) (SendReceipt, error) {
	recipient, err := ToJID(toJID)
	if err != nil {
		return SendReceipt{}, err
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	resp, err := d.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return SendReceipt{}, fmt.Errorf("failed to send message: %w", err)
	}
	return SendReceipt{ID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

func (d *WhatsmeowDriver) CreateGroup(ctx context.Context, name string, phones []string) (string, error) {
	participants := make([]waTypes.JID, 0, len(phones))
	for _, phone := range phones {
		jid, err := ToJID(phone)
		if err != nil {
			continue
		}
		participants = append(participants, jid)
	}
	info, err := d.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{
		Name:         name,
		Participants: participants,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create group: %w", err)
	}
	return info.JID.String(), nil
}

func (d *WhatsmeowDriver) AddGroupParticipant(ctx context.Context, groupJID string, phone string) error {
	return d.changeParticipant(ctx, groupJID, phone, whatsmeow.ParticipantChangeAdd)
}

func (d *WhatsmeowDriver) RemoveGroupParticipant(ctx context.Context, groupJID string, phone string) error {
	return d.changeParticipant(ctx, groupJID, phone, whatsmeow.ParticipantChangeRemove)
}

func (d *WhatsmeowDriver) changeParticipant(ctx context.Context, groupJID string, phone string, change whatsmeow.ParticipantChange) error {
	group, err := waTypes.ParseJID(groupJID)
	if err != nil {
		return err
	}
	participant, err := ToJID(phone)
	if err != nil {
		return err
	}
	_, err = d.client.UpdateGroupParticipants(ctx, group, []waTypes.JID{participant}, change)
	return err
}

func (d *WhatsmeowDriver) LeaveGroup(ctx context.Context, groupJID string) error {
	group, err := waTypes.ParseJID(groupJID)
	if err != nil {
		return err
	}
	return d.client.LeaveGroup(ctx, group)
}

func (d *WhatsmeowDriver) JoinedGroups(ctx context.Context) ([]GroupInfo, error) {
	groups, err := d.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined groups: %w", err)
	}

	own := d.OwnPhone()
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		info := GroupInfo{
			JID:     g.JID.String(),
			Name:    g.Name,
			OwnRole: RoleUnknown,
		}
		for _, p := range g.Participants {
			// Only direct user identifiers; linked-device and lid entries
			// are transient and not addressable as contacts.
			if p.JID.Server != waTypes.DefaultUserServer {
				continue
			}
			if own != "" && p.JID.User == own {
				if p.IsAdmin || p.IsSuperAdmin {
					info.OwnRole = RoleAdmin
				} else {
					info.OwnRole = RoleMember
				}
			}
			info.Participants = append(info.Participants, GroupParticipant{
				Phone:   p.JID.User,
				IsAdmin: p.IsAdmin || p.IsSuperAdmin,
			})
		}
		out = append(out, info)
	}
	return out, nil
}

func (d *WhatsmeowDriver) ContactName(ctx context.Context, jid string) string {
	parsed, err := ToJID(jid)
	if err != nil {
		return ""
	}
	contact, err := d.client.Store.Contacts.GetContact(ctx, parsed)
	if err != nil || !contact.Found {
		return ""
	}
	if contact.FullName != "" {
		return contact.FullName
	}
	return contact.PushName
}

// translate maps whatsmeow events onto the normalized driver events.
func (d *WhatsmeowDriver) translate(evt interface{}) {
	switch v := evt.(type) {
	case *events.QR:
		if len(v.Codes) > 0 {
			d.emit(&PairingEvent{Code: v.Codes[0]})
		}
	case *events.Connected:
		jid := d.client.Store.GetJID()
		d.emit(&ConnectedEvent{JID: jid.String(), Phone: jid.User})
	case *events.LoggedOut:
		d.emit(&DisconnectedEvent{
			Reason:   fmt.Sprintf("logged out (%v)", v.Reason),
			Terminal: true,
		})
	case *events.ClientOutdated:
		d.emit(&DisconnectedEvent{Reason: "client version rejected", Terminal: true})
	case *events.ConnectFailure:
		terminal := v.Reason == events.ConnectFailureLoggedOut || v.Reason == events.ConnectFailureClientOutdated
		d.emit(&DisconnectedEvent{
			Reason:   fmt.Sprintf("connect failure (%v)", v.Reason),
			Terminal: terminal,
		})
	case *events.StreamReplaced:
		d.emit(&DisconnectedEvent{Reason: "stream replaced by another client"})
	case *events.Disconnected:
		d.emit(&DisconnectedEvent{Reason: "connection closed"})
	case *events.Message:
		d.emit(d.translateMessage(v))
	case *events.Receipt:
		// Only acknowledgment receipts; retry and sender receipts carry no
		// delivery information.
		if v.Type == waTypes.ReceiptTypeDelivered || v.Type == waTypes.ReceiptTypeRead {
			ids := make([]string, len(v.MessageIDs))
			for i, id := range v.MessageIDs {
				ids[i] = string(id)
			}
			d.emit(&ReceiptEvent{
				ChatJID:    v.Chat.String(),
				MessageIDs: ids,
				Read:       v.Type == waTypes.ReceiptTypeRead,
				Timestamp:  v.Timestamp,
			})
		}
	}
}

func (d *WhatsmeowDriver) translateMessage(v *events.Message) *MessageEvent {
	info := v.Info
	me := &MessageEvent{
		ID:          string(info.ID),
		ChatJID:     info.Chat.String(),
		SenderJID:   info.Sender.String(),
		PushName:    info.PushName,
		IsGroup:     info.IsGroup,
		IsFromMe:    info.IsFromMe,
		IsBroadcast: info.Chat.Server == waTypes.BroadcastServer,
		Timestamp:   info.Timestamp,
	}

	msg := v.Message
	if msg == nil {
		return me
	}
	me.RawSize = proto.Size(msg)

	switch {
	case msg.GetConversation() != "":
		me.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		me.Text = ext.GetText()
		me.QuotedID = ext.GetContextInfo().GetStanzaID()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		me.Text = img.GetCaption()
		me.QuotedID = img.GetContextInfo().GetStanzaID()
		me.Media = d.mediaPayload("image", img.GetMimetype(), img)
	case msg.GetVideoMessage() != nil:
		video := msg.GetVideoMessage()
		me.Text = video.GetCaption()
		me.QuotedID = video.GetContextInfo().GetStanzaID()
		me.Media = d.mediaPayload("video", video.GetMimetype(), video)
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		me.Text = doc.GetCaption()
		me.Media = d.mediaPayload("document", doc.GetMimetype(), doc)
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		me.Media = d.mediaPayload("audio", audio.GetMimetype(), audio)
	case msg.GetStickerMessage() != nil:
		sticker := msg.GetStickerMessage()
		me.Media = d.mediaPayload("sticker", sticker.GetMimetype(), sticker)
	case msg.GetReactionMessage() != nil:
		me.IsReaction = true
	case msg.GetPollCreationMessage() != nil, msg.GetPollUpdateMessage() != nil:
		me.IsPoll = true
	}
	return me
}

func (d *WhatsmeowDriver) mediaPayload(kind, mimetype string, msg whatsmeow.DownloadableMessage) *MediaPayload {
	return &MediaPayload{
		Kind:     kind,
		Mimetype: mimetype,
		Download: func(ctx context.Context) ([]byte, error) {
			return d.client.Download(ctx, msg)
		},
	}
}

// ToJID converts a recipient into a whatsmeow JID. Accepts either a full JID
// string (contains "@") or a bare phone number.
func ToJID(recipient string) (waTypes.JID, error) {
	if strings.ContainsRune(recipient, '@') {
		return waTypes.ParseJID(recipient)
	}

	cleanPhone := nonPhoneChars.ReplaceAllString(recipient, "")
	cleanPhone = strings.TrimPrefix(cleanPhone, "+")
	if len(cleanPhone) < 10 {
		return waTypes.JID{}, fmt.Errorf("invalid phone number: too short")
	}
	return waTypes.NewJID(cleanPhone, waTypes.DefaultUserServer), nil
}
