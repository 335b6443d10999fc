package protocol

import (
	"context"
	"time"
)

// Credentials is the opaque authentication material a Driver needs to resume
// a session. The concrete type belongs to the driver implementation; the
// orchestrator only moves it between the credential store and the factory.
type Credentials interface{}

// EventHandler receives driver events: *PairingEvent, *ConnectedEvent,
// *DisconnectedEvent, *MessageEvent and *ReceiptEvent.
type EventHandler func(evt interface{})

// Role is the standing of our own account inside a remote group.
type Role int

const (
	RoleUnknown Role = iota
	RoleMember
	RoleAdmin
)

// Driver is the socket-level protocol dependency of the orchestrator. One
// instance maps to one authenticated tenant connection.
type Driver interface {
	AddEventHandler(handler EventHandler)
	Connect() error
	Disconnect()
	// Logout invalidates the session on the remote side. Best effort; the
	// caller purges local credentials regardless.
	Logout(ctx context.Context) error
	IsConnected() bool
	// OwnPhone returns the resolved account phone, empty until paired.
	OwnPhone() string

	SendText(ctx context.Context, toJID string, text string) (SendReceipt, error)

	CreateGroup(ctx context.Context, name string, phones []string) (string, error)
	AddGroupParticipant(ctx context.Context, groupJID string, phone string) error
	RemoveGroupParticipant(ctx context.Context, groupJID string, phone string) error
	LeaveGroup(ctx context.Context, groupJID string) error
	JoinedGroups(ctx context.Context) ([]GroupInfo, error)

	// ContactName resolves a display name from the local contact store.
	// Returns empty when the contact is unknown.
	ContactName(ctx context.Context, jid string) string
}

// SendReceipt is the acknowledgment of an outbound send.
type SendReceipt struct {
	ID        string
	Timestamp time.Time
}

// PairingEvent carries a fresh pairing challenge (QR payload).
type PairingEvent struct {
	Code string
}

// ConnectedEvent signals a successful (re)connection.
type ConnectedEvent struct {
	JID   string
	Phone string
}

// DisconnectedEvent signals a closed connection. Terminal means the stored
// credentials are no longer valid (logged out, client rejected) and
// reconnecting is pointless.
type DisconnectedEvent struct {
	Reason   string
	Terminal bool
}

// ReceiptEvent reports remote acknowledgment of our outbound sends. Read
// implies delivered.
type ReceiptEvent struct {
	ChatJID    string
	MessageIDs []string
	Read       bool
	Timestamp  time.Time
}

// MediaPayload describes a downloadable attachment. Download is lazy so the
// media pipeline controls retry timing.
type MediaPayload struct {
	Kind     string
	Mimetype string
	Download func(ctx context.Context) ([]byte, error)
}

// MessageEvent is one normalized protocol message event. Payload shape
// fields are filled by the adapter; classification happens downstream.
type MessageEvent struct {
	ID          string
	ChatJID     string
	SenderJID   string
	PushName    string
	IsGroup     bool
	IsFromMe    bool
	IsBroadcast bool
	IsReaction  bool
	IsPoll      bool
	Timestamp   time.Time
	Text        string
	QuotedID    string
	Media       *MediaPayload
	// RawSize is the wire size of the underlying payload, used to decide
	// whether an unrecognized shape is worth persisting as a placeholder.
	RawSize int
}

// GroupParticipant is one direct member of a remote group.
type GroupParticipant struct {
	Phone   string
	IsAdmin bool
}

// GroupInfo is a remote group snapshot. OwnRole is RoleUnknown when the
// driver could not establish our own standing in the group.
type GroupInfo struct {
	JID          string
	Name         string
	OwnRole      Role
	Participants []GroupParticipant
}
