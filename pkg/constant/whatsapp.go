package constant

import "time"

// Session lifecycle statuses written to the sessions table.
const (
	SessionIdle         = "idle"
	SessionPairing      = "pairing"
	SessionConnected    = "connected"
	SessionReconnecting = "reconnecting"
	SessionDisconnected = "disconnected" // terminal, requires a new pairing
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message types.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeDocument    = "document"
	TypeAudio       = "audio"
	TypeSticker     = "sticker"
	TypeUnsupported = "unsupported"
)

// Message statuses.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusReceived  = "received"
	StatusFailed    = "failed"
)

// Group statuses. Creating and Deleting are provisioning intents written by
// the external layer and resolved by the dispatch bridge.
const (
	GroupActive         = "active"
	GroupCreating       = "creating"
	GroupDeleting       = "deleting"
	GroupFailedCreation = "failed_creation"
)

// Group member statuses.
const (
	MemberActive  = "active"
	MemberPending = "pending"
)

// Default reconnect policy, overridable through the whatsapp config
// section: delay doubles per attempt from ReconnectBaseDelay up to
// ReconnectMaxDelay, for at most ReconnectMaxAttempts per disconnect
// episode.
const (
	ReconnectBaseDelay   = 2 * time.Second
	ReconnectMaxDelay    = 60 * time.Second
	ReconnectMaxAttempts = 10
	ConnectTimeout       = 60 * time.Second
)

// Media retry policy.
const (
	MediaMaxAttempts = 5
	MediaRetryDelay  = 2 * time.Second
)

// Echo cache entries expire after EchoCacheTTL; multi-device echoes of our
// own sends arrive within a few seconds.
const EchoCacheTTL = 10 * time.Second

// Raw payloads above this size are persisted as unsupported placeholders
// instead of being silently skipped.
const UnsupportedPayloadThreshold = 4096

// MediaPlaceholder is recorded as text content when a download exhausts its
// retries.
const MediaPlaceholder = "[media unavailable: %s]"

const (
	WHATSAPP_CONNECTED    = "WhatsApp connected successfully"
	WHATSAPP_DISCONNECTED = "WhatsApp disconnected successfully"
	MESSAGE_QUEUED        = "Message queued for delivery"
	GROUP_QUEUED          = "Group provisioning requested"
	MEMBER_QUEUED         = "Member addition requested"
	QR_CODE_GENERATED     = "QR code generated successfully"
	STATUS_RETRIEVED      = "Status retrieved successfully"

	WHATSAPP_NOT_CONNECTED = "WhatsApp client not connected"
	WHATSAPP_NOT_INIT      = "WhatsApp client not initialized"
	INVALID_PHONE_NUMBER   = "Invalid phone number format"
	MEDIA_UPLOAD_FAILED    = "Failed to upload media"
)
