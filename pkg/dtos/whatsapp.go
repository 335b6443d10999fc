package dtos

type SendMessageDTO struct {
	PhoneNumber string `json:"phone_number" binding:"required,isphone"`
	Message     string `json:"message" binding:"required"`
}

type WhatsAppStatusDTO struct {
	Status      string `json:"status"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type QRCodeDTO struct {
	PhoneNumber string `json:"phone_number"`
	QRCode      string `json:"qr_code"`
}

type MessageResponseDTO struct {
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	To        string `json:"to"`
}

type CreateGroupDTO struct {
	Name         string   `json:"name" binding:"required"`
	Participants []string `json:"participants"`
}

type AddMemberDTO struct {
	GroupJID    string `json:"group_jid" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required,isphone"`
}

type GroupResponseDTO struct {
	GroupJID string `json:"group_jid"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}
