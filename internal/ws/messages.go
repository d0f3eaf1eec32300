package ws

import "encoding/json"

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "send-message"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ──────────────────────────── Request / Response DTOs ─────────────────────────

type RoomRequest struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
}

type SendMessageRequest struct {
	Content    string `json:"content"    validate:"required"`
	Kind       string `json:"kind"       validate:"omitempty,oneof=text image sticker voice"`
	RoomID     string `json:"roomId"     validate:"omitempty,max=64"`
	ReceiverID string `json:"receiverId" validate:"excluded_with=RoomID"`
}

type MicTargetRequest struct {
	RoomID       string `json:"roomId"       validate:"required,max=64"`
	TargetUserID string `json:"targetUserId" validate:"required"`
}

type EditMessageRequest struct {
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content"   validate:"required"`
}

type DeleteMessageRequest struct {
	MessageID string `json:"messageId" validate:"required"`
}

type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

type RoomHistoryRequest struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
	Limit  int    `json:"limit"  validate:"min=0,max=100"`
}

// Empty ACK body (useful for many handlers).
type AckBody struct{}
