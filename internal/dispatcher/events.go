package dispatcher

import (
	"chatpresence/internal/authz"
	"chatpresence/internal/msgcache"
)

// UserView is how a user appears in rosters and join notices.
type UserView struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Role        authz.Role `json:"role"`
	Muted       bool       `json:"muted,omitempty"`
}

type RosterBody struct {
	RoomID string     `json:"roomId"`
	Users  []UserView `json:"users"`
}

type UserJoinedBody struct {
	RoomID string   `json:"roomId"`
	User   UserView `json:"user"`
}

// PresenceBody is sent for user-left and user-disconnected.
type PresenceBody struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type MessageBody struct {
	Message msgcache.Message `json:"message"`
}

type MessageDeletedBody struct {
	MessageID  string `json:"messageId"`
	RoomID     string `json:"roomId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
}

type HistoryBody struct {
	RoomID   string             `json:"roomId"`
	Messages []msgcache.Message `json:"messages"`
}

type TypingBody struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

type KickedBody struct {
	Reason string `json:"reason"`
}

type SupersededBody struct{}
