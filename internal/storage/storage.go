// Package storage names the durable collaborator the chat core writes
// through. Implementations live in the sub-packages.
package storage

import (
	"context"
	"time"

	"chatpresence/internal/apperr"
	"chatpresence/internal/authz"
	"chatpresence/internal/msgcache"
)

var ErrNotFound = apperr.New(apperr.Validation, "not_found", "not found")

type User struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Role        authz.Role `json:"role"`
	Muted       bool       `json:"muted"`
	IsOnline    bool       `json:"isOnline"`
	LastSeenAt  time.Time  `json:"lastSeenAt"`
}

type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsBroadcast bool   `json:"isBroadcast"`
	HostID      string `json:"hostId,omitempty"`
}

type Storage interface {
	SetUserOnlineStatus(ctx context.Context, userID string, online bool) error
	JoinRoom(ctx context.Context, userID, roomID string) error
	LeaveRoom(ctx context.Context, userID, roomID string) error
	PersistMessage(ctx context.Context, m msgcache.Message) error
	UpdateMessage(ctx context.Context, id, content string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, id string) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserRole(ctx context.Context, userID string) (authz.Role, error)
	GetRoom(ctx context.Context, roomID string) (Room, error)
	TouchLastSeen(ctx context.Context, seen map[string]time.Time) error
}
