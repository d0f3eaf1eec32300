package outbox

import (
	"context"
	"fmt"
	"time"

	"chatpresence/internal/msgcache"
	"chatpresence/internal/storage"
)

type Kind string

const (
	KindOnline         Kind = "online"
	KindOffline        Kind = "offline"
	KindJoinRoom       Kind = "join_room"
	KindLeaveRoom      Kind = "leave_room"
	KindPersistMessage Kind = "persist_message"
	KindUpdateMessage  Kind = "update_message"
	KindDeleteMessage  Kind = "delete_message"
)

// Intent is one storage write the core wants to happen eventually.
type Intent struct {
	Kind      Kind
	UserID    string
	RoomID    string
	Message   msgcache.Message
	MessageID string
	Content   string
	At        time.Time
}

func Online(userID string) Intent  { return Intent{Kind: KindOnline, UserID: userID} }
func Offline(userID string) Intent { return Intent{Kind: KindOffline, UserID: userID} }

func JoinRoom(userID, roomID string) Intent {
	return Intent{Kind: KindJoinRoom, UserID: userID, RoomID: roomID}
}

func LeaveRoom(userID, roomID string) Intent {
	return Intent{Kind: KindLeaveRoom, UserID: userID, RoomID: roomID}
}

func PersistMessage(m msgcache.Message) Intent {
	return Intent{Kind: KindPersistMessage, Message: m, MessageID: m.ID, UserID: m.SenderID}
}

func UpdateMessage(id, content string, at time.Time) Intent {
	return Intent{Kind: KindUpdateMessage, MessageID: id, Content: content, At: at}
}

func DeleteMessage(id string) Intent {
	return Intent{Kind: KindDeleteMessage, MessageID: id}
}

// key picks the shard. Writes about the same message, or about the same
// user, always land on the same worker and keep their order.
func (i Intent) key() string {
	if i.MessageID != "" {
		return "m:" + i.MessageID
	}
	return "u:" + i.UserID
}

func (i Intent) apply(ctx context.Context, st storage.Storage) error {
	switch i.Kind {
	case KindOnline:
		return st.SetUserOnlineStatus(ctx, i.UserID, true)
	case KindOffline:
		return st.SetUserOnlineStatus(ctx, i.UserID, false)
	case KindJoinRoom:
		return st.JoinRoom(ctx, i.UserID, i.RoomID)
	case KindLeaveRoom:
		return st.LeaveRoom(ctx, i.UserID, i.RoomID)
	case KindPersistMessage:
		return st.PersistMessage(ctx, i.Message)
	case KindUpdateMessage:
		return st.UpdateMessage(ctx, i.MessageID, i.Content, i.At)
	case KindDeleteMessage:
		return st.DeleteMessage(ctx, i.MessageID)
	}
	return fmt.Errorf("unknown intent kind %q", i.Kind)
}
