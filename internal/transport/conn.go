// Package transport describes the connection handles the core fans events out to.
package transport

import "errors"

var ErrBackpressure = errors.New("send buffer full")

// Conn is one client connection. Send must not block: implementations queue
// the frame and return ErrBackpressure when they cannot.
type Conn interface {
	ID() string
	Send(event string, body any) error
	Close(reason string)
}

// Enumerator lists the connections the transport currently holds open.
type Enumerator interface {
	LiveConnIDs() map[string]struct{}
}

// Outbound event names.
const (
	EventOnlineUsers      = "online-users"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventUserDisconnected = "user-disconnected"
	EventNewMessage       = "new-message"
	EventMessageUpdated   = "message-updated"
	EventMessageDeleted   = "message-deleted"
	EventRoomMessages     = "room-messages"
	EventMicQueueUpdated  = "mic-queue-updated"
	EventTyping           = "typing"
	EventKicked           = "kicked"
	EventSuperseded       = "superseded"
)
