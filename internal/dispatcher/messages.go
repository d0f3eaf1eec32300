package dispatcher

import (
	"context"
	"strings"
	"unicode/utf8"

	"chatpresence/internal/msgcache"
	"chatpresence/internal/outbox"
	"chatpresence/internal/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var messageKinds = map[string]bool{
	"text":    true,
	"image":   true,
	"sticker": true,
	"voice":   true,
}

// SendRequest is an outgoing chat message. Exactly one of RoomID and
// ReceiverID may be set; with neither, the message goes to the sender's
// current room.
type SendRequest struct {
	Content    string
	Kind       string
	RoomID     string
	ReceiverID string
}

func (d *Dispatcher) validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > d.opts.MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return content, nil
}

// SendMessage caches the message, delivers it and queues it for storage.
func (d *Dispatcher) SendMessage(ctx context.Context, senderID string, req SendRequest) (msgcache.Message, error) {
	content, err := d.validContent(req.Content)
	if err != nil {
		return msgcache.Message{}, err
	}
	kind := req.Kind
	if kind == "" {
		kind = "text"
	}
	if !messageKinds[kind] {
		return msgcache.Message{}, ErrInvalidKind
	}
	if req.RoomID != "" && req.ReceiverID != "" {
		return msgcache.Message{}, ErrBadTarget
	}
	if req.RoomID != "" && !validRoomID(req.RoomID) {
		return msgcache.Message{}, ErrInvalidRoom
	}
	if req.ReceiverID == senderID && senderID != "" {
		return msgcache.Message{}, ErrBadTarget
	}

	return call(ctx, d, func() (msgcache.Message, error) {
		e, ok := d.reg.Get(senderID)
		if !ok {
			return msgcache.Message{}, ErrNotRegistered
		}
		if e.Muted {
			return msgcache.Message{}, ErrMuted
		}
		m := msgcache.Message{
			ID:         uuid.NewString(),
			SenderID:   senderID,
			SenderName: e.DisplayName,
			Content:    content,
			Kind:       kind,
			CreatedAt:  d.clock.Now(),
		}

		if req.ReceiverID != "" {
			m.ReceiverID = req.ReceiverID
			d.cache.AddPrivate(senderID, req.ReceiverID, m)
			body := MessageBody{Message: m}
			if !d.toUser(req.ReceiverID, transport.EventNewMessage, body) {
				d.publishUser(req.ReceiverID, transport.EventNewMessage, body)
			}
			d.send(e, transport.EventNewMessage, body)
			d.enqueue(outbox.PersistMessage(m))
			return m, nil
		}

		roomID := req.RoomID
		if roomID == "" {
			roomID = e.RoomID
		}
		if roomID == "" {
			return msgcache.Message{}, ErrBadTarget
		}
		if roomID != e.RoomID {
			return msgcache.Message{}, ErrNotInRoom
		}
		m.RoomID = roomID
		if err := d.cache.AddRoom(roomID, m); err != nil {
			return msgcache.Message{}, err
		}
		body := MessageBody{Message: m}
		d.toRoom(roomID, transport.EventNewMessage, body, "")
		d.publishRoom(roomID, transport.EventNewMessage, body)
		d.enqueue(outbox.PersistMessage(m))
		return m, nil
	})
}

// EditMessage replaces the content of a cached message. Only its sender may
// edit it.
func (d *Dispatcher) EditMessage(ctx context.Context, userID, messageID, content string) (msgcache.Message, error) {
	content, err := d.validContent(content)
	if err != nil {
		return msgcache.Message{}, err
	}
	return call(ctx, d, func() (msgcache.Message, error) {
		if !d.reg.IsOnline(userID) {
			return msgcache.Message{}, ErrNotRegistered
		}
		m, ok := d.cache.Get(messageID)
		if !ok {
			return msgcache.Message{}, ErrMessageNotFound
		}
		if m.SenderID != userID {
			return msgcache.Message{}, ErrNotSender
		}
		m, _ = d.cache.Update(messageID, msgcache.Patch{Content: &content})
		d.deliver(m.RoomID, m.SenderID, m.ReceiverID, transport.EventMessageUpdated, MessageBody{Message: m})
		d.enqueue(outbox.UpdateMessage(m.ID, m.Content, m.EditedAt))
		return m, nil
	})
}

// DeleteMessage removes a cached message. Only its sender may delete it.
func (d *Dispatcher) DeleteMessage(ctx context.Context, userID, messageID string) error {
	return d.do(ctx, func() error {
		if !d.reg.IsOnline(userID) {
			return ErrNotRegistered
		}
		m, ok := d.cache.Get(messageID)
		if !ok {
			return ErrMessageNotFound
		}
		if m.SenderID != userID {
			return ErrNotSender
		}
		d.cache.Delete(messageID)
		body := MessageDeletedBody{MessageID: m.ID, RoomID: m.RoomID, ReceiverID: m.ReceiverID}
		d.deliver(m.RoomID, m.SenderID, m.ReceiverID, transport.EventMessageDeleted, body)
		d.enqueue(outbox.DeleteMessage(m.ID))
		return nil
	})
}

// deliver sends a message-scoped event to the room, or to both ends of a
// conversation.
func (d *Dispatcher) deliver(roomID, senderID, receiverID, event string, body any) {
	if roomID != "" {
		d.toRoom(roomID, event, body, "")
		d.publishRoom(roomID, event, body)
		return
	}
	d.toUser(senderID, event, body)
	if !d.toUser(receiverID, event, body) {
		d.publishUser(receiverID, event, body)
	}
}

// RoomHistory returns up to limit recent messages of a room the user is in.
func (d *Dispatcher) RoomHistory(ctx context.Context, userID, roomID string, limit int) ([]msgcache.Message, error) {
	if !validRoomID(roomID) {
		return nil, ErrInvalidRoom
	}
	return call(ctx, d, func() ([]msgcache.Message, error) {
		e, ok := d.reg.Get(userID)
		if !ok {
			return nil, ErrNotRegistered
		}
		if e.RoomID != roomID {
			return nil, ErrNotInRoom
		}
		msgs := d.cache.RoomMessages(roomID, limit)
		d.send(e, transport.EventRoomMessages, HistoryBody{RoomID: roomID, Messages: msgs})
		return msgs, nil
	})
}

// RoomMessages reads a room's cache without membership checks. Used by the
// REST API.
func (d *Dispatcher) RoomMessages(ctx context.Context, roomID string, limit int) ([]msgcache.Message, error) {
	if !validRoomID(roomID) {
		return nil, ErrInvalidRoom
	}
	return call(ctx, d, func() ([]msgcache.Message, error) {
		return d.cache.RoomMessages(roomID, limit), nil
	})
}

func (d *Dispatcher) PrivateMessages(ctx context.Context, senderID, receiverID string, limit int) ([]msgcache.Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, ErrInvalidUser
	}
	return call(ctx, d, func() ([]msgcache.Message, error) {
		return d.cache.PrivateMessages(senderID, receiverID, limit), nil
	})
}

func (d *Dispatcher) Search(ctx context.Context, query string, f msgcache.SearchFilter) ([]msgcache.Message, error) {
	return call(ctx, d, func() ([]msgcache.Message, error) {
		hits := d.cache.Search(query, f)
		zap.L().Debug("dispatcher.search", zap.String("query", query), zap.Int("hits", len(hits)))
		return hits, nil
	})
}
