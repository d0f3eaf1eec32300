package dispatcher

import (
	"context"
	"errors"
	"regexp"

	"chatpresence/internal/outbox"
	"chatpresence/internal/presence"
	"chatpresence/internal/storage"
	"chatpresence/internal/transport"

	"go.uber.org/zap"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validRoomID(id string) bool { return roomIDPattern.MatchString(id) }

// Connect registers conn as userID's only connection and puts the user in a
// room. A user that was already online keeps its room: the new connection
// gets the roster and history without a second user-joined notice, and the
// superseded connection is closed.
func (d *Dispatcher) Connect(ctx context.Context, userID string, conn transport.Conn, info presence.Info) error {
	if userID == "" || conn == nil {
		return ErrInvalidUser
	}
	return d.do(ctx, func() error {
		prev, replaced := d.reg.Register(userID, conn, info)
		if replaced {
			if err := prev.Conn.Send(transport.EventSuperseded, SupersededBody{}); err != nil {
				zap.L().Debug("dispatcher.superseded_notice", zap.String("user_id", userID), zap.Error(err))
			}
			prev.Conn.Close("superseded")
			zap.L().Info("dispatcher.superseded",
				zap.String("user_id", userID),
				zap.String("old_conn", prev.Conn.ID()),
				zap.String("new_conn", conn.ID()))
		}
		if prev.UserID == "" {
			d.enqueue(outbox.Online(userID))
		}

		if prev.RoomID != "" {
			d.reg.SetRoom(userID, prev.RoomID)
			d.welcome(userID, prev.RoomID)
			return nil
		}
		d.joinRoom(userID, d.opts.DefaultRoom)
		return nil
	})
}

// Disconnect cleans up after conn went away. Disconnects of superseded or
// already removed connections are ignored.
func (d *Dispatcher) Disconnect(ctx context.Context, userID string, conn transport.Conn) error {
	return d.do(ctx, func() error {
		e, ok := d.reg.RemoveConn(userID, conn)
		if !ok {
			return nil
		}
		d.departed(e)
		return nil
	})
}

// departed runs the shared cleanup for an entry that was just removed.
func (d *Dispatcher) departed(e presence.Entry) {
	d.enqueue(outbox.Offline(e.UserID))
	if e.RoomID == "" {
		return
	}
	d.enqueue(outbox.LeaveRoom(e.UserID, e.RoomID))
	d.dropSpeaker(e.RoomID, e.UserID)

	body := PresenceBody{RoomID: e.RoomID, UserID: e.UserID}
	d.toRoom(e.RoomID, transport.EventUserDisconnected, body, "")
	d.publishRoom(e.RoomID, transport.EventUserDisconnected, body)
	d.scheduleRoster(e.RoomID)
}

func (d *Dispatcher) JoinRoom(ctx context.Context, userID, roomID string) error {
	if !validRoomID(roomID) {
		return ErrInvalidRoom
	}
	return d.do(ctx, func() error {
		if !d.reg.IsOnline(userID) {
			return ErrNotRegistered
		}
		d.joinRoom(userID, roomID)
		return nil
	})
}

func (d *Dispatcher) joinRoom(userID, roomID string) {
	e, _ := d.reg.Get(userID)
	if e.RoomID == roomID {
		d.welcome(userID, roomID)
		return
	}
	if e.RoomID != "" {
		d.leaveRoom(e, e.RoomID)
	}
	d.reg.SetRoom(userID, roomID)
	e.RoomID = roomID
	d.enqueue(outbox.JoinRoom(userID, roomID))

	joined := UserJoinedBody{RoomID: roomID, User: view(e)}
	d.toRoom(roomID, transport.EventUserJoined, joined, userID)
	d.publishRoom(roomID, transport.EventUserJoined, joined)

	d.cancelRoster(roomID)
	d.broadcastRoster(roomID)
	d.sendHistory(e, roomID)
	d.sendSpeakers(e, roomID)
}

// welcome brings a connection up to date with a room the user is already in.
func (d *Dispatcher) welcome(userID, roomID string) {
	e, ok := d.reg.Get(userID)
	if !ok {
		return
	}
	d.send(e, transport.EventOnlineUsers, d.roster(roomID))
	d.sendHistory(e, roomID)
	d.sendSpeakers(e, roomID)
}

func (d *Dispatcher) sendHistory(e presence.Entry, roomID string) {
	d.send(e, transport.EventRoomMessages, HistoryBody{
		RoomID:   roomID,
		Messages: d.cache.RoomMessages(roomID, d.opts.HistoryLimit),
	})
}

// sendSpeakers sends the mic state of a broadcast room, looking the room up
// in storage the first time it is seen.
func (d *Dispatcher) sendSpeakers(e presence.Entry, roomID string) {
	switch d.rooms[roomID] {
	case roomBroadcast:
		if snap, err := d.mic.Snapshot(roomID); err == nil {
			d.send(e, transport.EventMicQueueUpdated, snap)
		}
	case roomUnknown:
		d.lookupRoom(roomID)
	}
}

func (d *Dispatcher) lookupRoom(roomID string) {
	if d.store == nil {
		d.rooms[roomID] = roomPlain
		return
	}
	d.rooms[roomID] = roomLookup
	ctx := d.runCtx
	go func() {
		lctx, cancel := context.WithTimeout(ctx, d.opts.LookupTimeout)
		defer cancel()
		room, err := d.store.GetRoom(lctx, roomID)
		d.post(func() { d.roomLoaded(roomID, room, err) })
	}()
}

func (d *Dispatcher) roomLoaded(roomID string, room storage.Room, err error) {
	if d.rooms[roomID] != roomLookup {
		return
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		d.rooms[roomID] = roomPlain
	case err != nil:
		// try again on the next join
		delete(d.rooms, roomID)
		zap.L().Warn("dispatcher.room_lookup", zap.String("room_id", roomID), zap.Error(err))
	case room.IsBroadcast && room.HostID != "":
		d.openBroadcast(roomID, room.HostID)
	default:
		d.rooms[roomID] = roomPlain
	}
}

func (d *Dispatcher) LeaveRoom(ctx context.Context, userID, roomID string) error {
	if !validRoomID(roomID) {
		return ErrInvalidRoom
	}
	return d.do(ctx, func() error {
		e, ok := d.reg.Get(userID)
		if !ok {
			return ErrNotRegistered
		}
		if e.RoomID != roomID {
			return nil
		}
		d.leaveRoom(e, roomID)
		return nil
	})
}

// leaveRoom takes e out of roomID and tells the remaining members.
func (d *Dispatcher) leaveRoom(e presence.Entry, roomID string) {
	d.reg.SetRoom(e.UserID, "")
	d.enqueue(outbox.LeaveRoom(e.UserID, roomID))
	d.dropSpeaker(roomID, e.UserID)

	left := PresenceBody{RoomID: roomID, UserID: e.UserID}
	d.toRoom(roomID, transport.EventUserLeft, left, e.UserID)
	d.publishRoom(roomID, transport.EventUserLeft, left)
	d.cancelRoster(roomID)
	d.broadcastRoster(roomID)
}

// OnlineUsers sends the filtered roster of the user's room to the user and
// returns it.
func (d *Dispatcher) OnlineUsers(ctx context.Context, userID string) (RosterBody, error) {
	return call(ctx, d, func() (RosterBody, error) {
		e, ok := d.reg.Get(userID)
		if !ok {
			return RosterBody{}, ErrNotRegistered
		}
		roomID := e.RoomID
		if roomID == "" {
			roomID = d.opts.DefaultRoom
		}
		r := d.roster(roomID)
		d.send(e, transport.EventOnlineUsers, r)
		return r, nil
	})
}

// Typing relays a typing indicator to the rest of the user's room.
func (d *Dispatcher) Typing(ctx context.Context, userID string, isTyping bool) error {
	return d.do(ctx, func() error {
		e, ok := d.reg.Get(userID)
		if !ok {
			return ErrNotRegistered
		}
		if e.RoomID == "" {
			return nil
		}
		body := TypingBody{RoomID: e.RoomID, UserID: userID, DisplayName: e.DisplayName, IsTyping: isTyping}
		d.toRoom(e.RoomID, transport.EventTyping, body, userID)
		d.publishRoom(e.RoomID, transport.EventTyping, body)
		return nil
	})
}

// Touch records a heartbeat.
func (d *Dispatcher) Touch(ctx context.Context, userID string) error {
	return d.do(ctx, func() error {
		if !d.reg.IsOnline(userID) {
			return ErrNotRegistered
		}
		d.reg.Touch(userID)
		return nil
	})
}
