package dispatcher

import (
	"context"
	"errors"

	"chatpresence/internal/authz"
	"chatpresence/internal/speaker"
	"chatpresence/internal/transport"

	"go.uber.org/zap"
)

type MicAction string

const (
	MicApprove MicAction = "approve"
	MicReject  MicAction = "reject"
	MicRemove  MicAction = "remove"
)

func (d *Dispatcher) RequestMic(ctx context.Context, userID, roomID string) (speaker.Snapshot, error) {
	if !validRoomID(roomID) {
		return speaker.Snapshot{}, ErrInvalidRoom
	}
	return call(ctx, d, func() (speaker.Snapshot, error) {
		e, ok := d.reg.Get(userID)
		if !ok {
			return speaker.Snapshot{}, ErrNotRegistered
		}
		if e.RoomID != roomID {
			return speaker.Snapshot{}, ErrNotInRoom
		}
		if err := d.mic.RequestMic(roomID, userID); err != nil {
			return speaker.Snapshot{}, err
		}
		return d.micChanged(roomID), nil
	})
}

// ManageMic approves, rejects or removes targetID on behalf of actorID. When
// the actor's cached role is refused, the role is reloaded from storage once
// and the action retried, so a promotion made elsewhere takes effect.
func (d *Dispatcher) ManageMic(ctx context.Context, actorID, roomID, targetID string, action MicAction) (speaker.Snapshot, error) {
	if !validRoomID(roomID) {
		return speaker.Snapshot{}, ErrInvalidRoom
	}
	if targetID == "" {
		return speaker.Snapshot{}, ErrInvalidUser
	}
	snap, err := d.manageMic(ctx, actorID, roomID, targetID, action)
	if !errors.Is(err, speaker.ErrForbidden) || d.store == nil {
		return snap, err
	}
	changed, rerr := d.reloadRole(ctx, actorID)
	if rerr != nil || !changed {
		return snap, err
	}
	return d.manageMic(ctx, actorID, roomID, targetID, action)
}

func (d *Dispatcher) manageMic(ctx context.Context, actorID, roomID, targetID string, action MicAction) (speaker.Snapshot, error) {
	return call(ctx, d, func() (speaker.Snapshot, error) {
		e, ok := d.reg.Get(actorID)
		if !ok {
			return speaker.Snapshot{}, ErrNotRegistered
		}
		var err error
		switch action {
		case MicApprove:
			err = d.mic.ApproveMic(roomID, targetID, actorID, e.Role)
		case MicReject:
			err = d.mic.RejectMic(roomID, targetID, actorID, e.Role)
		case MicRemove:
			err = d.mic.RemoveSpeaker(roomID, targetID, actorID, e.Role)
		default:
			err = ErrForbidden
		}
		if err != nil {
			return speaker.Snapshot{}, err
		}
		zap.L().Debug("dispatcher.mic",
			zap.String("room_id", roomID),
			zap.String("actor", actorID),
			zap.String("target", targetID),
			zap.String("action", string(action)))
		return d.micChanged(roomID), nil
	})
}

func (d *Dispatcher) ApproveMic(ctx context.Context, actorID, roomID, targetID string) (speaker.Snapshot, error) {
	return d.ManageMic(ctx, actorID, roomID, targetID, MicApprove)
}

func (d *Dispatcher) RejectMic(ctx context.Context, actorID, roomID, targetID string) (speaker.Snapshot, error) {
	return d.ManageMic(ctx, actorID, roomID, targetID, MicReject)
}

func (d *Dispatcher) RemoveSpeaker(ctx context.Context, actorID, roomID, targetID string) (speaker.Snapshot, error) {
	return d.ManageMic(ctx, actorID, roomID, targetID, MicRemove)
}

func (d *Dispatcher) Speakers(ctx context.Context, roomID string) (speaker.Snapshot, error) {
	return call(ctx, d, func() (speaker.Snapshot, error) {
		return d.mic.Snapshot(roomID)
	})
}

// OpenBroadcast turns roomID into a broadcast room hosted by hostID, or hands
// an open room to a new host. actorID needs the promote permission unless it
// is the room's current host.
func (d *Dispatcher) OpenBroadcast(ctx context.Context, actorID, roomID, hostID string) (speaker.Snapshot, error) {
	if !validRoomID(roomID) {
		return speaker.Snapshot{}, ErrInvalidRoom
	}
	if hostID == "" {
		return speaker.Snapshot{}, ErrInvalidUser
	}
	role, err := d.actorRole(ctx, actorID)
	if err != nil {
		return speaker.Snapshot{}, err
	}
	return call(ctx, d, func() (speaker.Snapshot, error) {
		if !authz.CanModerate(role, authz.Promote) {
			snap, err := d.mic.Snapshot(roomID)
			if err != nil || snap.HostID != actorID {
				return speaker.Snapshot{}, ErrForbidden
			}
		}
		return d.openBroadcast(roomID, hostID), nil
	})
}

func (d *Dispatcher) openBroadcast(roomID, hostID string) speaker.Snapshot {
	d.mic.Open(roomID, hostID)
	d.rooms[roomID] = roomBroadcast
	zap.L().Info("dispatcher.broadcast_open", zap.String("room_id", roomID), zap.String("host_id", hostID))
	return d.micChanged(roomID)
}

// micChanged broadcasts and returns the room's current mic state.
func (d *Dispatcher) micChanged(roomID string) speaker.Snapshot {
	snap, err := d.mic.Snapshot(roomID)
	if err != nil {
		return speaker.Snapshot{}
	}
	d.toRoom(roomID, transport.EventMicQueueUpdated, snap, "")
	d.publishRoom(roomID, transport.EventMicQueueUpdated, snap)
	return snap
}

func (d *Dispatcher) dropSpeaker(roomID, userID string) {
	if d.mic.Drop(roomID, userID) {
		d.micChanged(roomID)
	}
}

// reloadRole fetches userID's role from storage off the loop and applies it.
// changed reports whether the cached role was different.
func (d *Dispatcher) reloadRole(ctx context.Context, userID string) (changed bool, err error) {
	role, err := d.store.GetUserRole(ctx, userID)
	if err != nil {
		zap.L().Warn("dispatcher.role_reload", zap.String("user_id", userID), zap.Error(err))
		return false, err
	}
	return call(ctx, d, func() (bool, error) {
		return d.setRole(userID, role), nil
	})
}

func (d *Dispatcher) setRole(userID string, role authz.Role) bool {
	if d.reg.Role(userID) == role {
		return false
	}
	return d.reg.SetRole(userID, role)
}
