package dispatcher

import (
	"context"
	"time"

	"chatpresence/internal/authz"
	"chatpresence/internal/msgcache"
	"chatpresence/internal/outbox"
	"chatpresence/internal/transport"

	"go.uber.org/zap"
)

// actorRole is the role of whoever asks for a moderation action: the cached
// role when the actor is online, the stored one otherwise.
func (d *Dispatcher) actorRole(ctx context.Context, actorID string) (authz.Role, error) {
	if actorID == "" {
		return authz.Guest, ErrInvalidUser
	}
	type cached struct {
		role   authz.Role
		online bool
	}
	c, err := call(ctx, d, func() (cached, error) {
		e, ok := d.reg.Get(actorID)
		return cached{role: e.Role, online: ok}, nil
	})
	if err != nil {
		return authz.Guest, err
	}
	if c.online || d.store == nil {
		return c.role, nil
	}
	return d.store.GetUserRole(ctx, actorID)
}

// Kick disconnects targetID. The actor needs the kick permission.
func (d *Dispatcher) Kick(ctx context.Context, actorID, targetID, reason string) error {
	role, err := d.actorRole(ctx, actorID)
	if err != nil {
		return err
	}
	if !authz.CanModerate(role, authz.Kick) {
		return ErrForbidden
	}
	return d.do(ctx, func() error {
		e, ok := d.reg.Remove(targetID)
		if !ok {
			return ErrUserOffline
		}
		d.send(e, transport.EventKicked, KickedBody{Reason: reason})
		e.Conn.Close("kicked")
		d.departed(e)
		zap.L().Info("dispatcher.kick",
			zap.String("actor", actorID),
			zap.String("target", targetID),
			zap.String("reason", reason))
		return nil
	})
}

// SetMuted mutes or unmutes targetID. The actor needs the mute permission.
func (d *Dispatcher) SetMuted(ctx context.Context, actorID, targetID string, muted bool) error {
	role, err := d.actorRole(ctx, actorID)
	if err != nil {
		return err
	}
	if !authz.CanModerate(role, authz.Mute) {
		return ErrForbidden
	}
	return d.do(ctx, func() error {
		if !d.reg.SetMuted(targetID, muted) {
			return ErrUserOffline
		}
		zap.L().Info("dispatcher.mute",
			zap.String("actor", actorID),
			zap.String("target", targetID),
			zap.Bool("muted", muted))
		return nil
	})
}

// RefreshRole reloads userID's role from storage and applies it when the
// user is online.
func (d *Dispatcher) RefreshRole(ctx context.Context, userID string) (authz.Role, error) {
	if d.store == nil {
		return authz.Guest, ErrUnavailable
	}
	role, err := d.store.GetUserRole(ctx, userID)
	if err != nil {
		return authz.Guest, err
	}
	err = d.do(ctx, func() error {
		d.setRole(userID, role)
		return nil
	})
	return role, err
}

type Stats struct {
	Online          int            `json:"online"`
	LiveConnections int            `json:"liveConnections"`
	Rooms           map[string]int `json:"rooms"`
	BroadcastRooms  int            `json:"broadcastRooms"`
	PendingRosters  int            `json:"pendingRosters"`
	DroppedFrames   int64          `json:"droppedFrames"`
	RemoteInjected  int64          `json:"remoteInjected"`
	Cache           msgcache.Stats `json:"cache"`
	Outbox          *outbox.Stats  `json:"outbox,omitempty"`
	Relay           *RelayStats    `json:"relay,omitempty"`
}

type RelayStats struct {
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Optional counters of the collaborators, reported by Stats when present.
type (
	outboxCounter interface{ Stats() outbox.Stats }
	relayCounter  interface {
		Dropped() int64
		Failed() int64
	}
	connCounter interface{ Len() int }
)

func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	s, err := call(ctx, d, func() (Stats, error) {
		s := Stats{
			Online:         d.reg.Len(),
			Rooms:          d.reg.RoomCounts(),
			PendingRosters: len(d.pending),
			DroppedFrames:  d.dropped,
			RemoteInjected: d.injected,
			Cache:          d.cache.Stats(),
		}
		for _, st := range d.rooms {
			if st == roomBroadcast {
				s.BroadcastRooms++
			}
		}
		return s, nil
	})
	if err != nil {
		return s, err
	}
	if c, ok := d.live.(connCounter); ok {
		s.LiveConnections = c.Len()
	}
	if c, ok := d.out.(outboxCounter); ok {
		ob := c.Stats()
		s.Outbox = &ob
	}
	if c, ok := d.relay.(relayCounter); ok {
		s.Relay = &RelayStats{Dropped: c.Dropped(), Failed: c.Failed()}
	}
	return s, nil
}

// LastSeen snapshots every online user's last activity.
func (d *Dispatcher) LastSeen(ctx context.Context) (map[string]time.Time, error) {
	return call(ctx, d, func() (map[string]time.Time, error) {
		out := make(map[string]time.Time, d.reg.Len())
		for _, e := range d.reg.All() {
			out[e.UserID] = e.LastSeenAt
		}
		return out, nil
	})
}

// Reconcile removes entries whose connection the transport no longer holds
// and returns how many were removed.
func (d *Dispatcher) Reconcile(ctx context.Context) (int, error) {
	return call(ctx, d, func() (int, error) { return d.reconcile(), nil })
}

func (d *Dispatcher) reconcile() int {
	if d.live == nil {
		return 0
	}
	live := d.live.LiveConnIDs()
	removed := 0
	for _, e := range d.reg.All() {
		if _, ok := live[e.Conn.ID()]; ok {
			continue
		}
		if gone, ok := d.reg.RemoveConn(e.UserID, e.Conn); ok {
			d.departed(gone)
			removed++
		}
	}
	if removed > 0 {
		zap.L().Info("dispatcher.reconcile", zap.Int("removed", removed))
	}
	return removed
}

func (d *Dispatcher) Sweep(ctx context.Context) (msgcache.SweepResult, error) {
	return call(ctx, d, func() (msgcache.SweepResult, error) { return d.sweep(), nil })
}

func (d *Dispatcher) sweep() msgcache.SweepResult {
	res := d.cache.Sweep(d.clock.Now())
	if res.Rooms+res.Messages+res.Conversations > 0 {
		zap.L().Debug("dispatcher.sweep",
			zap.Int("rooms", res.Rooms),
			zap.Int("messages", res.Messages),
			zap.Int("conversations", res.Conversations))
	}
	return res
}
