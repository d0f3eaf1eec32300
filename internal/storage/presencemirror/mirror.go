// Package presencemirror copies presence writes into Redis so every instance
// can see who is online cluster-wide. All other calls go straight to the
// wrapped store.
package presencemirror

import (
	"context"
	"sort"

	"chatpresence/internal/storage"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

const onlineKey = "chat:online"

func userKey(userID string) string { return "chat:user:" + userID }
func roomKey(roomID string) string { return "chat:room:" + roomID + ":members" }

type Mirror struct {
	storage.Storage
	rdb        *redis.Client
	instanceID string
	clock      clockwork.Clock
}

func New(inner storage.Storage, rdb *redis.Client, instanceID string, clock clockwork.Clock) *Mirror {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Mirror{Storage: inner, rdb: rdb, instanceID: instanceID, clock: clock}
}

// SetUserOnlineStatus writes the durable status first and mirrors it even
// when that write failed; both failures are returned.
func (m *Mirror) SetUserOnlineStatus(ctx context.Context, userID string, online bool) error {
	err := m.Storage.SetUserOnlineStatus(ctx, userID, online)
	keys := []string{onlineKey, userKey(userID)}
	var res *redis.Cmd
	if online {
		res = m.rdb.FCall(ctx, "presence_online", keys, userID, m.instanceID, m.clock.Now().Unix())
	} else {
		res = m.rdb.FCall(ctx, "presence_offline", keys, userID, m.instanceID)
	}
	return multierr.Append(err, res.Err())
}

func (m *Mirror) JoinRoom(ctx context.Context, userID, roomID string) error {
	err := m.Storage.JoinRoom(ctx, userID, roomID)
	return multierr.Append(err,
		m.rdb.FCall(ctx, "presence_join", []string{roomKey(roomID), userKey(userID)}, userID, roomID).Err())
}

func (m *Mirror) LeaveRoom(ctx context.Context, userID, roomID string) error {
	err := m.Storage.LeaveRoom(ctx, userID, roomID)
	return multierr.Append(err,
		m.rdb.FCall(ctx, "presence_leave", []string{roomKey(roomID), userKey(userID)}, userID, roomID).Err())
}

// Online lists every user online on any instance, sorted.
func (m *Mirror) Online(ctx context.Context) ([]string, error) {
	ids, err := m.rdb.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// RoomMembers lists the members of roomID across instances, sorted.
func (m *Mirror) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	ids, err := m.rdb.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
