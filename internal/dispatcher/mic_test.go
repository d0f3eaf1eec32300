package dispatcher

import (
	"testing"
	"time"

	"chatpresence/internal/authz"
	"chatpresence/internal/speaker"
	"chatpresence/internal/storage"
	"chatpresence/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(t *testing.T, h *harness) {
	t.Helper()
	h.connect(t, "ops", "Ops", authz.Owner)
	h.connect(t, "host", "Host", authz.Member)
	h.connect(t, "bob", "Bob", authz.Member)
	for _, id := range []string{"host", "bob"} {
		require.NoError(t, h.d.JoinRoom(h.ctx, id, "stage"))
	}
	_, err := h.d.OpenBroadcast(h.ctx, "ops", "stage", "host")
	require.NoError(t, err)
}

func TestOpenBroadcast_RequiresPromoteOrHost(t *testing.T) {
	h := newHarness(t)
	stage(t, h)
	h.connect(t, "mallory", "Mallory", authz.Guest)

	_, err := h.d.OpenBroadcast(h.ctx, "mallory", "stage", "mallory")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.d.OpenBroadcast(h.ctx, "bob", "lobby", "bob")
	assert.ErrorIs(t, err, ErrForbidden, "members cannot open new broadcast rooms")
	_, err = h.d.OpenBroadcast(h.ctx, "", "stage", "bob")
	assert.ErrorIs(t, err, ErrInvalidUser)
	h.connect(t, "adm", "Adm", authz.Admin)
	_, err = h.d.OpenBroadcast(h.ctx, "adm", "stage", "adm")
	assert.ErrorIs(t, err, ErrForbidden, "only owners hold the promote permission")

	snap, err := h.d.Speakers(h.ctx, "stage")
	require.NoError(t, err)
	assert.Equal(t, "host", snap.HostID)

	// the current host may hand the room over
	snap, err = h.d.OpenBroadcast(h.ctx, "host", "stage", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", snap.HostID)
	_, err = h.d.OpenBroadcast(h.ctx, "host", "stage", "host")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMic_RequestAndApprove(t *testing.T) {
	h := newHarness(t)
	stage(t, h)

	snap, err := h.d.RequestMic(h.ctx, "bob", "stage")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, snap.Queue)

	_, err = h.d.RequestMic(h.ctx, "bob", "stage")
	assert.ErrorIs(t, err, speaker.ErrAlreadyQueued)

	snap, err = h.d.ApproveMic(h.ctx, "host", "stage", "bob")
	require.NoError(t, err)
	assert.Equal(t, speaker.Snapshot{RoomID: "stage", HostID: "host", Speakers: []string{"bob"}, Queue: []string{}}, snap)

	got, err := h.d.Speakers(h.ctx, "stage")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	assert.Contains(t, h.relay.all(), published{ScopeRoom, "stage", transport.EventMicQueueUpdated})
}

func TestMic_RequestOutsideRoom(t *testing.T) {
	h := newHarness(t)
	stage(t, h)
	h.connect(t, "carol", "Carol", authz.Member)

	_, err := h.d.RequestMic(h.ctx, "carol", "stage")
	assert.ErrorIs(t, err, ErrNotInRoom)

	_, err = h.d.RequestMic(h.ctx, "carol", "general")
	assert.ErrorIs(t, err, speaker.ErrNotBroadcastRoom)
}

func TestMic_MemberCannotApprove(t *testing.T) {
	h := newHarness(t)
	stage(t, h)
	h.connect(t, "carol", "Carol", authz.Member)
	require.NoError(t, h.d.JoinRoom(h.ctx, "carol", "stage"))
	_, err := h.d.RequestMic(h.ctx, "bob", "stage")
	require.NoError(t, err)

	_, err = h.d.ApproveMic(h.ctx, "carol", "stage", "bob")
	assert.ErrorIs(t, err, speaker.ErrForbidden)
	assert.Len(t, h.store.CallsTo("GetUserRole"), 1, "a refusal reloads the role once")

	snap, _ := h.d.Speakers(h.ctx, "stage")
	assert.Equal(t, []string{"bob"}, snap.Queue)
}

func TestMic_PromotionTakesEffectAfterReload(t *testing.T) {
	h := newHarness(t)
	stage(t, h)
	h.connect(t, "rita", "Rita", authz.Member)
	h.store.PutUser(storage.User{ID: "rita", DisplayName: "Rita", Role: authz.Moderator})
	_, err := h.d.RequestMic(h.ctx, "bob", "stage")
	require.NoError(t, err)

	snap, err := h.d.ApproveMic(h.ctx, "rita", "stage", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, snap.Speakers)

	r, err := h.d.OnlineUsers(h.ctx, "rita")
	require.NoError(t, err)
	assert.Equal(t, "general", r.RoomID)
	for _, u := range r.Users {
		if u.ID == "rita" {
			assert.Equal(t, authz.Moderator, u.Role)
		}
	}
}

func TestMic_RejectAndRemove(t *testing.T) {
	h := newHarness(t)
	stage(t, h)

	_, err := h.d.RequestMic(h.ctx, "bob", "stage")
	require.NoError(t, err)
	snap, err := h.d.RejectMic(h.ctx, "host", "stage", "bob")
	require.NoError(t, err)
	assert.Empty(t, snap.Queue)
	assert.Empty(t, snap.Speakers)

	_, err = h.d.RequestMic(h.ctx, "bob", "stage")
	require.NoError(t, err)
	_, err = h.d.ApproveMic(h.ctx, "host", "stage", "bob")
	require.NoError(t, err)

	snap, err = h.d.RemoveSpeaker(h.ctx, "host", "stage", "bob")
	require.NoError(t, err)
	assert.Empty(t, snap.Speakers)

	_, err = h.d.RemoveSpeaker(h.ctx, "host", "stage", "host")
	assert.ErrorIs(t, err, speaker.ErrCannotRemoveHost)

	_, err = h.d.ManageMic(h.ctx, "host", "stage", "bob", MicAction("promote"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMic_LeavingDropsSpeaker(t *testing.T) {
	h := newHarness(t)
	stage(t, h)
	_, err := h.d.RequestMic(h.ctx, "bob", "stage")
	require.NoError(t, err)
	_, err = h.d.ApproveMic(h.ctx, "host", "stage", "bob")
	require.NoError(t, err)

	require.NoError(t, h.d.JoinRoom(h.ctx, "bob", "general"))
	snap, err := h.d.Speakers(h.ctx, "stage")
	require.NoError(t, err)
	assert.Empty(t, snap.Speakers)
	assert.Equal(t, "host", snap.HostID)
}

func TestMic_BroadcastRoomLoadedFromStorage(t *testing.T) {
	h := newHarness(t)
	h.store.PutRoom(storage.Room{ID: "stage", Name: "Stage", IsBroadcast: true, HostID: "host"})
	alice := h.connect(t, "alice", "Alice", authz.Member)

	require.NoError(t, h.d.JoinRoom(h.ctx, "alice", "stage"))
	require.Eventually(t, func() bool { return alice.Count(transport.EventMicQueueUpdated) == 1 },
		time.Second, 5*time.Millisecond)

	snap, err := h.d.Speakers(h.ctx, "stage")
	require.NoError(t, err)
	assert.Equal(t, "host", snap.HostID)

	stats, err := h.d.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BroadcastRooms)
}

func roomStateOf(t *testing.T, h *harness, roomID string) roomState {
	t.Helper()
	st, err := call(h.ctx, h.d, func() (roomState, error) { return h.d.rooms[roomID], nil })
	require.NoError(t, err)
	return st
}

func TestMic_FailedLookupIsRetried(t *testing.T) {
	h := newHarness(t)
	h.store.PutRoom(storage.Room{ID: "stage", IsBroadcast: true, HostID: "host"})
	alice := h.connect(t, "alice", "Alice", authz.Member)
	require.Eventually(t, func() bool { return roomStateOf(t, h, "general") == roomPlain },
		time.Second, 5*time.Millisecond)

	h.store.FailNext("GetRoom", 1, assert.AnError)
	require.NoError(t, h.d.JoinRoom(h.ctx, "alice", "stage"))
	require.Eventually(t, func() bool {
		return len(h.store.CallsTo("GetRoom")) == 2 && roomStateOf(t, h, "stage") == roomUnknown
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, alice.Count(transport.EventMicQueueUpdated))

	require.NoError(t, h.d.JoinRoom(h.ctx, "alice", "general"))
	require.NoError(t, h.d.JoinRoom(h.ctx, "alice", "stage"))
	require.Eventually(t, func() bool { return alice.Count(transport.EventMicQueueUpdated) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, roomBroadcast, roomStateOf(t, h, "stage"))
}
