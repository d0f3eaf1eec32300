package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatpresence/internal/authz"
	"chatpresence/internal/outbox"
	"chatpresence/internal/presence"
	"chatpresence/internal/storage/storagetest"
	"chatpresence/internal/transport"
	"chatpresence/internal/transport/transporttest"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 100 * time.Millisecond

type recordingOutbox struct {
	mu      sync.Mutex
	intents []outbox.Intent
}

func (r *recordingOutbox) Enqueue(in outbox.Intent) bool {
	r.mu.Lock()
	r.intents = append(r.intents, in)
	r.mu.Unlock()
	return true
}

func (r *recordingOutbox) of(kind outbox.Kind) []outbox.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []outbox.Intent
	for _, in := range r.intents {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

type published struct {
	scope  Scope
	target string
	event  string
}

type recordingRelay struct {
	mu   sync.Mutex
	sent []published
}

func (r *recordingRelay) PublishRoom(roomID, event string, _ any) {
	r.mu.Lock()
	r.sent = append(r.sent, published{ScopeRoom, roomID, event})
	r.mu.Unlock()
}

func (r *recordingRelay) PublishUser(userID, event string, _ any) {
	r.mu.Lock()
	r.sent = append(r.sent, published{ScopeUser, userID, event})
	r.mu.Unlock()
}

func (r *recordingRelay) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.sent...)
}

type harness struct {
	d     *Dispatcher
	clock *clockwork.FakeClock
	out   *recordingOutbox
	store *storagetest.Fake
	live  *transporttest.Transport
	relay *recordingRelay
	ctx   context.Context
	n     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClockAt(time.Date(2025, 7, 27, 16, 0, 0, 0, time.UTC)),
		out:   &recordingOutbox{},
		store: storagetest.New(),
		live:  transporttest.NewTransport(),
		relay: &recordingRelay{},
		ctx:   context.Background(),
	}
	h.d = New(Options{
		DebounceWindow:    window,
		ReconcileInterval: 2 * time.Minute,
		SweepInterval:     10 * time.Minute,
		MaxMessageLength:  20,
	}, Deps{Clock: h.clock, Store: h.store, Outbox: h.out, Live: h.live, Relay: h.relay})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) connect(t *testing.T, userID, name string, role authz.Role) *transporttest.Conn {
	t.Helper()
	h.n++
	conn := transporttest.NewConn(fmt.Sprintf("%s-%d", userID, h.n))
	h.live.Open(conn.ID())
	require.NoError(t, h.d.Connect(h.ctx, userID, conn, presence.Info{DisplayName: name, Role: role}))
	return conn
}

func rosterIDs(t *testing.T, body any) []string {
	t.Helper()
	r, ok := body.(RosterBody)
	require.True(t, ok, "body is %T", body)
	ids := make([]string, len(r.Users))
	for i, u := range r.Users {
		ids[i] = u.ID
	}
	return ids
}

func lastRoster(t *testing.T, c *transporttest.Conn) []string {
	t.Helper()
	rs := c.Events(transport.EventOnlineUsers)
	require.NotEmpty(t, rs)
	return rosterIDs(t, rs[len(rs)-1])
}

func TestConnect_JoinsDefaultRoom(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	alice := h.connect(t, "alice", "Alice", authz.Member)

	assert.Equal(t, []string{"alice", "bob"}, lastRoster(t, alice))
	assert.Equal(t, []string{"alice", "bob"}, lastRoster(t, bob))
	assert.Equal(t, 1, alice.Count(transport.EventRoomMessages))

	joined := bob.Events(transport.EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "alice", joined[0].(UserJoinedBody).User.ID)
	assert.Zero(t, alice.Count(transport.EventUserJoined), "the joiner is not told about itself")

	assert.Len(t, h.out.of(outbox.KindOnline), 2)
	assert.Len(t, h.out.of(outbox.KindJoinRoom), 2)
}

func TestConnect_ReconnectStorm(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	first := h.connect(t, "alice", "Alice", authz.Member)
	second := h.connect(t, "alice", "Alice", authz.Member)

	stats, err := h.d.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Online)
	assert.Equal(t, 1, bob.Count(transport.EventUserJoined))

	closed, reason := first.Closed()
	assert.True(t, closed)
	assert.Equal(t, "superseded", reason)
	assert.Equal(t, 1, first.Count(transport.EventSuperseded))

	assert.Equal(t, []string{"alice", "bob"}, lastRoster(t, second))
	assert.Len(t, h.out.of(outbox.KindOnline), 2, "a reconnect is not a second online transition")

	// the superseded connection's late disconnect changes nothing
	require.NoError(t, h.d.Disconnect(h.ctx, "alice", first))
	assert.Zero(t, bob.Count(transport.EventUserDisconnected))
	stats, _ = h.d.Stats(h.ctx)
	assert.Equal(t, 2, stats.Online)
	assert.Equal(t, map[string]int{"general": 2}, stats.Rooms)
}

func TestDisconnect_DebouncesRoster(t *testing.T) {
	h := newHarness(t)
	carol := h.connect(t, "carol", "Carol", authz.Member)
	alice := h.connect(t, "alice", "Alice", authz.Member)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	carol.Reset()

	require.NoError(t, h.d.Disconnect(h.ctx, "alice", alice))
	h.clock.Advance(50 * time.Millisecond)
	require.NoError(t, h.d.Disconnect(h.ctx, "bob", bob))

	assert.Equal(t, 2, carol.Count(transport.EventUserDisconnected))
	assert.Zero(t, carol.Count(transport.EventOnlineUsers))

	h.clock.Advance(window)
	require.Eventually(t, func() bool { return carol.Count(transport.EventOnlineUsers) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"carol"}, lastRoster(t, carol))

	h.clock.Advance(time.Second)
	_, err := h.d.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, carol.Count(transport.EventOnlineUsers), "one settled roster, not two")

	assert.Len(t, h.out.of(outbox.KindOffline), 2)
	assert.Len(t, h.out.of(outbox.KindLeaveRoom), 2)
}

func TestDisconnect_JoinSupersedesPendingRoster(t *testing.T) {
	h := newHarness(t)
	carol := h.connect(t, "carol", "Carol", authz.Member)
	alice := h.connect(t, "alice", "Alice", authz.Member)
	h.connect(t, "dave", "Dave", authz.Member)
	require.NoError(t, h.d.JoinRoom(h.ctx, "dave", "lobby"))
	carol.Reset()

	require.NoError(t, h.d.Disconnect(h.ctx, "alice", alice))
	require.NoError(t, h.d.JoinRoom(h.ctx, "dave", "general"))
	assert.Equal(t, 1, carol.Count(transport.EventOnlineUsers))
	assert.Equal(t, []string{"carol", "dave"}, lastRoster(t, carol))

	h.clock.Advance(window * 2)
	stats, err := h.d.Stats(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingRosters)
	assert.Equal(t, 1, carol.Count(transport.EventOnlineUsers))
}

func TestJoinRoom_SwitchNotifiesOldRoom(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	alice := h.connect(t, "alice", "Alice", authz.Member)
	bob.Reset()

	require.NoError(t, h.d.JoinRoom(h.ctx, "alice", "lobby"))

	left := bob.Events(transport.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, PresenceBody{RoomID: "general", UserID: "alice"}, left[0])
	assert.Equal(t, []string{"bob"}, lastRoster(t, bob))
	assert.Equal(t, []string{"alice"}, lastRoster(t, alice))

	leaves := h.out.of(outbox.KindLeaveRoom)
	require.Len(t, leaves, 1)
	assert.Equal(t, "general", leaves[0].RoomID)
}

func TestJoinRoom_Validation(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice", "Alice", authz.Member)

	assert.ErrorIs(t, h.d.JoinRoom(h.ctx, "alice", ""), ErrInvalidRoom)
	assert.ErrorIs(t, h.d.JoinRoom(h.ctx, "alice", "has:colon"), ErrInvalidRoom)
	assert.ErrorIs(t, h.d.JoinRoom(h.ctx, "ghost", "lobby"), ErrNotRegistered)
}

func TestJoinRoom_SameRoomIsIdempotent(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	h.connect(t, "alice", "Alice", authz.Member)
	bob.Reset()

	require.NoError(t, h.d.JoinRoom(h.ctx, "alice", "general"))
	assert.Zero(t, bob.Count(transport.EventUserJoined))
	assert.Zero(t, bob.Count(transport.EventOnlineUsers))
}

func TestLeaveRoom(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	h.connect(t, "alice", "Alice", authz.Member)

	require.NoError(t, h.d.LeaveRoom(h.ctx, "alice", "lobby"), "leaving a room you are not in is a no-op")
	require.NoError(t, h.d.LeaveRoom(h.ctx, "alice", "general"))
	assert.Equal(t, 1, bob.Count(transport.EventUserLeft))
	assert.Equal(t, []string{"bob"}, lastRoster(t, bob))

	stats, _ := h.d.Stats(h.ctx)
	assert.Equal(t, map[string]int{"general": 1}, stats.Rooms)
}

func TestRoster_FiltersPlaceholders(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "alice", "Alice", authz.Member)
	h.connect(t, "u12", "User#12", authz.Guest)
	h.connect(t, "u13", "   ", authz.Guest)
	h.connect(t, "u14", "guest", authz.Guest)

	r, err := h.d.OnlineUsers(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []UserView{{ID: "alice", DisplayName: "Alice", Role: authz.Member}}, r.Users)
	assert.Equal(t, []string{"alice"}, lastRoster(t, alice))
}

func TestTyping(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	alice := h.connect(t, "alice", "Alice", authz.Member)

	require.NoError(t, h.d.Typing(h.ctx, "alice", true))
	typing := bob.Events(transport.EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, TypingBody{RoomID: "general", UserID: "alice", DisplayName: "Alice", IsTyping: true}, typing[0])
	assert.Zero(t, alice.Count(transport.EventTyping))
	assert.Contains(t, h.relay.all(), published{ScopeRoom, "general", transport.EventTyping})
}

func TestReconcile_RemovesDeadConnections(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	alice := h.connect(t, "alice", "Alice", authz.Member)

	h.live.Drop(alice.ID())
	n, err := h.d.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, bob.Count(transport.EventUserDisconnected))

	n, _ = h.d.Reconcile(h.ctx)
	assert.Zero(t, n)
}

func TestReconcile_RunsOnInterval(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "bob", "Bob", authz.Member)
	alice := h.connect(t, "alice", "Alice", authz.Member)
	h.live.Drop(alice.ID())

	h.clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		s, err := h.d.Stats(h.ctx)
		return err == nil && s.Online == 1
	}, time.Second, 5*time.Millisecond)
}

func TestInjectRemote(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob", authz.Member)
	before := len(h.relay.all())

	err := h.d.InjectRemote(h.ctx, RemoteEvent{
		Scope: ScopeRoom, Target: "general", Event: transport.EventNewMessage, Body: []byte(`{"message":{"id":"r1"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, bob.Count(transport.EventNewMessage))

	require.NoError(t, h.d.InjectRemote(h.ctx, RemoteEvent{Scope: ScopeUser, Target: "bob", Event: transport.EventTyping}))
	assert.Equal(t, 1, bob.Count(transport.EventTyping))
	assert.Len(t, h.relay.all(), before, "remote events are not republished")

	assert.ErrorIs(t, h.d.InjectRemote(h.ctx, RemoteEvent{Scope: ScopeRoom}), ErrInvalidEvent)
}

func TestStoppedDispatcherRefusesWork(t *testing.T) {
	d := New(Options{}, Deps{Clock: clockwork.NewFakeClock()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := d.Stats(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCallTimesOutWhenLoopIsNotRunning(t *testing.T) {
	d := New(Options{}, Deps{Clock: clockwork.NewFakeClock()})
	for range cap(d.cmds) {
		d.cmds <- func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := d.Stats(ctx)
	assert.ErrorIs(t, err, ErrBusy)
}
