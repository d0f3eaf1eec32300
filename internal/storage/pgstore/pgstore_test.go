package pgstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"chatpresence/internal/authz"
	"chatpresence/internal/msgcache"
	"chatpresence/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (storage.Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUserOnlineStatus(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_online = $2")).
		WithArgs("alice", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.SetUserOnlineStatus(context.Background(), "alice", true))
}

func TestJoinAndLeaveRoom(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rooms (id, name)")).
		WithArgs("general").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, display_name, role)")).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO room_members (room_id, user_id)")).
		WithArgs("general", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM room_members")).
		WithArgs("general", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, st.JoinRoom(ctx, "alice", "general"))
	require.NoError(t, st.LeaveRoom(ctx, "alice", "general"))
}

func TestPersistMessage(t *testing.T) {
	st, mock := newMock(t)
	at := time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages (id, room_id, sender_id, receiver_id, content, kind, created_at)")).
		WithArgs("m1", "", "alice", "bob", "hi", "text", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.PersistMessage(context.Background(), msgcache.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", Kind: "text", CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestJoinRoom_CreatesRoomAndGuest(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rooms (id, name) VALUES ($1, $1) ON CONFLICT DO NOTHING")).
		WithArgs("lobby").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, display_name, role) VALUES ($1, $1, 'guest')")).
		WithArgs("u42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO room_members (room_id, user_id)")).
		WithArgs("lobby", "u42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, st.JoinRoom(context.Background(), "u42", "lobby"))
}

func TestJoinRoom_RollsBackOnFailure(t *testing.T) {
	st, mock := newMock(t)
	boom := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rooms (id, name)")).
		WithArgs("lobby").
		WillReturnError(boom)
	mock.ExpectRollback()

	assert.ErrorIs(t, st.JoinRoom(context.Background(), "alice", "lobby"), boom)
}

func TestPersistMessage_RoomIsCreated(t *testing.T) {
	st, mock := newMock(t)
	at := time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rooms (id, name)")).
		WithArgs("lobby").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages (id, room_id, sender_id, receiver_id, content, kind, created_at)")).
		WithArgs("m2", "lobby", "alice", "", "hello lobby", "text", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.PersistMessage(context.Background(), msgcache.Message{
		ID: "m2", RoomID: "lobby", SenderID: "alice", Content: "hello lobby", Kind: "text", CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestUpdateMessage_NotFound(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET content = $2")).
		WithArgs("m1", "edited", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.UpdateMessage(context.Background(), "m1", "edited", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteMessage_Idempotent(t *testing.T) {
	st, mock := newMock(t)
	for range 2 {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET deleted_at = now()")).
			WithArgs("m1").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, st.DeleteMessage(context.Background(), "m1"))
	require.NoError(t, st.DeleteMessage(context.Background(), "m1"))
}

func TestGetUser(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, display_name, role, muted, is_online, last_seen_at")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "role", "muted", "is_online", "last_seen_at"}).
			AddRow("alice", "Alice", "admin", false, true, nil))

	u, err := st.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, authz.Admin, u.Role)
	assert.True(t, u.IsOnline)
	assert.True(t, u.LastSeenAt.IsZero())
}

func TestGetUserRole(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM users")).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("user"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM users")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	role, err := st.GetUserRole(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, authz.Member, role)

	role, err = st.GetUserRole(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, authz.Guest, role)
}

func TestGetRoom(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, is_broadcast, coalesce(host_id, '')")).
		WithArgs("stage").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_broadcast", "host_id"}).
			AddRow("stage", "Main stage", true, "host"))

	r, err := st.GetRoom(context.Background(), "stage")
	require.NoError(t, err)
	assert.Equal(t, storage.Room{ID: "stage", Name: "Main stage", IsBroadcast: true, HostID: "host"}, r)
}

func TestTouchLastSeen(t *testing.T) {
	st, mock := newMock(t)
	at := time.Date(2025, 7, 27, 16, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_seen_at = GREATEST")).
		WithArgs("alice", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_seen_at = GREATEST")).
		WithArgs("bob", at.Add(time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.TouchLastSeen(context.Background(), map[string]time.Time{
		"bob":   at.Add(time.Second),
		"alice": at,
	})
	require.NoError(t, err)
}

func TestTouchLastSeen_RollsBackOnError(t *testing.T) {
	st, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_seen_at")).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := st.TouchLastSeen(context.Background(), map[string]time.Time{"alice": time.Now()})
	assert.ErrorIs(t, err, boom)
}

func TestTouchLastSeen_Empty(t *testing.T) {
	st, _ := newMock(t)
	require.NoError(t, st.TouchLastSeen(context.Background(), nil))
}
