// Package storagetest provides an in-memory storage.Storage that records calls.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatpresence/internal/authz"
	"chatpresence/internal/msgcache"
	"chatpresence/internal/storage"
)

type Call struct {
	Method string
	Args   []any
}

type failure struct {
	n   int
	err error
}

type Fake struct {
	mu       sync.Mutex
	calls    []Call
	users    map[string]storage.User
	rooms    map[string]storage.Room
	failures map[string]*failure
}

var _ storage.Storage = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		users:    make(map[string]storage.User),
		rooms:    make(map[string]storage.Room),
		failures: make(map[string]*failure),
	}
}

func (f *Fake) PutUser(u storage.User) {
	f.mu.Lock()
	f.users[u.ID] = u
	f.mu.Unlock()
}

func (f *Fake) PutRoom(r storage.Room) {
	f.mu.Lock()
	f.rooms[r.ID] = r
	f.mu.Unlock()
}

// FailNext makes the next n calls to method return err.
func (f *Fake) FailNext(method string, n int, err error) {
	f.mu.Lock()
	f.failures[method] = &failure{n: n, err: err}
	f.mu.Unlock()
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	if fl, ok := f.failures[method]; ok && fl.n > 0 {
		fl.n--
		return fl.err
	}
	return nil
}

func (f *Fake) SetUserOnlineStatus(_ context.Context, userID string, online bool) error {
	return f.record("SetUserOnlineStatus", userID, online)
}

func (f *Fake) JoinRoom(_ context.Context, userID, roomID string) error {
	return f.record("JoinRoom", userID, roomID)
}

func (f *Fake) LeaveRoom(_ context.Context, userID, roomID string) error {
	return f.record("LeaveRoom", userID, roomID)
}

func (f *Fake) PersistMessage(_ context.Context, m msgcache.Message) error {
	return f.record("PersistMessage", m)
}

func (f *Fake) UpdateMessage(_ context.Context, id, content string, editedAt time.Time) error {
	return f.record("UpdateMessage", id, content, editedAt)
}

func (f *Fake) DeleteMessage(_ context.Context, id string) error {
	return f.record("DeleteMessage", id)
}

func (f *Fake) GetUser(_ context.Context, userID string) (storage.User, error) {
	if err := f.record("GetUser", userID); err != nil {
		return storage.User{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return storage.User{}, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	return u, nil
}

func (f *Fake) GetUserRole(_ context.Context, userID string) (authz.Role, error) {
	if err := f.record("GetUserRole", userID); err != nil {
		return authz.Guest, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return authz.Guest, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	return u.Role, nil
}

func (f *Fake) GetRoom(_ context.Context, roomID string) (storage.Room, error) {
	if err := f.record("GetRoom", roomID); err != nil {
		return storage.Room{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return storage.Room{}, fmt.Errorf("room %s: %w", roomID, storage.ErrNotFound)
	}
	return r, nil
}

func (f *Fake) TouchLastSeen(_ context.Context, seen map[string]time.Time) error {
	cp := make(map[string]time.Time, len(seen))
	for k, v := range seen {
		cp[k] = v
	}
	return f.record("TouchLastSeen", cp)
}
