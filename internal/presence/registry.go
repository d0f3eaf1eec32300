// Package presence tracks which user is online, on which connection and in
// which room.
//
// A Registry is not safe for concurrent use. It is owned by the dispatcher's
// event loop, which serialises every call.
package presence

import (
	"sort"
	"time"

	"chatpresence/internal/authz"
	"chatpresence/internal/transport"

	"github.com/jonboulle/clockwork"
)

type Entry struct {
	UserID      string
	Conn        transport.Conn
	RoomID      string
	DisplayName string
	Role        authz.Role
	Muted       bool
	LastSeenAt  time.Time
}

// Info is what the handshake knows about a user when it registers.
type Info struct {
	DisplayName string
	Role        authz.Role
	Muted       bool
}

type Registry struct {
	clock   clockwork.Clock
	entries map[string]*Entry
}

func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{clock: clock, entries: make(map[string]*Entry)}
}

// Register makes conn the user's only live connection. When a different
// connection was registered before, it is returned as prev with replaced set;
// the caller is expected to close prev.Conn.
func (r *Registry) Register(userID string, conn transport.Conn, info Info) (prev Entry, replaced bool) {
	now := r.clock.Now()
	if old, ok := r.entries[userID]; ok {
		prev = *old
		replaced = old.Conn != conn
	}
	r.entries[userID] = &Entry{
		UserID:      userID,
		Conn:        conn,
		DisplayName: info.DisplayName,
		Role:        info.Role,
		Muted:       info.Muted,
		LastSeenAt:  now,
	}
	if !replaced && prev.UserID != "" {
		// same connection re-authenticating keeps its room
		r.entries[userID].RoomID = prev.RoomID
	}
	return prev, replaced
}

func (r *Registry) SetRoom(userID, roomID string) bool {
	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	e.RoomID = roomID
	e.LastSeenAt = r.clock.Now()
	return true
}

func (r *Registry) SetRole(userID string, role authz.Role) bool {
	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	e.Role = role
	e.LastSeenAt = r.clock.Now()
	return true
}

func (r *Registry) SetMuted(userID string, muted bool) bool {
	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	e.Muted = muted
	e.LastSeenAt = r.clock.Now()
	return true
}

// Touch refreshes LastSeenAt without any other change.
func (r *Registry) Touch(userID string) {
	if e, ok := r.entries[userID]; ok {
		e.LastSeenAt = r.clock.Now()
	}
}

// Remove drops the user's entry. Removing an absent user is a no-op.
func (r *Registry) Remove(userID string) (Entry, bool) {
	e, ok := r.entries[userID]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, userID)
	return *e, true
}

// RemoveConn drops the entry only when conn is still the user's current
// connection, so the late disconnect of a superseded connection is ignored.
func (r *Registry) RemoveConn(userID string, conn transport.Conn) (Entry, bool) {
	if !r.IsCurrent(userID, conn) {
		return Entry{}, false
	}
	return r.Remove(userID)
}

func (r *Registry) IsCurrent(userID string, conn transport.Conn) bool {
	e, ok := r.entries[userID]
	return ok && e.Conn == conn
}

func (r *Registry) Get(userID string) (Entry, bool) {
	e, ok := r.entries[userID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.entries[userID]
	return ok
}

// Role returns the user's current role, guest when offline.
func (r *Registry) Role(userID string) authz.Role {
	if e, ok := r.entries[userID]; ok {
		return e.Role
	}
	return authz.Guest
}

// ListByRoom returns the room's members ordered by user id.
func (r *Registry) ListByRoom(roomID string) []Entry {
	out := make([]Entry, 0)
	for _, e := range r.entries {
		if e.RoomID == roomID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) All() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) Len() int { return len(r.entries) }

// RoomCounts returns the number of members per room.
func (r *Registry) RoomCounts() map[string]int {
	out := make(map[string]int)
	for _, e := range r.entries {
		if e.RoomID != "" {
			out[e.RoomID]++
		}
	}
	return out
}
