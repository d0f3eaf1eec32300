// Package msgcache keeps recently used chat messages in memory, per room and
// per private conversation, bounded by size (LRU) and idle time (TTL).
//
// Caches are not safe for concurrent use; the dispatcher loop owns them.
package msgcache

import (
	"time"

	"chatpresence/internal/apperr"
)

const (
	DefaultRoomSize    = 100
	DefaultPrivateSize = 50
	DefaultTTL         = 30 * time.Minute
)

var ErrInvariant = apperr.New(apperr.Invariant, "cache_invariant", "message cache invariant violated")

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Kind       string    `json:"kind"`
	RoomID     string    `json:"roomId,omitempty"`
	ReceiverID string    `json:"receiverId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	EditedAt   time.Time `json:"editedAt,omitzero"`

	LastAccessedAt time.Time `json:"-"`
	AccessCount    int       `json:"-"`
}

// Private reports whether m belongs to a conversation rather than a room.
func (m *Message) Private() bool { return m.ReceiverID != "" }

func (m *Message) touch(now time.Time) {
	m.LastAccessedAt = now
	m.AccessCount++
}

// Patch lists the mutable payload fields of a cached message.
type Patch struct {
	Content *string
	Kind    *string
}

func (p Patch) apply(m *Message, now time.Time) {
	if p.Content != nil {
		m.Content = *p.Content
		m.EditedAt = now
	}
	if p.Kind != nil {
		m.Kind = *p.Kind
	}
}
