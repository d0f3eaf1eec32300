package msgcache

import (
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Options struct {
	RoomSize    int
	PrivateSize int
	TTL         time.Duration
}

func (o Options) withDefaults() Options {
	if o.RoomSize <= 0 {
		o.RoomSize = DefaultRoomSize
	}
	if o.PrivateSize <= 0 {
		o.PrivateSize = DefaultPrivateSize
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Store holds every room and conversation cache of one process.
type Store struct {
	opts    Options
	clock   clockwork.Clock
	rooms   map[string]*roomCache
	private map[ConvKey]*conversation
}

func New(opts Options, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		opts:    opts.withDefaults(),
		clock:   clock,
		rooms:   make(map[string]*roomCache),
		private: make(map[ConvKey]*conversation),
	}
}

// AddRoom caches a copy of m under roomID, creating the room cache on first use.
func (s *Store) AddRoom(roomID string, m Message) error {
	now := s.clock.Now()
	rc, ok := s.rooms[roomID]
	if !ok {
		rc = newRoomCache(roomID, s.opts.RoomSize, now)
		s.rooms[roomID] = rc
	}
	m.RoomID = roomID
	m.ReceiverID = ""
	m.LastAccessedAt = now
	m.AccessCount = 1
	evicted, err := rc.add(&m, now)
	if len(evicted) > 0 {
		zap.L().Debug("msgcache.evict", zap.String("room", roomID), zap.Strings("ids", evicted))
	}
	if err != nil {
		zap.L().Error("msgcache.add_room", zap.String("room", roomID), zap.Error(err))
	}
	return err
}

// AddPrivate caches a copy of m under the (senderID, receiverID) conversation.
func (s *Store) AddPrivate(senderID, receiverID string, m Message) {
	now := s.clock.Now()
	key := ConvKey{SenderID: senderID, ReceiverID: receiverID}
	c, ok := s.private[key]
	if !ok {
		c = &conversation{maxSize: s.opts.PrivateSize}
		s.private[key] = c
	}
	m.RoomID = ""
	m.ReceiverID = receiverID
	m.LastAccessedAt = now
	m.AccessCount = 1
	c.add(&m)
}

func (s *Store) RoomMessages(roomID string, limit int) []Message {
	rc, ok := s.rooms[roomID]
	if !ok {
		return []Message{}
	}
	return rc.getAll(limit, s.clock.Now())
}

func (s *Store) PrivateMessages(senderID, receiverID string, limit int) []Message {
	c, ok := s.private[ConvKey{SenderID: senderID, ReceiverID: receiverID}]
	if !ok {
		return []Message{}
	}
	return c.getAll(limit, s.clock.Now())
}

// Get returns one message by id, rooms first, and counts it as used.
func (s *Store) Get(id string) (Message, bool) {
	now := s.clock.Now()
	for _, rc := range s.rooms {
		if m, ok := rc.get(id, now); ok {
			return m, true
		}
	}
	for _, c := range s.private {
		if _, m := c.find(id); m != nil {
			m.touch(now)
			return *m, true
		}
	}
	return Message{}, false
}

// Update patches the first message with id, searching rooms then
// conversations.
func (s *Store) Update(id string, p Patch) (Message, bool) {
	now := s.clock.Now()
	for _, rc := range s.rooms {
		if m, ok := rc.update(id, p, now); ok {
			return m, true
		}
	}
	for _, c := range s.private {
		if _, m := c.find(id); m != nil {
			m.touch(now)
			p.apply(m, now)
			return *m, true
		}
	}
	return Message{}, false
}

// Delete removes the first message with id, searching rooms then
// conversations. Copies held in other scopes are untouched.
func (s *Store) Delete(id string) (Message, bool) {
	for _, rc := range s.rooms {
		if el, ok := rc.index[id]; ok {
			m := *el.Value.(*Message)
			rc.remove(id)
			return m, true
		}
	}
	for key, c := range s.private {
		if _, m := c.find(id); m != nil {
			out := *m
			c.remove(id)
			if len(c.messages) == 0 {
				delete(s.private, key)
			}
			return out, true
		}
	}
	return Message{}, false
}

// SearchFilter narrows a search. UserID searches that user's conversations;
// otherwise RoomID searches one room, or every room when empty.
type SearchFilter struct {
	RoomID string
	UserID string
	Limit  int
}

// Search matches query case-insensitively against content and sender name,
// newest first. Every hit counts as used.
func (s *Store) Search(query string, f SearchFilter) []Message {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []Message{}
	if q == "" {
		return out
	}
	now := s.clock.Now()
	match := func(m *Message) bool {
		return strings.Contains(strings.ToLower(m.Content), q) ||
			strings.Contains(strings.ToLower(m.SenderName), q)
	}

	if f.UserID != "" {
		for key, c := range s.private {
			if key.SenderID != f.UserID && key.ReceiverID != f.UserID {
				continue
			}
			for _, m := range c.messages {
				if match(m) {
					m.touch(now)
					out = append(out, *m)
				}
			}
		}
	} else {
		for roomID, rc := range s.rooms {
			if f.RoomID != "" && roomID != f.RoomID {
				continue
			}
			out = append(out, rc.search(match, now)...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

type SweepResult struct {
	Rooms         int `json:"rooms"`
	Messages      int `json:"messages"`
	Conversations int `json:"conversations"`
}

// Sweep drops idle rooms, stale messages inside live rooms and emptied
// conversations.
func (s *Store) Sweep(now time.Time) SweepResult {
	var res SweepResult
	ttl := s.opts.TTL
	for roomID, rc := range s.rooms {
		if now.Sub(rc.lastActivity) > ttl {
			res.Messages += len(rc.index)
			delete(s.rooms, roomID)
			res.Rooms++
			continue
		}
		res.Messages += rc.expire(now, ttl)
	}
	for key, c := range s.private {
		res.Messages += c.expire(now, ttl)
		if len(c.messages) == 0 {
			delete(s.private, key)
			res.Conversations++
		}
	}
	return res
}

type Stats struct {
	RoomCaches           int `json:"roomCaches"`
	RoomMessages         int `json:"roomMessages"`
	PrivateCaches        int `json:"privateCaches"`
	PrivateMessages      int `json:"privateMessages"`
	RoomCapacity         int `json:"roomCapacity"`
	ConversationCapacity int `json:"conversationCapacity"`
}

func (s *Store) Stats() Stats {
	st := Stats{
		RoomCaches:           len(s.rooms),
		PrivateCaches:        len(s.private),
		RoomCapacity:         s.opts.RoomSize,
		ConversationCapacity: s.opts.PrivateSize,
	}
	for _, rc := range s.rooms {
		st.RoomMessages += len(rc.index)
	}
	for _, c := range s.private {
		st.PrivateMessages += len(c.messages)
	}
	return st
}
