package msgcache

import (
	"sort"
	"time"
)

// ConvKey identifies a conversation by its ordered (sender, receiver) pair.
type ConvKey struct {
	SenderID   string
	ReceiverID string
}

type conversation struct {
	messages []*Message
	maxSize  int
}

// add appends m and prunes the least recently and least frequently used
// messages beyond maxSize.
func (c *conversation) add(m *Message) {
	for i, old := range c.messages {
		if old.ID == m.ID {
			c.messages[i] = m
			return
		}
	}
	c.messages = append(c.messages, m)
	if len(c.messages) <= c.maxSize {
		return
	}
	sort.SliceStable(c.messages, func(i, j int) bool {
		a, b := c.messages[i], c.messages[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		return a.AccessCount < b.AccessCount
	})
	c.messages = append([]*Message(nil), c.messages[len(c.messages)-c.maxSize:]...)
}

func (c *conversation) getAll(limit int, now time.Time) []Message {
	sorted := append([]*Message(nil), c.messages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	out := make([]Message, 0, len(sorted))
	for _, m := range sorted {
		m.touch(now)
		out = append(out, *m)
	}
	return out
}

func (c *conversation) find(id string) (int, *Message) {
	for i, m := range c.messages {
		if m.ID == id {
			return i, m
		}
	}
	return -1, nil
}

func (c *conversation) remove(id string) bool {
	i, _ := c.find(id)
	if i < 0 {
		return false
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	return true
}

// expire keeps only messages used within ttl.
func (c *conversation) expire(now time.Time, ttl time.Duration) int {
	kept := c.messages[:0]
	for _, m := range c.messages {
		if now.Sub(m.LastAccessedAt) <= ttl {
			kept = append(kept, m)
		}
	}
	n := len(c.messages) - len(kept)
	for i := len(kept); i < len(c.messages); i++ {
		c.messages[i] = nil
	}
	c.messages = kept
	return n
}
