// Package transporttest provides an in-memory transport.Conn for tests.
package transporttest

import (
	"sync"

	"chatpresence/internal/transport"
)

type Frame struct {
	Event string
	Body  any
}

// Conn records every frame sent to it.
type Conn struct {
	id string

	mu       sync.Mutex
	frames   []Frame
	closed   bool
	reason   string
	sendErr  error
	onClosed func()
}

var _ transport.Conn = (*Conn)(nil)

func NewConn(id string) *Conn { return &Conn{id: id} }

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(event string, body any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, Frame{Event: event, Body: body})
	return nil
}

func (c *Conn) Close(reason string) {
	c.mu.Lock()
	c.closed = true
	c.reason = reason
	cb := c.onClosed
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FailSends makes every later Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *Conn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events returns the bodies of every frame named event.
func (c *Conn) Events(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f.Body)
		}
	}
	return out
}

func (c *Conn) Count(event string) int { return len(c.Events(event)) }

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Transport is a transport.Enumerator over a mutable set of live ids.
type Transport struct {
	mu   sync.Mutex
	live map[string]struct{}
}

func NewTransport() *Transport { return &Transport{live: make(map[string]struct{})} }

func (t *Transport) Open(id string) {
	t.mu.Lock()
	t.live[id] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) Drop(id string) {
	t.mu.Lock()
	delete(t.live, id)
	t.mu.Unlock()
}

func (t *Transport) LiveConnIDs() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]struct{}, len(t.live))
	for id := range t.live {
		out[id] = struct{}{}
	}
	return out
}
