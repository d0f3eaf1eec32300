package ws

import (
	"sync"
)

// Hub keeps the connections this process holds open.
type Hub struct {
	conns sync.Map // connID -> *clientConn
}

func NewHub() *Hub { return &Hub{} }

func (h *Hub) add(c *clientConn)    { h.conns.Store(c.id, c) }
func (h *Hub) remove(c *clientConn) { h.conns.Delete(c.id) }

// LiveConnIDs implements transport.Enumerator.
func (h *Hub) LiveConnIDs() map[string]struct{} {
	out := make(map[string]struct{})
	h.conns.Range(func(k, _ any) bool {
		out[k.(string)] = struct{}{}
		return true
	})
	return out
}

func (h *Hub) Len() int {
	n := 0
	h.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll closes every open connection, used on shutdown.
func (h *Hub) CloseAll(reason string) {
	h.conns.Range(func(_, v any) bool {
		v.(*clientConn).Close(reason)
		return true
	})
}
