package dispatcher

import (
	"context"
	"encoding/json"
)

// Relay carries events to the other instances. Implementations must not
// block; they are called from the loop.
type Relay interface {
	PublishRoom(roomID, event string, body any)
	PublishUser(userID, event string, body any)
}

type Scope string

const (
	ScopeRoom Scope = "room"
	ScopeUser Scope = "user"
)

// RemoteEvent is an event another instance already applied and published.
type RemoteEvent struct {
	Scope  Scope
	Target string
	Event  string
	Body   json.RawMessage
}

func (d *Dispatcher) publishRoom(roomID, event string, body any) {
	if d.relay != nil {
		d.relay.PublishRoom(roomID, event, body)
	}
}

func (d *Dispatcher) publishUser(userID, event string, body any) {
	if d.relay != nil {
		d.relay.PublishUser(userID, event, body)
	}
}

// InjectRemote delivers ev to the local members of its room, or to its user
// when connected here. Nothing is republished and no local state changes.
func (d *Dispatcher) InjectRemote(ctx context.Context, ev RemoteEvent) error {
	if ev.Target == "" || ev.Event == "" {
		return ErrInvalidEvent
	}
	return d.do(ctx, func() error {
		d.injected++
		switch ev.Scope {
		case ScopeRoom:
			d.toRoom(ev.Target, ev.Event, ev.Body, "")
		case ScopeUser:
			d.toUser(ev.Target, ev.Event, ev.Body)
		}
		return nil
	})
}
