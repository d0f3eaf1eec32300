package roomwatcher

import (
	"context"
	"encoding/json"
	"errors"

	"chatpresence/internal/dispatcher"
	"chatpresence/internal/redis/relay"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errOwnEvent = errors.New("event published by this instance")

type Injector interface {
	InjectRemote(ctx context.Context, ev dispatcher.RemoteEvent) error
}

// Run listens to the events other instances publish and hands them to the
// local dispatcher. Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, origin string, inj Injector) {
	ps := rdb.PSubscribe(ctx, relay.Pattern)
	defer ps.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			ev, err := decode(m.Channel, m.Payload, origin)
			if errors.Is(err, errOwnEvent) {
				continue
			}
			if err != nil {
				zap.L().Warn("roomwatcher.decode", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if err := inj.InjectRemote(ctx, ev); err != nil {
				zap.L().Warn("roomwatcher.inject",
					zap.String("channel", m.Channel),
					zap.String("event", ev.Event),
					zap.Error(err))
			}
		}
	}
}

func decode(channel, payload, origin string) (dispatcher.RemoteEvent, error) {
	scope, target, ok := relay.ParseChannel(channel)
	if !ok {
		return dispatcher.RemoteEvent{}, errors.New("unexpected channel")
	}
	var f relay.Frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return dispatcher.RemoteEvent{}, err
	}
	if f.Origin == origin {
		return dispatcher.RemoteEvent{}, errOwnEvent
	}
	s := dispatcher.Scope(scope)
	if s != dispatcher.ScopeRoom && s != dispatcher.ScopeUser {
		return dispatcher.RemoteEvent{}, errors.New("unknown scope " + scope)
	}
	return dispatcher.RemoteEvent{Scope: s, Target: target, Event: f.Event, Body: f.Body}, nil
}
