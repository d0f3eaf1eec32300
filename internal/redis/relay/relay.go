// Package relay publishes dispatcher events to the other instances over
// Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pattern matches every channel the relay publishes on.
const Pattern = "chat:*:*:events"

func RoomChannel(roomID string) string { return "chat:room:" + roomID + ":events" }
func UserChannel(userID string) string { return "chat:user:" + userID + ":events" }

// ParseChannel splits "chat:<scope>:<target>:events".
func ParseChannel(channel string) (scope, target string, ok bool) {
	rest, found := strings.CutPrefix(channel, "chat:")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, ":events")
	if !found {
		return "", "", false
	}
	scope, target, ok = strings.Cut(rest, ":")
	if !ok || scope == "" || target == "" {
		return "", "", false
	}
	return scope, target, true
}

// Frame is the payload of every relayed message. Origin lets an instance
// skip its own events.
type Frame struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type outgoing struct {
	channel string
	payload string
}

type Publisher struct {
	rdb     *redis.Client
	origin  string
	queue   chan outgoing
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewPublisher(rdb *redis.Client, origin string, size int) *Publisher {
	if size <= 0 {
		size = 1024
	}
	return &Publisher{rdb: rdb, origin: origin, queue: make(chan outgoing, size)}
}

func (p *Publisher) PublishRoom(roomID, event string, body any) {
	p.enqueue(RoomChannel(roomID), event, body)
}

func (p *Publisher) PublishUser(userID, event string, body any) {
	p.enqueue(UserChannel(userID), event, body)
}

// enqueue encodes the frame right away so later changes to body are not
// seen, then queues it without blocking.
func (p *Publisher) enqueue(channel, event string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		zap.L().Warn("relay.encode", zap.String("event", event), zap.Error(err))
		return
	}
	payload, err := json.Marshal(Frame{Origin: p.origin, Event: event, Body: raw})
	if err != nil {
		zap.L().Warn("relay.encode", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case p.queue <- outgoing{channel: channel, payload: string(payload)}:
	default:
		p.dropped.Add(1)
		zap.L().Warn("relay.queue_full", zap.String("channel", channel), zap.String("event", event))
	}
}

// Run publishes queued frames until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-p.queue:
			p.publish(ctx, o)
		}
	}
}

// drain publishes whatever is queued right now and returns.
func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case o := <-p.queue:
			p.publish(ctx, o)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, o outgoing) {
	if err := p.rdb.Publish(ctx, o.channel, o.payload).Err(); err != nil {
		p.failed.Add(1)
		zap.L().Warn("relay.publish", zap.String("channel", o.channel), zap.Error(err))
	}
}

func (p *Publisher) Dropped() int64 { return p.dropped.Load() }
func (p *Publisher) Failed() int64  { return p.failed.Load() }
