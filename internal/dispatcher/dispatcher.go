// Package dispatcher is the single writer of the chat core. One goroutine
// (Run) owns the presence registry, the message caches and the speaker
// coordinator; every public method hands its work to that goroutine and waits
// for the result.
//
// Storage writes never happen on the loop. They are queued on the outbox, and
// storage reads run on their own goroutine and re-enter the loop as commands.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"chatpresence/internal/msgcache"
	"chatpresence/internal/outbox"
	"chatpresence/internal/presence"
	"chatpresence/internal/speaker"
	"chatpresence/internal/storage"
	"chatpresence/internal/transport"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Options struct {
	DefaultRoom       string
	MaxMessageLength  int
	HistoryLimit      int
	DebounceWindow    time.Duration
	ReconcileInterval time.Duration
	SweepInterval     time.Duration
	LookupTimeout     time.Duration
	Cache             msgcache.Options
}

func (o Options) withDefaults() Options {
	if o.DefaultRoom == "" {
		o.DefaultRoom = "general"
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 2000
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 100 * time.Millisecond
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 2 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 10 * time.Minute
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = 3 * time.Second
	}
	return o
}

// Enqueuer accepts storage writes; *outbox.Outbox implements it.
type Enqueuer interface {
	Enqueue(outbox.Intent) bool
}

// Deps are the collaborators the dispatcher talks to but does not own.
// Only Clock may be nil among the required ones; Store, Outbox, Live and
// Relay are optional.
type Deps struct {
	Clock  clockwork.Clock
	Store  storage.Storage
	Outbox Enqueuer
	Live   transport.Enumerator
	Relay  Relay
}

type pendingRoster struct {
	timer clockwork.Timer
	gen   uint64
}

type Dispatcher struct {
	opts  Options
	clock clockwork.Clock
	store storage.Storage
	out   Enqueuer
	live  transport.Enumerator
	relay Relay

	cmds    chan func()
	stopped chan struct{}
	runCtx  context.Context

	// owned by the loop
	reg      *presence.Registry
	cache    *msgcache.Store
	mic      *speaker.Coordinator
	rooms    map[string]roomState
	pending  map[string]pendingRoster
	gen      uint64
	dropped  int64
	injected int64
}

type roomState int

const (
	roomUnknown roomState = iota
	roomLookup
	roomPlain
	roomBroadcast
)

func New(opts Options, deps Deps) *Dispatcher {
	opts = opts.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		opts:    opts,
		clock:   clock,
		store:   deps.Store,
		out:     deps.Outbox,
		live:    deps.Live,
		relay:   deps.Relay,
		cmds:    make(chan func(), 256),
		stopped: make(chan struct{}),
		runCtx:  context.Background(),
		reg:     presence.NewRegistry(clock),
		cache:   msgcache.New(opts.Cache, clock),
		mic:     speaker.NewCoordinator(),
		rooms:   make(map[string]roomState),
		pending: make(map[string]pendingRoster),
	}
}

// Run processes commands until ctx is cancelled. It must be called exactly
// once; methods called before Run starts wait for it.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.runCtx = ctx
	reconcile := d.clock.NewTicker(d.opts.ReconcileInterval)
	sweep := d.clock.NewTicker(d.opts.SweepInterval)
	defer func() {
		reconcile.Stop()
		sweep.Stop()
		for room, p := range d.pending {
			p.timer.Stop()
			delete(d.pending, room)
		}
		close(d.stopped)
	}()

	zap.L().Info("dispatcher.started",
		zap.Duration("debounce", d.opts.DebounceWindow),
		zap.Duration("reconcile", d.opts.ReconcileInterval),
		zap.Duration("sweep", d.opts.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-d.cmds:
			fn()
		case <-reconcile.Chan():
			d.reconcile()
		case <-sweep.Chan():
			d.sweep()
		}
	}
}

// post queues fn on the loop without waiting for it. Used by timers and
// storage lookups.
func (d *Dispatcher) post(fn func()) {
	select {
	case d.cmds <- fn:
	case <-d.stopped:
	}
}

// call runs fn on the loop and returns its result. When ctx ends first the
// command still runs, but its result is discarded.
func call[T any](ctx context.Context, d *Dispatcher, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	reply := make(chan result, 1)
	cmd := func() {
		v, err := fn()
		reply <- result{v, err}
	}
	select {
	case d.cmds <- cmd:
	case <-d.stopped:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
	select {
	case r := <-reply:
		return r.v, r.err
	case <-d.stopped:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
}

func (d *Dispatcher) do(ctx context.Context, fn func() error) error {
	_, err := call(ctx, d, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (d *Dispatcher) enqueue(in outbox.Intent) {
	if d.out == nil {
		return
	}
	d.out.Enqueue(in)
}

func (d *Dispatcher) send(e presence.Entry, event string, body any) {
	if err := e.Conn.Send(event, body); err != nil {
		d.dropped++
		zap.L().Warn("dispatcher.send",
			zap.String("user_id", e.UserID),
			zap.String("conn_id", e.Conn.ID()),
			zap.String("event", event),
			zap.Error(err))
	}
}

// toRoom fans event out to every local member of roomID except the user
// named in except.
func (d *Dispatcher) toRoom(roomID, event string, body any, except string) {
	for _, e := range d.reg.ListByRoom(roomID) {
		if e.UserID == except {
			continue
		}
		d.send(e, event, body)
	}
}

func (d *Dispatcher) toUser(userID, event string, body any) bool {
	e, ok := d.reg.Get(userID)
	if !ok {
		return false
	}
	d.send(e, event, body)
	return true
}

// scheduleRoster arranges one settled roster broadcast for roomID after the
// debounce window. Calls inside the window share the pending broadcast.
func (d *Dispatcher) scheduleRoster(roomID string) {
	if _, ok := d.pending[roomID]; ok {
		return
	}
	d.gen++
	gen := d.gen
	timer := d.clock.AfterFunc(d.opts.DebounceWindow, func() {
		d.post(func() { d.flushRoster(roomID, gen) })
	})
	d.pending[roomID] = pendingRoster{timer: timer, gen: gen}
}

func (d *Dispatcher) flushRoster(roomID string, gen uint64) {
	p, ok := d.pending[roomID]
	if !ok || p.gen != gen {
		return
	}
	delete(d.pending, roomID)
	d.broadcastRoster(roomID)
}

// cancelRoster drops a pending settled roster; the caller is about to send
// a fresh one.
func (d *Dispatcher) cancelRoster(roomID string) {
	if p, ok := d.pending[roomID]; ok {
		p.timer.Stop()
		delete(d.pending, roomID)
	}
}

func (d *Dispatcher) roster(roomID string) RosterBody {
	return RosterBody{RoomID: roomID, Users: filterRoster(d.reg.ListByRoom(roomID))}
}

func (d *Dispatcher) broadcastRoster(roomID string) {
	d.toRoom(roomID, transport.EventOnlineUsers, d.roster(roomID), "")
}
