package syncseen

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Source interface {
	LastSeen(ctx context.Context) (map[string]time.Time, error)
}

type Sink interface {
	TouchLastSeen(ctx context.Context, seen map[string]time.Time) error
}

// Syncer mirrors the in-memory last-seen times into Postgres on a fixed
// interval. Only entries that moved since the previous successful sync are
// written.
type Syncer struct {
	src      Source
	dst      Sink
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	written  map[string]time.Time
}

func New(src Source, dst Sink, clock clockwork.Clock, interval time.Duration) *Syncer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Syncer{
		src:      src,
		dst:      dst,
		clock:    clock,
		interval: interval,
		timeout:  5 * time.Second,
		written:  make(map[string]time.Time),
	}
}

// Run syncs every interval until ctx is cancelled, and once more on the way
// out. The source has to keep answering until Run returns for that last sync
// to see anything.
func (s *Syncer) Run(ctx context.Context) {
	tk := s.clock.NewTicker(s.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			_ = s.SyncOnce(fctx)
			cancel()
			return
		case <-tk.Chan():
			_ = s.SyncOnce(ctx)
		}
	}
}

func (s *Syncer) SyncOnce(ctx context.Context) error {
	seen, err := s.src.LastSeen(ctx)
	if err != nil {
		zap.L().Debug("syncseen.snapshot", zap.Error(err))
		return err
	}
	changed := make(map[string]time.Time)
	for id, at := range seen {
		if prev, ok := s.written[id]; ok && !at.After(prev) {
			continue
		}
		changed[id] = at
	}
	// users that went offline are written by the outbox
	for id := range s.written {
		if _, ok := seen[id]; !ok {
			delete(s.written, id)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.dst.TouchLastSeen(wctx, changed); err != nil {
		zap.L().Error("syncseen.write", zap.Int("users", len(changed)), zap.Error(err))
		return err
	}
	for id, at := range changed {
		s.written[id] = at
	}
	zap.L().Debug("syncseen.written", zap.Int("users", len(changed)))
	return nil
}
