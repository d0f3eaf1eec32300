// Package outbox applies storage writes in the background so the chat core
// never waits on the database. Writes are retried with exponential backoff;
// a write that keeps failing is logged and dropped.
package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatpresence/internal/apperr"
	"chatpresence/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type Options struct {
	QueueSize      int
	Workers        int
	MaxRetries     uint64
	InitialBackoff time.Duration
	Timeout        time.Duration
}

type Stats struct {
	Queued  int   `json:"queued"`
	Applied int64 `json:"applied"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

type Outbox struct {
	st     storage.Storage
	opts   Options
	shards []chan Intent

	applied atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func New(st storage.Storage, opts Options) *Outbox {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < opts.Workers {
		opts.QueueSize = opts.Workers
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	o := &Outbox{st: st, opts: opts, shards: make([]chan Intent, opts.Workers)}
	per := opts.QueueSize / opts.Workers
	for i := range o.shards {
		o.shards[i] = make(chan Intent, per)
	}
	return o
}

// Enqueue never blocks. It returns false and drops the intent when the
// shard's queue is full.
func (o *Outbox) Enqueue(in Intent) bool {
	shard := o.shards[xxhash.Sum64String(in.key())%uint64(len(o.shards))]
	select {
	case shard <- in:
		return true
	default:
		o.dropped.Add(1)
		zap.L().Warn("outbox.queue_full",
			zap.String("kind", string(in.Kind)),
			zap.String("key", in.key()))
		return false
	}
}

// Run drains the queues until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, shard := range o.shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.work(ctx, i, shard)
		}()
	}
	wg.Wait()
}

func (o *Outbox) work(ctx context.Context, id int, in <-chan Intent) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-in:
			o.apply(ctx, id, it)
		}
	}
}

func (o *Outbox) apply(ctx context.Context, worker int, it Intent) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, o.opts.MaxRetries), ctx)

	op := func() error {
		actx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		err := it.apply(actx, o.st)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		zap.L().Debug("outbox.retry",
			zap.Int("worker", worker),
			zap.String("kind", string(it.Kind)),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		o.failed.Add(1)
		zap.L().Error("outbox.apply",
			zap.Int("worker", worker),
			zap.String("kind", string(it.Kind)),
			zap.String("key", it.key()),
			zap.Error(err))
		return
	}
	o.applied.Add(1)
}

// permanent reports errors a retry cannot fix. Postgres class 23 covers
// integrity constraint violations.
func permanent(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	switch apperr.KindOf(err) {
	case apperr.Validation, apperr.Authorization, apperr.Conflict:
		return true
	}
	return false
}

func (o *Outbox) Stats() Stats {
	s := Stats{
		Applied: o.applied.Load(),
		Failed:  o.failed.Load(),
		Dropped: o.dropped.Load(),
	}
	for _, sh := range o.shards {
		s.Queued += len(sh)
	}
	return s
}
