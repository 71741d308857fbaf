// Package tap turns the store changelog into live per-collection change
// feeds. One watcher goroutine per collection; each is independent, so a
// failure or slow consumer on one collection never stalls another.
//
// The tap never mutates data. Its only output is the feed channel.
package tap

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/store"
)

// Item is one feed element: either a change event or a resync signal.
//
// A resync signal means the watcher's resume position fell behind the
// retained changelog window (the log was pruned). Incremental history is
// lost; the consumer must treat its next snapshot read as authoritative
// rather than incremental. After emitting a resync the tap continues from
// the live tail.
type Item struct {
	Collection entity.Collection
	Resync     bool
	Event      entity.ChangeEvent // valid when Resync is false
}

// Default watcher tuning.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultBatchSize    = 256

	backoffMin = 100 * time.Millisecond
	backoffMax = 5 * time.Second
)

// Tap tails the store changelog.
type Tap struct {
	store *store.Store
	poll  time.Duration
	batch int
}

// Option configures a Tap.
type Option func(*Tap)

// WithPollInterval sets the idle poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tap) {
		t.poll = d
	}
}

// WithBatchSize sets the maximum changelog rows read per poll.
func WithBatchSize(n int) Option {
	return func(t *Tap) {
		t.batch = n
	}
}

// New creates a Tap over the given store.
func New(s *store.Store, opts ...Option) *Tap {
	t := &Tap{
		store: s,
		poll:  DefaultPollInterval,
		batch: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Watch follows a collection from its current tail: only changes written
// after the call are delivered. Blocks briefly to establish the resume
// position, then streams until ctx is cancelled. The returned channel is
// closed on cancellation.
func (t *Tap) Watch(ctx context.Context, collection entity.Collection) (<-chan Item, error) {
	last, err := t.store.LastSeq(ctx, collection)
	if err != nil {
		return nil, err
	}
	return t.WatchFrom(ctx, collection, last), nil
}

// WatchFrom follows a collection starting after the given seq. Pass 0 to
// replay the full retained history before going live.
func (t *Tap) WatchFrom(ctx context.Context, collection entity.Collection, afterSeq int64) <-chan Item {
	out := make(chan Item)
	go t.watch(ctx, collection, afterSeq, out)
	return out
}

// watch is the per-collection poll loop. Transient store errors are
// retried with exponential backoff and never escape; the subscription is
// long-lived by contract.
func (t *Tap) watch(ctx context.Context, collection entity.Collection, pos int64, out chan<- Item) {
	defer close(out)

	backoff := backoffMin
	logger := slog.With("collection", collection)
	logger.Debug("tap watching", "from_seq", pos)

	for {
		if ctx.Err() != nil {
			logger.Debug("tap stopping: context cancelled")
			return
		}

		// Detect a pruned-away resume window before reading: anything we
		// still owed the consumer below the retained horizon is gone.
		oldest, ok, err := t.store.OldestSeqAll(ctx)
		if err != nil {
			backoff = t.sleepBackoff(ctx, logger, backoff, err)
			continue
		}
		if ok && pos+1 < oldest {
			logger.Warn("tap resume position pruned, signalling resync",
				"resume_seq", pos, "oldest_retained", oldest)
			if !send(ctx, out, Item{Collection: collection, Resync: true}) {
				return
			}
			// Continue from the live tail; the consumer re-snapshots.
			tail, err := t.store.LastSeq(ctx, collection)
			if err != nil {
				backoff = t.sleepBackoff(ctx, logger, backoff, err)
				continue
			}
			pos = tail
		}

		events, err := t.store.ChangesSince(ctx, collection, pos, t.batch)
		if err != nil {
			backoff = t.sleepBackoff(ctx, logger, backoff, err)
			continue
		}
		backoff = backoffMin // healthy read resets the retry window

		if len(events) == 0 {
			if !sleep(ctx, t.poll) {
				return
			}
			continue
		}

		for _, ev := range events {
			if !send(ctx, out, Item{Collection: collection, Event: ev}) {
				return
			}
			// Position advances only after delivery: an unconsumed event
			// is re-read on restart (at-least-once).
			pos = ev.Seq
		}
	}
}

// sleepBackoff logs the error, sleeps the current backoff with jitter,
// and returns the next (doubled, capped) backoff.
func (t *Tap) sleepBackoff(ctx context.Context, logger *slog.Logger, backoff time.Duration, err error) time.Duration {
	logger.Warn("tap read failed, backing off", "error", err, "backoff", backoff)
	jittered := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
	sleep(ctx, jittered)
	next := backoff * 2
	if next > backoffMax {
		next = backoffMax
	}
	return next
}

// sleep waits for d or context cancellation. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// send delivers an item or gives up on context cancellation.
func send(ctx context.Context, out chan<- Item, item Item) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- item:
		return true
	}
}
