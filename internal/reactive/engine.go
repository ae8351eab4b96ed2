package reactive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/store"
)

// WatchOptions configures a fingerprint polling subscription.
type WatchOptions struct {
	// Interval between poll ticks. The next tick is scheduled only after
	// the previous one (fingerprint, optional re-query, callback) finishes,
	// so a slow callback throttles its own cadence. Zero or negative uses
	// the DefaultWatchOptions interval.
	Interval time.Duration

	// Immediate delivers on the first tick, before the first interval wait.
	Immediate bool

	// TrackChangeSeq folds the table's highest change-log id into the
	// fingerprint. Without it, in-place UPDATEs that move neither the row
	// count nor the max primary key are invisible to polling.
	TrackChangeSeq bool

	// OnError observes tick failures. Nil drops them; the subscription
	// keeps polling either way.
	OnError func(error)
}

// DefaultWatchOptions polls every 500ms with immediate first delivery.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{Interval: 500 * time.Millisecond, Immediate: true}
}

// TailOptions configures a watermark streaming subscription.
type TailOptions struct {
	Interval time.Duration

	// FromStart replays the full change log before streaming new entries.
	// Otherwise the watermark starts at the current last change id and only
	// later mutations are delivered.
	FromStart bool

	OnError func(error)
}

// Subscription is one active observer. Unsubscribe is explicit and
// immediate: the timer stops before its next scheduled tick; a tick already
// in progress runs to completion (no mid-tick cancellation).
type Subscription struct {
	id   string
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Unsubscribe terminates the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { close(s.stop) })
}

// Done is closed once the subscription's loop has fully exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Engine schedules polling observers over one store. Each subscription
// runs its ticks on its own goroutine; ticks for one subscription never
// overlap. The engine itself never mutates - it only reads fingerprints,
// result sets, and the change log.
type Engine struct {
	store *store.Store
}

// NewEngine creates a polling engine over the store.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Watch subscribes fn to the result set of a query spec.
//
// Every tick computes the spec's fingerprint (count + max primary key,
// optionally the change sequence) with a single aggregate query. Only when
// the fingerprint differs from the previous tick's is the full query
// re-executed and the new result set delivered. Two consecutive ticks with
// no intervening mutation therefore never trigger redelivery.
func (e *Engine) Watch(spec query.Spec, opts WatchOptions, fn func([]store.Row)) (*Subscription, error) {
	// Surface compile errors synchronously, not on the first tick.
	if _, err := e.store.QueryFingerprint(context.Background(), spec, opts.TrackChangeSeq); err != nil {
		return nil, err
	}

	sub := newSubscription()
	var last *store.Fingerprint

	tick := func() {
		ctx := context.Background()
		fp, err := e.store.QueryFingerprint(ctx, spec, opts.TrackChangeSeq)
		if err != nil {
			reportError(opts.OnError, err)
			return
		}
		if last != nil && fp.Equal(*last) {
			return
		}
		rows, err := e.store.Find(ctx, spec)
		if err != nil {
			reportError(opts.OnError, err)
			return
		}
		last = &fp
		fn(rows)
	}

	go runLoop(sub, opts.Interval, opts.Immediate, tick)
	return sub, nil
}

// Tail subscribes fn to newly-appended change-log entries for one table.
//
// The subscription tracks the highest delivered change-log id; each tick
// selects only rows with id > watermark and delivers them one at a time,
// so work is proportional to the number of new mutations rather than to
// table size.
func (e *Engine) Tail(table string, opts TailOptions, fn func(store.ChangeLogEntry)) (*Subscription, error) {
	ctx := context.Background()

	var watermark int64
	if !opts.FromStart {
		last, err := e.store.LastChangeID(ctx, table)
		if err != nil {
			return nil, err
		}
		watermark = last
	}

	sub := newSubscription()

	tick := func() {
		entries, err := e.store.ChangesSince(context.Background(), table, watermark, 0)
		if err != nil {
			reportError(opts.OnError, err)
			return
		}
		for _, entry := range entries {
			fn(entry)
			watermark = entry.ID
		}
	}

	go runLoop(sub, opts.Interval, true, tick)
	return sub, nil
}

func newSubscription() *Subscription {
	return &Subscription{
		id:   uuid.NewString(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// runLoop drives one subscription. The timer is re-armed only after tick
// returns, which serializes ticks and lets slow callbacks self-throttle.
// An unset interval falls back to the default cadence rather than arming a
// zero timer that would busy-spin fingerprint queries.
func runLoop(sub *Subscription, interval time.Duration, immediate bool, tick func()) {
	defer close(sub.done)

	if interval <= 0 {
		interval = DefaultWatchOptions().Interval
	}

	if immediate {
		select {
		case <-sub.stop:
			return
		default:
			tick()
		}
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-timer.C:
			tick()
			timer.Reset(interval)
		}
	}
}

func reportError(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}
