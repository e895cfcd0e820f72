package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conceptmesh/mesh-go/pkg/errors"
	"github.com/conceptmesh/mesh-go/pkg/metrics"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses intermediate events and catches up at the
// next resync.
const subscriberBuffer = 16

/*
Bridge decouples the spectral monitor's cadence from its consumers.
Delivery is at-least-once: publishes are non-blocking with a short bounded
retry, and a periodic resync republishes the latest snapshot so any missed
update self-heals within one resync interval. The only ordering promise is
a non-decreasing window timestamp within a single subscriber's view after
resync.
*/
type Bridge struct {
	mu      sync.RWMutex
	subs    map[uuid.UUID]*Subscription
	latest  *SpectralSnapshot
	metrics *metrics.MeshMetrics
	resync  time.Duration
	closed  bool
}

/*
New creates a bridge that resyncs on the given interval once Start runs.
*/
func New(m *metrics.MeshMetrics, resyncInterval time.Duration) *Bridge {
	if resyncInterval <= 0 {
		resyncInterval = 30 * time.Second
	}
	return &Bridge{
		subs:    make(map[uuid.UUID]*Subscription),
		metrics: m,
		resync:  resyncInterval,
	}
}

/*
Subscription is one consumer's view of the bridge. Handlers drain Events()
on their own goroutine and must not block for long: the channel is
buffered and the bridge drops rather than stalls.
*/
type Subscription struct {
	id uuid.UUID
	ch chan Event
	b  *Bridge
}

// Events returns the subscriber's delivery channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close detaches the subscription. Idempotent via the bridge's map.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s.id]; ok {
		delete(s.b.subs, s.id)
		close(s.ch)
	}
}

/*
Subscribe attaches a new consumer. If a snapshot has already been
published the subscriber receives it immediately, so late joiners never
wait a full resync interval for their first state.
*/
func (b *Bridge) Subscribe() *Subscription {
	sub := &Subscription{
		id: uuid.New(),
		ch: make(chan Event, subscriberBuffer),
		b:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	if b.latest != nil {
		sub.ch <- ResyncSnapshot{Snapshot: *b.latest}
	}
	return sub
}

/*
Publish fans an event out to every subscriber. Fire-and-forget with a
bounded retry per subscriber; a full buffer after the retries counts as a
drop and the event is abandoned for that subscriber.
*/
func (b *Bridge) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	retry := &errors.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}

	for _, sub := range b.subs {
		err := errors.RetryWithBackoff(retry, func() error {
			select {
			case sub.ch <- evt:
				return nil
			default:
				return errors.ErrInternal.WithMessagef("subscriber %s buffer full", sub.id)
			}
		})
		b.metrics.RecordEvent(err != nil)
	}
}

/*
PublishSnapshot records the snapshot as the latest known spectral state
and fans it out as a ResyncSnapshot event.
*/
func (b *Bridge) PublishSnapshot(snap SpectralSnapshot) {
	b.mu.Lock()
	b.latest = &snap
	b.mu.Unlock()

	b.Publish(ResyncSnapshot{Snapshot: snap})
}

// Latest returns the most recently published snapshot, if any.
func (b *Bridge) Latest() (SpectralSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return SpectralSnapshot{}, false
	}
	return *b.latest, true
}

/*
Start runs the resync loop until the context is cancelled.
*/
func (b *Bridge) Start(ctx context.Context) {
	ticker := time.NewTicker(b.resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if snap, ok := b.Latest(); ok {
				b.metrics.RecordResync()
				b.Publish(ResyncSnapshot{Snapshot: snap})
			}
		}
	}
}

// Close detaches all subscribers and refuses further publishes.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
