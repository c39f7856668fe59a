package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/metrics"
	"github.com/orbitalci/orbital/pkg/security"
	"github.com/orbitalci/orbital/pkg/types"
)

const (
	// defaultSubscriberBuffer is the per-subscriber channel depth. A
	// subscriber that falls this far behind starts losing events instead
	// of blocking the publisher.
	defaultSubscriberBuffer = 64
	// defaultQueueBuffer is the publisher-side intake queue depth.
	defaultQueueBuffer = 256
	// historySize is the number of most recent events retained for
	// replay to subscribers that join after the fact.
	historySize = 200
)

// Predicate decides whether a subscriber wants a given event. A nil
// predicate matches everything.
type Predicate func(types.Event) bool

// Subscription is a live subscriber handle returned by Subscribe.
type Subscription struct {
	id     string
	ch     chan types.Event
	pred   Predicate
	closed int32
}

// Events returns the channel to range over for delivered events.
func (s *Subscription) Events() <-chan types.Event {
	return s.ch
}

// Bus is the event bus described in the component design: publish is
// non-blocking from the caller's perspective (it only hands the event to
// an internal queue), and delivery to subscribers never blocks the
// dispatch loop — a full subscriber queue drops the event and increments
// an overflow counter rather than stalling every other subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	queue       chan types.Event
	stopCh      chan struct{}
	stopOnce    sync.Once

	subscriberBuffer int

	histMu  sync.Mutex
	history []types.Event
	histPos int

	overflows map[string]*int64
}

// New creates a Bus with the default per-subscriber queue depth. Call
// Start to begin dispatching.
func New() *Bus {
	return NewWithSubscriberBuffer(defaultSubscriberBuffer)
}

// NewWithSubscriberBuffer creates a Bus whose subscriber queues are
// subscriberBuffer deep, for the EVENT_BUS_QUEUE_CAPACITY environment
// variable (spec.md §6). A non-positive value falls back to the default.
func NewWithSubscriberBuffer(subscriberBuffer int) *Bus {
	if subscriberBuffer <= 0 {
		subscriberBuffer = defaultSubscriberBuffer
	}
	return &Bus{
		subscribers:      make(map[string]*Subscription),
		queue:            make(chan types.Event, defaultQueueBuffer),
		stopCh:           make(chan struct{}),
		history:          make([]types.Event, 0, historySize),
		overflows:        make(map[string]*int64),
		subscriberBuffer: subscriberBuffer,
	}
}

// Start begins the dispatch loop in its own goroutine.
func (b *Bus) Start() {
	go b.run()
}

// Stop halts dispatch. Idempotent.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new subscriber, optionally filtered by pred (nil
// for "everything"). The returned Subscription stays registered, and keeps
// receiving matching events into its buffered channel, until it is passed
// to Unsubscribe.
func (b *Bus) Subscribe(id string, pred Predicate) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:   id,
		ch:   make(chan types.Event, b.subscriberBuffer),
		pred: pred,
	}
	b.subscribers[id] = sub
	if _, ok := b.overflows[id]; !ok {
		var n int64
		b.overflows[id] = &n
	}
	return sub
}

// Unsubscribe removes and closes a subscription. Safe to call more than
// once or with an unknown id.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
		return
	}
	delete(b.subscribers, sub.id)
	close(sub.ch)
}

// Publish enqueues an event for dispatch, stamping Timestamp if unset and
// redacting any credential-shaped payload keys (spec.md §7: "Sensitive
// values (credentials, tokens) are redacted") before it ever reaches the
// queue. Publish itself never blocks on a subscriber; it only blocks if
// the intake queue is full, which only happens if the dispatch loop has
// stalled (it never does anything blocking per event).
func (b *Bus) Publish(event types.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event = security.RedactEvent(event)
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()

	select {
	case b.queue <- event:
	case <-b.stopCh:
	}
}

func (b *Bus) run() {
	logger := log.WithComponent("eventbus")
	for {
		select {
		case event := <-b.queue:
			b.record(event)
			b.broadcast(event)
		case <-b.stopCh:
			logger.Debug().Msg("event bus dispatch loop stopped")
			return
		}
	}
}

func (b *Bus) record(event types.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if len(b.history) < historySize {
		b.history = append(b.history, event)
		return
	}
	b.history[b.histPos] = event
	b.histPos = (b.histPos + 1) % historySize
}

func (b *Bus) broadcast(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if sub.pred != nil && !sub.pred(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if counter, ok := b.overflows[id]; ok {
				atomic.AddInt64(counter, 1)
			}
			metrics.EventSubscriberOverflowsTotal.WithLabelValues(id).Inc()
		}
	}
}

// OverflowCount returns the number of events dropped for a subscriber
// because its queue was full, for use in tests and diagnostics.
func (b *Bus) OverflowCount(id string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counter, ok := b.overflows[id]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// History returns up to the last historySize events published, oldest
// first. Used to replay recent activity to a newly attached push client.
func (b *Bus) History() []types.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if len(b.history) < historySize {
		out := make([]types.Event, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]types.Event, historySize)
	copy(out, b.history[b.histPos:])
	copy(out[historySize-b.histPos:], b.history[:b.histPos])
	return out
}
