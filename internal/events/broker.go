package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity used when
// NewBroker is given a non-positive buffer size.
const DefaultSubscriberBuffer = 16

// Broker is an in-process implementation of the Publisher interface that
// fans events out to per-owner subscribers. Each subscriber has a buffered
// channel; when a subscriber falls behind, the oldest buffered event is
// dropped to make room, which preserves the at-most-once contract without
// ever blocking a publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[*subscriber]struct{}
	buffer      int
	logger      *slog.Logger
}

type subscriber struct {
	ch     chan JobEvent
	closed bool
}

// NewBroker creates a new in-process event broker.
// If logger is nil, a default logger will be used.
func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[uuid.UUID]map[*subscriber]struct{}),
		buffer:      buffer,
		logger:      logger.With(slog.String("component", "event_broker")),
	}
}

// Ensure Broker implements the Publisher interface
var _ Publisher = (*Broker)(nil)

// Subscribe registers a subscriber for the owner's events. The returned
// cancel function must be called to release the subscription; it closes the
// channel.
func (b *Broker) Subscribe(ownerID uuid.UUID) (<-chan JobEvent, func()) {
	sub := &subscriber{ch: make(chan JobEvent, b.buffer)}

	b.mu.Lock()
	subs, ok := b.subscribers[ownerID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		b.subscribers[ownerID] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(b.subscribers[ownerID], sub)
		if len(b.subscribers[ownerID]) == 0 {
			delete(b.subscribers, ownerID)
		}
		close(sub.ch)
	}

	return sub.ch, cancel
}

// Publish implements Publisher. Delivery to each subscriber is non-blocking:
// a full buffer drops its oldest event first.
func (b *Broker) Publish(ctx context.Context, event JobEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[event.OwnerID]
	for sub := range subs {
		select {
		case sub.ch <- event:
		default:
			// Sends happen only under the broker mutex, so draining one
			// slot cannot race another send.
			select {
			case <-sub.ch:
				b.logger.Debug("dropped oldest event for slow subscriber",
					slog.String("owner_id", event.OwnerID.String()))
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	return nil
}

// SubscriberCount reports the number of active subscribers for an owner.
func (b *Broker) SubscriberCount(ownerID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[ownerID])
}
