// ABOUTME: In-memory fan-out hub publishing ledger ControlEvents to all viewers
// ABOUTME: Slow subscribers are disconnected rather than allowed to stall the publisher

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/overseer-gateway/internal/ledger"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for ControlEvents. Every subscriber
// receives every published event; delivery to one subscriber never blocks
// delivery to another. A subscriber whose buffer fills up is dropped and its
// channel closed (slow-consumer disconnect).
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *ledger.ControlEvent
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *ledger.ControlEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its event channel plus a
// subscription ID for later unsubscription. The subscription is cleaned up
// automatically when ctx is cancelled. The channel is closed on
// unsubscription, cancellation, slow-consumer disconnect, or Close.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *ledger.ControlEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *ledger.ControlEvent, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers the event to every currently-subscribed handle. Safe for
// concurrent use with Subscribe/Unsubscribe; only the subscriber-set
// mutation is serialized, not the send path.
func (b *Broadcaster) Publish(event *ledger.ControlEvent) {
	// Sends are non-blocking, so holding the read lock for the whole
	// fan-out is cheap and guarantees no channel is closed mid-send.
	b.mu.RLock()
	var dropped []string
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Buffer full: this subscriber cannot keep up. Disconnect
			// it instead of stalling or silently thinning its stream.
			dropped = append(dropped, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range dropped {
		b.logger.Warn("dropping slow subscriber",
			"sub_id", id,
			"event_id", event.ID)
		b.Unsubscribe(id)
	}
}

// Unsubscribe removes a subscription and closes its channel. Idempotent.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.logger.Debug("broadcaster closed")
}
