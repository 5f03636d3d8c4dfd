// ABOUTME: Bridges the metrics aggregator and event broadcaster to long-lived viewer connections
// ABOUTME: SSE push with one timer per connection; timers and subscriptions released on close

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/overseer-gateway/internal/ledger"
	"github.com/2389/overseer-gateway/internal/metrics"
)

// SnapshotSource produces a fresh metrics snapshot on demand.
// Implemented by metrics.Aggregator.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// EventSource is the broadcaster contract the adapter subscribes through.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan *ledger.ControlEvent, string)
	Unsubscribe(subID string)
}

// Adapter serves the push endpoints for dashboard viewers. It holds no state
// beyond one timer per active metrics connection; every resource is released
// when the connection's context is done.
type Adapter struct {
	snapshots SnapshotSource
	events    EventSource
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a streaming adapter pushing metrics every interval.
func New(snapshots SnapshotSource, events EventSource, interval time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		snapshots: snapshots,
		events:    events,
		interval:  interval,
		logger:    logger.With("component", "stream"),
	}
}

// ServeMetrics handles GET /api/metrics/stream. One snapshot is pushed
// immediately, then a fresh one per interval until the client disconnects.
// Each connection gets its own ticker; ticks are not synchronized across
// viewers.
func (a *Adapter) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w)

	writeSSEEvent(w, "metrics", a.snapshots.Snapshot())
	flusher.Flush()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			a.logger.Debug("metrics viewer disconnected")
			return
		case <-ticker.C:
			writeSSEEvent(w, "metrics", a.snapshots.Snapshot())
			flusher.Flush()
		}
	}
}

// ServeEvents handles GET /api/events/stream: forwards ControlEvents from
// the broadcaster as SSE events named after the event kind.
func (a *Adapter) ServeEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w)
	flusher.Flush()

	ch, subID := a.events.Subscribe(r.Context())
	defer a.events.Unsubscribe(subID)

	for {
		select {
		case <-r.Context().Done():
			a.logger.Debug("event viewer disconnected", "sub_id", subID)
			return
		case event, ok := <-ch:
			if !ok {
				// Dropped by the broadcaster (slow consumer) or shutdown.
				return
			}
			writeSSEEvent(w, string(event.Kind), event)
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a named SSE event with a JSON payload.
func writeSSEEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: {\"error\":%q}\n\n", err.Error())
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
