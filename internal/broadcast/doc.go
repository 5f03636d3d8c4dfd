// Package broadcast is the fan-out hub between the conversation ledger and
// connected dashboard viewers.
//
// Publish delivers each ControlEvent to every live subscriber without one
// subscriber's backpressure affecting another: sends never block, and a
// subscriber whose buffer is full is disconnected outright. Broadcast is
// fan-out, not a shared queue; a subscriber leaving mid-stream loses nothing
// for the others.
//
// Ordering: events for the same conversation arrive at every subscriber in
// publish order, because the ledger publishes inside its per-conversation
// critical section. Nothing is promised across conversations.
package broadcast
