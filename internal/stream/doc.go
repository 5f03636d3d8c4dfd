// Package stream bridges the metrics aggregator and event broadcaster to
// long-lived viewer connections.
//
// Metrics viewers get one snapshot immediately and a fresh one per interval,
// each connection on its own ticker. Event viewers get the broadcaster's
// ControlEvent stream over SSE or WebSocket. Closing a connection stops its
// timer and releases its subscription within the same operation that
// observes the close; no tick fires for a cancelled connection.
package stream
