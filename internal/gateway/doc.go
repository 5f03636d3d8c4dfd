// ABOUTME: Package documentation for the gateway HTTP surface
// ABOUTME: Describes request flow and the degraded-success persistence contract

// Package gateway exposes the conversation control API over HTTP and owns
// the server lifecycle.
//
// Request flow: handlers decode JSON, call into the ledger or store, and
// map sentinel errors to HTTP status codes. State-machine violations
// (double takeover, return without supervision, transitions out of
// resolved) map to 409 Conflict; unknown ids map to 404; malformed input
// maps to 400.
//
// Persistence failures are not request failures. When a ledger mutation
// commits in memory but its storage write fails, the handler still responds
// with the committed snapshot and sets persist_warning in the body.
//
// Live viewers attach through /api/metrics/stream and /api/events/stream
// (SSE) or /api/events/ws (WebSocket); those connections are handled by the
// stream package.
package gateway
