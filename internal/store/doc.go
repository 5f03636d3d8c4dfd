// Package store is the persistence collaborator for overseer-gateway.
//
// The live conversation state lives in the ledger; the store mirrors it
// best-effort and owns the durable records the ledger does not: response
// templates and agent configuration. A persist failure is reported to the
// caller of the triggering operation but never rolls back ledger state.
//
// The SQLite implementation (modernc.org/sqlite, pure Go) creates its schema
// on open and runs in WAL mode. MockStore provides the same contract
// in-memory for tests, including a forced-failure switch.
package store
