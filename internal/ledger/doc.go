// Package ledger owns the authoritative in-memory state of every live
// conversation and the control state machine that governs handoff between
// the AI agent and human supervisors.
//
// # Concurrency model
//
// The ledger is the sole shared mutable resource in the process. Every
// mutating operation on a given conversation id runs under that entry's
// exclusive lock, so a takeover and a message append racing on the same
// conversation always linearize to some serial order. Operations on
// different ids proceed fully in parallel; no global lock is held during
// conversation work.
//
// # Event emission
//
// Each successful transition produces exactly one ControlEvent, published
// inside the per-id critical section after the mutation commits. An observer
// therefore never sees an event for state that does not yet exist, and
// same-conversation events always arrive in mutation order. No cross-
// conversation ordering is promised.
//
// # Persistence
//
// Memory is the source of truth; storage is a best-effort mirror. Every
// mutation triggers a SaveConversation on the storage collaborator with a
// detached timeout context. A failed persist is reported to the caller as
// ErrPersist alongside the committed snapshot and never rolls back state.
package ledger
