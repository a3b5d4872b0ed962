// Package oplog persists the append-only operation history and the
// per-entity record projections derived from it. Appending an operation
// and replacing the projection happen atomically; lost
// optimistic-concurrency races surface as ErrWriteConflict so the
// coordinator can retry against fresh state.
package oplog
