package oplog

import (
	"context"
	"errors"

	"wardsync/internal/entity"
	"wardsync/internal/merge"
)

// ErrWriteConflict is returned when a projection write loses the
// optimistic-concurrency race. The caller retries against fresh state.
var ErrWriteConflict = errors.New("oplog: concurrent write conflict")

// ErrUnavailable classifies storage connectivity failures. A batch that
// hits it fails as a whole; merges are idempotent, so devices resubmit
// the batch safely.
var ErrUnavailable = errors.New("oplog: storage unavailable")

// ApplyFunc merges one operation into the current projection. It is
// called with nil when the entity has no record yet. Returning an error
// aborts the write and surfaces the error unchanged.
type ApplyFunc func(current *entity.Record) (entity.Record, merge.Outcome, error)

// Store persists the append-only operation log and the per-entity
// record projections.
type Store interface {
	// Load returns a copy of the current projection, or nil when the
	// entity is unknown.
	Load(ctx context.Context, entityType entity.Type, entityID string) (*entity.Record, error)

	// AppendAndProject atomically appends the operation to the entity's
	// log and replaces the projection with the result of apply: both or
	// neither. A lost race returns ErrWriteConflict. An operation whose
	// ref is already in the log is not appended twice; the projection
	// write still happens.
	AppendAndProject(ctx context.Context, op entity.Operation, apply ApplyFunc) (entity.Record, merge.Outcome, error)

	// Operations returns the entity's append-only history, oldest first.
	Operations(ctx context.Context, entityType entity.Type, entityID string) ([]entity.Operation, error)

	// Ping reports storage reachability for readiness probes.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}

// recordKey builds the map key for an entity.
func recordKey(t entity.Type, id string) string {
	return string(t) + "/" + id
}
