package oplog

import (
	"context"
	"sync"

	"wardsync/internal/entity"
	"wardsync/internal/merge"
)

// versionedRecord pairs a projection with its optimistic-concurrency
// version.
type versionedRecord struct {
	rec     entity.Record
	version uint64
}

// MemoryStore is an in-memory Store for tests and single-process
// deployments. It is thread-safe; reads hand out deep copies to avoid
// external modification.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]versionedRecord
	logs    map[string][]entity.Operation
	seen    map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]versionedRecord),
		logs:    make(map[string][]entity.Operation),
		seen:    make(map[string]struct{}),
	}
}

// Load returns a copy of the current projection, or nil when the entity
// is unknown.
func (s *MemoryStore) Load(_ context.Context, entityType entity.Type, entityID string) (*entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vr, ok := s.records[recordKey(entityType, entityID)]
	if !ok {
		return nil, nil
	}
	rec := vr.rec.Copy()
	return &rec, nil
}

// AppendAndProject runs the merge closure against a snapshot taken
// outside the lock and commits the result only if no other writer got
// there first; otherwise it returns ErrWriteConflict.
func (s *MemoryStore) AppendAndProject(_ context.Context, op entity.Operation, apply ApplyFunc) (entity.Record, merge.Outcome, error) {
	key := recordKey(op.EntityType, op.EntityID)

	s.mu.RLock()
	var current *entity.Record
	var version uint64
	if vr, ok := s.records[key]; ok {
		rec := vr.rec.Copy()
		current = &rec
		version = vr.version
	}
	s.mu.RUnlock()

	next, outcome, err := apply(current)
	if err != nil {
		return entity.Record{}, outcome, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if vr, ok := s.records[key]; ok {
		if vr.version != version {
			return entity.Record{}, outcome, ErrWriteConflict
		}
	} else if version != 0 {
		return entity.Record{}, outcome, ErrWriteConflict
	}

	if _, dup := s.seen[op.Ref()]; !dup {
		s.logs[key] = append(s.logs[key], op.Copy())
		s.seen[op.Ref()] = struct{}{}
	}
	s.records[key] = versionedRecord{rec: next.Copy(), version: version + 1}

	return next, outcome, nil
}

// Operations returns a copy of the entity's history, oldest first.
func (s *MemoryStore) Operations(_ context.Context, entityType entity.Type, entityID string) ([]entity.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[recordKey(entityType, entityID)]
	ops := make([]entity.Operation, len(log))
	for i, op := range log {
		ops[i] = op.Copy()
	}
	return ops, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
