package notify

import (
	"context"

	"wardsync/internal/entity"
)

// Event describes one entity that changed during a sync batch. Topic is
// derived from the entity's routing fields, for example "task/icu/night".
type Event struct {
	EntityType entity.Type        `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	Topic      string             `json:"topic"`
	Record     entity.Record      `json:"record"`
	Operations []entity.Operation `json:"contributing_operations,omitempty"`
}

// Notifier delivers events after a batch commits. Delivery is best
// effort: an error is logged and counted by the caller, never returned
// to the syncing device.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() {}
