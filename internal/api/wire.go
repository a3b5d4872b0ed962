package api

import (
	"fmt"

	"github.com/goccy/go-json"

	"wardsync/internal/clock"
	"wardsync/internal/entity"
)

// syncRequest is the wire shape of POST /v1/sync. Field values inside
// mutations are bare JSON scalars typed by the entity schema.
type syncRequest struct {
	DeviceID         string            `json:"device_id"`
	DeviceKnownClock map[string]uint64 `json:"device_known_clock"`
	Operations       []wireOperation   `json:"operations"`
}

type wireOperation struct {
	EntityType string                     `json:"entity_type"`
	EntityID   string                     `json:"entity_id"`
	Node       string                     `json:"originating_node"`
	Clock      json.RawMessage            `json:"vector_clock"`
	ClientTS   int64                      `json:"client_timestamp"`
	Mutation   map[string]json.RawMessage `json:"mutation"`
}

// decode turns a wire operation into a domain operation. A failure
// rejects only this operation; originating_node defaults to the
// submitting device.
func (w wireOperation) decode(deviceID string) (entity.Operation, error) {
	entityType, err := entity.ParseType(w.EntityType)
	if err != nil {
		return entity.Operation{}, err
	}
	schema, _ := entity.SchemaFor(entityType)

	node := w.Node
	if node == "" {
		node = deviceID
	}

	var vc clock.VectorClock
	if len(w.Clock) > 0 {
		if err := vc.UnmarshalJSON(w.Clock); err != nil {
			return entity.Operation{}, fmt.Errorf("vector_clock: %w", err)
		}
	}

	mutation, err := schema.ParseMutation(w.Mutation)
	if err != nil {
		return entity.Operation{}, fmt.Errorf("mutation: %w", err)
	}

	return entity.Operation{
		EntityType: entityType,
		EntityID:   w.EntityID,
		Node:       node,
		Clock:      vc,
		Mutation:   mutation,
		ClientTS:   w.ClientTS,
	}, nil
}

// ref builds a best-effort identity for rejection reports on operations
// that never decoded far enough to compute their real ref.
func (w wireOperation) ref(deviceID string) string {
	node := w.Node
	if node == "" {
		node = deviceID
	}
	return fmt.Sprintf("%s/%s@%s:0", w.EntityType, w.EntityID, node)
}

// knownClock rebuilds the device's reported clock, dropping reserved
// keys a device may have echoed back from a record read.
func (r syncRequest) knownClock() clock.VectorClock {
	counters := make(map[string]uint64, len(r.DeviceKnownClock))
	for node, counter := range r.DeviceKnownClock {
		if len(node) > 0 && node[0] == '_' {
			continue
		}
		counters[node] = counter
	}
	return clock.Make(counters, 0)
}
