// Package it holds the end-to-end harness: a coordinator wired the way
// cmd/wardsync wires it, driven over HTTP by scripted ward devices.
package it

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"

	"wardsync/internal/api"
	"wardsync/internal/clock"
	"wardsync/internal/coordinator"
	"wardsync/internal/notify"
	"wardsync/internal/oplog"
	"wardsync/internal/verify"
)

// Options tune the harness. Zero values take the coordinator defaults.
type Options struct {
	Verifier verify.Verifier
	StaleLag uint64
	MaxBatch int
}

// Harness is a full coordinator stack: HTTP API in front, memory-backed
// operation log behind, hub notifier on the side.
type Harness struct {
	Store  *oplog.MemoryStore
	Hub    *notify.Hub
	server *httptest.Server
}

// NewHarness starts an in-process coordinator listening on a loopback
// HTTP server.
func NewHarness(opts Options) (*Harness, error) {
	store := oplog.NewMemoryStore()
	hub := notify.NewHub()

	cfg := coordinator.Config{
		MaxBatch:  opts.MaxBatch,
		RetrySlot: time.Millisecond,
		RetryMax:  5 * time.Millisecond,
		StaleLag:  opts.StaleLag,
	}
	coord, err := coordinator.New(cfg, store, hub, opts.Verifier)
	if err != nil {
		hub.Close()
		return nil, fmt.Errorf("build coordinator: %w", err)
	}

	h := &Harness{Store: store, Hub: hub}
	h.server = httptest.NewServer(api.NewServer(coord, store, opts.MaxBatch).Router())
	return h, nil
}

// Stop shuts down the HTTP server and closes every event subscription.
func (h *Harness) Stop() {
	h.server.Close()
	h.Hub.Close()
}

// Events subscribes to every change notification the coordinator
// publishes.
func (h *Harness) Events(buffer int) (<-chan notify.Event, func()) {
	return h.Hub.Subscribe(notify.TopicAll, buffer)
}

// NewDevice creates a scripted offline client with its own hybrid-logical
// clock and per-entity vector clocks.
func (h *Harness) NewDevice(id string) *Device {
	return &Device{
		ID:      id,
		harness: h,
		hlc:     clock.NewHLC(),
		clocks:  make(map[string]clock.VectorClock),
		client:  h.server.Client(),
	}
}

// Field and Record mirror the wire shapes the API returns.
type Field struct {
	Value   any    `json:"value"`
	Writer  string `json:"writer_node"`
	WriteTS int64  `json:"write_timestamp"`
}

type Record struct {
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Clock      clock.VectorClock `json:"current_vector_clock"`
	Fields     map[string]Field  `json:"fields"`
	Retired    bool              `json:"retired"`
}

// SyncResponse is the wire shape of a successful POST /v1/sync.
type SyncResponse struct {
	Merged     []Record                `json:"merged_records"`
	Rejected   []coordinator.Rejection `json:"rejected"`
	ResyncHint bool                    `json:"resync_hint"`
}

type wireOp struct {
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Node       string            `json:"originating_node"`
	Clock      clock.VectorClock `json:"vector_clock"`
	ClientTS   int64             `json:"client_timestamp"`
	Mutation   map[string]any    `json:"mutation"`
}

// Device simulates a ward tablet. Edits accumulate locally until Sync
// ships them as one batch; merged responses advance the device's clocks
// so later edits causally follow what it has seen.
type Device struct {
	ID      string
	harness *Harness
	hlc     *clock.HLC
	clocks  map[string]clock.VectorClock
	pending []wireOp
	last    []wireOp
	client  *http.Client
}

// Edit stages a local mutation against one entity.
func (d *Device) Edit(entityType, entityID string, mutation map[string]any) {
	key := entityType + "/" + entityID
	stamp := d.hlc.Next()
	next := d.clocks[key].Increment(d.ID, stamp)
	d.clocks[key] = next
	d.pending = append(d.pending, wireOp{
		EntityType: entityType,
		EntityID:   entityID,
		Node:       d.ID,
		Clock:      next,
		ClientTS:   stamp,
		Mutation:   mutation,
	})
}

// Sync ships the staged batch. The batch is remembered so Resend can
// replay it like a device retrying after a lost acknowledgement.
func (d *Device) Sync(ctx context.Context) (*SyncResponse, error) {
	batch := d.pending
	d.pending = nil
	d.last = batch
	return d.send(ctx, batch)
}

// Resend replays the previously synced batch unchanged.
func (d *Device) Resend(ctx context.Context) (*SyncResponse, error) {
	return d.send(ctx, d.last)
}

func (d *Device) send(ctx context.Context, batch []wireOp) (*SyncResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"device_id":          d.ID,
		"device_known_clock": d.knownClock(),
		"operations":         batch,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.harness.server.URL+"/v1/sync", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sync response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync returned %d: %s", resp.StatusCode, body)
	}

	var out SyncResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	for _, rec := range out.Merged {
		d.observe(rec)
	}
	return &out, nil
}

// Pull fetches the server's current projection of one entity and folds
// its clock into the device's view.
func (d *Device) Pull(ctx context.Context, entityType, entityID string) (*Record, error) {
	url := fmt.Sprintf("%s/v1/entities/%s/%s", d.harness.server.URL, entityType, entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read pull response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull returned %d: %s", resp.StatusCode, body)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	d.observe(rec)
	return &rec, nil
}

func (d *Device) observe(rec Record) {
	key := rec.EntityType + "/" + rec.EntityID
	d.clocks[key] = d.clocks[key].Merge(rec.Clock)
	d.hlc.Observe(rec.Clock.Stamp())
}

// knownClock flattens the device's per-entity clocks into the aggregate
// counters reported with each sync.
func (d *Device) knownClock() map[string]uint64 {
	known := make(map[string]uint64)
	for _, vc := range d.clocks {
		for _, node := range vc.Nodes() {
			if c := vc.Counter(node); c > known[node] {
				known[node] = c
			}
		}
	}
	return known
}
