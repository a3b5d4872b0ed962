package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"wardsync/internal/clock"
	"wardsync/internal/entity"
	"wardsync/internal/merge"
	"wardsync/internal/metrics"
	"wardsync/internal/notify"
	"wardsync/internal/oplog"
	"wardsync/internal/verify"
)

// Batch-shape errors. The API layer maps these to 400; everything the
// coordinator wraps in oplog.ErrUnavailable maps to 503.
var (
	ErrMissingDevice = errors.New("coordinator: device id required")
	ErrEmptyBatch    = errors.New("coordinator: batch contains no operations")
	ErrBatchTooLarge = errors.New("coordinator: batch exceeds configured maximum")
)

// ErrRetiredEntity rejects a causally-new operation against a record
// whose terminal condition already holds.
var ErrRetiredEntity = errors.New("coordinator: entity is retired")

// Rejection reason classes. The class prefixes the human-readable
// reason in the response and labels the rejection counter.
const (
	reasonValidation   = "validation_error"
	reasonVerification = "verification_rejected"
	reasonRetired      = "retired_entity"
)

const (
	DefaultMaxBatch   = 500
	DefaultRetryLimit = 5
	DefaultRetrySlot  = 10 * time.Millisecond
	DefaultRetryMax   = 2 * time.Second
	DefaultDedupeSize = 65536
)

// Config bounds one coordinator instance. StaleLag zero disables the
// resync hint.
type Config struct {
	MaxBatch   int
	RetryLimit int
	RetrySlot  time.Duration
	RetryMax   time.Duration
	StaleLag   uint64
	DedupeSize int
}

// Coordinator merges device batches into the operation log.
type Coordinator struct {
	cfg      Config
	store    oplog.Store
	notifier notify.Notifier
	verifier verify.Verifier
	seen     *lru.ARCCache
}

func New(cfg Config, store oplog.Store, notifier notify.Notifier, verifier verify.Verifier) (*Coordinator, error) {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.RetrySlot <= 0 {
		cfg.RetrySlot = DefaultRetrySlot
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = DefaultDedupeSize
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if verifier == nil {
		verifier = verify.AcceptAll()
	}
	seen, err := lru.NewARC(cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("coordinator: dedupe cache: %w", err)
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		verifier: verifier,
		seen:     seen,
	}, nil
}

// Rejection reports one operation that was not merged and why.
type Rejection struct {
	Ref    string `json:"operation_ref"`
	Reason string `json:"reason"`
}

// Result is the outcome of one sync batch. Every submitted operation is
// accounted for: its entity's record appears in Merged or its ref
// appears in Rejected.
type Result struct {
	Merged     []entity.Record `json:"merged_records"`
	Rejected   []Rejection     `json:"rejected"`
	ResyncHint bool            `json:"resync_hint"`
}

// Synchronize merges a device's batch. Entities are processed
// independently, each sub-batch in causal order. Per-operation failures
// land in Result.Rejected and never abort the batch; only storage
// failures after bounded retries return an error, and then no partial
// result is reported.
func (c *Coordinator) Synchronize(ctx context.Context, deviceID string, known clock.VectorClock, batch []entity.Operation) (Result, error) {
	start := time.Now()

	if deviceID == "" {
		return Result{}, ErrMissingDevice
	}
	if len(batch) == 0 {
		return Result{}, ErrEmptyBatch
	}
	if len(batch) > c.cfg.MaxBatch {
		return Result{}, fmt.Errorf("%w: %d operations, limit %d", ErrBatchTooLarge, len(batch), c.cfg.MaxBatch)
	}

	res := Result{
		Merged:   make([]entity.Record, 0, len(batch)),
		Rejected: make([]Rejection, 0),
	}

	keys, groups := groupByEntity(batch)
	for _, key := range keys {
		out, err := c.applyGroup(ctx, sortCausal(groups[key]))
		if err != nil {
			metrics.RecordSync("unavailable", time.Since(start))
			return Result{}, err
		}
		res.Rejected = append(res.Rejected, out.rejected...)
		if out.record == nil {
			continue
		}
		res.Merged = append(res.Merged, *out.record)
		c.publish(ctx, *out.record, out.applied)
		if c.cfg.StaleLag > 0 && clockLag(known, out.record.Clock) >= c.cfg.StaleLag {
			res.ResyncHint = true
		}
	}

	metrics.RecordSync("ok", time.Since(start))
	return res, nil
}

type groupOutcome struct {
	record   *entity.Record
	applied  []entity.Operation
	rejected []Rejection
}

func (c *Coordinator) applyGroup(ctx context.Context, ops []entity.Operation) (groupOutcome, error) {
	var out groupOutcome
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			out.reject(op, reasonValidation, err.Error())
			continue
		}

		if op.EntityType == entity.TypeVerificationRecord {
			if err := c.verifier.Verify(ctx, op.EntityID, op.Mutation); err != nil {
				reason := err.Error()
				var rej *verify.RejectionError
				if errors.As(err, &rej) {
					reason = rej.Reason
				}
				out.reject(op, reasonVerification, reason)
				continue
			}
		}

		hash := xxh3.HashString(op.Ref())
		if _, hit := c.seen.Get(hash); hit {
			rec, err := c.store.Load(ctx, op.EntityType, op.EntityID)
			if err != nil {
				return out, fmt.Errorf("load %s: %w", op.Ref(), err)
			}
			if rec != nil {
				metrics.RecordDedupeHit()
				metrics.RecordOutcome(merge.OutcomeNoOp.String())
				out.record = rec
				continue
			}
			// Cache remembers an op the store no longer projects; let
			// the apply path settle it.
		}

		rec, outcome, err := c.applyWithRetry(ctx, op)
		if err != nil {
			if errors.Is(err, ErrRetiredEntity) {
				out.reject(op, reasonRetired, fmt.Sprintf("%s/%s accepts no further changes", op.EntityType, op.EntityID))
				continue
			}
			return out, err
		}

		c.seen.Add(hash, true)
		metrics.RecordOutcome(outcome.String())
		if outcome == merge.OutcomeConflict {
			zap.S().Infof("resolved concurrent edit on %s", op.Ref())
		}
		out.record = &rec
		if outcome != merge.OutcomeNoOp {
			out.applied = append(out.applied, op)
		}
	}
	return out, nil
}

func (g *groupOutcome) reject(op entity.Operation, class, detail string) {
	g.rejected = append(g.rejected, Rejection{
		Ref:    op.Ref(),
		Reason: class + ": " + detail,
	})
	metrics.RecordRejection(class)
}

// applyWithRetry drives one operation through the store, retrying lost
// optimistic races against fresh state. Retry exhaustion and storage
// failures surface wrapped in oplog.ErrUnavailable so the API can map
// them in one place.
func (c *Coordinator) applyWithRetry(ctx context.Context, op entity.Operation) (entity.Record, merge.Outcome, error) {
	applyFn := func(current *entity.Record) (entity.Record, merge.Outcome, error) {
		if current != nil && current.Retired {
			switch op.Clock.Compare(current.Clock) {
			case clock.Precedes, clock.Equal:
				// The record's history already covers this op.
				return *current, merge.OutcomeNoOp, nil
			}
			return entity.Record{}, 0, ErrRetiredEntity
		}
		next, outcome := merge.Apply(current, op)
		return next, outcome, nil
	}

	for attempt := 0; ; attempt++ {
		rec, outcome, err := c.store.AppendAndProject(ctx, op, applyFn)
		switch {
		case err == nil:
			return rec, outcome, nil
		case errors.Is(err, ErrRetiredEntity):
			return entity.Record{}, 0, err
		case errors.Is(err, oplog.ErrWriteConflict) && attempt < c.cfg.RetryLimit:
			metrics.RecordMergeRetry()
			select {
			case <-time.After(backoffDelay(attempt+1, c.cfg.RetrySlot, c.cfg.RetryMax)):
			case <-ctx.Done():
				return entity.Record{}, 0, fmt.Errorf("apply %s: %v: %w", op.Ref(), ctx.Err(), oplog.ErrUnavailable)
			}
		case errors.Is(err, oplog.ErrWriteConflict):
			return entity.Record{}, 0, fmt.Errorf("apply %s: lost %d optimistic races: %w", op.Ref(), attempt+1, oplog.ErrUnavailable)
		default:
			return entity.Record{}, 0, fmt.Errorf("apply %s: %w", op.Ref(), err)
		}
	}
}

// publish sends one change notification for a committed sub-batch.
// Pure redeliveries contribute nothing and notify nobody.
func (c *Coordinator) publish(ctx context.Context, rec entity.Record, applied []entity.Operation) {
	if len(applied) == 0 {
		return
	}
	schema, ok := entity.SchemaFor(rec.Type)
	if !ok {
		return
	}
	ev := notify.Event{
		EntityType: rec.Type,
		EntityID:   rec.ID,
		Topic:      string(rec.Type) + "/" + schema.TopicKey(rec.Fields),
		Record:     rec,
		Operations: applied,
	}
	err := c.notifier.Publish(ctx, ev)
	if err != nil {
		zap.S().Warnf("change notification for %s on %s failed: %s", ev.EntityID, ev.Topic, err)
	}
	metrics.RecordNotification(err)
}

// clockLag sums how far the device's known clock trails the record
// clock, over the nodes where the record is ahead.
func clockLag(known, current clock.VectorClock) uint64 {
	var lag uint64
	for _, node := range current.Nodes() {
		if cur, dev := current.Counter(node), known.Counter(node); cur > dev {
			lag += cur - dev
		}
	}
	return lag
}
