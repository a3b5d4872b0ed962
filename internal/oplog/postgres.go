package oplog

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"wardsync/internal/clock"
	"wardsync/internal/entity"
	"wardsync/internal/merge"
)

// PostgresStore persists the operation log and record projections in
// PostgreSQL. The log append and the projection write share one
// transaction, and the records table carries a version column that
// guards updates: a writer that read a stale version rolls back with
// ErrWriteConflict instead of losing an update.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an established connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ward_records (
			entity_type    TEXT        NOT NULL,
			entity_id      TEXT        NOT NULL,
			version        BIGINT      NOT NULL,
			vector_clock   JSONB       NOT NULL,
			fields         JSONB       NOT NULL,
			schema_version INT         NOT NULL,
			retired        BOOLEAN     NOT NULL DEFAULT FALSE,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (entity_type, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ward_operations (
			seq          BIGSERIAL   PRIMARY KEY,
			ref          TEXT        NOT NULL UNIQUE,
			entity_type  TEXT        NOT NULL,
			entity_id    TEXT        NOT NULL,
			origin_node  TEXT        NOT NULL,
			vector_clock JSONB       NOT NULL,
			mutation     JSONB       NOT NULL,
			client_ts    BIGINT      NOT NULL,
			received_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ward_operations_entity_idx
			ON ward_operations (entity_type, entity_id, seq)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Load returns the current projection, or nil when the entity is
// unknown.
func (s *PostgresStore) Load(ctx context.Context, entityType entity.Type, entityID string) (*entity.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT vector_clock, fields, schema_version, retired
		   FROM ward_records
		  WHERE entity_type = $1 AND entity_id = $2`,
		string(entityType), entityID)

	var clockJSON, fieldsJSON []byte
	var schemaVersion int
	var retired bool
	if err := row.Scan(&clockJSON, &fieldsJSON, &schemaVersion, &retired); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("load record", err)
	}

	rec, err := buildRecord(entityType, entityID, clockJSON, fieldsJSON, schemaVersion, retired)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendAndProject appends the operation and replaces the projection in
// one transaction.
func (s *PostgresStore) AppendAndProject(ctx context.Context, op entity.Operation, apply ApplyFunc) (entity.Record, merge.Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return entity.Record{}, 0, unavailable("begin transaction", err)
	}

	next, outcome, err := appendAndProjectTx(ctx, tx, op, apply)
	if err != nil {
		if errR := tx.Rollback(ctx); errR != nil && !errors.Is(errR, pgx.ErrTxClosed) {
			zap.S().Errorf("failed to rollback transaction: %s", errR)
		}
		return entity.Record{}, outcome, err
	}

	if err := tx.Commit(ctx); err != nil {
		return entity.Record{}, outcome, unavailable("commit transaction", err)
	}
	return next, outcome, nil
}

func appendAndProjectTx(ctx context.Context, tx pgx.Tx, op entity.Operation, apply ApplyFunc) (entity.Record, merge.Outcome, error) {
	row := tx.QueryRow(ctx,
		`SELECT version, vector_clock, fields, schema_version, retired
		   FROM ward_records
		  WHERE entity_type = $1 AND entity_id = $2`,
		string(op.EntityType), op.EntityID)

	var current *entity.Record
	var version int64
	var clockJSON, fieldsJSON []byte
	var schemaVersion int
	var retired bool
	switch err := row.Scan(&version, &clockJSON, &fieldsJSON, &schemaVersion, &retired); {
	case errors.Is(err, pgx.ErrNoRows):
		// First operation for this entity.
	case err != nil:
		return entity.Record{}, 0, unavailable("read projection", err)
	default:
		rec, err := buildRecord(op.EntityType, op.EntityID, clockJSON, fieldsJSON, schemaVersion, retired)
		if err != nil {
			return entity.Record{}, 0, err
		}
		current = &rec
	}

	next, outcome, err := apply(current)
	if err != nil {
		return entity.Record{}, outcome, err
	}

	opClockJSON, err := json.Marshal(op.Clock)
	if err != nil {
		return entity.Record{}, outcome, fmt.Errorf("encode operation clock: %w", err)
	}
	mutationJSON, err := encodeMutation(op.Mutation)
	if err != nil {
		return entity.Record{}, outcome, err
	}
	recClockJSON, err := json.Marshal(next.Clock)
	if err != nil {
		return entity.Record{}, outcome, fmt.Errorf("encode record clock: %w", err)
	}
	recFieldsJSON, err := encodeFields(next.Fields)
	if err != nil {
		return entity.Record{}, outcome, err
	}

	// Redelivered operations keep a single log row.
	if _, err := tx.Exec(ctx,
		`INSERT INTO ward_operations (ref, entity_type, entity_id, origin_node, vector_clock, mutation, client_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (ref) DO NOTHING`,
		op.Ref(), string(op.EntityType), op.EntityID, op.Node, opClockJSON, mutationJSON, op.ClientTS); err != nil {
		return entity.Record{}, outcome, unavailable("append operation", err)
	}

	if current == nil {
		tag, err := tx.Exec(ctx,
			`INSERT INTO ward_records (entity_type, entity_id, version, vector_clock, fields, schema_version, retired)
			 VALUES ($1, $2, 1, $3, $4, $5, $6)
			 ON CONFLICT (entity_type, entity_id) DO NOTHING`,
			string(next.Type), next.ID, recClockJSON, recFieldsJSON, next.SchemaVersion, next.Retired)
		if err != nil {
			return entity.Record{}, outcome, unavailable("insert projection", err)
		}
		if tag.RowsAffected() == 0 {
			return entity.Record{}, outcome, ErrWriteConflict
		}
	} else {
		tag, err := tx.Exec(ctx,
			`UPDATE ward_records
			    SET version = version + 1, vector_clock = $3, fields = $4, schema_version = $5, retired = $6, updated_at = now()
			  WHERE entity_type = $1 AND entity_id = $2 AND version = $7`,
			string(next.Type), next.ID, recClockJSON, recFieldsJSON, next.SchemaVersion, next.Retired, version)
		if err != nil {
			return entity.Record{}, outcome, unavailable("update projection", err)
		}
		if tag.RowsAffected() == 0 {
			return entity.Record{}, outcome, ErrWriteConflict
		}
	}

	return next, outcome, nil
}

// Operations returns the entity's history, oldest first.
func (s *PostgresStore) Operations(ctx context.Context, entityType entity.Type, entityID string) ([]entity.Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT origin_node, vector_clock, mutation, client_ts
		   FROM ward_operations
		  WHERE entity_type = $1 AND entity_id = $2
		  ORDER BY seq`,
		string(entityType), entityID)
	if err != nil {
		return nil, unavailable("read operations", err)
	}
	defer rows.Close()

	var ops []entity.Operation
	for rows.Next() {
		var node string
		var clockJSON, mutationJSON []byte
		var clientTS int64
		if err := rows.Scan(&node, &clockJSON, &mutationJSON, &clientTS); err != nil {
			return nil, unavailable("scan operation", err)
		}

		var vc clock.VectorClock
		if err := json.Unmarshal(clockJSON, &vc); err != nil {
			return nil, fmt.Errorf("decode operation clock: %w", err)
		}
		mutation, err := decodeMutation(mutationJSON)
		if err != nil {
			return nil, err
		}

		ops = append(ops, entity.Operation{
			EntityType: entityType,
			EntityID:   entityID,
			Node:       node,
			Clock:      vc,
			Mutation:   mutation,
			ClientTS:   clientTS,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read operations", err)
	}
	return ops, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// buildRecord assembles a projection from its stored columns.
func buildRecord(entityType entity.Type, entityID string, clockJSON, fieldsJSON []byte, schemaVersion int, retired bool) (entity.Record, error) {
	var vc clock.VectorClock
	if err := json.Unmarshal(clockJSON, &vc); err != nil {
		return entity.Record{}, fmt.Errorf("decode record clock: %w", err)
	}
	fields, err := decodeFields(fieldsJSON)
	if err != nil {
		return entity.Record{}, err
	}
	return entity.Record{
		Type:          entityType,
		ID:            entityID,
		Clock:         vc,
		Fields:        fields,
		SchemaVersion: schemaVersion,
		Retired:       retired,
	}, nil
}

// unavailable classifies a driver error as storage unavailability while
// keeping the original text.
func unavailable(what string, err error) error {
	return fmt.Errorf("%s: %v: %w", what, err, ErrUnavailable)
}
