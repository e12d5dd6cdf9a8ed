// Package store holds the decision journal: an append-only audit log
// of every tick's emitted decisions, for operators to replay "why did
// it scale" after the fact.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetscaler/engine/internal/domain"
)

// DecisionRecorder persists emitted decisions. It is purely
// observational: Evaluate never reads from it, and a recorder failure
// must never block or mutate the tick's returned decisions.
type DecisionRecorder interface {
	RecordTick(ctx context.Context, serviceID string, tickAt time.Time, decisions []domain.AutoscalerDecision) error
	Close() error
}

// NoopRecorder discards every record. It is the default when no
// journal DSN is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordTick(context.Context, string, time.Time, []domain.AutoscalerDecision) error {
	return nil
}

func (NoopRecorder) Close() error { return nil }

// PostgresJournal persists decision records to Postgres via pgx.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal opens a pool against dsn, verifies connectivity,
// and ensures the journal table exists.
func NewPostgresJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	j := &PostgresJournal{pool: pool}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := j.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return j, nil
}

func (j *PostgresJournal) ensureSchema(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS decision_records (
		id UUID PRIMARY KEY,
		service_id TEXT NOT NULL,
		tick_at TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		decision JSONB NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure decision_records schema: %w", err)
	}
	_, err = j.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS decision_records_service_tick_idx
		ON decision_records (service_id, tick_at DESC)`)
	if err != nil {
		return fmt.Errorf("ensure decision_records index: %w", err)
	}
	return nil
}

// RecordTick persists one DecisionRecord row per emitted decision.
func (j *PostgresJournal) RecordTick(ctx context.Context, serviceID string, tickAt time.Time, decisions []domain.AutoscalerDecision) error {
	for _, d := range decisions {
		id := uuid.New()
		raw, err := json.Marshal(domain.DecisionRecord{ID: id, ServiceID: serviceID, TickAt: tickAt, Decision: d})
		if err != nil {
			return fmt.Errorf("marshal decision record: %w", err)
		}
		var payload struct {
			Kind     string          `json:"kind"`
			Decision json.RawMessage `json:"decision"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("unmarshal decision record for storage: %w", err)
		}
		_, err = j.pool.Exec(ctx,
			`INSERT INTO decision_records (id, service_id, tick_at, kind, decision) VALUES ($1, $2, $3, $4, $5)`,
			id, serviceID, tickAt, payload.Kind, payload.Decision,
		)
		if err != nil {
			return fmt.Errorf("insert decision record: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (j *PostgresJournal) Close() error {
	if j.pool != nil {
		j.pool.Close()
	}
	return nil
}
