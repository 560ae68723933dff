// Package store provides durable storage for the repair audit trail.
//
// # Design
//
// The in-memory audit log is bounded; the store keeps every entry. It uses
// raw SQL with pgx and implements audit.Sink so the engine can forward
// entries without knowing about Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pilot-net/selfheal/pkg/types"
)

// DefaultListLimit caps ListRepairs when no limit is given.
const DefaultListLimit = 100

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// GetPoolStats returns the current connection pool statistics.
func (s *Store) GetPoolStats() types.PoolStats {
	stat := s.pool.Stat()
	return types.PoolStats{
		TotalConnections:    stat.TotalConns(),
		IdleConnections:     stat.IdleConns(),
		AcquiredConnections: stat.AcquiredConns(),
		MaxConnections:      stat.MaxConns(),
	}
}

// =============================================================================
// REPAIR LOG
// =============================================================================

// RecordRepair persists one audit entry. Re-recording the same entry ID is
// a no-op.
func (s *Store) RecordRepair(ctx context.Context, entry types.RepairLogEntry) error {
	steps := entry.StepsCompleted
	if steps == nil {
		steps = []string{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO repair_log (id, title, subject_id, component_id, kind, outcome, steps_completed, error_reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		entry.ID, entry.Title, entry.SubjectID, entry.ComponentID,
		string(entry.Kind), string(entry.Outcome), stepsJSON, entry.ErrorReason,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting repair %s: %w", entry.ID, err)
	}
	return nil
}

// ListRepairs returns the most recent entries, newest first.
func (s *Store) ListRepairs(ctx context.Context, limit int) ([]types.RepairLogEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, title, subject_id, component_id, kind, outcome, steps_completed, error_reason, recorded_at
		FROM repair_log
		ORDER BY recorded_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []types.RepairLogEntry{}
	for rows.Next() {
		var (
			entry     types.RepairLogEntry
			kind      string
			outcome   string
			stepsJSON []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.Title, &entry.SubjectID, &entry.ComponentID,
			&kind, &outcome, &stepsJSON, &entry.ErrorReason, &entry.Timestamp,
		); err != nil {
			return nil, err
		}
		entry.Kind = types.JobKind(kind)
		entry.Outcome = types.Outcome(outcome)
		if err := json.Unmarshal(stepsJSON, &entry.StepsCompleted); err != nil {
			return nil, fmt.Errorf("decoding steps for %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
