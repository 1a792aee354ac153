package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSnapshotStore persists snapshots in PostgreSQL for shared
// deployments where several readers restore from the same trail.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore migrates the snapshots table and returns the
// store. The caller owns the db handle.
func NewPostgresSnapshotStore(db *sql.DB) (*PostgresSnapshotStore, error) {
	s := &PostgresSnapshotStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("journal: migrate snapshots: %w", err)
	}
	return s, nil
}

func (s *PostgresSnapshotStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS snapshots (
        state_hash TEXT PRIMARY KEY,
        epoch BIGINT NOT NULL,
        run_id TEXT NOT NULL,
        taken_at TIMESTAMPTZ NOT NULL,
        state TEXT NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresSnapshotStore) Put(ctx context.Context, snap Snapshot) error {
	query := `INSERT INTO snapshots (state_hash, epoch, run_id, taken_at, state)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (state_hash) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		snap.StateHash, snap.Epoch, snap.RunID, snap.TakenAt.UTC(), string(snap.State),
	)
	if err != nil {
		return fmt.Errorf("journal: insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Get(ctx context.Context, stateHash string) (Snapshot, error) {
	query := `
        SELECT epoch, run_id, taken_at, state
        FROM snapshots
        WHERE state_hash = $1
    `
	row := s.db.QueryRowContext(ctx, query, stateHash)

	var (
		epoch   uint64
		runID   string
		takenAt time.Time
		state   string
	)
	if err := row.Scan(&epoch, &runID, &takenAt, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("journal: scan snapshot: %w", err)
	}
	return Snapshot{
		StateHash: stateHash,
		Epoch:     epoch,
		RunID:     runID,
		TakenAt:   takenAt.UTC(),
		State:     json.RawMessage(state),
	}, nil
}

func (s *PostgresSnapshotStore) Latest(ctx context.Context) (Snapshot, error) {
	query := `
        SELECT state_hash, epoch, run_id, taken_at, state
        FROM snapshots
        ORDER BY epoch DESC, taken_at DESC
        LIMIT 1
    `
	row := s.db.QueryRowContext(ctx, query)

	var (
		stateHash string
		epoch     uint64
		runID     string
		takenAt   time.Time
		state     string
	)
	if err := row.Scan(&stateHash, &epoch, &runID, &takenAt, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("journal: scan snapshot: %w", err)
	}
	return Snapshot{
		StateHash: stateHash,
		Epoch:     epoch,
		RunID:     runID,
		TakenAt:   takenAt.UTC(),
		State:     json.RawMessage(state),
	}, nil
}
