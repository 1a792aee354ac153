package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSnapshotStore persists snapshots in a SQLite database. Suitable for
// single-host runs and lite deployments.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore migrates the snapshots table and returns the
// store. The caller owns the db handle.
func NewSQLiteSnapshotStore(db *sql.DB) (*SQLiteSnapshotStore, error) {
	s := &SQLiteSnapshotStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("journal: migrate snapshots: %w", err)
	}
	return s, nil
}

func (s *SQLiteSnapshotStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS snapshots (
        state_hash TEXT PRIMARY KEY,
        epoch INTEGER NOT NULL,
        run_id TEXT NOT NULL,
        taken_at TEXT NOT NULL,
        state TEXT NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSnapshotStore) Put(ctx context.Context, snap Snapshot) error {
	query := `INSERT INTO snapshots (state_hash, epoch, run_id, taken_at, state)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (state_hash) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		snap.StateHash, snap.Epoch, snap.RunID,
		snap.TakenAt.UTC().Format(time.RFC3339Nano), string(snap.State),
	)
	if err != nil {
		return fmt.Errorf("journal: insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) Get(ctx context.Context, stateHash string) (Snapshot, error) {
	query := `
        SELECT epoch, run_id, taken_at, state
        FROM snapshots
        WHERE state_hash = ?
    `
	row := s.db.QueryRowContext(ctx, query, stateHash)

	var (
		epoch   uint64
		runID   string
		takenAt string
		state   string
	)
	if err := row.Scan(&epoch, &runID, &takenAt, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("journal: scan snapshot: %w", err)
	}
	taken, err := parseStoredTime(takenAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("journal: parse taken_at: %w", err)
	}
	return Snapshot{
		StateHash: stateHash,
		Epoch:     epoch,
		RunID:     runID,
		TakenAt:   taken,
		State:     json.RawMessage(state),
	}, nil
}

func (s *SQLiteSnapshotStore) Latest(ctx context.Context) (Snapshot, error) {
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
		takenAt   string
		state     string
	)
	if err := row.Scan(&stateHash, &epoch, &runID, &takenAt, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("journal: scan snapshot: %w", err)
	}
	taken, err := parseStoredTime(takenAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("journal: parse taken_at: %w", err)
	}
	return Snapshot{
		StateHash: stateHash,
		Epoch:     epoch,
		RunID:     runID,
		TakenAt:   taken,
		State:     json.RawMessage(state),
	}, nil
}

func parseStoredTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
