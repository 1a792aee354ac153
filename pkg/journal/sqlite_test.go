package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSnapshotStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := NewSQLiteSnapshotStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Latest(ctx)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	taken := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	require.NoError(t, s.Put(ctx, Snapshot{
		StateHash: "hash-a", Epoch: 3, RunID: "run-1", TakenAt: taken,
		State: json.RawMessage(`{"current_epoch":3}`),
	}))
	require.NoError(t, s.Put(ctx, Snapshot{
		StateHash: "hash-b", Epoch: 5, RunID: "run-1", TakenAt: taken.Add(time.Minute),
		State: json.RawMessage(`{"current_epoch":5}`),
	}))

	got, err := s.Get(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Epoch)
	assert.Equal(t, "run-1", got.RunID)
	assert.True(t, got.TakenAt.Equal(taken))
	assert.JSONEq(t, `{"current_epoch":3}`, string(got.State))

	_, err = s.Get(ctx, "hash-missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash-b", latest.StateHash)
	assert.Equal(t, uint64(5), latest.Epoch)

	// Re-putting an existing hash leaves the stored row untouched.
	require.NoError(t, s.Put(ctx, Snapshot{
		StateHash: "hash-a", Epoch: 99, RunID: "other", TakenAt: taken,
		State: json.RawMessage(`{}`),
	}))
	got, err = s.Get(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Epoch)
	assert.Equal(t, "run-1", got.RunID)
}

func TestSQLiteSnapshotStoreSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/snapshots.db"

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	s, err := NewSQLiteSnapshotStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Snapshot{
		StateHash: "hash-a", Epoch: 7, RunID: "run-1", TakenAt: time.Now().UTC(),
		State: json.RawMessage(`{"current_epoch":7}`),
	}))
	require.NoError(t, db.Close())

	db2, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	s2, err := NewSQLiteSnapshotStore(db2)
	require.NoError(t, err)

	got, err := s2.Get(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Epoch)
}
