package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrSnapshotNotFound is returned by Get and Latest when no snapshot
// matches.
var ErrSnapshotNotFound = errors.New("journal: snapshot not found")

// Snapshot is a full canonical state encoding keyed by its hash. State
// holds the exact bytes the hash was computed over, so a restored run
// verifies by re-hashing.
type Snapshot struct {
	StateHash string          `json:"state_hash"`
	Epoch     uint64          `json:"epoch"`
	RunID     string          `json:"run_id"`
	TakenAt   time.Time       `json:"taken_at"`
	State     json.RawMessage `json:"state"`
}

// SnapshotStore persists snapshots by state hash. Put is idempotent:
// snapshots are content-addressed, so writing an existing hash again is a
// no-op.
type SnapshotStore interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, stateHash string) (Snapshot, error)
	Latest(ctx context.Context) (Snapshot, error)
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu     sync.RWMutex
	byHash map[string]Snapshot
	order  []string
}

// NewMemorySnapshotStore returns an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{byHash: make(map[string]Snapshot)}
}

func (s *MemorySnapshotStore) Put(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[snap.StateHash]; ok {
		return nil
	}
	s.byHash[snap.StateHash] = snap
	s.order = append(s.order, snap.StateHash)
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, stateHash string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byHash[stateHash]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *MemorySnapshotStore) Latest(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s.byHash[s.order[len(s.order)-1]], nil
}

// Len reports the number of stored snapshots.
func (s *MemorySnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
