// Package conflict groups active capabilities by contested resource scope,
// classifies conflicts, and evaluates per-request admissibility.
package conflict

import (
	"fmt"
	"sort"

	"github.com/macterra/Axio-sub002/pkg/canonical"
)

// Kind classifies how a conflict arose.
type Kind string

const (
	// KindValue marks a commitment mixture on one scope (allow+deny, or
	// multiple denies).
	KindValue Kind = "VALUE"
	// KindStructural marks a governance admission contested by a
	// non-participating record on the same scope.
	KindStructural Kind = "STRUCTURAL"
)

// Record registers one detected conflict. Participants are kept sorted so
// two runs discovering the same conflict in different traversal order
// serialize byte-identically.
type Record struct {
	ID             string   `json:"id"`
	ResourceScope  string   `json:"resource_scope"`
	ParticipantIDs []string `json:"participant_ids"`
	Kind           Kind     `json:"conflict_kind"`
	EpochDetected  uint64   `json:"epoch_detected"`
}

// identity is the hashed subset of a conflict record. Detection epoch is
// bookkeeping, so re-detecting the same conflict later maps to the same id.
type identity struct {
	ResourceScope  string   `json:"resource_scope"`
	ParticipantIDs []string `json:"participant_ids"`
	Kind           Kind     `json:"conflict_kind"`
}

// NewRecord builds a conflict record with sorted participants and a
// content-addressed id.
func NewRecord(scope string, participantIDs []string, kind Kind, epoch uint64) (Record, error) {
	sorted := make([]string, len(participantIDs))
	copy(sorted, participantIDs)
	sort.Strings(sorted)

	id, err := canonical.ContentHash(identity{
		ResourceScope:  scope,
		ParticipantIDs: sorted,
		Kind:           kind,
	})
	if err != nil {
		return Record{}, fmt.Errorf("conflict: record hash: %w", err)
	}
	return Record{
		ID:             id,
		ResourceScope:  scope,
		ParticipantIDs: sorted,
		Kind:           kind,
		EpochDetected:  epoch,
	}, nil
}

// Set is the kernel-owned registry of detected conflicts. Conflicts are only
// ever added; a registered conflict never collapses or disappears within a
// run.
type Set struct {
	records map[string]Record
	scopes  map[string]struct{}
}

// NewSet returns an empty conflict set.
func NewSet() *Set {
	return &Set{
		records: make(map[string]Record),
		scopes:  make(map[string]struct{}),
	}
}

// Add registers a conflict. Re-adding a conflict with the same identity is a
// no-op returning false.
func (s *Set) Add(rec Record) bool {
	if _, exists := s.records[rec.ID]; exists {
		return false
	}
	s.records[rec.ID] = rec
	s.scopes[rec.ResourceScope] = struct{}{}
	return true
}

// ScopeConflicted reports whether any registered conflict names the scope.
func (s *Set) ScopeConflicted(scope string) bool {
	_, ok := s.scopes[scope]
	return ok
}

// Get returns the conflict record for id.
func (s *Set) Get(id string) (Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of registered conflicts.
func (s *Set) Len() int {
	return len(s.records)
}

// SortedIDs returns all conflict ids in ascending order.
func (s *Set) SortedIDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := NewSet()
	for id, rec := range s.records {
		c.records[id] = rec
	}
	for scope := range s.scopes {
		c.scopes[scope] = struct{}{}
	}
	return c
}

// Snapshot returns the registered conflicts keyed by id for state hashing.
func (s *Set) Snapshot() map[string]Record {
	return s.records
}
