package kernel

import (
	"sort"

	"github.com/macterra/Axio-sub002/pkg/authority"
	"github.com/macterra/Axio-sub002/pkg/canonical"
	"github.com/macterra/Axio-sub002/pkg/conflict"
	"github.com/macterra/Axio-sub002/pkg/failure"
	"github.com/macterra/Axio-sub002/pkg/succession"
)

// State is the complete kernel state. The kernel owns it exclusively and
// drives it from a single goroutine; ProcessBatch mutates a clone and swaps
// it in only when the whole batch survives, so a fatal abort leaves the
// last committed state byte-identical.
type State struct {
	Epoch       uint64
	Authorities *authority.Store
	Conflicts   *conflict.Set
	Detectors   *failure.Classifier
	Chain       succession.ChainState

	// PendingSuccessor holds the admitted rotation proposal awaiting the
	// next epoch boundary. At most one rotation is pending at a time.
	PendingSuccessor *succession.Proposal

	// ProcessedRotations records proposal hashes admitted since the last
	// boundary so a resubmitted proposal is refused, not double-admitted.
	ProcessedRotations map[string]struct{}
}

// NewState returns the genesis state: epoch 0, no capabilities, the given
// key as active sovereign signer.
func NewState(thresholds failure.Thresholds, sovereignKeyHex string) *State {
	return &State{
		Epoch:              0,
		Authorities:        authority.NewStore(),
		Conflicts:          conflict.NewSet(),
		Detectors:          failure.NewClassifier(thresholds),
		Chain:              succession.NewChainState(sovereignKeyHex),
		ProcessedRotations: make(map[string]struct{}),
	}
}

// Clone returns an independent copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Epoch:              s.Epoch,
		Authorities:        s.Authorities.Clone(),
		Conflicts:          s.Conflicts.Clone(),
		Detectors:          s.Detectors.Clone(),
		Chain:              s.Chain,
		ProcessedRotations: make(map[string]struct{}, len(s.ProcessedRotations)),
	}
	if s.PendingSuccessor != nil {
		p := *s.PendingSuccessor
		c.PendingSuccessor = &p
	}
	for h := range s.ProcessedRotations {
		c.ProcessedRotations[h] = struct{}{}
	}
	return c
}

// stateSnapshot is the hashed view of the state. Every field that two runs
// could legally disagree on is either included here or provably derived
// from included fields.
type stateSnapshot struct {
	CurrentEpoch       uint64                      `json:"current_epoch"`
	Authorities        map[string]authority.Record `json:"authorities"`
	Pending            map[string]authority.Record `json:"pending_authorities"`
	Suspended          []string                    `json:"suspended"`
	Conflicts          map[string]conflict.Record  `json:"conflicts"`
	Deadlock           bool                        `json:"deadlock"`
	DeadlockCause      failure.Cause               `json:"deadlock_cause"`
	Detectors          failure.Snapshot            `json:"detectors"`
	Signer             succession.ChainState       `json:"signer"`
	PendingSuccessor   *succession.Proposal        `json:"pending_successor,omitempty"`
	ProcessedRotations []string                    `json:"processed_rotations"`
}

// Canonical returns the canonical encoding of the state: the exact bytes
// whose SHA-256 digest is the state hash. Snapshots persist these bytes.
func (s *State) Canonical() ([]byte, error) {
	blocked, cause := s.Detectors.Blocked()
	store := s.Authorities.Snapshot()
	snap := stateSnapshot{
		CurrentEpoch:       s.Epoch,
		Authorities:        store.Authorities,
		Pending:            store.Pending,
		Suspended:          store.Suspended,
		Conflicts:          s.Conflicts.Snapshot(),
		Deadlock:           blocked,
		DeadlockCause:      cause,
		Detectors:          s.Detectors.Snapshot(),
		Signer:             s.Chain,
		PendingSuccessor:   s.PendingSuccessor,
		ProcessedRotations: sortedHashes(s.ProcessedRotations),
	}
	return canonical.Encode(snap)
}

// Hash returns the canonical content hash of the state. Two runs that fed
// the kernel equivalent batches produce identical hash sequences regardless
// of arrival order or wall-clock timing.
func (s *State) Hash() (string, error) {
	encoded, err := s.Canonical()
	if err != nil {
		return "", err
	}
	return canonical.HashBytes(encoded), nil
}

// ProtectedStateHash fingerprints the records on the protected key set: the
// ACTIVE, unsuspended grants per protected scope. The livelock detector
// compares consecutive fingerprints to recognize non-progress.
func (s *State) ProtectedStateHash(protected map[string]struct{}) (string, error) {
	view := make(map[string][]authority.Record, len(protected))
	for scope := range protected {
		view[scope] = s.Authorities.ActiveForScope(scope)
	}
	return canonical.ContentHash(view)
}

// admissibilityEntry is one scope's contribution to the admissibility
// fingerprint.
type admissibilityEntry struct {
	Conflicted bool              `json:"conflicted"`
	Grants     []admissibleGrant `json:"grants"`
}

type admissibleGrant struct {
	ID     string           `json:"id"`
	Vector authority.Vector `json:"permission_vector"`
}

// AdmissibilityFingerprint hashes the admissibility surface of the
// protected key set: which grants are active on each protected scope, with
// what vectors, and whether the scope is conflicted. A declared deadlock
// clears only when this fingerprint changes.
func (s *State) AdmissibilityFingerprint(protected map[string]struct{}) (string, error) {
	view := make(map[string]admissibilityEntry, len(protected))
	for scope := range protected {
		recs := s.Authorities.ActiveForScope(scope)
		grants := make([]admissibleGrant, 0, len(recs))
		for _, rec := range recs {
			grants = append(grants, admissibleGrant{ID: rec.ID, Vector: rec.Vector})
		}
		view[scope] = admissibilityEntry{
			Conflicted: s.Conflicts.ScopeConflicted(scope),
			Grants:     grants,
		}
	}
	return canonical.ContentHash(view)
}

func sortedHashes(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
