// Package governance validates and evaluates capability creation and
// destruction requests under the non-amplification and scope-containment
// rules. The engine never mutates kernel state: every evaluation returns a
// decision the scheduler applies, so a refused action provably touched
// nothing.
package governance

import (
	"sort"

	"github.com/macterra/Axio-sub002/pkg/authority"
	"github.com/macterra/Axio-sub002/pkg/conflict"
)

// Refusal enumerates the ways a governance action can be refused. The
// scheduler maps each to its wire reason code.
type Refusal int

const (
	// RefusalNone means the action is admitted.
	RefusalNone Refusal = iota
	// RefusalAuthorityNotFound means the destroy target id is unknown.
	RefusalAuthorityNotFound
	// RefusalTargetNotActive means the destroy target is not ACTIVE.
	RefusalTargetNotActive
	// RefusalNoAuthority means no cited initiator admits the action.
	RefusalNoAuthority
	// RefusalConflictBlocks means a non-participating record on the scope
	// withholds consent; a structural conflict is registered instead.
	RefusalConflictBlocks
	// RefusalAmplification means the requested vector exceeds the union of
	// the admitting initiators' vectors.
	RefusalAmplification
	// RefusalScopeNotCovered means the scope basis is not an admitting
	// initiator on the requested scope.
	RefusalScopeNotCovered
)

// DestroyRequest names an ACTIVE record to void and the initiators claiming
// the authority to do so.
type DestroyRequest struct {
	TargetID     string
	InitiatorIDs []string
}

// DestroyDecision is the engine's verdict on a destroy request.
type DestroyDecision struct {
	Refusal      Refusal
	TargetID     string
	AdmittingIDs []string
	BlockerIDs   []string
	// Conflict is the structural conflict to register when the refusal is
	// RefusalConflictBlocks.
	Conflict *conflict.Record
}

// EvaluateDestroy checks a destroy request against the active set. The
// admitting subset of the cited initiators must be ACTIVE on the target's
// scope and hold the destroy bit; every other active record on the scope
// must hold the destroy bit too, or the action is structurally contested.
func EvaluateDestroy(store *authority.Store, req DestroyRequest, epoch uint64) (DestroyDecision, error) {
	dec := DestroyDecision{TargetID: req.TargetID}

	target, ok := store.Get(req.TargetID)
	if !ok {
		dec.Refusal = RefusalAuthorityNotFound
		return dec, nil
	}
	if target.Status != authority.StatusActive {
		dec.Refusal = RefusalTargetNotActive
		return dec, nil
	}

	admitting := admittingSubset(store, req.InitiatorIDs, func(rec authority.Record) bool {
		return rec.ResourceScope == target.ResourceScope && rec.Vector.Has(authority.PermDestroy)
	})
	if len(admitting) == 0 {
		dec.Refusal = RefusalNoAuthority
		return dec, nil
	}
	dec.AdmittingIDs = admitting

	admitted := make(map[string]struct{}, len(admitting))
	for _, id := range admitting {
		admitted[id] = struct{}{}
	}
	var blockers []string
	for _, rec := range store.ActiveForScope(target.ResourceScope) {
		if rec.ID == target.ID {
			continue
		}
		if _, ok := admitted[rec.ID]; ok {
			continue
		}
		if !rec.Vector.Has(authority.PermDestroy) {
			blockers = append(blockers, rec.ID)
		}
	}
	if len(blockers) > 0 {
		dec.Refusal = RefusalConflictBlocks
		dec.BlockerIDs = blockers
		group := store.ActiveForScope(target.ResourceScope)
		ids := make([]string, len(group))
		for i, rec := range group {
			ids[i] = rec.ID
		}
		rec, err := conflict.NewRecord(target.ResourceScope, ids, conflict.KindStructural, epoch)
		if err != nil {
			return DestroyDecision{}, err
		}
		dec.Conflict = &rec
		return dec, nil
	}

	return dec, nil
}

// CreateRequest asks for a new capability on NewScope with NewVector,
// justified by the cited initiators and anchored by the scope basis.
type CreateRequest struct {
	NewHolderID  string
	NewScope     string
	NewVector    authority.Vector
	ExpiryEpoch  uint64
	ScopeBasisID string
	InitiatorIDs []string
}

// CreateDecision is the engine's verdict on a create request. When admitted,
// Record is the new PENDING record ready for the store.
type CreateDecision struct {
	Refusal      Refusal
	AdmittingIDs []string
	UnionVector  authority.Vector
	Record       authority.Record
}

// EvaluateCreate checks a create request. The union of the admitting
// initiators' vectors must cover the requested vector: a created capability
// never grants more than its creators jointly hold. The scope basis must be
// one of the admitting initiators and already live on the requested scope.
func EvaluateCreate(store *authority.Store, req CreateRequest, epoch uint64) (CreateDecision, error) {
	dec := CreateDecision{}

	admitting := admittingSubset(store, req.InitiatorIDs, func(rec authority.Record) bool {
		return rec.Vector.Has(authority.PermCreate)
	})
	if len(admitting) == 0 {
		dec.Refusal = RefusalNoAuthority
		return dec, nil
	}
	dec.AdmittingIDs = admitting

	var union authority.Vector
	for _, id := range admitting {
		rec, _ := store.Get(id)
		union = union.Union(rec.Vector)
	}
	dec.UnionVector = union
	if !req.NewVector.SubsetOf(union) {
		dec.Refusal = RefusalAmplification
		return dec, nil
	}

	basisAdmits := false
	for _, id := range admitting {
		if id == req.ScopeBasisID {
			basisAdmits = true
			break
		}
	}
	if !basisAdmits {
		dec.Refusal = RefusalScopeNotCovered
		return dec, nil
	}
	basis, _ := store.Get(req.ScopeBasisID)
	if basis.ResourceScope != req.NewScope {
		dec.Refusal = RefusalScopeNotCovered
		return dec, nil
	}

	rec, err := authority.NewRecord(
		authority.Core{
			HolderID:      req.NewHolderID,
			ResourceScope: req.NewScope,
			Vector:        req.NewVector,
			ExpiryEpoch:   req.ExpiryEpoch,
		},
		epoch+1,
		admitting,
		authority.CreationMeta{
			CreationEpoch: epoch,
			SourceID:      req.ScopeBasisID,
			AdmittingIDs:  admitting,
		},
	)
	if err != nil {
		return CreateDecision{}, err
	}
	dec.Record = rec
	return dec, nil
}

// admittingSubset filters the cited initiators down to ACTIVE, unsuspended
// records satisfying the admission predicate, deduplicated and sorted.
func admittingSubset(store *authority.Store, initiatorIDs []string, admits func(authority.Record) bool) []string {
	seen := make(map[string]struct{}, len(initiatorIDs))
	var out []string
	for _, id := range initiatorIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rec, ok := store.Get(id)
		if !ok || rec.Status != authority.StatusActive || store.IsSuspended(id) {
			continue
		}
		if admits(rec) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
