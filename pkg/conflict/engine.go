package conflict

import (
	"sort"

	"github.com/macterra/Axio-sub002/pkg/authority"
)

// Verdict is the outcome of the four-step admissibility check for a single
// requested effect.
type Verdict int

const (
	// VerdictAdmit means at least one matching record is permissive.
	VerdictAdmit Verdict = iota
	// VerdictNoAuthority means no active record matches (scope, operation).
	VerdictNoAuthority
	// VerdictValueConflict means the scope is already flagged conflicted.
	VerdictValueConflict
	// VerdictDenied means every matching record is restrictive.
	VerdictDenied
)

// Sweep partitions the active records by resource scope and returns a
// conflict record for every newly contested scope. A scope already flagged
// is skipped entirely: registered conflicts never re-evaluate into smaller
// or larger ones. Groups of size < 2 carry no conflict; a group conflicts
// iff at least one member's commitment is restrictive.
func Sweep(store *authority.Store, registered *Set, epoch uint64) ([]Record, error) {
	var found []Record
	for _, scope := range store.ActiveScopes() {
		if registered.ScopeConflicted(scope) {
			continue
		}
		group := store.ActiveForScope(scope)
		if len(group) < 2 {
			continue
		}
		mixed := false
		for _, rec := range group {
			if rec.Vector.Restrictive() {
				mixed = true
				break
			}
		}
		if !mixed {
			continue
		}
		ids := make([]string, len(group))
		for i, rec := range group {
			ids[i] = rec.ID
		}
		rec, err := NewRecord(scope, ids, KindValue, epoch)
		if err != nil {
			return nil, err
		}
		found = append(found, rec)
	}
	return found, nil
}

// Evaluate runs the admissibility steps for one effect on (scope, operation):
// no matching record refuses before the conflict check, the conflict check
// refuses before commitments are compared, and one permissive match admits.
func Evaluate(store *authority.Store, registered *Set, scope, operation string) Verdict {
	bit, known := authority.OperationBit(operation)
	var matching []authority.Record
	if known {
		matching = store.ActiveWithPermission(scope, bit)
	}
	if len(matching) == 0 {
		return VerdictNoAuthority
	}
	if registered.ScopeConflicted(scope) {
		return VerdictValueConflict
	}
	for _, rec := range matching {
		if !rec.Vector.Restrictive() {
			return VerdictAdmit
		}
	}
	return VerdictDenied
}

// Effect identifies one individually admitted request for the joint pass.
type Effect struct {
	EventIndex int
	Scope      string
	Operation  string
}

// Interference returns the event indices of admitted effects that are
// jointly inadmissible, sorted ascending. Two effects interfere when they
// share a scope and at least one of them is a write; reads never interfere
// with each other. Per-effect admissibility is necessary but not
// sufficient, which is why this pass only sees the admitted set.
func Interference(admitted []Effect) []int {
	byScope := make(map[string][]Effect)
	for _, e := range admitted {
		byScope[e.Scope] = append(byScope[e.Scope], e)
	}

	var refused []int
	for _, group := range byScope {
		if len(group) < 2 {
			continue
		}
		writes := 0
		for _, e := range group {
			if !authority.Reads(e.Operation) {
				writes++
			}
		}
		if writes == 0 {
			continue
		}
		for _, e := range group {
			refused = append(refused, e.EventIndex)
		}
	}
	sort.Ints(refused)
	return refused
}
