package kernel

import (
	"errors"
	"fmt"
	"sort"

	"github.com/macterra/Axio-sub002/pkg/authority"
	"github.com/macterra/Axio-sub002/pkg/conflict"
	"github.com/macterra/Axio-sub002/pkg/failure"
	"github.com/macterra/Axio-sub002/pkg/governance"
	"github.com/macterra/Axio-sub002/pkg/succession"
)

// batchRun is the working set of one ProcessBatch call. Every mutation lands
// on the cloned state and meter; the kernel commits them only when run
// returns nil, so a fatal abort discards the clone whole.
type batchRun struct {
	kernel *Kernel
	events []Event

	state     *State
	meter     *Meter
	submitted int
	executed  int

	outputs  []Output
	hash     string
	advanced bool
}

// run executes the fixed phase order: epoch advancement, then injections,
// renewals, destructions, creations, ordinary actions and rotation
// proposals. Within each phase, events process in canonical identity order,
// so two equivalent batches serialize identically whatever their arrival
// permutation.
func (r *batchRun) run() error {
	if err := r.scanReservedBits(); err != nil {
		return err
	}
	var err error
	r.hash, err = r.state.Hash()
	if err != nil {
		return internalFatal(err)
	}

	phases := partition(r.events)
	for _, idx := range phases.invalid {
		r.refuse(idx, RefusalSchemaInvalid, "", map[string]any{"detail": phases.invalidReason[idx]})
	}
	if err := r.advanceEpochs(phases.advances); err != nil {
		return err
	}
	if err := r.injections(phases.injections); err != nil {
		return err
	}
	if err := r.renewals(phases.renewals); err != nil {
		return err
	}
	if err := r.destructions(phases.destroys); err != nil {
		return err
	}
	if err := r.creations(phases.creates); err != nil {
		return err
	}
	if err := r.actions(phases.actions); err != nil {
		return err
	}
	return r.successions(phases.proposals)
}

// scanReservedBits rejects the whole batch before any phase runs: a vector
// with bits beyond the defined width is an integrity violation, not a
// refusable request.
func (r *batchRun) scanReservedBits() error {
	for i, ev := range r.events {
		var v authority.Vector
		switch {
		case ev.Type == EventInjection && ev.Injection != nil:
			v = ev.Injection.Core.Vector
		case ev.Type == EventRenewal && ev.Renewal != nil:
			v = ev.Renewal.NewRecord.Core.Vector
		case ev.Type == EventGovernance && ev.Governance != nil && ev.Governance.Kind == GovernanceCreate:
			v = ev.Governance.NewVector
		default:
			continue
		}
		if v.ReservedBitsSet() {
			return &FatalError{
				Code:       FatalReservedBitSet,
				EventIndex: i,
				Detail:     fmt.Sprintf("permission vector %#x uses bits beyond width %d", uint32(v), authority.VectorWidth),
			}
		}
	}
	return nil
}

type phaseIndex struct {
	invalid       []int
	invalidReason map[int]string
	advances      []int
	injections    []int
	renewals      []int
	destroys      []int
	creates       []int
	actions       []int
	proposals     []int
}

func partition(events []Event) phaseIndex {
	p := phaseIndex{invalidReason: make(map[int]string)}
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			p.invalid = append(p.invalid, i)
			p.invalidReason[i] = err.Error()
			continue
		}
		switch ev.Type {
		case EventEpochAdvance:
			p.advances = append(p.advances, i)
		case EventInjection:
			p.injections = append(p.injections, i)
		case EventRenewal:
			p.renewals = append(p.renewals, i)
		case EventGovernance:
			if ev.Governance.Kind == GovernanceDestroy {
				p.destroys = append(p.destroys, i)
			} else {
				p.creates = append(p.creates, i)
			}
		case EventAction:
			p.actions = append(p.actions, i)
		case EventSuccession:
			p.proposals = append(p.proposals, i)
		}
	}
	return p
}

// emit appends a log entry carrying the current state hash.
func (r *batchRun) emit(typ OutputType, index int, details map[string]any) {
	r.outputs = append(r.outputs, Output{Type: typ, EventIndex: index, StateHash: r.hash, Details: details})
}

// mutated refreshes the state hash after a mutation. Every output emitted
// afterwards carries the new hash, which is what chains the log.
func (r *batchRun) mutated() error {
	h, err := r.state.Hash()
	if err != nil {
		return internalFatal(err)
	}
	r.hash = h
	return nil
}

func (r *batchRun) refuse(index int, code RefusalCode, callerReason string, extra map[string]any) {
	r.outputs = append(r.outputs, refused(index, r.hash, code, callerReason, extra))
}

func internalFatal(err error) *FatalError {
	return &FatalError{Code: FatalInternal, EventIndex: -1, Detail: err.Error()}
}

// advanceEpochs processes advance events in arrival order. The first one
// moves the epoch; any further advance in the same batch is refused. The
// duplicate check deliberately precedes the regression check, so a second
// advance naming a stale epoch is a refusal, not a crash.
func (r *batchRun) advanceEpochs(indices []int) error {
	for _, idx := range indices {
		ev := r.events[idx].EpochAdvance
		if r.advanced {
			r.refuse(idx, RefusalDuplicateEpochAdvance, "", map[string]any{
				"current_epoch":   r.state.Epoch,
				"requested_epoch": ev.NewEpoch,
			})
			continue
		}
		if ev.NewEpoch <= r.state.Epoch {
			return &FatalError{
				Code:       FatalTemporalRegression,
				EventIndex: idx,
				Detail:     fmt.Sprintf("epoch %d does not advance beyond %d", ev.NewEpoch, r.state.Epoch),
			}
		}
		if err := r.advance(idx, ev); err != nil {
			return err
		}
		r.advanced = true
	}
	return nil
}

// advance closes the current epoch and opens ev.NewEpoch. Order matters:
// the boundary is verified against the closing state hash before anything
// moves, the detectors observe the closing epoch's aggregates, and only
// then does the epoch bump, followed by eager expiry, pending activation
// and the conflict sweep in the new epoch.
func (r *batchRun) advance(idx int, ev *EpochAdvanceEvent) error {
	closingHash := r.hash

	var rotated *succession.Proposal
	if r.state.PendingSuccessor != nil {
		proposal := *r.state.PendingSuccessor
		var att succession.Attestation
		if ev.Attestation != nil {
			att = *ev.Attestation
		}
		next, err := succession.VerifyBoundary(r.state.Chain, proposal, att, r.state.Epoch, ev.NewEpoch, closingHash)
		if err != nil {
			var fault *succession.BoundaryFault
			if errors.As(err, &fault) {
				return &FatalError{Code: FatalBoundaryFault, EventIndex: idx, Detail: fault.Detail, Fault: fault}
			}
			return internalFatal(err)
		}
		r.state.Chain = next
		rotated = &proposal
	}

	if err := r.observeClosingEpoch(idx); err != nil {
		return err
	}

	r.state.Epoch = ev.NewEpoch
	r.state.PendingSuccessor = nil
	r.state.ProcessedRotations = make(map[string]struct{})
	r.meter.Reset()
	r.submitted = 0
	r.executed = 0
	if err := r.mutated(); err != nil {
		return err
	}
	r.emit(OutputEpochAdvanced, idx, map[string]any{"new_epoch": ev.NewEpoch})
	if rotated != nil {
		r.emit(OutputSuccessionCompleted, idx, map[string]any{
			"active_key":   r.state.Chain.ActiveKey,
			"chain_length": r.state.Chain.ChainLength,
			"tip_hash":     r.state.Chain.TipHash,
		})
	}

	expired := r.state.Authorities.Expire(ev.NewEpoch)
	if len(expired) > 0 {
		if err := r.mutated(); err != nil {
			return err
		}
		for _, rec := range expired {
			r.emit(OutputAuthorityExpired, idx, map[string]any{
				"authority_id":   rec.ID,
				"resource_scope": rec.ResourceScope,
			})
		}
	}

	activated := r.state.Authorities.ActivatePending(ev.NewEpoch)
	if len(activated) > 0 {
		if err := r.mutated(); err != nil {
			return err
		}
		for _, rec := range activated {
			r.emit(OutputAuthorityActivated, idx, map[string]any{
				"authority_id":   rec.ID,
				"resource_scope": rec.ResourceScope,
			})
		}
	}

	// Suspension runs after activation so a grant activating at this same
	// boundary still ends up suspended when its holder is the outgoing key.
	if rotated != nil {
		if err := r.applyRotation(idx, rotated); err != nil {
			return err
		}
	}

	return r.sweepConflicts(idx)
}

// observeClosingEpoch folds the closing epoch's aggregates into the failure
// detectors and reports their transitions.
func (r *batchRun) observeClosingEpoch(idx int) error {
	obs, err := r.observation()
	if err != nil {
		return err
	}
	cls := r.state.Detectors.Observe(obs)
	if err := r.mutated(); err != nil {
		return err
	}
	snap := r.state.Detectors.Snapshot()
	if cls.DeadlockCleared {
		r.emit(OutputDeadlockCleared, idx, map[string]any{"epoch": r.state.Epoch})
	}
	if cls.DeadlockDeclared {
		r.emit(OutputDeadlockDeclared, idx, map[string]any{
			"epoch":                     r.state.Epoch,
			"admissibility_fingerprint": snap.DeclaredFingerprint,
		})
	}
	if cls.DeadlockPersisted {
		r.emit(OutputDeadlockPersisted, idx, map[string]any{
			"epoch":          r.state.Epoch,
			"persist_epochs": snap.DeadlockPersistEpoch,
		})
	}
	if cls.LivelockLatched {
		r.emit(OutputLivelockLatched, idx, map[string]any{"epoch": r.state.Epoch})
	}
	if cls.CollapseLatched {
		r.emit(OutputCollapseLatched, idx, map[string]any{
			"epoch": r.state.Epoch,
			"cause": string(snap.CollapseCause),
		})
	}
	return nil
}

func (r *batchRun) observation() (failure.Observation, error) {
	stateHash, err := r.state.ProtectedStateHash(r.kernel.protected)
	if err != nil {
		return failure.Observation{}, internalFatal(err)
	}
	fp, err := r.state.AdmissibilityFingerprint(r.kernel.protected)
	if err != nil {
		return failure.Observation{}, internalFatal(err)
	}
	return failure.Observation{
		Submitted:                r.submitted,
		Executed:                 r.executed,
		ProtectedStateHash:       stateHash,
		AdmissibilityFingerprint: fp,
		ActiveParticipants:       len(r.state.Authorities.ActiveHolders()),
	}, nil
}

// applyRotation suspends the outgoing sovereign identity's grants and
// restores any grants previously suspended for the incoming identity.
// Sovereign-bound grants use the key fingerprint as holder id, so the
// mapping needs no extra index.
func (r *batchRun) applyRotation(idx int, proposal *succession.Proposal) error {
	outgoingID, err := succession.KeyIDFromHex(proposal.PriorKey)
	if err != nil {
		return internalFatal(err)
	}
	incomingID, err := succession.KeyIDFromHex(proposal.SuccessorKey)
	if err != nil {
		return internalFatal(err)
	}

	suspend := r.state.Authorities.ActiveHeldBy(outgoingID)
	reactivate := r.state.Authorities.SuspendedHeldBy(incomingID)
	for _, id := range suspend {
		r.state.Authorities.Suspend(id)
	}
	for _, id := range reactivate {
		r.state.Authorities.Reactivate(id)
	}
	if len(suspend)+len(reactivate) > 0 {
		if err := r.mutated(); err != nil {
			return err
		}
	}
	for _, id := range suspend {
		r.emit(OutputAuthoritySuspended, idx, map[string]any{"authority_id": id, "holder_id": outgoingID})
	}
	for _, id := range reactivate {
		r.emit(OutputAuthorityReactivated, idx, map[string]any{"authority_id": id, "holder_id": incomingID})
	}
	return nil
}

// sweepConflicts registers newly contested scopes after activation changes
// scope membership.
func (r *batchRun) sweepConflicts(idx int) error {
	found, err := conflict.Sweep(r.state.Authorities, r.state.Conflicts, r.state.Epoch)
	if err != nil {
		return internalFatal(err)
	}
	var fresh []conflict.Record
	for _, rec := range found {
		if r.state.Conflicts.Add(rec) {
			fresh = append(fresh, rec)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := r.mutated(); err != nil {
		return err
	}
	for _, rec := range fresh {
		r.emit(OutputConflictDetected, idx, conflictDetails(rec))
	}
	return nil
}

func conflictDetails(rec conflict.Record) map[string]any {
	return map[string]any{
		"conflict_id":     rec.ID,
		"resource_scope":  rec.ResourceScope,
		"participant_ids": rec.ParticipantIDs,
		"conflict_kind":   string(rec.Kind),
	}
}

// injections processes INJECTION events ordered by (source id, core hash,
// arrival index).
func (r *batchRun) injections(indices []int) error {
	type item struct {
		idx    int
		ev     *InjectionEvent
		coreID string
		err    error
	}
	items := make([]item, 0, len(indices))
	for _, idx := range indices {
		ev := r.events[idx].Injection
		id, err := ev.Core.ID()
		items = append(items, item{idx: idx, ev: ev, coreID: id, err: err})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ev.SourceID != items[j].ev.SourceID {
			return items[i].ev.SourceID < items[j].ev.SourceID
		}
		if items[i].coreID != items[j].coreID {
			return items[i].coreID < items[j].coreID
		}
		return items[i].idx < items[j].idx
	})

	for _, it := range items {
		if !r.meter.Charge(r.kernel.costs.Injection) {
			r.refuse(it.idx, RefusalBoundExhausted, "", map[string]any{"remaining": r.meter.Remaining()})
			continue
		}
		if it.err != nil {
			r.refuse(it.idx, RefusalSchemaInvalid, "", map[string]any{"detail": it.err.Error()})
			continue
		}
		if it.ev.InjectionEpoch != r.state.Epoch {
			r.refuse(it.idx, RefusalEpochMismatch, "", map[string]any{
				"declared_epoch": it.ev.InjectionEpoch,
				"current_epoch":  r.state.Epoch,
			})
			continue
		}
		if it.ev.ID != "" && it.ev.ID != it.coreID {
			r.refuse(it.idx, RefusalHashMismatch, "", map[string]any{
				"supplied_id":   it.ev.ID,
				"recomputed_id": it.coreID,
			})
			continue
		}
		rec, err := authority.NewRecord(it.ev.Core, r.state.Epoch+1, nil, authority.CreationMeta{
			CreationEpoch: r.state.Epoch,
			SourceID:      it.ev.SourceID,
		})
		if err != nil {
			r.refuse(it.idx, RefusalSchemaInvalid, "", map[string]any{"detail": err.Error()})
			continue
		}
		id, duplicate, err := r.state.Authorities.Inject(rec)
		if err != nil {
			return &FatalError{
				Code:       FatalAuthorityIDReuse,
				EventIndex: it.idx,
				Detail:     fmt.Sprintf("id %s names a terminal record", rec.ID),
			}
		}
		if !duplicate {
			if err := r.mutated(); err != nil {
				return err
			}
		}
		r.emit(OutputAuthorityInjected, it.idx, map[string]any{
			"authority_id": id,
			"is_duplicate": duplicate,
			"source_id":    it.ev.SourceID,
		})
	}
	return nil
}

type orderedEvent struct {
	idx      int
	identity string
}

// sortByIdentity orders events by canonical identity, arrival index as tie
// break.
func sortByIdentity(events []Event, indices []int) ([]orderedEvent, error) {
	out := make([]orderedEvent, 0, len(indices))
	for _, idx := range indices {
		id, err := events[idx].Identity()
		if err != nil {
			return nil, err
		}
		out = append(out, orderedEvent{idx: idx, identity: id})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].identity != out[j].identity {
			return out[i].identity < out[j].identity
		}
		return out[i].idx < out[j].idx
	})
	return out, nil
}

// renewals processes RENEWAL events in canonical identity order. A renewal
// chains a successor record to an ACTIVE prior with the same holder and
// scope, starting exactly at the next epoch.
func (r *batchRun) renewals(indices []int) error {
	items, err := sortByIdentity(r.events, indices)
	if err != nil {
		return internalFatal(err)
	}
	for _, it := range items {
		idx := it.idx
		ev := r.events[idx].Renewal
		if !r.meter.Charge(r.kernel.costs.Renewal) {
			r.refuse(idx, RefusalBoundExhausted, "", map[string]any{"remaining": r.meter.Remaining()})
			continue
		}
		prior, ok := r.state.Authorities.Get(ev.PriorID)
		if !ok {
			r.refuse(idx, RefusalAuthorityNotFound, "", map[string]any{"prior_id": ev.PriorID})
			continue
		}
		if prior.Status != authority.StatusActive {
			r.refuse(idx, RefusalTargetNotActive, "", map[string]any{
				"prior_id": ev.PriorID,
				"status":   string(prior.Status),
			})
			continue
		}
		spec := ev.NewRecord
		if spec.Core.HolderID != prior.HolderID || spec.Core.ResourceScope != prior.ResourceScope {
			r.refuse(idx, RefusalLineageInvalid, "", map[string]any{"prior_id": ev.PriorID})
			continue
		}
		if spec.StartEpoch != r.state.Epoch+1 {
			r.refuse(idx, RefusalEpochMismatch, "", map[string]any{
				"declared_start": spec.StartEpoch,
				"required_start": r.state.Epoch + 1,
			})
			continue
		}
		coreID, err := spec.Core.ID()
		if err != nil {
			r.refuse(idx, RefusalSchemaInvalid, "", map[string]any{"detail": err.Error()})
			continue
		}
		if spec.ID != "" && spec.ID != coreID {
			r.refuse(idx, RefusalHashMismatch, "", map[string]any{
				"supplied_id":   spec.ID,
				"recomputed_id": coreID,
			})
			continue
		}
		rec, err := authority.NewRecord(spec.Core, spec.StartEpoch, []string{prior.ID}, authority.CreationMeta{
			CreationEpoch: r.state.Epoch,
			SourceID:      prior.ID,
		})
		if err != nil {
			r.refuse(idx, RefusalSchemaInvalid, "", map[string]any{"detail": err.Error()})
			continue
		}
		id, duplicate, err := r.state.Authorities.Inject(rec)
		if err != nil {
			return &FatalError{
				Code:       FatalAuthorityIDReuse,
				EventIndex: idx,
				Detail:     fmt.Sprintf("id %s names a terminal record", rec.ID),
			}
		}
		if !duplicate {
			if err := r.mutated(); err != nil {
				return err
			}
		}
		r.emit(OutputAuthorityRenewed, idx, map[string]any{
			"authority_id": id,
			"prior_id":     prior.ID,
			"is_duplicate": duplicate,
		})
	}
	return nil
}

// destructions processes governance DESTROY actions in canonical identity
// order. A structurally contested destroy registers a conflict and refuses;
// the target stays ACTIVE.
func (r *batchRun) destructions(indices []int) error {
	items, err := sortByIdentity(r.events, indices)
	if err != nil {
		return internalFatal(err)
	}
	for _, it := range items {
		idx := it.idx
		ev := r.events[idx].Governance
		if !r.meter.Charge(r.kernel.costs.Destruction) {
			r.refuse(idx, RefusalBoundExhausted, ev.Reason, map[string]any{"remaining": r.meter.Remaining()})
			continue
		}
		dec, err := governance.EvaluateDestroy(r.state.Authorities, governance.DestroyRequest{
			TargetID:     ev.TargetID,
			InitiatorIDs: ev.InitiatorIDs,
		}, r.state.Epoch)
		if err != nil {
			return internalFatal(err)
		}
		switch dec.Refusal {
		case governance.RefusalNone:
			rec, err := r.state.Authorities.Void(dec.TargetID)
			if err != nil {
				return internalFatal(err)
			}
			if err := r.mutated(); err != nil {
				return err
			}
			details := map[string]any{
				"authority_id":  rec.ID,
				"admitting_ids": dec.AdmittingIDs,
			}
			if ev.Reason != "" {
				details["caller_reason"] = ev.Reason
			}
			r.emit(OutputAuthorityDestroyed, idx, details)
			if err := r.reassess(idx); err != nil {
				return err
			}
		case governance.RefusalConflictBlocks:
			if dec.Conflict != nil && r.state.Conflicts.Add(*dec.Conflict) {
				if err := r.mutated(); err != nil {
					return err
				}
				r.emit(OutputConflictDetected, idx, conflictDetails(*dec.Conflict))
			}
			r.refuse(idx, RefusalConflictBlocks, ev.Reason, map[string]any{
				"target_id":   dec.TargetID,
				"blocker_ids": dec.BlockerIDs,
			})
			if err := r.reassess(idx); err != nil {
				return err
			}
		default:
			r.refuse(idx, governanceRefusalCode(dec.Refusal), ev.Reason, map[string]any{"target_id": ev.TargetID})
		}
	}
	return nil
}

// creations processes governance CREATE actions in canonical identity order.
func (r *batchRun) creations(indices []int) error {
	items, err := sortByIdentity(r.events, indices)
	if err != nil {
		return internalFatal(err)
	}
	for _, it := range items {
		idx := it.idx
		ev := r.events[idx].Governance
		if !r.meter.Charge(r.kernel.costs.Creation) {
			r.refuse(idx, RefusalBoundExhausted, ev.Reason, map[string]any{"remaining": r.meter.Remaining()})
			continue
		}
		dec, err := governance.EvaluateCreate(r.state.Authorities, governance.CreateRequest{
			NewHolderID:  ev.NewHolderID,
			NewScope:     ev.NewScope,
			NewVector:    ev.NewVector,
			ExpiryEpoch:  ev.ExpiryEpoch,
			ScopeBasisID: ev.ScopeBasisID,
			InitiatorIDs: ev.InitiatorIDs,
		}, r.state.Epoch)
		if err != nil {
			return internalFatal(err)
		}
		if dec.Refusal != governance.RefusalNone {
			extra := map[string]any{
				"new_scope":        ev.NewScope,
				"requested_vector": ev.NewVector.String(),
			}
			if dec.Refusal == governance.RefusalAmplification {
				extra["admitted_union"] = dec.UnionVector.String()
			}
			r.refuse(idx, governanceRefusalCode(dec.Refusal), ev.Reason, extra)
			continue
		}
		id, duplicate, err := r.state.Authorities.Inject(dec.Record)
		if err != nil {
			return &FatalError{
				Code:       FatalAuthorityIDReuse,
				EventIndex: idx,
				Detail:     fmt.Sprintf("id %s names a terminal record", dec.Record.ID),
			}
		}
		if !duplicate {
			if err := r.mutated(); err != nil {
				return err
			}
		}
		r.emit(OutputAuthorityCreated, idx, map[string]any{
			"authority_id":  id,
			"admitting_ids": dec.AdmittingIDs,
			"is_duplicate":  duplicate,
		})
		if err := r.reassess(idx); err != nil {
			return err
		}
	}
	return nil
}

// reassess lets a declared deadlock clear as soon as governance changes the
// admissibility surface, instead of waiting for the next boundary.
func (r *batchRun) reassess(idx int) error {
	fp, err := r.state.AdmissibilityFingerprint(r.kernel.protected)
	if err != nil {
		return internalFatal(err)
	}
	if !r.state.Detectors.Reassess(fp) {
		return nil
	}
	if err := r.mutated(); err != nil {
		return err
	}
	r.emit(OutputDeadlockCleared, idx, map[string]any{"epoch": r.state.Epoch})
	return nil
}

// actions runs the per-request admissibility pass over ACTION_REQUEST
// events in canonical identity order, then the joint interference pass over
// the admitted set, and emits one output per request. Individually admitted
// effects that cannot serialize on a shared scope are all refused together.
func (r *batchRun) actions(indices []int) error {
	items, err := sortByIdentity(r.events, indices)
	if err != nil {
		return internalFatal(err)
	}

	type outcome struct {
		idx   int
		ev    *ActionEvent
		code  RefusalCode
		extra map[string]any
	}
	outcomes := make([]outcome, 0, len(items))
	var admitted []conflict.Effect

	blocked, cause := r.state.Detectors.Blocked()

	for _, it := range items {
		idx := it.idx
		ev := r.events[idx].Action
		o := outcome{idx: idx, ev: ev}
		if r.kernel.isProtected(ev.ResourceScope) {
			r.submitted++
		}
		switch {
		case !r.meter.Charge(r.kernel.costs.Action):
			o.code = RefusalBoundExhausted
			o.extra = map[string]any{"remaining": r.meter.Remaining()}
		case blocked && r.kernel.isProtected(ev.ResourceScope):
			// Frozen scopes refuse without evaluation.
			o.code = RefusalDeadlockState
			o.extra = map[string]any{"cause": string(cause)}
		default:
			switch conflict.Evaluate(r.state.Authorities, r.state.Conflicts, ev.ResourceScope, ev.Operation) {
			case conflict.VerdictAdmit:
				admitted = append(admitted, conflict.Effect{EventIndex: idx, Scope: ev.ResourceScope, Operation: ev.Operation})
			case conflict.VerdictNoAuthority:
				o.code = RefusalNoAuthority
			case conflict.VerdictValueConflict:
				o.code = RefusalValueConflict
			case conflict.VerdictDenied:
				o.code = RefusalDeniedByAuthority
			}
		}
		outcomes = append(outcomes, o)
	}

	jointlyRefused := make(map[int]struct{})
	for _, idx := range conflict.Interference(admitted) {
		jointlyRefused[idx] = struct{}{}
	}

	for _, o := range outcomes {
		if o.code != "" {
			r.refuse(o.idx, o.code, o.ev.Reason, actionDetails(o.extra, o.ev))
			continue
		}
		if _, ok := jointlyRefused[o.idx]; ok {
			r.refuse(o.idx, RefusalInterference, o.ev.Reason, actionDetails(nil, o.ev))
			continue
		}
		if r.kernel.isProtected(o.ev.ResourceScope) {
			r.executed++
		}
		details := actionDetails(nil, o.ev)
		if o.ev.Reason != "" {
			details["caller_reason"] = o.ev.Reason
		}
		r.emit(OutputActionExecuted, o.idx, details)
	}
	return nil
}

func actionDetails(extra map[string]any, ev *ActionEvent) map[string]any {
	if extra == nil {
		extra = make(map[string]any, 3)
	}
	extra["resource_scope"] = ev.ResourceScope
	extra["operation"] = ev.Operation
	if len(ev.AuthoritiesCited) > 0 {
		extra["authorities_cited"] = ev.AuthoritiesCited
	}
	return extra
}

// successions admits rotation proposals in canonical identity order. An
// admitted proposal waits for the next boundary; at most one rotation may
// be pending, and a resubmission since the last boundary is refused rather
// than double-admitted.
func (r *batchRun) successions(indices []int) error {
	items, err := sortByIdentity(r.events, indices)
	if err != nil {
		return internalFatal(err)
	}
	for _, it := range items {
		idx := it.idx
		ev := r.events[idx].Succession
		if !r.meter.Charge(r.kernel.costs.Succession) {
			r.refuse(idx, RefusalBoundExhausted, "", map[string]any{"remaining": r.meter.Remaining()})
			continue
		}
		proposal := ev.Proposal()
		hash, err := proposal.Hash()
		if err != nil {
			r.refuse(idx, RefusalSchemaInvalid, "", map[string]any{"detail": err.Error()})
			continue
		}
		if _, seen := r.state.ProcessedRotations[hash]; seen {
			r.refuse(idx, RefusalLineageInvalid, "", map[string]any{
				"detail":        "proposal already admitted this epoch",
				"proposal_hash": hash,
			})
			continue
		}
		if proposal.PriorKey != r.state.Chain.ActiveKey {
			r.refuse(idx, RefusalLineageInvalid, "", map[string]any{
				"detail":    "prior key is not the active sovereign",
				"prior_key": proposal.PriorKey,
			})
			continue
		}
		if r.state.PendingSuccessor != nil {
			r.refuse(idx, RefusalLineageInvalid, "", map[string]any{"detail": "a rotation is already pending"})
			continue
		}
		if err := proposal.Verify(); err != nil {
			r.refuse(idx, RefusalLineageInvalid, "", map[string]any{"detail": err.Error()})
			continue
		}
		if _, err := succession.KeyIDFromHex(proposal.SuccessorKey); err != nil {
			r.refuse(idx, RefusalSchemaInvalid, "", map[string]any{"detail": err.Error()})
			continue
		}
		r.state.PendingSuccessor = &proposal
		r.state.ProcessedRotations[hash] = struct{}{}
		if err := r.mutated(); err != nil {
			return err
		}
		r.emit(OutputSuccessionProposed, idx, map[string]any{
			"proposal_hash": hash,
			"successor_key": proposal.SuccessorKey,
		})
	}
	return nil
}

// governanceRefusalCode maps engine refusals to wire reason codes.
func governanceRefusalCode(ref governance.Refusal) RefusalCode {
	switch ref {
	case governance.RefusalAuthorityNotFound:
		return RefusalAuthorityNotFound
	case governance.RefusalTargetNotActive:
		return RefusalTargetNotActive
	case governance.RefusalNoAuthority:
		return RefusalNoAuthority
	case governance.RefusalConflictBlocks:
		return RefusalConflictBlocks
	case governance.RefusalAmplification:
		return RefusalAmplificationBlocked
	case governance.RefusalScopeNotCovered:
		return RefusalScopeNotCovered
	default:
		return RefusalSchemaInvalid
	}
}
