package kernel

import (
	"fmt"

	"github.com/macterra/Axio-sub002/pkg/succession"
)

// OutputType classifies entries in the kernel output log.
type OutputType string

const (
	OutputEpochAdvanced        OutputType = "EPOCH_ADVANCED"
	OutputAuthorityInjected    OutputType = "AUTHORITY_INJECTED"
	OutputAuthorityRenewed     OutputType = "AUTHORITY_RENEWED"
	OutputAuthorityCreated     OutputType = "AUTHORITY_CREATED"
	OutputAuthorityDestroyed   OutputType = "AUTHORITY_DESTROYED"
	OutputAuthorityExpired     OutputType = "AUTHORITY_EXPIRED"
	OutputAuthorityActivated   OutputType = "AUTHORITY_ACTIVATED"
	OutputAuthoritySuspended   OutputType = "AUTHORITY_SUSPENDED"
	OutputAuthorityReactivated OutputType = "AUTHORITY_REACTIVATED"
	OutputActionExecuted       OutputType = "ACTION_EXECUTED"
	OutputActionRefused        OutputType = "ACTION_REFUSED"
	OutputConflictDetected     OutputType = "CONFLICT_DETECTED"
	OutputDeadlockDeclared     OutputType = "DEADLOCK_DECLARED"
	OutputDeadlockPersisted    OutputType = "DEADLOCK_PERSISTED"
	OutputDeadlockCleared      OutputType = "DEADLOCK_CLEARED"
	OutputLivelockLatched      OutputType = "LIVELOCK_LATCHED"
	OutputCollapseLatched      OutputType = "COLLAPSE_LATCHED"
	OutputSuccessionProposed   OutputType = "SUCCESSION_PROPOSED"
	OutputSuccessionCompleted  OutputType = "SUCCESSION_COMPLETED"
)

// RefusalCode is the structured reason attached to ACTION_REFUSED outputs.
// Refusals are legitimate negative outcomes: they never mutate state and
// never abort the batch.
type RefusalCode string

const (
	RefusalSchemaInvalid         RefusalCode = "SCHEMA_INVALID"          // event fails structural validation
	RefusalLineageInvalid        RefusalCode = "LINEAGE_INVALID"         // renewal or rotation breaks its required chain
	RefusalEpochMismatch         RefusalCode = "EPOCH_MISMATCH"          // declared epoch disagrees with kernel epoch
	RefusalHashMismatch          RefusalCode = "HASH_MISMATCH"           // supplied id disagrees with recomputed content hash
	RefusalBoundExhausted        RefusalCode = "BOUND_EXHAUSTED"         // epoch instruction budget cannot cover the operation
	RefusalNoAuthority           RefusalCode = "NO_AUTHORITY"            // no active grant matches (scope, operation)
	RefusalValueConflict         RefusalCode = "VALUE_CONFLICT"          // scope is under a registered conflict
	RefusalDeniedByAuthority     RefusalCode = "DENIED_BY_AUTHORITY"     // only restrictive grants match
	RefusalInterference          RefusalCode = "INTERFERENCE"            // admitted effects on one scope cannot serialize
	RefusalConflictBlocks        RefusalCode = "CONFLICT_BLOCKS"         // structural conflict blocks a governance destroy
	RefusalAmplificationBlocked  RefusalCode = "AMPLIFICATION_BLOCKED"   // created vector exceeds the admitting union
	RefusalScopeNotCovered       RefusalCode = "SCOPE_NOT_COVERED"       // no admitting grant covers the new scope
	RefusalAuthorityNotFound     RefusalCode = "AUTHORITY_NOT_FOUND"     // referenced capability id is unknown
	RefusalTargetNotActive       RefusalCode = "TARGET_NOT_ACTIVE"       // referenced capability is not ACTIVE
	RefusalDuplicateEpochAdvance RefusalCode = "DUPLICATE_EPOCH_ADVANCE" // epoch already advanced in this batch
	RefusalDeadlockState         RefusalCode = "DEADLOCK_STATE"          // protected scope is frozen by a declared failure
)

// FatalCode classifies integrity violations that abort the batch with zero
// outputs and zero state change.
type FatalCode string

const (
	FatalTemporalRegression FatalCode = "TEMPORAL_REGRESSION" // epoch advance is not strictly increasing
	FatalAuthorityIDReuse   FatalCode = "AUTHORITY_ID_REUSE"  // id collides with a terminal record
	FatalReservedBitSet     FatalCode = "AAV_RESERVED_BIT_SET"
	FatalBoundaryFault      FatalCode = "BOUNDARY_FAULT" // signer rotation failed verification; run is halted
	FatalInternal           FatalCode = "INTERNAL_FAULT" // kernel invariant breach, including canonical encoding failures
)

// FatalError aborts ProcessBatch. The batch that raised it produces no
// outputs and leaves kernel state untouched; a BOUNDARY_FAULT additionally
// halts the run.
type FatalError struct {
	Code       FatalCode
	EventIndex int // -1 when no single event is at fault
	Detail     string
	Fault      *succession.BoundaryFault // set for BOUNDARY_FAULT
}

func (e *FatalError) Error() string {
	if e.EventIndex >= 0 {
		return fmt.Sprintf("kernel: fatal %s at event %d: %s", e.Code, e.EventIndex, e.Detail)
	}
	return fmt.Sprintf("kernel: fatal %s: %s", e.Code, e.Detail)
}

func (e *FatalError) Unwrap() error {
	if e.Fault != nil {
		return e.Fault
	}
	return nil
}

// ErrHalted is returned for every batch submitted after a boundary fault.
var ErrHalted = &FatalError{Code: FatalBoundaryFault, EventIndex: -1, Detail: "run halted by prior boundary fault"}

// Output is one entry in the kernel output log. StateHash is the canonical
// state hash after the entry's effect (unchanged from the previous entry
// when the entry records no mutation), so the log replays as a hash chain.
type Output struct {
	Type       OutputType     `json:"type"`
	EventIndex int            `json:"event_index"`
	StateHash  string         `json:"state_hash"`
	Details    map[string]any `json:"details,omitempty"`
}

// refused builds the ACTION_REFUSED entry for one event. The structured
// code lives under reason_code; callerReason, when present, is echoed
// verbatim under caller_reason and has no semantic weight.
func refused(index int, stateHash string, code RefusalCode, callerReason string, extra map[string]any) Output {
	details := map[string]any{"reason_code": string(code)}
	if callerReason != "" {
		details["caller_reason"] = callerReason
	}
	for k, v := range extra {
		details[k] = v
	}
	return Output{
		Type:       OutputActionRefused,
		EventIndex: index,
		StateHash:  stateHash,
		Details:    details,
	}
}
