// Package kernel processes one ordered batch of typed events per epoch
// through a fixed phase order, maintains the authoritative capability state,
// and emits a content-addressed, replayable output log. The kernel performs
// no I/O and owns no clock: callers feed batches and consume outputs.
package kernel

import (
	"fmt"

	"github.com/macterra/Axio-sub002/pkg/authority"
	"github.com/macterra/Axio-sub002/pkg/canonical"
	"github.com/macterra/Axio-sub002/pkg/succession"
)

// EventType tags the event union.
type EventType string

const (
	EventEpochAdvance EventType = "EPOCH_ADVANCE"
	EventInjection    EventType = "INJECTION"
	EventRenewal      EventType = "RENEWAL"
	EventGovernance   EventType = "GOVERNANCE_ACTION"
	EventAction       EventType = "ACTION_REQUEST"
	EventSuccession   EventType = "SUCCESSION_PROPOSAL"
)

// GovernanceKind selects the governance sub-phase an action belongs to.
type GovernanceKind string

const (
	GovernanceCreate  GovernanceKind = "CREATE"
	GovernanceDestroy GovernanceKind = "DESTROY"
)

// Event is the tagged union fed to ProcessBatch. Exactly one payload field
// matching Type must be set; every dispatch point switches exhaustively on
// Type so an unhandled case cannot slip through silently.
type Event struct {
	Type         EventType          `json:"type"`
	EpochAdvance *EpochAdvanceEvent `json:"epoch_advance,omitempty"`
	Injection    *InjectionEvent    `json:"injection,omitempty"`
	Renewal      *RenewalEvent      `json:"renewal,omitempty"`
	Governance   *GovernanceEvent   `json:"governance_action,omitempty"`
	Action       *ActionEvent       `json:"action_request,omitempty"`
	Succession   *SuccessionEvent   `json:"succession_proposal,omitempty"`
}

// EpochAdvanceEvent moves the kernel to a strictly greater epoch. While a
// signer rotation is pending, the advance must carry the boundary
// attestation or the run halts.
type EpochAdvanceEvent struct {
	NewEpoch    uint64                  `json:"new_epoch"`
	Attestation *succession.Attestation `json:"attestation,omitempty"`
}

// InjectionEvent introduces a root capability. The optional ID, when
// supplied, must equal the recomputed content hash of the core; it is never
// trusted.
type InjectionEvent struct {
	ID             string         `json:"id,omitempty"`
	Core           authority.Core `json:"capability_core"`
	SourceID       string         `json:"source_id"`
	InjectionEpoch uint64         `json:"injection_epoch"`
}

// RecordSpec is a caller-supplied record for renewals.
type RecordSpec struct {
	ID         string         `json:"id,omitempty"`
	Core       authority.Core `json:"capability_core"`
	StartEpoch uint64         `json:"start_epoch"`
}

// RenewalEvent extends a capability by chaining a successor record to an
// ACTIVE prior.
type RenewalEvent struct {
	PriorID   string     `json:"prior_id"`
	NewRecord RecordSpec `json:"new_record"`
}

// GovernanceEvent creates or destroys a capability under the authority of
// the cited initiators. Reason is caller free text and never replaces the
// structured reason code in outputs.
type GovernanceEvent struct {
	Kind         GovernanceKind `json:"kind"`
	InitiatorIDs []string       `json:"initiator_ids"`

	// Destroy parameters.
	TargetID string `json:"target_id,omitempty"`

	// Create parameters.
	NewHolderID  string           `json:"new_holder_id,omitempty"`
	NewScope     string           `json:"new_scope,omitempty"`
	NewVector    authority.Vector `json:"new_permission_vector,omitempty"`
	ExpiryEpoch  uint64           `json:"expiry_epoch,omitempty"`
	ScopeBasisID string           `json:"scope_basis_id,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// ActionEvent requests an ordinary effect on (scope, operation). Cited
// authorities are advisory: admissibility always evaluates the full active
// set, and the citations are only echoed into output details.
type ActionEvent struct {
	ResourceScope    string   `json:"resource_scope"`
	Operation        string   `json:"operation"`
	AuthoritiesCited []string `json:"authorities_cited,omitempty"`
	Reason           string   `json:"reason,omitempty"`
}

// SuccessionEvent proposes rotating the sovereign signer. Admission is
// checked when the event is processed; activation happens at the next epoch
// boundary.
type SuccessionEvent struct {
	PriorKey     string `json:"prior_key"`
	SuccessorKey string `json:"successor_key"`
	Signature    string `json:"signature"`
}

// Proposal converts the wire event into the verifier's artifact form.
func (e *SuccessionEvent) Proposal() succession.Proposal {
	return succession.Proposal{
		PriorKey:     e.PriorKey,
		SuccessorKey: e.SuccessorKey,
		Signature:    e.Signature,
	}
}

// Validate checks the union invariant: the payload named by Type is set and
// no foreign payload is.
func (e Event) Validate() error {
	var want, extras int
	count := func(present bool, matches bool) {
		if !present {
			return
		}
		if matches {
			want++
		} else {
			extras++
		}
	}
	count(e.EpochAdvance != nil, e.Type == EventEpochAdvance)
	count(e.Injection != nil, e.Type == EventInjection)
	count(e.Renewal != nil, e.Type == EventRenewal)
	count(e.Governance != nil, e.Type == EventGovernance)
	count(e.Action != nil, e.Type == EventAction)
	count(e.Succession != nil, e.Type == EventSuccession)

	switch e.Type {
	case EventEpochAdvance, EventInjection, EventRenewal, EventGovernance, EventAction, EventSuccession:
	default:
		return fmt.Errorf("kernel: unknown event type %q", e.Type)
	}
	if want != 1 || extras != 0 {
		return fmt.Errorf("kernel: event payload does not match type %s", e.Type)
	}
	if e.Type == EventGovernance {
		switch e.Governance.Kind {
		case GovernanceCreate, GovernanceDestroy:
		default:
			return fmt.Errorf("kernel: unknown governance kind %q", e.Governance.Kind)
		}
	}
	return nil
}

// Identity is the canonical action identity of the event: the content hash
// of its canonical encoding. Phase ordering for renewals, destructions,
// creations and actions sorts by it so processing is independent of arrival
// order.
func (e Event) Identity() (string, error) {
	return canonical.ContentHash(e)
}
