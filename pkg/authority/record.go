package authority

import (
	"fmt"

	"github.com/macterra/Axio-sub002/pkg/canonical"
)

// Status is the lifecycle state of an authority record.
type Status string

const (
	// StatusPending means created this epoch, active from the next.
	StatusPending Status = "PENDING"
	// StatusActive means the record participates in scope indices.
	StatusActive Status = "ACTIVE"
	// StatusExpired is terminal: expiry_epoch passed.
	StatusExpired Status = "EXPIRED"
	// StatusVoid is terminal: destroyed by a governance action.
	StatusVoid Status = "VOID"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusVoid
}

// Core is the identity-bearing subset of a record: holder, scope, permission
// vector and expiry. Lifecycle and lineage bookkeeping are excluded so the
// content-addressed id stays stable across status changes.
type Core struct {
	HolderID      string `json:"holder_id"`
	ResourceScope string `json:"resource_scope"`
	Vector        Vector `json:"permission_vector"`
	ExpiryEpoch   uint64 `json:"expiry_epoch"`
}

// ID computes the content-addressed identity of the core.
func (c Core) ID() (string, error) {
	id, err := canonical.ContentHash(c)
	if err != nil {
		return "", fmt.Errorf("authority: core hash: %w", err)
	}
	return id, nil
}

// CreationMeta records how an authority came to exist.
type CreationMeta struct {
	CreationEpoch uint64   `json:"creation_epoch"`
	SourceID      string   `json:"source_id"`
	AdmittingIDs  []string `json:"admitting_ids"`
}

// Record is a capability artifact. Records are immutable values: every
// lifecycle transition produces a new Record, never an in-place mutation,
// so snapshots of the store may share them freely.
type Record struct {
	ID            string       `json:"id"`
	HolderID      string       `json:"holder_id"`
	ResourceScope string       `json:"resource_scope"`
	Vector        Vector       `json:"permission_vector"`
	Status        Status       `json:"status"`
	StartEpoch    uint64       `json:"start_epoch"`
	ExpiryEpoch   uint64       `json:"expiry_epoch"`
	Lineage       []string     `json:"lineage"`
	Meta          CreationMeta `json:"creation_metadata"`
}

// NewRecord builds a PENDING record from a capability core. Lineage is the
// sorted admitting id set; empty lineage marks a root grant with no prior
// authority. The record id is always recomputed from the core, never taken
// from the caller.
func NewRecord(core Core, startEpoch uint64, lineage []string, meta CreationMeta) (Record, error) {
	id, err := core.ID()
	if err != nil {
		return Record{}, err
	}
	if lineage == nil {
		lineage = []string{}
	}
	if meta.AdmittingIDs == nil {
		meta.AdmittingIDs = []string{}
	}
	return Record{
		ID:            id,
		HolderID:      core.HolderID,
		ResourceScope: core.ResourceScope,
		Vector:        core.Vector,
		Status:        StatusPending,
		StartEpoch:    startEpoch,
		ExpiryEpoch:   core.ExpiryEpoch,
		Lineage:       lineage,
		Meta:          meta,
	}, nil
}

// Core returns the identity-bearing fields of the record.
func (r Record) Core() Core {
	return Core{
		HolderID:      r.HolderID,
		ResourceScope: r.ResourceScope,
		Vector:        r.Vector,
		ExpiryEpoch:   r.ExpiryEpoch,
	}
}

// WithStatus returns a copy of the record in the given status.
func (r Record) WithStatus(s Status) Record {
	r.Status = s
	return r
}

// Rooted reports whether the record was injected with no prior authority.
func (r Record) Rooted() bool {
	return len(r.Lineage) == 0
}
