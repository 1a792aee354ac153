// Package authority holds capability records keyed by content-addressed id,
// manages their lifecycle transitions, and indexes active records by
// resource scope and permission bit.
package authority

import (
	"strings"
)

// VectorWidth is the number of meaningful bits in a permission vector.
// Bits at or above this width are reserved and must be zero everywhere.
const VectorWidth = 8

// Permission bits. VETO marks the record's commitment as restrictive: a
// record carrying VETO denies the operations its other bits name instead of
// permitting them.
const (
	PermRead Vector = 1 << iota
	PermWrite
	PermExecute
	PermCreate
	PermDestroy
	PermRenew
	PermDelegate
	PermVeto
)

// Vector is a fixed-width permission bitset.
type Vector uint32

// Has reports whether every bit in mask is set.
func (v Vector) Has(mask Vector) bool {
	return v&mask == mask
}

// Union returns the bitwise union of v and other.
func (v Vector) Union(other Vector) Vector {
	return v | other
}

// SubsetOf reports whether every bit set in v is also set in other.
func (v Vector) SubsetOf(other Vector) bool {
	return v&^other == 0
}

// Restrictive reports whether the record's commitment is the denying kind.
func (v Vector) Restrictive() bool {
	return v.Has(PermVeto)
}

// ReservedBitsSet reports whether any bit at or above VectorWidth is set.
// Such a vector is never valid anywhere in a batch.
func (v Vector) ReservedBitsSet() bool {
	return v>>VectorWidth != 0
}

// String renders the vector as its set bit names, for log detail payloads.
func (v Vector) String() string {
	names := []struct {
		bit  Vector
		name string
	}{
		{PermRead, "READ"},
		{PermWrite, "WRITE"},
		{PermExecute, "EXECUTE"},
		{PermCreate, "CREATE"},
		{PermDestroy, "DESTROY"},
		{PermRenew, "RENEW"},
		{PermDelegate, "DELEGATE"},
		{PermVeto, "VETO"},
	}
	var set []string
	for _, n := range names {
		if v.Has(n.bit) {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "NONE"
	}
	return strings.Join(set, "|")
}

// OperationBit maps an operation name from an action request to its
// permission bit. Unknown operations return false.
func OperationBit(operation string) (Vector, bool) {
	switch operation {
	case "read":
		return PermRead, true
	case "write":
		return PermWrite, true
	case "execute":
		return PermExecute, true
	case "create":
		return PermCreate, true
	case "destroy":
		return PermDestroy, true
	case "renew":
		return PermRenew, true
	case "delegate":
		return PermDelegate, true
	default:
		return 0, false
	}
}

// Reads reports whether the operation is the read kind. Every other known
// operation counts as a write for interference purposes.
func Reads(operation string) bool {
	return operation == "read"
}
