package kernel

// CostModel declares the instruction cost of each budgeted operation kind.
// Costs are run configuration loaded from a profile, not kernel logic.
type CostModel struct {
	Injection   uint64 `json:"injection" yaml:"injection"`
	Renewal     uint64 `json:"renewal" yaml:"renewal"`
	Destruction uint64 `json:"destruction" yaml:"destruction"`
	Creation    uint64 `json:"creation" yaml:"creation"`
	Action      uint64 `json:"action" yaml:"action"`
	Succession  uint64 `json:"succession" yaml:"succession"`
}

// DefaultCostModel charges one instruction per operation.
func DefaultCostModel() CostModel {
	return CostModel{
		Injection:   1,
		Renewal:     1,
		Destruction: 1,
		Creation:    1,
		Action:      1,
		Succession:  1,
	}
}

// Meter enforces the per-epoch instruction budget, fail-closed: an
// operation whose declared cost exceeds the remaining budget is refused
// whole, never partially applied. The budget resets only on epoch
// advancement; batches within one epoch share it.
type Meter struct {
	budget    uint64
	remaining uint64
}

// NewMeter returns a meter with a full budget. A zero budget disables
// metering.
func NewMeter(budget uint64) *Meter {
	return &Meter{budget: budget, remaining: budget}
}

// Charge deducts cost from the remaining budget. It reports false, deducting
// nothing, when the remainder cannot cover the cost.
func (m *Meter) Charge(cost uint64) bool {
	if m.budget == 0 {
		return true
	}
	if cost > m.remaining {
		return false
	}
	m.remaining -= cost
	return true
}

// Reset restores the full budget at an epoch boundary.
func (m *Meter) Reset() {
	m.remaining = m.budget
}

// Remaining returns the unconsumed budget for the current epoch.
func (m *Meter) Remaining() uint64 {
	return m.remaining
}

// Clone returns an independent copy, so a batch can consume budget
// tentatively and abandon the copy on a fatal abort.
func (m *Meter) Clone() *Meter {
	c := *m
	return &c
}
