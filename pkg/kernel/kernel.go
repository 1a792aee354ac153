package kernel

import (
	"errors"

	"github.com/macterra/Axio-sub002/pkg/failure"
)

// Config assembles a kernel instance.
type Config struct {
	// SovereignKey is the hex-encoded genesis signer key. Succession
	// proposals must chain from it; an empty key makes every proposal
	// unadmittable.
	SovereignKey string
	// Thresholds configure the failure detectors.
	Thresholds failure.Thresholds
	// Budget is the per-epoch instruction budget. Zero disables metering.
	Budget uint64
	// Costs declares the instruction cost of each operation kind. The zero
	// value means DefaultCostModel.
	Costs CostModel
	// ProtectedScopes is the protected key set: the scopes the failure
	// detectors watch and the deadlock freeze applies to.
	ProtectedScopes []string
}

// Kernel drives the capability state machine. It is not safe for concurrent
// use: batches are strictly ordered and the caller submits them one at a
// time, which is what makes replay exact.
type Kernel struct {
	state     *State
	meter     *Meter
	costs     CostModel
	protected map[string]struct{}
	halted    bool

	// submitted and executed aggregate the open epoch's protected-key-set
	// traffic for the detectors; they reset at every boundary.
	submitted int
	executed  int
}

// New returns a kernel at genesis state.
func New(cfg Config) *Kernel {
	if cfg.Costs == (CostModel{}) {
		cfg.Costs = DefaultCostModel()
	}
	protected := make(map[string]struct{}, len(cfg.ProtectedScopes))
	for _, scope := range cfg.ProtectedScopes {
		protected[scope] = struct{}{}
	}
	return &Kernel{
		state:     NewState(cfg.Thresholds, cfg.SovereignKey),
		meter:     NewMeter(cfg.Budget),
		costs:     cfg.Costs,
		protected: protected,
	}
}

// Epoch returns the current epoch.
func (k *Kernel) Epoch() uint64 {
	return k.state.Epoch
}

// StateHash returns the canonical hash of the committed state.
func (k *Kernel) StateHash() (string, error) {
	return k.state.Hash()
}

// Halted reports whether a boundary fault has hard-stopped the run.
func (k *Kernel) Halted() bool {
	return k.halted
}

// BudgetRemaining returns the unconsumed instruction budget of the open
// epoch.
func (k *Kernel) BudgetRemaining() uint64 {
	return k.meter.Remaining()
}

// State exposes the committed state for snapshotting and inspection. The
// kernel retains ownership; callers must not mutate it.
func (k *Kernel) State() *State {
	return k.state
}

func (k *Kernel) isProtected(scope string) bool {
	_, ok := k.protected[scope]
	return ok
}

// ProcessBatch runs one ordered batch through the fixed phase order and
// returns the output log entries it produced.
//
// Refusals are ordinary outputs and mutate nothing. A FatalError aborts the
// whole batch: zero outputs, and the committed state is byte-identical to
// what it was before the call. A boundary fault additionally halts the run;
// every later call returns ErrHalted.
func (k *Kernel) ProcessBatch(events []Event) ([]Output, error) {
	if k.halted {
		return nil, ErrHalted
	}
	r := &batchRun{
		kernel:    k,
		events:    events,
		state:     k.state.Clone(),
		meter:     k.meter.Clone(),
		submitted: k.submitted,
		executed:  k.executed,
	}
	if err := r.run(); err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) && fatal.Code == FatalBoundaryFault {
			k.halted = true
		}
		return nil, err
	}
	k.state = r.state
	k.meter = r.meter
	k.submitted = r.submitted
	k.executed = r.executed
	return r.outputs, nil
}
