// Package failure detects the terminal failure conditions of a run:
// deadlock, livelock and collapse. The three detectors escalate
// independently, each with an integer persistence counter and a boolean
// latch. Deadlock can clear when the admissibility surface structurally
// changes; livelock and collapse latches never clear within a run.
package failure

// Cause labels why the kernel considers itself blocked.
type Cause string

const (
	CauseNone          Cause = ""
	CauseDeadlock      Cause = "DEADLOCK"
	CauseLivelock      Cause = "LIVELOCK"
	CauseCollapse      Cause = "COLLAPSE"
	CauseAgentCollapse Cause = "AGENT_COLLAPSE"
)

// Thresholds configure the detectors. Thresholds are run configuration, not
// kernel logic; callers load them from a profile.
type Thresholds struct {
	// DeadlockDeclare is the number of consecutive fully-blocked epochs
	// before deadlock is declared.
	DeadlockDeclare int `json:"deadlock_declare" yaml:"deadlock_declare"`
	// LivelockLatch is the number of consecutive no-progress epochs before
	// livelock latches permanently.
	LivelockLatch int `json:"livelock_latch" yaml:"livelock_latch"`
	// CollapsePersistence is the number of epochs a declared deadlock may
	// persist before the run is classified as collapsed.
	CollapsePersistence int `json:"collapse_persistence" yaml:"collapse_persistence"`
}

// DefaultThresholds returns the thresholds used when no profile overrides
// them.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DeadlockDeclare:     3,
		LivelockLatch:       5,
		CollapsePersistence: 5,
	}
}

// Observation is one epoch's aggregate view of the protected key set.
type Observation struct {
	// Submitted counts requests targeting the protected key set this epoch.
	Submitted int
	// Executed counts those requests that actually executed.
	Executed int
	// ProtectedStateHash fingerprints the protected key set's state after
	// the epoch. An unchanged hash despite submissions is non-progress.
	ProtectedStateHash string
	// AdmissibilityFingerprint fingerprints the admissibility surface of
	// the protected key set. A changed fingerprint is the explicit signal
	// that a declared deadlock may clear.
	AdmissibilityFingerprint string
	// ActiveParticipants counts holders with at least one active grant.
	ActiveParticipants int
}

// Classification reports the detector transitions caused by one observation.
type Classification struct {
	DeadlockDeclared  bool
	DeadlockPersisted bool
	DeadlockCleared   bool
	LivelockLatched   bool
	CollapseLatched   bool
	Cause             Cause
}

// Snapshot is the classifier's contribution to the kernel state hash.
type Snapshot struct {
	DeadlockCount        int    `json:"deadlock_count"`
	DeadlockDeclared     bool   `json:"deadlock_declared"`
	DeclaredFingerprint  string `json:"declared_fingerprint"`
	DeadlockPersistEpoch int    `json:"deadlock_persist_epochs"`
	LivelockCount        int    `json:"livelock_count"`
	LivelockLatched      bool   `json:"livelock_latched"`
	CollapseLatched      bool   `json:"collapse_latched"`
	CollapseCause        Cause  `json:"collapse_cause"`
	LastProtectedHash    string `json:"last_protected_hash"`
	EverPopulated        bool   `json:"ever_populated"`
}

// Classifier tracks the detectors across epochs. Latch state and the
// blocked flag are deliberately separate: clearing a deadlock never clears
// a livelock or collapse latch.
type Classifier struct {
	thresholds Thresholds

	deadlockCount        int
	deadlockDeclared     bool
	declaredFingerprint  string
	deadlockPersistEpoch int

	livelockCount   int
	livelockLatched bool

	collapseLatched bool
	collapseCause   Cause

	lastProtectedHash string
	seededHash        bool
	everPopulated     bool
}

// NewClassifier returns a classifier with the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	if t.DeadlockDeclare <= 0 {
		t.DeadlockDeclare = DefaultThresholds().DeadlockDeclare
	}
	if t.LivelockLatch <= 0 {
		t.LivelockLatch = DefaultThresholds().LivelockLatch
	}
	if t.CollapsePersistence <= 0 {
		t.CollapsePersistence = DefaultThresholds().CollapsePersistence
	}
	return &Classifier{thresholds: t}
}

// Observe folds one epoch's aggregate statistics into the detectors and
// returns the transitions they made.
func (c *Classifier) Observe(obs Observation) Classification {
	var out Classification

	// Agent collapse has no threshold: an authority vacuum with demand, or
	// after the system was ever populated, ends the run regardless of
	// counters. Idle epochs before the first grant activates are bootstrap,
	// not collapse.
	if obs.ActiveParticipants == 0 && (c.everPopulated || obs.Submitted > 0) {
		if !c.collapseLatched {
			c.collapseLatched = true
			c.collapseCause = CauseAgentCollapse
			out.CollapseLatched = true
		}
		out.Cause = c.cause()
		c.rememberHashes(obs)
		return out
	}
	if obs.ActiveParticipants > 0 {
		c.everPopulated = true
	}

	// Deadlock: fully blocked epochs accumulate; any other pattern resets
	// the counter. The declared flag clears only on the explicit structural
	// signal, never implicitly.
	blocked := obs.Submitted > 0 && obs.Executed == 0
	if blocked {
		c.deadlockCount++
	} else {
		c.deadlockCount = 0
	}
	if c.deadlockDeclared {
		if obs.AdmissibilityFingerprint != c.declaredFingerprint {
			c.deadlockDeclared = false
			c.deadlockPersistEpoch = 0
			c.deadlockCount = 0
			out.DeadlockCleared = true
		} else if blocked {
			c.deadlockPersistEpoch++
			out.DeadlockPersisted = true
		}
	} else if c.deadlockCount >= c.thresholds.DeadlockDeclare {
		c.deadlockDeclared = true
		c.declaredFingerprint = obs.AdmissibilityFingerprint
		c.deadlockPersistEpoch = 0
		out.DeadlockDeclared = true
	}

	// Livelock: submissions without protected-state change accumulate; once
	// latched the counter stops mattering.
	if !c.livelockLatched {
		stuck := obs.Submitted > 0 && c.seededHash && obs.ProtectedStateHash == c.lastProtectedHash
		if stuck {
			c.livelockCount++
		} else {
			c.livelockCount = 0
		}
		if c.livelockCount >= c.thresholds.LivelockLatch {
			c.livelockLatched = true
			out.LivelockLatched = true
		}
	}

	// Systemic collapse: persistent deadlock beyond its budget, or a
	// livelock latch, with at least one participant still active.
	if !c.collapseLatched {
		if c.livelockLatched || c.deadlockPersistEpoch > c.thresholds.CollapsePersistence {
			c.collapseLatched = true
			c.collapseCause = CauseCollapse
			out.CollapseLatched = true
		}
	}

	out.Cause = c.cause()
	c.rememberHashes(obs)
	return out
}

// Reassess re-checks a declared deadlock against a freshly computed
// admissibility fingerprint between observations. Governance can change the
// admissibility surface mid-epoch; the declared flag clears as soon as the
// change is visible instead of waiting for the epoch to close.
func (c *Classifier) Reassess(fingerprint string) bool {
	if !c.deadlockDeclared || fingerprint == c.declaredFingerprint {
		return false
	}
	c.deadlockDeclared = false
	c.deadlockPersistEpoch = 0
	c.deadlockCount = 0
	return true
}

func (c *Classifier) rememberHashes(obs Observation) {
	c.lastProtectedHash = obs.ProtectedStateHash
	c.seededHash = true
}

func (c *Classifier) cause() Cause {
	switch {
	case c.collapseLatched:
		return c.collapseCause
	case c.livelockLatched:
		return CauseLivelock
	case c.deadlockDeclared:
		return CauseDeadlock
	default:
		return CauseNone
	}
}

// Blocked reports whether the kernel should refuse protected-key-set
// actions, and why.
func (c *Classifier) Blocked() (bool, Cause) {
	cause := c.cause()
	return cause != CauseNone, cause
}

// LivelockLatched reports the permanent livelock latch.
func (c *Classifier) LivelockLatched() bool {
	return c.livelockLatched
}

// CollapseLatched reports the permanent collapse latch.
func (c *Classifier) CollapseLatched() bool {
	return c.collapseLatched
}

// Snapshot returns the hashable detector state.
func (c *Classifier) Snapshot() Snapshot {
	return Snapshot{
		DeadlockCount:        c.deadlockCount,
		DeadlockDeclared:     c.deadlockDeclared,
		DeclaredFingerprint:  c.declaredFingerprint,
		DeadlockPersistEpoch: c.deadlockPersistEpoch,
		LivelockCount:        c.livelockCount,
		LivelockLatched:      c.livelockLatched,
		CollapseLatched:      c.collapseLatched,
		CollapseCause:        c.collapseCause,
		LastProtectedHash:    c.lastProtectedHash,
		EverPopulated:        c.everPopulated,
	}
}

// Clone returns an independent copy of the classifier.
func (c *Classifier) Clone() *Classifier {
	clone := *c
	return &clone
}
