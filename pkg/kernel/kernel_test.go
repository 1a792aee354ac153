package kernel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/Axio-sub002/pkg/authority"
	"github.com/macterra/Axio-sub002/pkg/failure"
	"github.com/macterra/Axio-sub002/pkg/succession"
)

func testKernel(t *testing.T, opts ...func(*Config)) *Kernel {
	t.Helper()
	cfg := Config{
		// Detectors quiet unless a test lowers the thresholds.
		Thresholds: failure.Thresholds{DeadlockDeclare: 100, LivelockLatch: 100, CollapsePersistence: 100},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func grantCore(holder, scope string, v authority.Vector, expiry uint64) authority.Core {
	return authority.Core{HolderID: holder, ResourceScope: scope, Vector: v, ExpiryEpoch: expiry}
}

func injection(core authority.Core, source string, epoch uint64) Event {
	return Event{Type: EventInjection, Injection: &InjectionEvent{Core: core, SourceID: source, InjectionEpoch: epoch}}
}

func advanceTo(epoch uint64) Event {
	return Event{Type: EventEpochAdvance, EpochAdvance: &EpochAdvanceEvent{NewEpoch: epoch}}
}

func action(scope, operation string) Event {
	return Event{Type: EventAction, Action: &ActionEvent{ResourceScope: scope, Operation: operation}}
}

func renewalEvent(priorID string, core authority.Core, start uint64) Event {
	return Event{Type: EventRenewal, Renewal: &RenewalEvent{PriorID: priorID, NewRecord: RecordSpec{Core: core, StartEpoch: start}}}
}

func destroyEvent(targetID string, initiators ...string) Event {
	return Event{Type: EventGovernance, Governance: &GovernanceEvent{
		Kind: GovernanceDestroy, TargetID: targetID, InitiatorIDs: initiators,
	}}
}

func createEvent(holder, scope string, v authority.Vector, expiry uint64, basis string, initiators ...string) Event {
	return Event{Type: EventGovernance, Governance: &GovernanceEvent{
		Kind: GovernanceCreate, NewHolderID: holder, NewScope: scope, NewVector: v,
		ExpiryEpoch: expiry, ScopeBasisID: basis, InitiatorIDs: initiators,
	}}
}

func successionEvent(p succession.Proposal) Event {
	return Event{Type: EventSuccession, Succession: &SuccessionEvent{
		PriorKey: p.PriorKey, SuccessorKey: p.SuccessorKey, Signature: p.Signature,
	}}
}

func mustProcess(t *testing.T, k *Kernel, events ...Event) []Output {
	t.Helper()
	outs, err := k.ProcessBatch(events)
	require.NoError(t, err)
	return outs
}

func outputsOfType(outs []Output, typ OutputType) []Output {
	var sel []Output
	for _, o := range outs {
		if o.Type == typ {
			sel = append(sel, o)
		}
	}
	return sel
}

func refusalCodes(outs []Output) []string {
	var codes []string
	for _, o := range outputsOfType(outs, OutputActionRefused) {
		codes = append(codes, o.Details["reason_code"].(string))
	}
	return codes
}

func injectedID(t *testing.T, outs []Output) string {
	t.Helper()
	inj := outputsOfType(outs, OutputAuthorityInjected)
	require.Len(t, inj, 1)
	return inj[0].Details["authority_id"].(string)
}

func TestInjection_ActivatesNextEpoch(t *testing.T) {
	k := testKernel(t)
	core := grantCore("alice", "res/db", authority.PermRead|authority.PermWrite, 100)

	outs := mustProcess(t, k, injection(core, "harness", 0))
	id := injectedID(t, outs)
	assert.Equal(t, false, outs[0].Details["is_duplicate"])

	rec, ok := k.State().Authorities.Get(id)
	require.True(t, ok)
	assert.Equal(t, authority.StatusPending, rec.Status)
	assert.True(t, rec.Rooted())

	// Requests in the creation epoch do not see the grant yet.
	outs = mustProcess(t, k, action("res/db", "read"))
	assert.Equal(t, []string{"NO_AUTHORITY"}, refusalCodes(outs))

	outs = mustProcess(t, k, advanceTo(1))
	require.Len(t, outputsOfType(outs, OutputAuthorityActivated), 1)
	rec, _ = k.State().Authorities.Get(id)
	assert.Equal(t, authority.StatusActive, rec.Status)

	outs = mustProcess(t, k, action("res/db", "read"))
	require.Len(t, outs, 1)
	assert.Equal(t, OutputActionExecuted, outs[0].Type)
}

func TestInjection_IdempotentAcrossBatchAndRun(t *testing.T) {
	k := testKernel(t)
	core := grantCore("alice", "res/db", authority.PermRead, 100)

	outs := mustProcess(t, k, injection(core, "harness", 0), injection(core, "harness", 0))
	require.Len(t, outs, 2)
	assert.Equal(t, OutputAuthorityInjected, outs[0].Type)
	assert.Equal(t, OutputAuthorityInjected, outs[1].Type)
	assert.Equal(t, false, outs[0].Details["is_duplicate"])
	assert.Equal(t, true, outs[1].Details["is_duplicate"])
	assert.Equal(t, outs[0].Details["authority_id"], outs[1].Details["authority_id"])
	assert.Equal(t, outs[0].StateHash, outs[1].StateHash, "the duplicate moves nothing")

	// Resubmission in a later batch reports success the same way.
	outs = mustProcess(t, k, injection(core, "harness", 0))
	assert.Equal(t, true, outs[0].Details["is_duplicate"])
}

func TestInjection_SuppliedIDMustMatchContent(t *testing.T) {
	k := testKernel(t)
	core := grantCore("alice", "res/db", authority.PermRead, 100)

	ev := injection(core, "harness", 0)
	ev.Injection.ID = "0000000000000000000000000000000000000000000000000000000000000000"
	outs := mustProcess(t, k, ev)
	assert.Equal(t, []string{"HASH_MISMATCH"}, refusalCodes(outs))

	id, err := core.ID()
	require.NoError(t, err)
	ev.Injection.ID = id
	outs = mustProcess(t, k, ev)
	assert.Equal(t, id, injectedID(t, outs))
}

func TestInjection_DeclaredEpochMustMatch(t *testing.T) {
	k := testKernel(t)
	core := grantCore("alice", "res/db", authority.PermRead, 100)

	outs := mustProcess(t, k, injection(core, "harness", 3))
	require.Len(t, outs, 1)
	assert.Equal(t, []string{"EPOCH_MISMATCH"}, refusalCodes(outs))
	_, ok := k.State().Authorities.Get(mustID(t, core))
	assert.False(t, ok)
}

func mustID(t *testing.T, core authority.Core) string {
	t.Helper()
	id, err := core.ID()
	require.NoError(t, err)
	return id
}

func TestExpiry_RunsBeforeActivation(t *testing.T) {
	k := testKernel(t)
	dying := grantCore("bob", "res/tmp", authority.PermRead, 0)
	living := grantCore("alice", "res/db", authority.PermRead, 100)

	outs := mustProcess(t, k, injection(dying, "harness", 0), injection(living, "harness", 0))
	require.Len(t, outputsOfType(outs, OutputAuthorityInjected), 2)

	outs = mustProcess(t, k, advanceTo(1))
	expired := outputsOfType(outs, OutputAuthorityExpired)
	activated := outputsOfType(outs, OutputAuthorityActivated)
	require.Len(t, expired, 1)
	require.Len(t, activated, 1)
	assert.Equal(t, mustID(t, dying), expired[0].Details["authority_id"])
	assert.Equal(t, mustID(t, living), activated[0].Details["authority_id"])

	// Expiry precedes activation in the log.
	for i, o := range outs {
		if o.Type == OutputAuthorityActivated {
			for j := i + 1; j < len(outs); j++ {
				assert.NotEqual(t, OutputAuthorityExpired, outs[j].Type)
			}
		}
	}

	rec, _ := k.State().Authorities.Get(mustID(t, dying))
	assert.Equal(t, authority.StatusExpired, rec.Status)
}

func TestTerminalIDReuse_IsFatal(t *testing.T) {
	k := testKernel(t)
	core := grantCore("bob", "res/tmp", authority.PermRead, 0)
	mustProcess(t, k, injection(core, "harness", 0))
	mustProcess(t, k, advanceTo(1))

	before, err := k.StateHash()
	require.NoError(t, err)

	outs, err := k.ProcessBatch([]Event{injection(core, "harness", 1)})
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, FatalAuthorityIDReuse, fatal.Code)
	assert.Nil(t, outs)

	after, err := k.StateHash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "a fatal batch leaves no trace")

	// The run is not halted: the next well-formed batch processes.
	assert.False(t, k.Halted())
	mustProcess(t, k, advanceTo(2))
}

func TestEpochAdvance_RegressionIsFatal(t *testing.T) {
	k := testKernel(t)
	mustProcess(t, k, advanceTo(5))

	before, err := k.StateHash()
	require.NoError(t, err)

	for _, stale := range []uint64{5, 3} {
		_, err := k.ProcessBatch([]Event{advanceTo(stale)})
		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, FatalTemporalRegression, fatal.Code)
	}

	after, err := k.StateHash()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(5), k.Epoch())
	assert.False(t, k.Halted())
	mustProcess(t, k, advanceTo(6))
}

func TestEpochAdvance_DuplicateInBatchIsRefusal(t *testing.T) {
	k := testKernel(t)

	outs := mustProcess(t, k, advanceTo(1), advanceTo(2))
	require.Len(t, outputsOfType(outs, OutputEpochAdvanced), 1)
	assert.Equal(t, uint64(1), k.Epoch())
	assert.Equal(t, []string{"DUPLICATE_EPOCH_ADVANCE"}, refusalCodes(outs))

	// Even a stale second advance is a refusal, not a crash.
	outs = mustProcess(t, k, advanceTo(2), advanceTo(1))
	assert.Equal(t, uint64(2), k.Epoch())
	assert.Equal(t, []string{"DUPLICATE_EPOCH_ADVANCE"}, refusalCodes(outs))
}

func TestValueConflict_AllowDenyFreezesScope(t *testing.T) {
	k := testKernel(t)
	permissive := grantCore("alice", "res/ledger", authority.PermRead|authority.PermWrite, 100)
	restrictive := grantCore("veto-holder", "res/ledger", authority.PermRead|authority.PermVeto, 100)
	mustProcess(t, k, injection(permissive, "h", 0), injection(restrictive, "h", 0))

	outs := mustProcess(t, k, advanceTo(1))
	confs := outputsOfType(outs, OutputConflictDetected)
	require.Len(t, confs, 1)
	assert.Equal(t, "VALUE", confs[0].Details["conflict_kind"])
	assert.Equal(t, "res/ledger", confs[0].Details["resource_scope"])
	assert.Equal(t, 1, k.State().Conflicts.Len())

	outs = mustProcess(t, k, action("res/ledger", "read"))
	assert.Equal(t, []string{"VALUE_CONFLICT"}, refusalCodes(outs))

	// A registered conflict never re-detects into a second record.
	mustProcess(t, k, advanceTo(2))
	assert.Equal(t, 1, k.State().Conflicts.Len())
}

func TestActions_RefusalStepOrder(t *testing.T) {
	k := testKernel(t)
	restrictive := grantCore("veto-holder", "res/vault", authority.PermWrite|authority.PermVeto, 100)
	mustProcess(t, k, injection(restrictive, "h", 0))
	mustProcess(t, k, advanceTo(1))

	// A lone restrictive grant is no conflict, but it admits nothing.
	assert.Equal(t, 0, k.State().Conflicts.Len())
	outs := mustProcess(t, k, action("res/vault", "write"))
	assert.Equal(t, []string{"DENIED_BY_AUTHORITY"}, refusalCodes(outs))

	// No matching grant at all refuses before commitments are compared.
	outs = mustProcess(t, k, action("res/elsewhere", "write"))
	assert.Equal(t, []string{"NO_AUTHORITY"}, refusalCodes(outs))

	// Unknown operations match no permission bit.
	outs = mustProcess(t, k, action("res/vault", "transmogrify"))
	assert.Equal(t, []string{"NO_AUTHORITY"}, refusalCodes(outs))
}

func TestActions_CallerReasonIsEchoedNotInterpreted(t *testing.T) {
	k := testKernel(t)
	ev := action("res/nowhere", "read")
	ev.Action.Reason = "because I said so"
	outs := mustProcess(t, k, ev)
	require.Len(t, outs, 1)
	assert.Equal(t, "NO_AUTHORITY", outs[0].Details["reason_code"])
	assert.Equal(t, "because I said so", outs[0].Details["caller_reason"])
}

func TestInterference_WritersCannotSerialize(t *testing.T) {
	k := testKernel(t)
	a := grantCore("alice", "res/q", authority.PermRead|authority.PermWrite, 100)
	b := grantCore("bob", "res/q", authority.PermRead|authority.PermWrite, 100)
	c := grantCore("bob", "res/other", authority.PermRead|authority.PermWrite, 100)
	mustProcess(t, k, injection(a, "h", 0), injection(b, "h", 0), injection(c, "h", 0))
	mustProcess(t, k, advanceTo(1))

	// Two admitted writes on one scope refuse together.
	outs := mustProcess(t, k, action("res/q", "write"), action("res/q", "write"))
	assert.Equal(t, []string{"INTERFERENCE", "INTERFERENCE"}, refusalCodes(outs))

	// A write and a read on one scope interfere too.
	outs = mustProcess(t, k, action("res/q", "write"), action("res/q", "read"))
	assert.Equal(t, []string{"INTERFERENCE", "INTERFERENCE"}, refusalCodes(outs))

	// Reads alone coexist.
	outs = mustProcess(t, k, action("res/q", "read"), action("res/q", "read"))
	assert.Len(t, outputsOfType(outs, OutputActionExecuted), 2)

	// Writes on distinct scopes proceed.
	outs = mustProcess(t, k, action("res/q", "write"), action("res/other", "write"))
	assert.Len(t, outputsOfType(outs, OutputActionExecuted), 2)
}

func TestGovernanceDestroy_Admitted(t *testing.T) {
	k := testKernel(t)
	destroyer := grantCore("alice", "res/a", authority.PermRead|authority.PermDestroy, 100)
	target := grantCore("bob", "res/a", authority.PermRead|authority.PermDestroy, 100)
	mustProcess(t, k, injection(destroyer, "h", 0), injection(target, "h", 0))
	mustProcess(t, k, advanceTo(1))

	outs := mustProcess(t, k, destroyEvent(mustID(t, target), mustID(t, destroyer)))
	destroyed := outputsOfType(outs, OutputAuthorityDestroyed)
	require.Len(t, destroyed, 1)
	assert.Equal(t, mustID(t, target), destroyed[0].Details["authority_id"])
	assert.Equal(t, []string{mustID(t, destroyer)}, destroyed[0].Details["admitting_ids"])

	rec, _ := k.State().Authorities.Get(mustID(t, target))
	assert.Equal(t, authority.StatusVoid, rec.Status)

	// VOID is terminal: destroying again refuses.
	outs = mustProcess(t, k, destroyEvent(mustID(t, target), mustID(t, destroyer)))
	assert.Equal(t, []string{"TARGET_NOT_ACTIVE"}, refusalCodes(outs))
}

func TestGovernanceDestroy_BlockedByNonConsentingPeer(t *testing.T) {
	k := testKernel(t)
	destroyer := grantCore("alice", "res/a", authority.PermRead|authority.PermDestroy, 100)
	target := grantCore("bob", "res/a", authority.PermRead|authority.PermDestroy, 100)
	bystander := grantCore("carol", "res/a", authority.PermRead, 100)
	mustProcess(t, k, injection(destroyer, "h", 0), injection(target, "h", 0), injection(bystander, "h", 0))
	mustProcess(t, k, advanceTo(1))

	outs := mustProcess(t, k, destroyEvent(mustID(t, target), mustID(t, destroyer)))
	assert.Equal(t, []string{"CONFLICT_BLOCKS"}, refusalCodes(outs))

	confs := outputsOfType(outs, OutputConflictDetected)
	require.Len(t, confs, 1)
	assert.Equal(t, "STRUCTURAL", confs[0].Details["conflict_kind"])
	assert.Len(t, confs[0].Details["participant_ids"], 3)

	rec, _ := k.State().Authorities.Get(mustID(t, target))
	assert.Equal(t, authority.StatusActive, rec.Status, "a blocked destroy touches nothing")

	// The structural conflict freezes the scope like any other.
	outs = mustProcess(t, k, action("res/a", "read"))
	assert.Equal(t, []string{"VALUE_CONFLICT"}, refusalCodes(outs))
}

func TestGovernanceCreate_AdmittedAndActivates(t *testing.T) {
	k := testKernel(t)
	creator := grantCore("alice", "res/pool", authority.PermRead|authority.PermWrite|authority.PermCreate, 100)
	mustProcess(t, k, injection(creator, "h", 0))
	mustProcess(t, k, advanceTo(1))

	outs := mustProcess(t, k, createEvent("charlie", "res/pool", authority.PermRead, 50, mustID(t, creator), mustID(t, creator)))
	created := outputsOfType(outs, OutputAuthorityCreated)
	require.Len(t, created, 1)
	id := created[0].Details["authority_id"].(string)

	rec, ok := k.State().Authorities.Get(id)
	require.True(t, ok)
	assert.Equal(t, authority.StatusPending, rec.Status)
	assert.Equal(t, uint64(2), rec.StartEpoch)
	assert.Equal(t, []string{mustID(t, creator)}, rec.Lineage)
	assert.Equal(t, mustID(t, creator), rec.Meta.SourceID)

	outs = mustProcess(t, k, advanceTo(2))
	require.Len(t, outputsOfType(outs, OutputAuthorityActivated), 1)
	rec, _ = k.State().Authorities.Get(id)
	assert.Equal(t, authority.StatusActive, rec.Status)
}

func TestGovernanceCreate_AmplificationBlocked(t *testing.T) {
	k := testKernel(t)
	creator := grantCore("alice", "res/pool", authority.PermRead|authority.PermCreate, 100)
	mustProcess(t, k, injection(creator, "h", 0))
	mustProcess(t, k, advanceTo(1))

	outs := mustProcess(t, k, createEvent("charlie", "res/pool", authority.PermRead|authority.PermWrite, 50, mustID(t, creator), mustID(t, creator)))
	require.Len(t, outs, 1)
	assert.Equal(t, "AMPLIFICATION_BLOCKED", outs[0].Details["reason_code"])
	assert.Contains(t, outs[0].Details, "admitted_union")
}

func TestGovernanceCreate_ScopeMustBeCovered(t *testing.T) {
	k := testKernel(t)
	creator := grantCore("alice", "res/pool", authority.PermRead|authority.PermCreate, 100)
	mustProcess(t, k, injection(creator, "h", 0))
	mustProcess(t, k, advanceTo(1))

	// The basis lives on res/pool; a different requested scope is not covered.
	outs := mustProcess(t, k, createEvent("charlie", "res/elsewhere", authority.PermRead, 50, mustID(t, creator), mustID(t, creator)))
	assert.Equal(t, []string{"SCOPE_NOT_COVERED"}, refusalCodes(outs))
}

func TestRenewal_ChainsFromActivePrior(t *testing.T) {
	k := testKernel(t)
	orig := grantCore("alice", "res/db", authority.PermRead, 5)
	mustProcess(t, k, injection(orig, "h", 0))
	mustProcess(t, k, advanceTo(1))

	renewed := grantCore("alice", "res/db", authority.PermRead, 10)
	outs := mustProcess(t, k, renewalEvent(mustID(t, orig), renewed, 2))
	ren := outputsOfType(outs, OutputAuthorityRenewed)
	require.Len(t, ren, 1)
	assert.Equal(t, mustID(t, orig), ren[0].Details["prior_id"])
	assert.Equal(t, false, ren[0].Details["is_duplicate"])

	rec, ok := k.State().Authorities.Get(mustID(t, renewed))
	require.True(t, ok)
	assert.Equal(t, authority.StatusPending, rec.Status)
	assert.Equal(t, []string{mustID(t, orig)}, rec.Lineage)

	mustProcess(t, k, advanceTo(2))

	// Past the original's expiry only the renewal survives.
	outs = mustProcess(t, k, advanceTo(6))
	expired := outputsOfType(outs, OutputAuthorityExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, mustID(t, orig), expired[0].Details["authority_id"])
	rec, _ = k.State().Authorities.Get(mustID(t, renewed))
	assert.Equal(t, authority.StatusActive, rec.Status)
}

func TestRenewal_Refusals(t *testing.T) {
	k := testKernel(t)
	orig := grantCore("alice", "res/db", authority.PermRead, 50)
	pending := grantCore("bob", "res/db", authority.PermRead, 50)
	mustProcess(t, k, injection(orig, "h", 0))
	mustProcess(t, k, advanceTo(1))
	mustProcess(t, k, injection(pending, "h", 1))

	cases := []struct {
		name string
		ev   Event
		code string
	}{
		{
			name: "unknown prior",
			ev:   renewalEvent("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", grantCore("alice", "res/db", authority.PermRead, 60), 2),
			code: "AUTHORITY_NOT_FOUND",
		},
		{
			name: "pending prior",
			ev:   renewalEvent(mustID(t, pending), grantCore("bob", "res/db", authority.PermRead, 60), 2),
			code: "TARGET_NOT_ACTIVE",
		},
		{
			name: "holder changes",
			ev:   renewalEvent(mustID(t, orig), grantCore("mallory", "res/db", authority.PermRead, 60), 2),
			code: "LINEAGE_INVALID",
		},
		{
			name: "scope changes",
			ev:   renewalEvent(mustID(t, orig), grantCore("alice", "res/other", authority.PermRead, 60), 2),
			code: "LINEAGE_INVALID",
		},
		{
			name: "start epoch not next",
			ev:   renewalEvent(mustID(t, orig), grantCore("alice", "res/db", authority.PermRead, 60), 5),
			code: "EPOCH_MISMATCH",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outs := mustProcess(t, k, tc.ev)
			assert.Equal(t, []string{tc.code}, refusalCodes(outs))
		})
	}
}

func TestBudget_ExhaustionRefusesRemainderOfEpoch(t *testing.T) {
	k := testKernel(t, func(c *Config) { c.Budget = 2 })

	outs := mustProcess(t, k,
		injection(grantCore("a", "res/1", authority.PermRead, 100), "h", 0),
		injection(grantCore("b", "res/2", authority.PermRead, 100), "h", 0),
		injection(grantCore("c", "res/3", authority.PermRead, 100), "h", 0),
	)
	assert.Len(t, outputsOfType(outs, OutputAuthorityInjected), 2)
	assert.Equal(t, []string{"BOUND_EXHAUSTED"}, refusalCodes(outs))

	// The budget spans batches within the epoch.
	outs = mustProcess(t, k, injection(grantCore("d", "res/4", authority.PermRead, 100), "h", 0))
	assert.Equal(t, []string{"BOUND_EXHAUSTED"}, refusalCodes(outs))
	assert.Equal(t, uint64(0), k.BudgetRemaining())

	// Epoch advancement resets it.
	mustProcess(t, k, advanceTo(1))
	assert.Equal(t, uint64(2), k.BudgetRemaining())
	outs = mustProcess(t, k, injection(grantCore("d", "res/4", authority.PermRead, 100), "h", 1))
	assert.Len(t, outputsOfType(outs, OutputAuthorityInjected), 1)
}

func TestDeadlock_DeclareFreezeAndClear(t *testing.T) {
	k := testKernel(t, func(c *Config) {
		c.Thresholds = failure.Thresholds{DeadlockDeclare: 2, LivelockLatch: 100, CollapsePersistence: 100}
		c.ProtectedScopes = []string{"core/registry"}
	})
	// A grant elsewhere keeps the participant count nonzero.
	mustProcess(t, k, injection(grantCore("alice", "res/other", authority.PermRead, 1000), "h", 0))
	mustProcess(t, k, advanceTo(1))

	// Two consecutive epochs of fully blocked protected demand.
	mustProcess(t, k, action("core/registry", "read"))
	outs := mustProcess(t, k, advanceTo(2))
	assert.Empty(t, outputsOfType(outs, OutputDeadlockDeclared))

	mustProcess(t, k, action("core/registry", "read"))
	outs = mustProcess(t, k, advanceTo(3))
	require.Len(t, outputsOfType(outs, OutputDeadlockDeclared), 1)

	// Frozen: protected requests refuse without evaluation.
	outs = mustProcess(t, k, action("core/registry", "read"))
	require.Len(t, outs, 1)
	assert.Equal(t, "DEADLOCK_STATE", outs[0].Details["reason_code"])
	assert.Equal(t, "DEADLOCK", outs[0].Details["cause"])

	// Unprotected scopes are untouched by the freeze.
	outs = mustProcess(t, k, action("res/other", "read"))
	assert.Equal(t, OutputActionExecuted, outs[0].Type)

	// Same surface, still blocked: the declaration persists.
	mustProcess(t, k, injection(grantCore("fixer", "core/registry", authority.PermRead, 1000), "h", 3))
	outs = mustProcess(t, k, advanceTo(4))
	require.Len(t, outputsOfType(outs, OutputDeadlockPersisted), 1)

	// The injected grant activated at epoch 4, changing the admissibility
	// surface; the next observation clears the declaration explicitly.
	mustProcess(t, k, action("core/registry", "read"))
	outs = mustProcess(t, k, advanceTo(5))
	require.Len(t, outputsOfType(outs, OutputDeadlockCleared), 1)

	outs = mustProcess(t, k, action("core/registry", "read"))
	assert.Equal(t, OutputActionExecuted, outs[0].Type)
}

func TestLivelock_LatchesAndEscalatesToCollapse(t *testing.T) {
	k := testKernel(t, func(c *Config) {
		c.Thresholds = failure.Thresholds{DeadlockDeclare: 100, LivelockLatch: 2, CollapsePersistence: 100}
		c.ProtectedScopes = []string{"core/state"}
	})
	mustProcess(t, k, injection(grantCore("alice", "core/state", authority.PermRead|authority.PermWrite, 1000), "h", 0))
	mustProcess(t, k, advanceTo(1))

	// Reads execute every epoch but never change the protected records.
	var latched []Output
	for epoch := uint64(2); epoch <= 4; epoch++ {
		outs := mustProcess(t, k, action("core/state", "read"))
		require.Len(t, outputsOfType(outs, OutputActionExecuted), 1)
		outs = mustProcess(t, k, advanceTo(epoch))
		latched = append(latched, outputsOfType(outs, OutputLivelockLatched)...)
		latched = append(latched, outputsOfType(outs, OutputCollapseLatched)...)
	}
	require.Len(t, latched, 2, "livelock latches and escalates to collapse at one boundary")
	assert.Equal(t, OutputLivelockLatched, latched[0].Type)
	assert.Equal(t, OutputCollapseLatched, latched[1].Type)
	assert.Equal(t, "COLLAPSE", latched[1].Details["cause"])

	// The latch is permanent: protected requests refuse from here on.
	outs := mustProcess(t, k, action("core/state", "read"))
	require.Len(t, outs, 1)
	assert.Equal(t, "DEADLOCK_STATE", outs[0].Details["reason_code"])
	assert.Equal(t, "COLLAPSE", outs[0].Details["cause"])

	mustProcess(t, k, advanceTo(10))
	assert.True(t, k.State().Detectors.LivelockLatched())
	assert.True(t, k.State().Detectors.CollapseLatched())
}

func TestAgentCollapse_AuthorityVacuumWithDemand(t *testing.T) {
	k := testKernel(t, func(c *Config) {
		c.ProtectedScopes = []string{"core/registry"}
	})

	// Bootstrap idle boundaries do not collapse.
	outs := mustProcess(t, k, advanceTo(1))
	assert.Empty(t, outputsOfType(outs, OutputCollapseLatched))

	// Demand with zero active participants does, immediately.
	mustProcess(t, k, action("core/registry", "read"))
	outs = mustProcess(t, k, advanceTo(2))
	latched := outputsOfType(outs, OutputCollapseLatched)
	require.Len(t, latched, 1)
	assert.Equal(t, "AGENT_COLLAPSE", latched[0].Details["cause"])
}

func TestSuccession_FullRotationSuspendsAndRestoresGrants(t *testing.T) {
	master, err := succession.NewMemorySignerFromSeed(bytes.Repeat([]byte{0x21}, 32))
	require.NoError(t, err)
	prior, err := succession.DeriveSigner(master, "sovereign-0")
	require.NoError(t, err)
	successor, err := succession.DeriveSigner(master, "sovereign-1")
	require.NoError(t, err)

	k := testKernel(t, func(c *Config) { c.SovereignKey = succession.EncodeKey(prior.PublicKey()) })

	sealGrant := grantCore(succession.KeyID(prior.PublicKey()), "core/seal", authority.PermRead|authority.PermWrite, 1000)
	mustProcess(t, k, injection(sealGrant, "h", 0))

	proposal, err := succession.SignProposal(prior, successor.PublicKey())
	require.NoError(t, err)
	outs := mustProcess(t, k, successionEvent(proposal))
	require.Len(t, outputsOfType(outs, OutputSuccessionProposed), 1)

	closing, err := k.StateHash()
	require.NoError(t, err)
	att, err := succession.Attest(prior, successor, proposal, k.State().Chain, 0, 1, closing)
	require.NoError(t, err)
	adv := advanceTo(1)
	adv.EpochAdvance.Attestation = &att

	outs = mustProcess(t, k, adv)
	require.Len(t, outputsOfType(outs, OutputSuccessionCompleted), 1)
	assert.Equal(t, succession.EncodeKey(successor.PublicKey()), k.State().Chain.ActiveKey)
	assert.Equal(t, uint64(1), k.State().Chain.ChainLength)
	assert.NotEqual(t, succession.GenesisTip, k.State().Chain.TipHash)

	// The outgoing identity's grant activated at this boundary and was
	// suspended in the same stroke.
	require.Len(t, outputsOfType(outs, OutputAuthoritySuspended), 1)
	assert.True(t, k.State().Authorities.IsSuspended(mustID(t, sealGrant)))
	outs = mustProcess(t, k, action("core/seal", "read"))
	assert.Equal(t, []string{"NO_AUTHORITY"}, refusalCodes(outs))

	// Rotating back restores the suspended grant.
	back, err := succession.SignProposal(successor, prior.PublicKey())
	require.NoError(t, err)
	mustProcess(t, k, successionEvent(back))
	closing2, err := k.StateHash()
	require.NoError(t, err)
	att2, err := succession.Attest(successor, prior, back, k.State().Chain, 1, 2, closing2)
	require.NoError(t, err)
	adv2 := advanceTo(2)
	adv2.EpochAdvance.Attestation = &att2

	outs = mustProcess(t, k, adv2)
	require.Len(t, outputsOfType(outs, OutputAuthorityReactivated), 1)
	assert.Equal(t, uint64(2), k.State().Chain.ChainLength)
	outs = mustProcess(t, k, action("core/seal", "read"))
	require.Len(t, outputsOfType(outs, OutputActionExecuted), 1)
}

func TestSuccession_MissingAttestationHaltsRun(t *testing.T) {
	master, err := succession.NewMemorySignerFromSeed(bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)
	prior, err := succession.DeriveSigner(master, "sovereign-0")
	require.NoError(t, err)
	successor, err := succession.DeriveSigner(master, "sovereign-1")
	require.NoError(t, err)

	k := testKernel(t, func(c *Config) { c.SovereignKey = succession.EncodeKey(prior.PublicKey()) })
	proposal, err := succession.SignProposal(prior, successor.PublicKey())
	require.NoError(t, err)
	mustProcess(t, k, successionEvent(proposal))

	outs, err := k.ProcessBatch([]Event{advanceTo(1)})
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, FatalBoundaryFault, fatal.Code)
	require.NotNil(t, fatal.Fault)
	assert.Equal(t, succession.FaultAttestationMissing, fatal.Fault.Code)
	assert.Nil(t, outs)

	// The boundary never happened and the run is hard-stopped.
	assert.Equal(t, uint64(0), k.Epoch())
	assert.True(t, k.Halted())
	_, err = k.ProcessBatch([]Event{advanceTo(2)})
	assert.Equal(t, ErrHalted, err)
}

func TestSuccession_ProposalAdmissionRules(t *testing.T) {
	master, err := succession.NewMemorySignerFromSeed(bytes.Repeat([]byte{0x23}, 32))
	require.NoError(t, err)
	prior, err := succession.DeriveSigner(master, "sovereign-0")
	require.NoError(t, err)
	successor, err := succession.DeriveSigner(master, "sovereign-1")
	require.NoError(t, err)
	mallory, err := succession.DeriveSigner(master, "intruder")
	require.NoError(t, err)

	k := testKernel(t, func(c *Config) { c.SovereignKey = succession.EncodeKey(prior.PublicKey()) })

	// A proposal chained from a key that is not the active sovereign.
	evil, err := succession.SignProposal(mallory, successor.PublicKey())
	require.NoError(t, err)
	outs := mustProcess(t, k, successionEvent(evil))
	assert.Equal(t, []string{"LINEAGE_INVALID"}, refusalCodes(outs))

	// A tampered signature.
	good, err := succession.SignProposal(prior, successor.PublicKey())
	require.NoError(t, err)
	tampered := good
	tampered.Signature = evil.Signature
	outs = mustProcess(t, k, successionEvent(tampered))
	assert.Equal(t, []string{"LINEAGE_INVALID"}, refusalCodes(outs))

	// The genuine proposal admits once.
	outs = mustProcess(t, k, successionEvent(good))
	require.Len(t, outputsOfType(outs, OutputSuccessionProposed), 1)

	// Resubmission refuses rather than double-admitting.
	outs = mustProcess(t, k, successionEvent(good))
	assert.Equal(t, []string{"LINEAGE_INVALID"}, refusalCodes(outs))

	// A second distinct rotation cannot queue behind the pending one.
	other, err := succession.SignProposal(prior, mallory.PublicKey())
	require.NoError(t, err)
	outs = mustProcess(t, k, successionEvent(other))
	assert.Equal(t, []string{"LINEAGE_INVALID"}, refusalCodes(outs))
}

func TestReservedBits_AbortWholeBatch(t *testing.T) {
	k := testKernel(t)
	valid := grantCore("alice", "res/db", authority.PermRead, 100)
	invalid := grantCore("bob", "res/db", authority.Vector(1<<12)|authority.PermRead, 100)

	before, err := k.StateHash()
	require.NoError(t, err)

	outs, err := k.ProcessBatch([]Event{injection(valid, "h", 0), injection(invalid, "h", 0)})
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, FatalReservedBitSet, fatal.Code)
	assert.Equal(t, 1, fatal.EventIndex)
	assert.Nil(t, outs)

	after, err := k.StateHash()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, ok := k.State().Authorities.Get(mustID(t, valid))
	assert.False(t, ok, "the valid sibling must not land either")
}

func TestMalformedEvent_RefusesSchemaInvalid(t *testing.T) {
	k := testKernel(t)

	missing := Event{Type: EventInjection}
	unknown := Event{Type: "MYSTERY"}
	mismatched := Event{Type: EventAction, Injection: &InjectionEvent{}}

	outs := mustProcess(t, k, missing, unknown, mismatched)
	assert.Equal(t, []string{"SCHEMA_INVALID", "SCHEMA_INVALID", "SCHEMA_INVALID"}, refusalCodes(outs))
}

func TestReplay_DeterministicAcrossRuns(t *testing.T) {
	coreA := grantCore("alice", "res/a", authority.PermRead|authority.PermWrite, 100)
	coreB := grantCore("bob", "res/b", authority.PermRead|authority.PermWrite, 100)
	coreC := grantCore("carol", "res/c", authority.PermRead, 100)

	run := func() ([][]Output, string) {
		k := testKernel(t)
		batches := [][]Event{
			{injection(coreA, "src-1", 0), injection(coreB, "src-2", 0)},
			{advanceTo(1)},
			{action("res/a", "read"), action("res/b", "write")},
			{advanceTo(2), injection(coreC, "src-3", 2)},
			{destroyEvent(mustID(t, coreB), mustID(t, coreB))},
		}
		var all [][]Output
		for _, b := range batches {
			outs, err := k.ProcessBatch(b)
			require.NoError(t, err)
			all = append(all, outs)
		}
		h, err := k.StateHash()
		require.NoError(t, err)
		return all, h
	}

	outs1, h1 := run()
	outs2, h2 := run()
	assert.Equal(t, outs1, outs2, "identical feeds replay to identical logs")
	assert.Equal(t, h1, h2)
}

func TestReplay_ArrivalOrderWithinPhaseIsImmaterial(t *testing.T) {
	cores := []authority.Core{
		grantCore("alice", "res/a", authority.PermRead, 100),
		grantCore("bob", "res/b", authority.PermRead, 100),
		grantCore("carol", "res/c", authority.PermRead, 100),
	}

	finalHash := func(order []int) string {
		k := testKernel(t)
		batch := make([]Event, 0, len(order))
		for _, i := range order {
			batch = append(batch, injection(cores[i], "h", 0))
		}
		_, err := k.ProcessBatch(batch)
		require.NoError(t, err)
		mustProcess(t, k, advanceTo(1))
		h, err := k.StateHash()
		require.NoError(t, err)
		return h
	}

	ref := finalHash([]int{0, 1, 2})
	assert.Equal(t, ref, finalHash([]int{2, 1, 0}))
	assert.Equal(t, ref, finalHash([]int{1, 2, 0}))
}

func TestOutputs_FinalEntryCarriesCommittedHash(t *testing.T) {
	k := testKernel(t)
	outs := mustProcess(t, k,
		injection(grantCore("alice", "res/a", authority.PermRead, 100), "h", 0),
		action("res/a", "read"), // refused: not active yet
	)
	require.NotEmpty(t, outs)

	committed, err := k.StateHash()
	require.NoError(t, err)
	assert.Equal(t, committed, outs[len(outs)-1].StateHash)
}
