package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/Axio-sub002/pkg/authority"
	"github.com/macterra/Axio-sub002/pkg/kernel"
)

var (
	id64  = strings.Repeat("ab", 32)
	key64 = strings.Repeat("0f", 32)
	sig   = strings.Repeat("cd", 64)
)

func TestDecodeBatch_AllEventKindsRoundTrip(t *testing.T) {
	core := authority.Core{HolderID: "alice", ResourceScope: "res/db", Vector: authority.Vector(3), ExpiryEpoch: 100}
	events := []kernel.Event{
		{Type: kernel.EventEpochAdvance, EpochAdvance: &kernel.EpochAdvanceEvent{NewEpoch: 1}},
		{Type: kernel.EventInjection, Injection: &kernel.InjectionEvent{Core: core, SourceID: "harness", InjectionEpoch: 0}},
		{Type: kernel.EventRenewal, Renewal: &kernel.RenewalEvent{PriorID: id64, NewRecord: kernel.RecordSpec{Core: core, StartEpoch: 2}}},
		{Type: kernel.EventGovernance, Governance: &kernel.GovernanceEvent{Kind: kernel.GovernanceDestroy, InitiatorIDs: []string{id64}, TargetID: id64}},
		{Type: kernel.EventAction, Action: &kernel.ActionEvent{ResourceScope: "res/db", Operation: "read", AuthoritiesCited: []string{id64}, Reason: "routine"}},
		{Type: kernel.EventSuccession, Succession: &kernel.SuccessionEvent{PriorKey: key64, SuccessorKey: key64, Signature: sig}},
	}

	raw, err := EncodeBatch(events)
	require.NoError(t, err)

	decoded, violations, err := DecodeBatch(raw)
	require.NoError(t, err)
	assert.Nil(t, violations)
	assert.Equal(t, events, decoded)
}

func TestDecodeBatch_EmptyBatch(t *testing.T) {
	events, violations, err := DecodeBatch([]byte(`{"events":[]}`))
	require.NoError(t, err)
	assert.Len(t, events, 0)
	assert.Nil(t, violations)
}

func TestDecodeBatch_EnvelopeErrors(t *testing.T) {
	cases := map[string]string{
		"not json":             `{"events":`,
		"events missing":       `{}`,
		"events not array":     `{"events":{}}`,
		"unknown envelope key": `{"events":[],"extra":1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeBatch([]byte(raw))
			var envErr *EnvelopeError
			require.ErrorAs(t, err, &envErr)
			assert.NotEmpty(t, envErr.Detail)
		})
	}
}

func TestDecodeBatch_ViolationsKeepIndexAlignment(t *testing.T) {
	raw := []byte(`{"events":[
		{"type":"ACTION_REQUEST","action_request":{"resource_scope":"res/a","operation":"read"}},
		{"type":"INJECTION","injection":{"capability_core":{"holder_id":"alice","resource_scope":"res/db","permission_vector":3,"expiry_epoch":-4},"source_id":"h","injection_epoch":0}},
		{"type":"ACTION_REQUEST","action_request":{"resource_scope":"res/b","operation":"read"}}
	]}`)

	events, violations, err := DecodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Len(t, violations, 1)
	assert.Equal(t, 1, violations[0].EventIndex)
	assert.NotEmpty(t, violations[0].Detail)

	// The damaged event keeps its slot and its declared type.
	assert.Equal(t, kernel.EventInjection, events[1].Type)
	assert.Error(t, events[1].Validate())
	assert.NoError(t, events[0].Validate())
	assert.NoError(t, events[2].Validate())
}

func TestDecodeBatch_RejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"events":[
		{"type":"INJECTION","injection":{"capability_core":{"holder_id":"alice","resource_scope":"res/db","permission_vector":3,"expiry_epoch":100},"source_id":"h","injection_epoch":0,"mystery":true}}
	]}`)

	events, violations, err := DecodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, 0, violations[0].EventIndex)
	// The placeholder keeps the declared type but can no longer execute.
	assert.Equal(t, kernel.EventInjection, events[0].Type)
	assert.Error(t, events[0].Validate())
}

func TestDecodeBatch_SchemaViolationBecomesPlaceholder(t *testing.T) {
	// holder_id fails minLength but the JSON decodes cleanly; the wire layer
	// must not let the event through on decodability alone.
	raw := []byte(`{"events":[
		{"type":"INJECTION","injection":{"capability_core":{"holder_id":"","resource_scope":"res/db","permission_vector":3,"expiry_epoch":100},"source_id":"h","injection_epoch":0}}
	]}`)

	events, violations, err := DecodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Len(t, events, 1)
	assert.Error(t, events[0].Validate())

	k := kernel.New(kernel.Config{})
	outs, err := k.ProcessBatch(events)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, kernel.OutputActionRefused, outs[0].Type)
	assert.Equal(t, "SCHEMA_INVALID", outs[0].Details["reason_code"])
}

func TestDecodeBatch_ReservedVectorBitsReachTheKernel(t *testing.T) {
	// Vector width is kernel policy, not wire structure: a decodable vector
	// with reserved bits passes the schema and aborts the batch in the kernel.
	raw := []byte(`{"events":[
		{"type":"INJECTION","injection":{"capability_core":{"holder_id":"alice","resource_scope":"res/db","permission_vector":256,"expiry_epoch":100},"source_id":"h","injection_epoch":0}}
	]}`)

	events, violations, err := DecodeBatch(raw)
	require.NoError(t, err)
	assert.Nil(t, violations)

	k := kernel.New(kernel.Config{})
	_, err = k.ProcessBatch(events)
	var fatal *kernel.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, kernel.FatalReservedBitSet, fatal.Code)
}

func TestDecodeBatch_DamagedEventFlowsToRefusal(t *testing.T) {
	raw := []byte(`{"events":[
		{"type":"INJECTION","injection":{"capability_core":{"holder_id":"alice","resource_scope":"res/db","permission_vector":3,"expiry_epoch":100},"source_id":"h","injection_epoch":0}},
		{"type":"INJECTION","injection":{"capability_core":{"holder_id":"bob","resource_scope":"res/db","permission_vector":3,"expiry_epoch":100},"source_id":"h","injection_epoch":-1}}
	]}`)

	events, violations, err := DecodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, violations, 1)

	k := kernel.New(kernel.Config{})
	outs, err := k.ProcessBatch(events)
	require.NoError(t, err)
	require.Len(t, outs, 2)

	var refusedAt, injectedAt = -1, -1
	for _, o := range outs {
		switch {
		case o.Type == kernel.OutputActionRefused && o.Details["reason_code"] == "SCHEMA_INVALID":
			refusedAt = o.EventIndex
		case o.Type == kernel.OutputAuthorityInjected:
			injectedAt = o.EventIndex
		}
	}
	assert.Equal(t, 1, refusedAt, "the damaged event refuses at its wire index")
	assert.Equal(t, 0, injectedAt, "the intact sibling lands")
}

func TestEncodeBatch_NilEventsIsEmptyArray(t *testing.T) {
	raw, err := EncodeBatch(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[]}`, string(raw))
}
