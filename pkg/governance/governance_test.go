package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/Axio-sub002/pkg/authority"
	"github.com/macterra/Axio-sub002/pkg/conflict"
)

func seedActive(t *testing.T, s *authority.Store, core authority.Core) authority.Record {
	t.Helper()
	rec, err := authority.NewRecord(core, 1, nil, authority.CreationMeta{SourceID: "seed"})
	require.NoError(t, err)
	_, _, err = s.Inject(rec)
	require.NoError(t, err)
	s.ActivatePending(1)
	got, ok := s.Get(rec.ID)
	require.True(t, ok)
	require.Equal(t, authority.StatusActive, got.Status)
	return got
}

func TestEvaluateDestroy_TargetChecksComeFirst(t *testing.T) {
	s := authority.NewStore()

	dec, err := EvaluateDestroy(s, DestroyRequest{TargetID: "missing"}, 1)
	require.NoError(t, err)
	assert.Equal(t, RefusalAuthorityNotFound, dec.Refusal)

	pending, err := authority.NewRecord(authority.Core{HolderID: "h", ResourceScope: "R", Vector: authority.PermRead, ExpiryEpoch: 9}, 5, nil, authority.CreationMeta{})
	require.NoError(t, err)
	_, _, err = s.Inject(pending)
	require.NoError(t, err)

	dec, err = EvaluateDestroy(s, DestroyRequest{TargetID: pending.ID}, 1)
	require.NoError(t, err)
	assert.Equal(t, RefusalTargetNotActive, dec.Refusal)
}

func TestEvaluateDestroy_NoAdmittingInitiator(t *testing.T) {
	s := authority.NewStore()
	target := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermRead, ExpiryEpoch: 9})
	offScope := seedActive(t, s, authority.Core{HolderID: "h2", ResourceScope: "OTHER", Vector: authority.PermDestroy, ExpiryEpoch: 9})
	noBit := seedActive(t, s, authority.Core{HolderID: "h3", ResourceScope: "R", Vector: authority.PermWrite, ExpiryEpoch: 9})

	dec, err := EvaluateDestroy(s, DestroyRequest{
		TargetID:     target.ID,
		InitiatorIDs: []string{offScope.ID, noBit.ID, "unknown"},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, RefusalNoAuthority, dec.Refusal)
}

func TestEvaluateDestroy_ThirdPartyWithoutDestroyBitBlocks(t *testing.T) {
	s := authority.NewStore()
	target := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermRead | authority.PermDestroy, ExpiryEpoch: 9})
	initiator := seedActive(t, s, authority.Core{HolderID: "h2", ResourceScope: "R", Vector: authority.PermDestroy, ExpiryEpoch: 9})
	bystander := seedActive(t, s, authority.Core{HolderID: "h3", ResourceScope: "R", Vector: authority.PermRead, ExpiryEpoch: 9})

	dec, err := EvaluateDestroy(s, DestroyRequest{
		TargetID:     target.ID,
		InitiatorIDs: []string{initiator.ID},
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, RefusalConflictBlocks, dec.Refusal)
	assert.Equal(t, []string{bystander.ID}, dec.BlockerIDs)
	require.NotNil(t, dec.Conflict)
	assert.Equal(t, conflict.KindStructural, dec.Conflict.Kind)
	assert.Equal(t, "R", dec.Conflict.ResourceScope)
	assert.Len(t, dec.Conflict.ParticipantIDs, 3, "structural conflict names the whole scope group")

	// The engine only decides; the target must still be ACTIVE.
	got, ok := s.Get(target.ID)
	require.True(t, ok)
	assert.Equal(t, authority.StatusActive, got.Status)
}

func TestEvaluateDestroy_Admitted(t *testing.T) {
	s := authority.NewStore()
	target := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermRead, ExpiryEpoch: 9})
	a := seedActive(t, s, authority.Core{HolderID: "h2", ResourceScope: "R", Vector: authority.PermDestroy, ExpiryEpoch: 9})
	b := seedActive(t, s, authority.Core{HolderID: "h3", ResourceScope: "R", Vector: authority.PermDestroy | authority.PermWrite, ExpiryEpoch: 9})

	dec, err := EvaluateDestroy(s, DestroyRequest{
		TargetID:     target.ID,
		InitiatorIDs: []string{b.ID, a.ID, a.ID},
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, RefusalNone, dec.Refusal)
	want := []string{a.ID, b.ID}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, dec.AdmittingIDs, "admitting set is deduplicated and sorted")
	assert.Nil(t, dec.Conflict)
}

func TestEvaluateDestroy_TargetOwnBitsDoNotBlock(t *testing.T) {
	// A read-only target must be destroyable: only third parties block.
	s := authority.NewStore()
	target := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermRead, ExpiryEpoch: 9})
	initiator := seedActive(t, s, authority.Core{HolderID: "h2", ResourceScope: "R", Vector: authority.PermDestroy, ExpiryEpoch: 9})

	dec, err := EvaluateDestroy(s, DestroyRequest{TargetID: target.ID, InitiatorIDs: []string{initiator.ID}}, 2)
	require.NoError(t, err)
	assert.Equal(t, RefusalNone, dec.Refusal)
}

func TestEvaluateCreate_NoAuthority(t *testing.T) {
	s := authority.NewStore()
	noCreate := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermWrite, ExpiryEpoch: 9})

	dec, err := EvaluateCreate(s, CreateRequest{
		NewHolderID:  "h9",
		NewScope:     "R",
		NewVector:    authority.PermRead,
		ExpiryEpoch:  20,
		ScopeBasisID: noCreate.ID,
		InitiatorIDs: []string{noCreate.ID},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, RefusalNoAuthority, dec.Refusal)
}

func TestEvaluateCreate_AmplificationBlocked(t *testing.T) {
	s := authority.NewStore()
	creator := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermCreate | authority.PermRead, ExpiryEpoch: 9})

	dec, err := EvaluateCreate(s, CreateRequest{
		NewHolderID:  "h9",
		NewScope:     "R",
		NewVector:    authority.PermRead | authority.PermDestroy,
		ExpiryEpoch:  20,
		ScopeBasisID: creator.ID,
		InitiatorIDs: []string{creator.ID},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, RefusalAmplification, dec.Refusal)
	assert.Equal(t, creator.Vector, dec.UnionVector)
}

func TestEvaluateCreate_ScopeContainment(t *testing.T) {
	s := authority.NewStore()
	onScope := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermCreate | authority.PermRead, ExpiryEpoch: 9})
	offScope := seedActive(t, s, authority.Core{HolderID: "h2", ResourceScope: "ELSEWHERE", Vector: authority.PermCreate | authority.PermRead, ExpiryEpoch: 9})

	// Basis not among the admitting initiators.
	dec, err := EvaluateCreate(s, CreateRequest{
		NewHolderID:  "h9",
		NewScope:     "R",
		NewVector:    authority.PermRead,
		ExpiryEpoch:  20,
		ScopeBasisID: onScope.ID,
		InitiatorIDs: []string{offScope.ID},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, RefusalScopeNotCovered, dec.Refusal)

	// Basis admits but lives on another scope.
	dec, err = EvaluateCreate(s, CreateRequest{
		NewHolderID:  "h9",
		NewScope:     "R",
		NewVector:    authority.PermRead,
		ExpiryEpoch:  20,
		ScopeBasisID: offScope.ID,
		InitiatorIDs: []string{offScope.ID},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, RefusalScopeNotCovered, dec.Refusal)
}

func TestEvaluateCreate_Admitted(t *testing.T) {
	s := authority.NewStore()
	a := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermCreate | authority.PermRead, ExpiryEpoch: 9})
	b := seedActive(t, s, authority.Core{HolderID: "h2", ResourceScope: "OTHER", Vector: authority.PermCreate | authority.PermWrite, ExpiryEpoch: 9})

	dec, err := EvaluateCreate(s, CreateRequest{
		NewHolderID:  "h9",
		NewScope:     "R",
		NewVector:    authority.PermRead | authority.PermWrite,
		ExpiryEpoch:  20,
		ScopeBasisID: a.ID,
		InitiatorIDs: []string{a.ID, b.ID},
	}, 4)
	require.NoError(t, err)

	require.Equal(t, RefusalNone, dec.Refusal)
	rec := dec.Record
	assert.Equal(t, authority.StatusPending, rec.Status)
	assert.Equal(t, uint64(5), rec.StartEpoch, "created records activate no earlier than the next epoch")
	assert.Equal(t, "h9", rec.HolderID)
	assert.Equal(t, "R", rec.ResourceScope)
	assert.ElementsMatch(t, dec.AdmittingIDs, rec.Lineage)
	assert.Equal(t, uint64(4), rec.Meta.CreationEpoch)
}

func TestEvaluateCreate_SuspendedInitiatorDoesNotAdmit(t *testing.T) {
	s := authority.NewStore()
	creator := seedActive(t, s, authority.Core{HolderID: "h1", ResourceScope: "R", Vector: authority.PermCreate | authority.PermRead, ExpiryEpoch: 9})
	s.Suspend(creator.ID)

	dec, err := EvaluateCreate(s, CreateRequest{
		NewHolderID:  "h9",
		NewScope:     "R",
		NewVector:    authority.PermRead,
		ExpiryEpoch:  20,
		ScopeBasisID: creator.ID,
		InitiatorIDs: []string{creator.ID},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, RefusalNoAuthority, dec.Refusal)
}
