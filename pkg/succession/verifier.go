package succession

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/macterra/Axio-sub002/pkg/canonical"
)

// GenesisTip is the identity-chain sentinel before any rotation.
const GenesisTip = "genesis"

// FaultCode classifies boundary-verification failures. Every fault is
// fatal: the run halts rather than proceeding under a contested signer.
type FaultCode string

const (
	FaultAttestationMissing FaultCode = "BOUNDARY_ATTESTATION_MISSING"
	FaultCommitSignature    FaultCode = "BOUNDARY_COMMIT_SIG_INVALID"
	FaultStartSignature     FaultCode = "BOUNDARY_START_SIG_INVALID"
	FaultChainMismatch      FaultCode = "BOUNDARY_CHAIN_MISMATCH"
)

// BoundaryFault is the typed error for a failed succession boundary.
type BoundaryFault struct {
	Code   FaultCode
	Detail string
}

func (f *BoundaryFault) Error() string {
	return fmt.Sprintf("boundary fault %s: %s", f.Code, f.Detail)
}

// Proposal is the wire artifact proposing a signer rotation. Keys and
// signature are hex encoded. The signature covers the canonical encoding of
// the proposal with the signature field absent, signed by the prior key.
type Proposal struct {
	PriorKey     string `json:"prior_key"`
	SuccessorKey string `json:"successor_key"`
	Signature    string `json:"signature"`
}

type proposalPayload struct {
	PriorKey     string `json:"prior_key"`
	SuccessorKey string `json:"successor_key"`
}

// SigningPayload returns the canonical bytes the proposal signature covers.
func (p Proposal) SigningPayload() ([]byte, error) {
	return canonical.Encode(proposalPayload{PriorKey: p.PriorKey, SuccessorKey: p.SuccessorKey})
}

// Hash is the content-addressed identity of the proposal, excluding its
// signature.
func (p Proposal) Hash() (string, error) {
	return canonical.ContentHash(proposalPayload{PriorKey: p.PriorKey, SuccessorKey: p.SuccessorKey})
}

// Verify checks the proposal signature against the prior key.
func (p Proposal) Verify() error {
	pub, err := decodeKey(p.PriorKey)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(p.Signature)
	if err != nil {
		return fmt.Errorf("succession: malformed signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("succession: signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	payload, err := p.SigningPayload()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, sig) {
		return fmt.Errorf("succession: proposal signature does not verify against prior key")
	}
	return nil
}

// SignProposal builds a signed rotation proposal from prior to successor.
func SignProposal(prior Signer, successor ed25519.PublicKey) (Proposal, error) {
	p := Proposal{
		PriorKey:     EncodeKey(prior.PublicKey()),
		SuccessorKey: EncodeKey(successor),
	}
	payload, err := p.SigningPayload()
	if err != nil {
		return Proposal{}, err
	}
	sig, err := prior.Sign(payload)
	if err != nil {
		return Proposal{}, err
	}
	p.Signature = hex.EncodeToString(sig)
	return p, nil
}

// ChainState is the signer identity chain carried inside kernel state. All
// fields participate in the state hash.
type ChainState struct {
	ActiveKey   string `json:"active_key"`
	ChainLength uint64 `json:"chain_length"`
	TipHash     string `json:"tip_hash"`
}

// NewChainState roots a chain at the given active key.
func NewChainState(activeKeyHex string) ChainState {
	return ChainState{ActiveKey: activeKeyHex, ChainLength: 0, TipHash: GenesisTip}
}

type tipPayload struct {
	ChainLength  uint64 `json:"chain_length"`
	SuccessorKey string `json:"successor_key"`
	PriorTipHash string `json:"prior_tip_hash"`
	ProposalHash string `json:"proposal_hash"`
}

// NextTip recomputes the identity-chain tip for a rotation.
func NextTip(chainLength uint64, successorKey, priorTip, proposalHash string) (string, error) {
	return canonical.ContentHash(tipPayload{
		ChainLength:  chainLength,
		SuccessorKey: successorKey,
		PriorTipHash: priorTip,
		ProposalHash: proposalHash,
	})
}

// Attestation carries the boundary signatures accompanying an epoch advance
// while a rotation is pending: the closing commit signed by the currently
// active key, and the opening start signed by the successor over the new
// chain tip.
type Attestation struct {
	CommitSignature string `json:"commit_signature"`
	StartSignature  string `json:"start_signature"`
	ClaimedTip      string `json:"claimed_tip"`
}

type commitPayload struct {
	Kind         string `json:"kind"`
	Epoch        uint64 `json:"epoch"`
	StateHash    string `json:"state_hash"`
	ProposalHash string `json:"proposal_hash"`
}

type startPayload struct {
	Kind         string `json:"kind"`
	Epoch        uint64 `json:"epoch"`
	ProposalHash string `json:"proposal_hash"`
	TipHash      string `json:"tip_hash"`
}

// CommitPayload returns the canonical bytes the commit signature covers:
// the closing epoch, the state hash it closes on, and the proposal.
func CommitPayload(closingEpoch uint64, stateHash, proposalHash string) ([]byte, error) {
	return canonical.Encode(commitPayload{Kind: "commit", Epoch: closingEpoch, StateHash: stateHash, ProposalHash: proposalHash})
}

// StartPayload returns the canonical bytes the start signature covers: the
// opening epoch, the proposal, and the new chain tip.
func StartPayload(newEpoch uint64, proposalHash, tipHash string) ([]byte, error) {
	return canonical.Encode(startPayload{Kind: "start", Epoch: newEpoch, ProposalHash: proposalHash, TipHash: tipHash})
}

// Attest builds a full boundary attestation for a pending proposal. Used by
// harnesses and tests; the kernel only ever verifies.
func Attest(prior, successor Signer, proposal Proposal, chain ChainState, closingEpoch, newEpoch uint64, stateHash string) (Attestation, error) {
	ph, err := proposal.Hash()
	if err != nil {
		return Attestation{}, err
	}
	tip, err := NextTip(chain.ChainLength+1, proposal.SuccessorKey, chain.TipHash, ph)
	if err != nil {
		return Attestation{}, err
	}
	commit, err := CommitPayload(closingEpoch, stateHash, ph)
	if err != nil {
		return Attestation{}, err
	}
	commitSig, err := prior.Sign(commit)
	if err != nil {
		return Attestation{}, err
	}
	start, err := StartPayload(newEpoch, ph, tip)
	if err != nil {
		return Attestation{}, err
	}
	startSig, err := successor.Sign(start)
	if err != nil {
		return Attestation{}, err
	}
	return Attestation{
		CommitSignature: hex.EncodeToString(commitSig),
		StartSignature:  hex.EncodeToString(startSig),
		ClaimedTip:      tip,
	}, nil
}

// VerifyBoundary runs the full boundary sequence for a pending rotation:
// commit signature by the currently active key, start signature by the
// successor, and tip recomputation. On success it returns the advanced
// chain state; any mismatch returns a BoundaryFault and the rotation must
// not activate.
func VerifyBoundary(chain ChainState, proposal Proposal, att Attestation, closingEpoch, newEpoch uint64, stateHash string) (ChainState, error) {
	if att.CommitSignature == "" || att.StartSignature == "" {
		return ChainState{}, &BoundaryFault{Code: FaultAttestationMissing, Detail: "pending rotation requires commit and start signatures"}
	}

	ph, err := proposal.Hash()
	if err != nil {
		return ChainState{}, &BoundaryFault{Code: FaultChainMismatch, Detail: err.Error()}
	}

	activeKey, err := decodeKey(chain.ActiveKey)
	if err != nil {
		return ChainState{}, &BoundaryFault{Code: FaultCommitSignature, Detail: err.Error()}
	}
	commitSig, err := hex.DecodeString(att.CommitSignature)
	if err != nil || len(commitSig) != ed25519.SignatureSize {
		return ChainState{}, &BoundaryFault{Code: FaultCommitSignature, Detail: "malformed commit signature"}
	}
	commit, err := CommitPayload(closingEpoch, stateHash, ph)
	if err != nil {
		return ChainState{}, &BoundaryFault{Code: FaultCommitSignature, Detail: err.Error()}
	}
	if !ed25519.Verify(activeKey, commit, commitSig) {
		return ChainState{}, &BoundaryFault{Code: FaultCommitSignature, Detail: "commit not signed by active key"}
	}

	tip, err := NextTip(chain.ChainLength+1, proposal.SuccessorKey, chain.TipHash, ph)
	if err != nil {
		return ChainState{}, &BoundaryFault{Code: FaultChainMismatch, Detail: err.Error()}
	}
	if att.ClaimedTip != tip {
		return ChainState{}, &BoundaryFault{Code: FaultChainMismatch, Detail: fmt.Sprintf("tip %.12s does not recompute, expected %.12s", att.ClaimedTip, tip)}
	}

	successorKey, err := decodeKey(proposal.SuccessorKey)
	if err != nil {
		return ChainState{}, &BoundaryFault{Code: FaultStartSignature, Detail: err.Error()}
	}
	startSig, err := hex.DecodeString(att.StartSignature)
	if err != nil || len(startSig) != ed25519.SignatureSize {
		return ChainState{}, &BoundaryFault{Code: FaultStartSignature, Detail: "malformed start signature"}
	}
	start, err := StartPayload(newEpoch, ph, tip)
	if err != nil {
		return ChainState{}, &BoundaryFault{Code: FaultStartSignature, Detail: err.Error()}
	}
	if !ed25519.Verify(successorKey, start, startSig) {
		return ChainState{}, &BoundaryFault{Code: FaultStartSignature, Detail: "start not signed by successor key"}
	}

	return ChainState{
		ActiveKey:   proposal.SuccessorKey,
		ChainLength: chain.ChainLength + 1,
		TipHash:     tip,
	}, nil
}
