// Package replay reconstructs and verifies kernel runs from their journal.
//
// Two levels of assurance are offered. Verify walks a journal offline and
// checks its structure: format version, sequence continuity, batch and
// epoch monotonicity, hash well-formedness. Engine re-executes the original
// input batches against a fresh kernel and compares every output hash to
// the journal, terminating with a diagnostic at the first divergence.
package replay

import (
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/macterra/Axio-sub002/pkg/canonical"
	"github.com/macterra/Axio-sub002/pkg/journal"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// VerifyResult holds the outcome of an offline journal walk.
type VerifyResult struct {
	RunID          string         `json:"run_id"`
	FormatVersion  string         `json:"format_version"`
	TotalRecords   int            `json:"total_records"`
	Batches        int            `json:"batches"`
	ValidChain     bool           `json:"valid_chain"`
	Breaks         []string       `json:"breaks,omitempty"`
	FinalStateHash string         `json:"final_state_hash"`
	FinalEpoch     uint64         `json:"final_epoch"`
	Outputs        map[string]int `json:"outputs"`
	Refusals       map[string]int `json:"refusals,omitempty"`
}

// CompatibleFormat verifies that a journal written at version v can be read
// by this build. Compatibility is same-major: minor additions are tolerated
// because unknown record fields are ignored on decode.
func CompatibleFormat(v string) error {
	constraint, err := semver.NewConstraint("^" + journal.FormatVersion)
	if err != nil {
		return fmt.Errorf("replay: invalid format constraint: %w", err)
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("replay: invalid journal format version %q: %w", v, err)
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("replay: journal format %s is not compatible with %s", v, journal.FormatVersion)
	}
	return nil
}

// Verify walks a journal and checks its structural integrity without
// re-executing anything.
func Verify(r io.Reader) (*VerifyResult, error) {
	jr, err := journal.NewReader(r)
	if err != nil {
		return nil, err
	}
	header := jr.Header()
	if err := CompatibleFormat(header.FormatVersion); err != nil {
		return nil, err
	}

	result := &VerifyResult{
		RunID:         header.RunID,
		FormatVersion: header.FormatVersion,
		ValidChain:    true,
		Outputs:       make(map[string]int),
		Refusals:      make(map[string]int),
	}
	if !hashPattern.MatchString(header.GenesisHash) {
		result.ValidChain = false
		result.Breaks = append(result.Breaks,
			fmt.Sprintf("header: malformed genesis hash %q", header.GenesisHash))
	}

	var prevSeq, prevBatch, prevEpoch uint64
	lastHash := header.GenesisHash
	for {
		rec, err := jr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		i := result.TotalRecords
		result.TotalRecords++

		if rec.Sequence != prevSeq+1 {
			result.ValidChain = false
			result.Breaks = append(result.Breaks,
				fmt.Sprintf("record[%d]: sequence gap (expected %d, got %d)", i, prevSeq+1, rec.Sequence))
		}
		prevSeq = rec.Sequence

		if rec.BatchSeq < prevBatch {
			result.ValidChain = false
			result.Breaks = append(result.Breaks,
				fmt.Sprintf("record[%d]: batch went backwards (%d after %d)", i, rec.BatchSeq, prevBatch))
		}
		if rec.BatchSeq != prevBatch {
			result.Batches++
			prevBatch = rec.BatchSeq
		}

		if rec.Epoch < prevEpoch {
			result.ValidChain = false
			result.Breaks = append(result.Breaks,
				fmt.Sprintf("record[%d]: epoch went backwards (%d after %d)", i, rec.Epoch, prevEpoch))
		}
		prevEpoch = rec.Epoch

		if !hashPattern.MatchString(rec.Output.StateHash) {
			result.ValidChain = false
			result.Breaks = append(result.Breaks,
				fmt.Sprintf("record[%d]: malformed state hash %q", i, rec.Output.StateHash))
		} else {
			lastHash = rec.Output.StateHash
		}

		result.Outputs[string(rec.Output.Type)]++
		if code, ok := rec.Output.Details["reason_code"].(string); ok {
			result.Refusals[code]++
		}
	}

	result.FinalStateHash = lastHash
	result.FinalEpoch = prevEpoch
	return result, nil
}

// VerifySnapshot re-hashes the stored state bytes against the snapshot key.
func VerifySnapshot(snap journal.Snapshot) error {
	got := canonical.HashBytes(snap.State)
	if got != snap.StateHash {
		return fmt.Errorf("replay: snapshot %s does not match its contents (re-hash %s)", snap.StateHash, got)
	}
	return nil
}
