package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/macterra/Axio-sub002/pkg/canonical"
	"github.com/macterra/Axio-sub002/pkg/journal"
	"github.com/macterra/Axio-sub002/pkg/kernel"
	"github.com/macterra/Axio-sub002/pkg/schema"
)

const maxBatchLineBytes = 1 << 20

// BatchSource yields the run's input batches in original submission order.
type BatchSource interface {
	// Next returns the next batch, or io.EOF when the run is exhausted.
	Next(ctx context.Context) ([]kernel.Event, error)
}

// SliceSource replays batches held in memory.
type SliceSource struct {
	batches [][]kernel.Event
	idx     int
}

// NewSliceSource wraps already-decoded batches.
func NewSliceSource(batches ...[]kernel.Event) *SliceSource {
	return &SliceSource{batches: batches}
}

func (s *SliceSource) Next(_ context.Context) ([]kernel.Event, error) {
	if s.idx >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.idx]
	s.idx++
	return b, nil
}

// FileSource reads one batch envelope per line, decoding through the wire
// schema. Per-event violations do not block: DecodeBatch strips the
// offending payloads and the kernel refuses them at the same index, so the
// live and replay paths stay symmetric.
type FileSource struct {
	scanner      *bufio.Scanner
	batch        int
	onViolations func(batch int, violations []schema.Violation)
}

// NewFileSource reads JSONL batch envelopes from r.
func NewFileSource(r io.Reader) *FileSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxBatchLineBytes)
	return &FileSource{scanner: sc}
}

// WithViolationHandler registers a callback for wire-format violations.
// Batches number from 1. The handler is diagnostic only; the refusals the
// violations turn into are journaled either way.
func (s *FileSource) WithViolationHandler(fn func(batch int, violations []schema.Violation)) *FileSource {
	s.onViolations = fn
	return s
}

func (s *FileSource) Next(_ context.Context) ([]kernel.Event, error) {
	for {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("replay: read batch line: %w", err)
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		events, violations, err := schema.DecodeBatch(line)
		if err != nil {
			return nil, fmt.Errorf("replay: decode batch: %w", err)
		}
		s.batch++
		if len(violations) > 0 && s.onViolations != nil {
			s.onViolations(s.batch, violations)
		}
		return events, nil
	}
}

// SessionStatus is the lifecycle state of a replay session.
type SessionStatus string

const (
	SessionRunning  SessionStatus = "RUNNING"
	SessionComplete SessionStatus = "COMPLETE"
	SessionDiverged SessionStatus = "DIVERGED"
	SessionFailed   SessionStatus = "FAILED"
)

// Session tracks one re-execution of a journaled run.
type Session struct {
	RunID           string        `json:"run_id"`
	Status          SessionStatus `json:"status"`
	TotalBatches    int           `json:"total_batches"`
	MatchedRecords  int           `json:"matched_records"`
	DivergencePoint uint64        `json:"divergence_point,omitempty"`
	DivergenceInfo  string        `json:"divergence_info,omitempty"`
	FinalStateHash  string        `json:"final_state_hash,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// Engine re-executes input batches against a fresh kernel and compares
// every output to the journal. The kernel configuration must match the
// original run or the genesis hashes will not line up.
type Engine struct {
	source BatchSource
	cfg    kernel.Config
	clock  func() time.Time
}

// NewEngine creates a replay engine over the given batch source.
func NewEngine(source BatchSource, cfg kernel.Config) *Engine {
	return &Engine{source: source, cfg: cfg, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Run replays the source against the journal. Divergence terminates the
// session with a diagnostic; it is not an error at the Go level because the
// session itself is the verdict.
func (e *Engine) Run(ctx context.Context, journalIn io.Reader) (*Session, error) {
	jr, err := journal.NewReader(journalIn)
	if err != nil {
		return nil, err
	}
	header := jr.Header()
	if err := CompatibleFormat(header.FormatVersion); err != nil {
		return nil, err
	}

	session := &Session{
		RunID:     header.RunID,
		Status:    SessionRunning,
		StartedAt: e.clock(),
	}

	k := kernel.New(e.cfg)
	genesis, err := k.StateHash()
	if err != nil {
		return e.fail(session, fmt.Sprintf("hash genesis state: %v", err)), nil
	}
	if genesis != header.GenesisHash {
		return e.diverge(session, 0, fmt.Sprintf(
			"genesis mismatch: journal %s, rebuilt %s", header.GenesisHash, genesis)), nil
	}

	for {
		events, err := e.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return e.fail(session, fmt.Sprintf("read batch %d: %v", session.TotalBatches+1, err)), nil
		}
		session.TotalBatches++

		outs, err := k.ProcessBatch(events)
		if err != nil {
			// A fatal batch journaled nothing in the original run, so a
			// replayed fatal consumes no records and the walk continues.
			continue
		}
		for _, out := range outs {
			rec, err := jr.Next()
			if errors.Is(err, io.EOF) {
				return e.diverge(session, uint64(session.MatchedRecords+1), fmt.Sprintf(
					"journal ended but batch %d produced %s", session.TotalBatches, out.Type)), nil
			}
			if err != nil {
				return e.fail(session, fmt.Sprintf("read journal: %v", err)), nil
			}
			want, err := canonical.ContentHash(rec.Output)
			if err != nil {
				return e.fail(session, fmt.Sprintf("hash journal output: %v", err)), nil
			}
			got, err := canonical.ContentHash(out)
			if err != nil {
				return e.fail(session, fmt.Sprintf("hash replay output: %v", err)), nil
			}
			if want != got {
				return e.diverge(session, rec.Sequence, fmt.Sprintf(
					"output diverged at sequence %d: journal %s (state %s), replay %s (state %s)",
					rec.Sequence, rec.Output.Type, rec.Output.StateHash, out.Type, out.StateHash)), nil
			}
			session.MatchedRecords++
		}
	}

	if rec, err := jr.Next(); err == nil {
		return e.diverge(session, rec.Sequence, fmt.Sprintf(
			"journal continues past the supplied batches at sequence %d", rec.Sequence)), nil
	} else if !errors.Is(err, io.EOF) {
		return e.fail(session, fmt.Sprintf("read journal: %v", err)), nil
	}

	final, err := k.StateHash()
	if err != nil {
		return e.fail(session, fmt.Sprintf("hash final state: %v", err)), nil
	}
	session.FinalStateHash = final
	session.Status = SessionComplete
	session.CompletedAt = e.clock()
	return session, nil
}

func (e *Engine) diverge(s *Session, seq uint64, info string) *Session {
	s.Status = SessionDiverged
	s.DivergencePoint = seq
	s.DivergenceInfo = info
	s.CompletedAt = e.clock()
	return s
}

func (e *Engine) fail(s *Session, info string) *Session {
	s.Status = SessionFailed
	s.DivergenceInfo = info
	s.CompletedAt = e.clock()
	return s
}
