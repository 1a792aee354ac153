package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/macterra/Axio-sub002/pkg/canonical"
	"github.com/macterra/Axio-sub002/pkg/kernel"
	"github.com/macterra/Axio-sub002/pkg/observability"
)

// Recorder drives the feed loop around a kernel: process a batch, journal
// every output, snapshot at epoch boundaries. It owns the run identity; the
// kernel stays pure.
type Recorder struct {
	kernel   *kernel.Kernel
	writer   *Writer
	snaps    SnapshotStore
	obs      *observability.Provider
	log      *slog.Logger
	runID    string
	every    uint64
	batchSeq uint64
}

// RecorderConfig assembles a recorder. Out is required; everything else is
// optional.
type RecorderConfig struct {
	// Out receives the JSONL journal.
	Out io.Writer

	// Snapshots persists full-state snapshots. Nil disables snapshotting.
	Snapshots SnapshotStore

	// SnapshotEvery is the epoch interval between snapshots. Zero means a
	// snapshot at every boundary.
	SnapshotEvery uint64

	// Observability instruments batches and outputs. Nil disables it.
	Observability *observability.Provider

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewRecorder stamps a fresh run id, hashes the genesis state, and writes
// the journal header.
func NewRecorder(k *kernel.Kernel, cfg RecorderConfig) (*Recorder, error) {
	if cfg.Out == nil {
		return nil, errors.New("journal: recorder needs an output writer")
	}
	genesis, err := k.StateHash()
	if err != nil {
		return nil, fmt.Errorf("journal: genesis hash: %w", err)
	}
	runID := uuid.New().String()
	w, err := NewWriter(cfg.Out, Header{RunID: runID, GenesisHash: genesis})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		kernel: k,
		writer: w,
		snaps:  cfg.Snapshots,
		obs:    cfg.Observability,
		log:    logger.With("component", "recorder", "run_id", runID),
		runID:  runID,
		every:  cfg.SnapshotEvery,
	}, nil
}

// RunID returns the run identity stamped into the journal header.
func (r *Recorder) RunID() string {
	return r.runID
}

// Header returns the journal header as written.
func (r *Recorder) Header() Header {
	return r.writer.Header()
}

// Submit processes one batch and journals its outputs. A fatal batch
// produces no journal records because the kernel emitted nothing and
// committed nothing; the error is returned after instrumentation. A
// journal write failure is returned alongside the outputs, which by then
// are already committed in the kernel.
func (r *Recorder) Submit(ctx context.Context, events []kernel.Event) ([]kernel.Output, error) {
	r.batchSeq++
	batchSeq := r.batchSeq

	var done func(error)
	if r.obs != nil {
		ctx, done = r.obs.TrackBatch(ctx, attribute.Int64("axio.batch_seq", int64(batchSeq)))
	}
	outs, err := r.kernel.ProcessBatch(events)
	if done != nil {
		done(err)
	}
	if err != nil {
		var fatal *kernel.FatalError
		if errors.As(err, &fatal) {
			if r.obs != nil {
				r.obs.RecordFatal(ctx, string(fatal.Code))
			}
			r.log.ErrorContext(ctx, "batch aborted",
				"batch_seq", batchSeq, "fatal_code", fatal.Code,
				"event_index", fatal.EventIndex, "error", err)
		}
		return nil, err
	}

	epoch := r.kernel.Epoch()
	advanced := false
	for _, out := range outs {
		if _, err := r.writer.Append(batchSeq, epoch, out); err != nil {
			return outs, err
		}
		r.instrument(ctx, out)
		if out.Type == kernel.OutputEpochAdvanced {
			advanced = true
		}
	}
	if err := r.writer.Flush(); err != nil {
		return outs, fmt.Errorf("journal: flush: %w", err)
	}

	if advanced {
		if r.obs != nil {
			r.obs.RecordEpoch(ctx, epoch)
		}
		if r.shouldSnapshot(epoch) {
			// The journal is the source of truth; a failed snapshot only
			// costs restore speed, so it logs instead of failing the batch.
			if _, err := r.Snapshot(ctx); err != nil {
				r.log.WarnContext(ctx, "snapshot failed", "epoch", epoch, "error", err)
			}
		}
	}
	r.log.DebugContext(ctx, "batch committed",
		"batch_seq", batchSeq, "epoch", epoch, "outputs", len(outs))
	return outs, nil
}

func (r *Recorder) instrument(ctx context.Context, out kernel.Output) {
	if r.obs == nil {
		return
	}
	r.obs.RecordOutput(ctx, string(out.Type))
	if out.Type == kernel.OutputActionRefused {
		if code, ok := out.Details["reason_code"].(string); ok {
			r.obs.RecordRefusal(ctx, code)
		}
	}
}

func (r *Recorder) shouldSnapshot(epoch uint64) bool {
	if r.snaps == nil {
		return false
	}
	if r.every == 0 {
		return true
	}
	return epoch%r.every == 0
}

// Snapshot persists the current kernel state keyed by its hash, regardless
// of the configured interval.
func (r *Recorder) Snapshot(ctx context.Context) (Snapshot, error) {
	if r.snaps == nil {
		return Snapshot{}, errors.New("journal: no snapshot store configured")
	}
	state := r.kernel.State()
	encoded, err := state.Canonical()
	if err != nil {
		return Snapshot{}, fmt.Errorf("journal: encode state: %w", err)
	}
	snap := Snapshot{
		StateHash: canonical.HashBytes(encoded),
		Epoch:     state.Epoch,
		RunID:     r.runID,
		TakenAt:   time.Now().UTC(),
		State:     json.RawMessage(encoded),
	}
	if err := r.snaps.Put(ctx, snap); err != nil {
		return Snapshot{}, fmt.Errorf("journal: store snapshot: %w", err)
	}
	r.log.InfoContext(ctx, "snapshot stored", "state_hash", snap.StateHash, "epoch", snap.Epoch)
	return snap, nil
}

// Close flushes the journal. It does not close the underlying writer.
func (r *Recorder) Close() error {
	return r.writer.Close()
}
