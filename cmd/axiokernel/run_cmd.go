package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/macterra/Axio-sub002/pkg/config"
	"github.com/macterra/Axio-sub002/pkg/journal"
	"github.com/macterra/Axio-sub002/pkg/kernel"
	"github.com/macterra/Axio-sub002/pkg/observability"
	"github.com/macterra/Axio-sub002/pkg/replay"
	"github.com/macterra/Axio-sub002/pkg/schema"
)

type runSummary struct {
	RunID          string `json:"run_id"`
	Profile        string `json:"profile"`
	Batches        int    `json:"batches"`
	Aborted        int    `json:"aborted_batches"`
	Outputs        int    `json:"outputs"`
	FinalEpoch     uint64 `json:"final_epoch"`
	FinalStateHash string `json:"final_state_hash"`
	Halted         bool   `json:"halted"`
	JournalPath    string `json:"journal"`
}

// runRunCmd implements `axiokernel run`.
//
// Feeds event batches from a JSONL file (one batch per line) through a
// kernel configured by the named profile, journaling every output and
// snapshotting at epoch boundaries. Aborted batches journal nothing and the
// run continues; a halted kernel ends the run early.
//
// Exit codes:
//
//	0 = run completed
//	1 = kernel halted before the input was exhausted
//	2 = runtime error
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		batchesPath string
		journalPath string
		profileName string
		profileDir  string
		backend     string
		every       uint64
		jsonOutput  bool
	)

	cmd.StringVar(&batchesPath, "batches", "", "Path to JSONL batch file, one batch per line (REQUIRED)")
	cmd.StringVar(&journalPath, "journal", cfg.JournalPath, "Path for the output journal (truncated)")
	cmd.StringVar(&profileName, "profile", cfg.Profile, "Kernel behavior profile name")
	cmd.StringVar(&profileDir, "profile-dir", cfg.ProfileDir, "Directory holding profile_<name>.yaml files")
	cmd.StringVar(&backend, "snapshots", cfg.SnapshotBackend, "Snapshot backend: none, memory, sqlite, postgres or redis")
	cmd.Uint64Var(&every, "snapshot-every", cfg.SnapshotEvery, "Epochs between snapshots (0 = every boundary)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output run summary as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if batchesPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --batches is required")
		return 2
	}

	profile, err := config.LoadProfile(profileDir, profileName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	in, err := os.Open(batchesPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(journalPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = out.Close() }()

	snaps, closeStore, err := openSnapshotStore(cfg, backend)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeStore() }()

	ctx := context.Background()
	logger := newLogger(cfg.LogLevel, stderr)

	obs, err := observability.New(ctx, cfg.Observability())
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		obs = nil
	} else {
		defer func() { _ = obs.Shutdown(context.Background()) }()
	}

	k := kernel.New(profile.Kernel())
	rec, err := journal.NewRecorder(k, journal.RecorderConfig{
		Out:           out,
		Snapshots:     snaps,
		SnapshotEvery: every,
		Observability: obs,
		Logger:        logger,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	summary := runSummary{RunID: rec.RunID(), Profile: profile.Name, JournalPath: journalPath}
	source := replay.NewFileSource(in).WithViolationHandler(func(batch int, violations []schema.Violation) {
		for _, v := range violations {
			logger.Warn("wire format violation", "batch", batch, "event_index", v.EventIndex, "detail", v.Detail)
		}
	})
	for {
		events, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		summary.Batches++

		outs, err := rec.Submit(ctx, events)
		if err != nil {
			var fatal *kernel.FatalError
			if !errors.As(err, &fatal) {
				// Journal write failure; the trail is broken, stop here.
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			summary.Aborted++
			if k.Halted() {
				summary.Halted = true
				break
			}
			continue
		}
		summary.Outputs += len(outs)
	}

	if err := rec.Close(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	finalHash, err := k.StateHash()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	summary.FinalEpoch = k.Epoch()
	summary.FinalStateHash = finalHash

	if jsonOutput {
		data, _ := json.MarshalIndent(summary, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		if summary.Halted {
			_, _ = fmt.Fprintf(stdout, "❌ Run HALTED after %d batches\n", summary.Batches)
		} else {
			_, _ = fmt.Fprintf(stdout, "✅ Run completed\n")
		}
		_, _ = fmt.Fprintf(stdout, "Run ID:  %s\n", summary.RunID)
		_, _ = fmt.Fprintf(stdout, "Batches: %d (%d aborted)\n", summary.Batches, summary.Aborted)
		_, _ = fmt.Fprintf(stdout, "Outputs: %d\n", summary.Outputs)
		_, _ = fmt.Fprintf(stdout, "Epoch:   %d\n", summary.FinalEpoch)
		_, _ = fmt.Fprintf(stdout, "State:   %s\n", summary.FinalStateHash)
		_, _ = fmt.Fprintf(stdout, "Journal: %s\n", summary.JournalPath)
	}

	if summary.Halted {
		return 1
	}
	return 0
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
