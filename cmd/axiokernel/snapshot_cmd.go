package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/macterra/Axio-sub002/pkg/config"
	"github.com/macterra/Axio-sub002/pkg/journal"
	"github.com/macterra/Axio-sub002/pkg/replay"
)

// runSnapshotCmd implements `axiokernel snapshot <latest|get|verify>`.
//
// latest prints the most recent snapshot, get fetches one by state hash,
// verify re-hashes the stored state and checks it against the key.
//
// Exit codes:
//
//	0 = ok / snapshot verified
//	1 = snapshot does not match its hash
//	2 = runtime error
func runSnapshotCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "latest":
		return runSnapshotLatest(args[1:], stdout, stderr)
	case "get":
		return runSnapshotGet(args[1:], stdout, stderr)
	case "verify":
		return runSnapshotVerify(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown snapshot action: %s\n", args[0])
		_, _ = fmt.Fprintln(stderr, "Usage: axiokernel snapshot <latest|get|verify>")
		return 2
	}
}

func runSnapshotLatest(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("snapshot latest", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		backend    string
		jsonOutput bool
	)
	cmd.StringVar(&backend, "snapshots", cfg.SnapshotBackend, "Snapshot backend: sqlite, postgres or redis")
	cmd.BoolVar(&jsonOutput, "json", false, "Output snapshot as JSON, including the state")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, closeStore, code := snapshotStoreFor(cfg, backend, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = closeStore() }()

	snap, err := store.Latest(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	printSnapshot(stdout, snap, jsonOutput)
	return 0
}

func runSnapshotGet(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("snapshot get", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		backend    string
		stateHash  string
		jsonOutput bool
	)
	cmd.StringVar(&backend, "snapshots", cfg.SnapshotBackend, "Snapshot backend: sqlite, postgres or redis")
	cmd.StringVar(&stateHash, "hash", "", "State hash of the snapshot (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output snapshot as JSON, including the state")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if stateHash == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --hash is required")
		return 2
	}

	store, closeStore, code := snapshotStoreFor(cfg, backend, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = closeStore() }()

	snap, err := store.Get(context.Background(), stateHash)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	printSnapshot(stdout, snap, jsonOutput)
	return 0
}

func runSnapshotVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("snapshot verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		backend   string
		stateHash string
	)
	cmd.StringVar(&backend, "snapshots", cfg.SnapshotBackend, "Snapshot backend: sqlite, postgres or redis")
	cmd.StringVar(&stateHash, "hash", "", "State hash to verify (defaults to the latest snapshot)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, closeStore, code := snapshotStoreFor(cfg, backend, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = closeStore() }()

	ctx := context.Background()
	var (
		snap journal.Snapshot
		err  error
	)
	if stateHash == "" {
		snap, err = store.Latest(ctx)
	} else {
		snap, err = store.Get(ctx, stateHash)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if err := replay.VerifySnapshot(snap); err != nil {
		_, _ = fmt.Fprintf(stdout, "❌ Snapshot verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "Detail: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "✅ Snapshot verification PASSED\n")
	_, _ = fmt.Fprintf(stdout, "State: %s\n", snap.StateHash)
	_, _ = fmt.Fprintf(stdout, "Epoch: %d\n", snap.Epoch)
	return 0
}

func snapshotStoreFor(cfg *config.Config, backend string, stderr io.Writer) (journal.SnapshotStore, func() error, int) {
	store, closeStore, err := openSnapshotStore(cfg, backend)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, closeStore, 2
	}
	if store == nil {
		_, _ = fmt.Fprintln(stderr, "Error: snapshot backend \"none\" holds no snapshots")
		return nil, closeStore, 2
	}
	return store, closeStore, 0
}

func printSnapshot(stdout io.Writer, snap journal.Snapshot, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(snap, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return
	}
	_, _ = fmt.Fprintf(stdout, "State:  %s\n", snap.StateHash)
	_, _ = fmt.Fprintf(stdout, "Epoch:  %d\n", snap.Epoch)
	_, _ = fmt.Fprintf(stdout, "Run ID: %s\n", snap.RunID)
	_, _ = fmt.Fprintf(stdout, "Taken:  %s\n", snap.TakenAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(stdout, "Size:   %d bytes\n", len(snap.State))
}
