package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/macterra/Axio-sub002/pkg/config"
	"github.com/macterra/Axio-sub002/pkg/replay"
)

// runReplayCmd implements `axiokernel replay`.
//
// Re-executes the original input batches against a fresh kernel and
// compares every output to the journal. The profile must match the one the
// original run used or the genesis hashes will not line up.
//
// Exit codes:
//
//	0 = replay matched the journal
//	1 = replay diverged
//	2 = runtime error
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		journalPath string
		batchesPath string
		profileName string
		profileDir  string
		jsonOutput  bool
	)

	cmd.StringVar(&journalPath, "journal", "", "Path to the journal file (REQUIRED)")
	cmd.StringVar(&batchesPath, "batches", "", "Path to the original JSONL batch file (REQUIRED)")
	cmd.StringVar(&profileName, "profile", cfg.Profile, "Kernel behavior profile of the original run")
	cmd.StringVar(&profileDir, "profile-dir", cfg.ProfileDir, "Directory holding profile_<name>.yaml files")
	cmd.BoolVar(&jsonOutput, "json", false, "Output session as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if journalPath == "" || batchesPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --journal and --batches are required")
		return 2
	}

	profile, err := config.LoadProfile(profileDir, profileName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	batches, err := os.Open(batchesPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = batches.Close() }()

	journalIn, err := os.Open(journalPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = journalIn.Close() }()

	engine := replay.NewEngine(replay.NewFileSource(batches), profile.Kernel())
	session, err := engine.Run(context.Background(), journalIn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: replay failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(session, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		switch session.Status {
		case replay.SessionComplete:
			_, _ = fmt.Fprintf(stdout, "✅ Replay MATCHED the journal\n")
			_, _ = fmt.Fprintf(stdout, "Run ID:  %s\n", session.RunID)
			_, _ = fmt.Fprintf(stdout, "Batches: %d\n", session.TotalBatches)
			_, _ = fmt.Fprintf(stdout, "Records: %d\n", session.MatchedRecords)
			_, _ = fmt.Fprintf(stdout, "State:   %s\n", session.FinalStateHash)
		case replay.SessionDiverged:
			_, _ = fmt.Fprintf(stdout, "❌ Replay DIVERGED at sequence %d\n", session.DivergencePoint)
			_, _ = fmt.Fprintf(stdout, "Run ID:  %s\n", session.RunID)
			_, _ = fmt.Fprintf(stdout, "Matched: %d records\n", session.MatchedRecords)
			_, _ = fmt.Fprintf(stdout, "Detail:  %s\n", session.DivergenceInfo)
		default:
			_, _ = fmt.Fprintf(stdout, "❌ Replay FAILED: %s\n", session.DivergenceInfo)
		}
	}

	switch session.Status {
	case replay.SessionComplete:
		return 0
	case replay.SessionDiverged:
		return 1
	default:
		return 2
	}
}
