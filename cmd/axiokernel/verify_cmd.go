package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/macterra/Axio-sub002/pkg/replay"
)

// runVerifyCmd implements `axiokernel verify`.
//
// Walks a journal offline and checks its structural integrity: header,
// sequence numbering, batch and epoch monotonicity, state hash shape.
// Nothing is re-executed; use `replay` for semantic verification.
//
// Exit codes:
//
//	0 = chain valid
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		journalPath string
		jsonOutput  bool
	)

	cmd.StringVar(&journalPath, "journal", "", "Path to the journal file (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if journalPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --journal is required")
		return 2
	}

	f, err := os.Open(journalPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = f.Close() }()

	result, err := replay.Verify(f)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verification failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		if result.ValidChain {
			_, _ = fmt.Fprintf(stdout, "✅ Journal chain VALID\n")
		} else {
			_, _ = fmt.Fprintf(stdout, "❌ Journal chain BROKEN\n")
		}
		_, _ = fmt.Fprintf(stdout, "Run ID:  %s\n", result.RunID)
		_, _ = fmt.Fprintf(stdout, "Records: %d across %d batches\n", result.TotalRecords, result.Batches)
		_, _ = fmt.Fprintf(stdout, "Epoch:   %d\n", result.FinalEpoch)
		_, _ = fmt.Fprintf(stdout, "State:   %s\n", result.FinalStateHash)
		for _, name := range sortedKeys(result.Outputs) {
			_, _ = fmt.Fprintf(stdout, "  %-22s %d\n", name, result.Outputs[name])
		}
		for _, b := range result.Breaks {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", b)
		}
	}

	if !result.ValidChain {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
