package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/macterra/Axio-sub002/pkg/canonical"
)

// runHashCmd implements `axiokernel hash`.
//
// Canonicalizes a JSON document and prints its content hash, the same
// digest the kernel uses for capability identity and state hashes.
// Fractional or out-of-range numbers are rejected, matching the wire rules.
//
// Exit codes:
//
//	0 = hashed
//	2 = runtime error
func runHashCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hash", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		filePath   string
		printCanon bool
		jsonOutput bool
	)

	cmd.StringVar(&filePath, "file", "-", "Path to a JSON document, - for stdin")
	cmd.BoolVar(&printCanon, "canon", false, "Print the canonical encoding instead of the hash")
	cmd.BoolVar(&jsonOutput, "json", false, "Output hash report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var in io.Reader = os.Stdin
	if filePath != "-" {
		f, err := os.Open(filePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	encoded, err := canonical.Encode(json.RawMessage(raw))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if printCanon {
		_, _ = fmt.Fprintln(stdout, string(encoded))
		return 0
	}

	hash := canonical.HashBytes(encoded)
	if jsonOutput {
		report := struct {
			ContentHash    string `json:"content_hash"`
			CanonicalBytes int    `json:"canonical_bytes"`
		}{ContentHash: hash, CanonicalBytes: len(encoded)}
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintln(stdout, hash)
	}
	return 0
}
