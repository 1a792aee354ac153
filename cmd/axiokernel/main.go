package main

import (
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq" // Postgres Driver
)

const appVersion = "v0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "snapshot":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: axiokernel snapshot <latest|get|verify>")
			return 2
		}
		return runSnapshotCmd(args[2:], stdout, stderr)
	case "profiles":
		return runProfilesCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sAxio Kernel %s%s\n", ColorBold+ColorBlue, appVersion, ColorReset)
	fmt.Fprintf(w, "%sEvery transition accounted for.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  axiokernel <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "KERNEL")
	printCommand(w, "run", "Feed event batches through the kernel (--batches, --journal)")
	printCommand(w, "profiles", "List kernel behavior profiles (--dir)")

	printSection(w, "VERIFICATION")
	printCommand(w, "verify", "Check a journal's hash chain offline (--journal, --json)")
	printCommand(w, "replay", "Re-execute batches against a journal (--batches, --journal)")
	printCommand(w, "snapshot", "Inspect stored snapshots (latest/get/verify)")

	printSection(w, "UTILITIES")
	printCommand(w, "hash", "Canonical content hash of a JSON document")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
