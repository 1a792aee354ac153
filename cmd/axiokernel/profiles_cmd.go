package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/macterra/Axio-sub002/pkg/config"
)

// runProfilesCmd implements `axiokernel profiles`.
//
// Lists the kernel behavior profiles available in a directory.
//
// Exit codes:
//
//	0 = listed
//	2 = runtime error
func runProfilesCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	cmd := flag.NewFlagSet("profiles", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dir        string
		jsonOutput bool
	)
	cmd.StringVar(&dir, "dir", cfg.ProfileDir, "Directory holding profile_<name>.yaml files")
	cmd.BoolVar(&jsonOutput, "json", false, "Output profiles as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	profiles, err := config.LoadAllProfiles(dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	if jsonOutput {
		ordered := make([]*config.Profile, 0, len(names))
		for _, name := range names {
			ordered = append(ordered, profiles[name])
		}
		data, _ := json.MarshalIndent(ordered, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(names) == 0 {
		_, _ = fmt.Fprintf(stdout, "No profiles found in %s\n", dir)
		return 0
	}
	for _, name := range names {
		p := profiles[name]
		budget := "unmetered"
		if p.Budget > 0 {
			budget = fmt.Sprintf("budget %d", p.Budget)
		}
		_, _ = fmt.Fprintf(stdout, "%s%-10s%s %s (%s)\n", ColorGreen, name, ColorReset, p.Description, budget)
	}
	return 0
}
