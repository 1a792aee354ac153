package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/macterra/Axio-sub002/pkg/failure"
	"github.com/macterra/Axio-sub002/pkg/kernel"
)

var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Profile is a named kernel behavior: detector thresholds, instruction
// budget, operation costs, protected scopes, and the genesis signer key.
// Zero thresholds, costs, or budget fall through to the kernel defaults.
type Profile struct {
	Name            string             `yaml:"name" json:"name"`
	Description     string             `yaml:"description,omitempty" json:"description,omitempty"`
	SovereignKey    string             `yaml:"sovereign_key,omitempty" json:"sovereign_key,omitempty"`
	Budget          uint64             `yaml:"budget" json:"budget"`
	Thresholds      failure.Thresholds `yaml:"thresholds" json:"thresholds"`
	Costs           kernel.CostModel   `yaml:"costs" json:"costs"`
	ProtectedScopes []string           `yaml:"protected_scopes,omitempty" json:"protected_scopes,omitempty"`
}

// LoadProfile loads a profile YAML by name. It searches the profiles
// directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by file name.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		name := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")

		profile, err := LoadProfile(profilesDir, name)
		if err != nil {
			return nil, err
		}
		profiles[name] = profile
	}

	return profiles, nil
}

// Validate rejects configurations the kernel would misbehave under.
func (p *Profile) Validate() error {
	if p.Thresholds.DeadlockDeclare < 0 || p.Thresholds.LivelockLatch < 0 || p.Thresholds.CollapsePersistence < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if p.SovereignKey != "" && !keyPattern.MatchString(p.SovereignKey) {
		return fmt.Errorf("sovereign_key must be 64 lowercase hex characters")
	}
	for _, scope := range p.ProtectedScopes {
		if strings.TrimSpace(scope) == "" {
			return fmt.Errorf("protected_scopes must not contain empty entries")
		}
	}
	return nil
}

// Kernel maps the profile onto a kernel configuration.
func (p *Profile) Kernel() kernel.Config {
	return kernel.Config{
		SovereignKey:    p.SovereignKey,
		Thresholds:      p.Thresholds,
		Budget:          p.Budget,
		Costs:           p.Costs,
		ProtectedScopes: p.ProtectedScopes,
	}
}
