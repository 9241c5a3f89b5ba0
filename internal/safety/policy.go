package safety

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// ErrInvalidPolicy is returned when a policy document cannot be used.
var ErrInvalidPolicy = errors.New("invalid moderation policy")

// Pattern is a named regular expression that flags personal information.
type Pattern struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// Policy is the moderation data the classifier runs on. It is loaded from
// YAML so moderators can change it without a rebuild.
type Policy struct {
	Terms          []string  `yaml:"terms"`
	HighSeverity   []string  `yaml:"high_severity"`
	BlockThreshold int       `yaml:"block_threshold"`
	Patterns       []Pattern `yaml:"patterns"`
}

// DefaultPolicy returns the policy embedded in the binary.
func DefaultPolicy() Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded policy: %v", err))
	}
	return p
}

// LoadPolicy reads a policy document from disk. An empty path yields the
// embedded default.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that the policy is self-consistent.
func (p Policy) Validate() error {
	if len(p.Terms) == 0 {
		return fmt.Errorf("%w: no terms", ErrInvalidPolicy)
	}
	if p.BlockThreshold < 1 {
		return fmt.Errorf("%w: block_threshold must be >= 1", ErrInvalidPolicy)
	}

	known := make(map[string]bool, len(p.Terms))
	for _, t := range p.Terms {
		t = normalize(t)
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: empty term", ErrInvalidPolicy)
		}
		known[t] = true
	}
	for _, t := range p.HighSeverity {
		if !known[normalize(t)] {
			return fmt.Errorf("%w: high severity term %q is not in terms", ErrInvalidPolicy, t)
		}
	}
	for _, pat := range p.Patterns {
		if _, err := regexp.Compile(pat.Regex); err != nil {
			return fmt.Errorf("%w: pattern %s: %v", ErrInvalidPolicy, pat.Name, err)
		}
	}
	return nil
}
