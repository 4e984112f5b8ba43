package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile describes one fuzzing campaign: the target, its coverage map
// shape, and the loop's tunables. It lives in a YAML file so the same
// node binary serves any target.
type Profile struct {
	Target TargetProfile `yaml:"target"`
	Fuzz   FuzzProfile   `yaml:"fuzz"`
}

type TargetProfile struct {
	// Argv of the instrumented target; the input arrives on stdin and the
	// coverage file path in the environment.
	Argv    []string      `yaml:"argv"`
	Timeout time.Duration `yaml:"timeout"`
	MapSize int           `yaml:"map_size"`
}

type FuzzProfile struct {
	// MaxStack bounds how many mutations stack per mutant.
	MaxStack int `yaml:"max_stack"`
	// Iterations bounds the loop; 0 fuzzes until stopped.
	Iterations uint64 `yaml:"iterations"`
	// Seed fixes the RNG stream; 0 derives one from the clock.
	Seed uint64 `yaml:"seed"`
}

// LoadProfile parses and validates a campaign profile. Validation failures
// are configuration errors: the node refuses to start on them.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	p := &Profile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("config: parse profile: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) validate() error {
	if len(p.Target.Argv) == 0 {
		return errors.New("target.argv is required")
	}
	if p.Target.Timeout <= 0 {
		p.Target.Timeout = time.Second
	}
	if p.Target.MapSize < 0 {
		return errors.New("target.map_size must not be negative")
	}
	if p.Fuzz.MaxStack <= 0 {
		p.Fuzz.MaxStack = 5
	}
	return nil
}
