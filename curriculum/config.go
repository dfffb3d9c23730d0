package curriculum

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Reward modes: how an observed phase cost becomes the policy reward.
const (
	RewardNegativeCost = "negative-cost" // reward = -cost; lower cost is better
	RewardCost         = "cost"          // reward = cost, passed through unchanged
)

// Resume modes: how the warmup window is placed after a resume.
const (
	// ResumeRestartWarmup re-arms warmup at resumedStep + LeadIn.
	ResumeRestartWarmup = "restart-warmup"
	// ResumePreserve keeps the absolute activation step stored in the snapshot.
	ResumePreserve = "preserve"
)

// ValidRewardModes is the set of recognized reward mode names.
var ValidRewardModes = map[string]bool{"": true, RewardNegativeCost: true, RewardCost: true}

// ValidResumeModes is the set of recognized resume mode names.
var ValidResumeModes = map[string]bool{"": true, ResumeRestartWarmup: true, ResumePreserve: true}

// ControllerConfig groups the static configuration of a curriculum run.
type ControllerConfig struct {
	NumTimesteps  int          `yaml:"num_timesteps"`  // T: dense index range [0, T)
	NumBoundaries int          `yaml:"num_boundaries"` // K: phase boundaries, 0 < K <= T
	NumPhases     int          `yaml:"num_phases"`     // P: curriculum phases, 0 < P <= K, P <= 8
	LeadIn        int64        `yaml:"lead_in"`        // warmup steps before the policy drives selection
	BatchSize     int          `yaml:"batch_size"`     // boundary indices drawn per iteration
	CostWindow    int          `yaml:"cost_window"`    // observations kept per phase slot
	RewardMode    string       `yaml:"reward_mode"`    // "negative-cost" (default) or "cost"
	ResumeMode    string       `yaml:"resume_mode"`    // "restart-warmup" (default) or "preserve"
	Seed          int64        `yaml:"seed"`
	Policy        PolicyConfig `yaml:"policy"`
}

// DefaultControllerConfig returns the stock configuration:
// 1000 timesteps, 40 boundaries, 4 phases, a 10-step lead-in and
// epsilon/alpha/gamma = 0.3/0.1/0.9.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		NumTimesteps:  1000,
		NumBoundaries: 40,
		NumPhases:     4,
		LeadIn:        10,
		BatchSize:     8,
		CostWindow:    1,
		RewardMode:    RewardNegativeCost,
		ResumeMode:    ResumeRestartWarmup,
		Seed:          42,
		Policy: PolicyConfig{
			Epsilon: 0.3,
			Alpha:   0.1,
			Gamma:   0.9,
		},
	}
}

// Validate checks every field. It does not check the coefficient curve; that
// happens when the schedule is built.
func (c ControllerConfig) Validate() error {
	if c.NumTimesteps <= 0 {
		return configErrorf("num_timesteps", "must be > 0, got %d", c.NumTimesteps)
	}
	if c.NumBoundaries <= 0 || c.NumBoundaries > c.NumTimesteps {
		return configErrorf("num_boundaries", "must lie in [1, %d], got %d", c.NumTimesteps, c.NumBoundaries)
	}
	if c.NumPhases <= 0 || c.NumPhases > c.NumBoundaries {
		return configErrorf("num_phases", "must lie in [1, %d], got %d", c.NumBoundaries, c.NumPhases)
	}
	if c.NumPhases > maxRankArity {
		return configErrorf("num_phases", "at most %d phases can be rank-encoded, got %d", maxRankArity, c.NumPhases)
	}
	if c.LeadIn < 0 {
		return configErrorf("lead_in", "must be >= 0, got %d", c.LeadIn)
	}
	if c.BatchSize <= 0 {
		return configErrorf("batch_size", "must be > 0, got %d", c.BatchSize)
	}
	if c.CostWindow <= 0 {
		return configErrorf("cost_window", "must be > 0, got %d", c.CostWindow)
	}
	if !ValidRewardModes[c.RewardMode] {
		return configErrorf("reward_mode", "unknown mode %q", c.RewardMode)
	}
	if !ValidResumeModes[c.ResumeMode] {
		return configErrorf("resume_mode", "unknown mode %q", c.ResumeMode)
	}
	return c.Policy.Validate()
}

// LoadControllerConfig reads a YAML file and overlays it on
// DefaultControllerConfig. Unknown keys are rejected so typos surface as errors.
func LoadControllerConfig(path string) (ControllerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ControllerConfig{}, fmt.Errorf("reading controller config: %w", err)
	}
	cfg := DefaultControllerConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return ControllerConfig{}, fmt.Errorf("parsing controller config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ControllerConfig{}, err
	}
	return cfg, nil
}
