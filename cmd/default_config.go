package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rlcfm/phase-curriculum/curriculum"
)

// resolveControllerConfig builds the controller config: defaults, then the
// --config YAML file, then any flag the user set explicitly.
func resolveControllerConfig(c *cobra.Command) (curriculum.ControllerConfig, error) {
	cfg := curriculum.DefaultControllerConfig()
	if configPath != "" {
		loaded, err := curriculum.LoadControllerConfig(configPath)
		if err != nil {
			return curriculum.ControllerConfig{}, err
		}
		cfg = loaded
	}

	flags := c.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("num-timesteps") {
		cfg.NumTimesteps = numTimesteps
	}
	if flags.Changed("num-boundaries") {
		cfg.NumBoundaries = numBoundaries
	}
	if flags.Changed("num-phases") {
		cfg.NumPhases = numPhases
	}
	if flags.Changed("lead-in") {
		cfg.LeadIn = leadIn
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = batchSize
	}
	if flags.Changed("cost-window") {
		cfg.CostWindow = costWindow
	}
	if flags.Changed("reward-mode") {
		cfg.RewardMode = rewardMode
	}
	if flags.Changed("resume-mode") {
		cfg.ResumeMode = resumeMode
	}
	if flags.Changed("epsilon") {
		cfg.Policy.Epsilon = epsilon
	}
	if flags.Changed("alpha") {
		cfg.Policy.Alpha = alpha
	}
	if flags.Changed("gamma") {
		cfg.Policy.Gamma = gamma
	}
	return cfg, cfg.Validate()
}
