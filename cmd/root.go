package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rlcfm/phase-curriculum/curriculum"
)

var (
	// CLI flags for the controller
	configPath    string  // Optional YAML controller config
	seed          int64   // Master seed for phase sampling and exploration
	logLevel      string  // Log verbosity level
	numTimesteps  int     // Dense index range T
	numBoundaries int     // Phase boundaries K
	numPhases     int     // Curriculum phases P
	leadIn        int64   // Warmup steps before the policy drives selection
	batchSize     int     // Boundary indices drawn per step
	costWindow    int     // Observations kept per phase slot
	rewardMode    string  // "negative-cost" or "cost"
	resumeMode    string  // "restart-warmup" or "preserve"
	epsilon       float64 // Exploration rate
	alpha         float64 // Learning rate
	gamma         float64 // Discount

	// CLI flags for the synthetic training loop
	maxTrainSteps         int64   // Steps to run (absolute, including resumed steps)
	latentDim             int     // Trajectory state dimension
	betaStart             float64 // Scaled-linear beta schedule start
	betaEnd               float64 // Scaled-linear beta schedule end
	nanEvery              int64   // Inject a NaN cost every N steps (0 = never)
	outputDir             string  // Directory for the action/state history streams
	dbPath                string  // SQLite checkpoint database
	runID                 string  // Run identifier for checkpoints
	resume                bool    // Resume from the latest checkpoint of runID
	checkpointEvery       int64   // Checkpoint interval in steps (0 = only at the end)
	checkpointsTotalLimit int     // Keep at most N checkpoints per run (0 = unlimited)
	traceLevel            string  // Decision trace verbosity
	metricsOut            string  // Write Prometheus text exposition here after the run
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "phase-curriculum",
	Short: "Adaptive phase-curriculum controller for consistency distillation",
}

// setupLogging applies the --log flag.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addControllerFlags registers the flags that override ControllerConfig fields.
func addControllerFlags(c *cobra.Command) {
	d := curriculum.DefaultControllerConfig()
	c.Flags().StringVar(&configPath, "config", "", "YAML controller config (flags override its values)")
	c.Flags().Int64Var(&seed, "seed", d.Seed, "Seed for phase sampling and exploration")
	c.Flags().IntVar(&numTimesteps, "num-timesteps", d.NumTimesteps, "Size T of the dense index range")
	c.Flags().IntVar(&numBoundaries, "num-boundaries", d.NumBoundaries, "Number K of phase boundaries")
	c.Flags().IntVar(&numPhases, "num-phases", d.NumPhases, "Number P of curriculum phases")
	c.Flags().Int64Var(&leadIn, "lead-in", d.LeadIn, "Warmup steps before the policy drives phase selection")
	c.Flags().IntVar(&batchSize, "batch-size", d.BatchSize, "Boundary indices drawn per step")
	c.Flags().IntVar(&costWindow, "cost-window", d.CostWindow, "Cost observations kept per phase")
	c.Flags().StringVar(&rewardMode, "reward-mode", d.RewardMode, "Reward derivation: negative-cost or cost")
	c.Flags().StringVar(&resumeMode, "resume-mode", d.ResumeMode, "Warmup placement after resume: restart-warmup or preserve")
	c.Flags().Float64Var(&epsilon, "epsilon", d.Policy.Epsilon, "Exploration rate")
	c.Flags().Float64Var(&alpha, "alpha", d.Policy.Alpha, "Q-learning rate")
	c.Flags().Float64Var(&gamma, "gamma", d.Policy.Gamma, "Q-learning discount")
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	addControllerFlags(runCmd)
	runCmd.Flags().Int64Var(&maxTrainSteps, "max-train-steps", 200, "Total training steps (absolute, including resumed steps)")
	runCmd.Flags().IntVar(&latentDim, "latent-dim", 16, "Dimension of the synthetic trajectory state")
	runCmd.Flags().Float64Var(&betaStart, "beta-start", 0.00085, "Scaled-linear beta schedule start")
	runCmd.Flags().Float64Var(&betaEnd, "beta-end", 0.012, "Scaled-linear beta schedule end")
	runCmd.Flags().Int64Var(&nanEvery, "nan-every", 0, "Inject a NaN cost every N steps (0 = never)")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for action/state history streams (empty = none)")
	runCmd.Flags().StringVar(&dbPath, "db", "", "SQLite checkpoint database (empty = no checkpoints)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: new uuid)")
	runCmd.Flags().BoolVar(&resume, "resume", false, "Resume from the latest checkpoint of --run-id")
	runCmd.Flags().Int64Var(&checkpointEvery, "checkpoint-every", 50, "Checkpoint interval in steps (0 = only at the end)")
	runCmd.Flags().IntVar(&checkpointsTotalLimit, "checkpoints-total-limit", 0, "Keep at most N checkpoints per run (0 = unlimited)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "decisions", "Decision trace verbosity (none, decisions)")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to this file after the run")

	inspectCmd.Flags().StringVar(&dbPath, "db", "", "SQLite checkpoint database")
	inspectCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier")
	inspectCmd.Flags().StringVar(&outputDir, "history-dir", "", "Directory holding action/state history streams (optional)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
}
