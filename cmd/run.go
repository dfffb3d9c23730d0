package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rlcfm/phase-curriculum/curriculum"
	"github.com/rlcfm/phase-curriculum/curriculum/checkpoint"
	"github.com/rlcfm/phase-curriculum/curriculum/trace"
)

// snapshotSaver is the slice of checkpoint.Store the training loop needs.
type snapshotSaver interface {
	Save(runID string, snap curriculum.Snapshot) (string, error)
	Prune(runID string, keep int) (int, error)
}

// loopOptions configures trainLoop.
type loopOptions struct {
	RunID           string
	MaxSteps        int64
	CheckpointEvery int64
	KeepCheckpoints int
}

// runCmd drives the controller with a synthetic training loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the phase curriculum against a synthetic training loop",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg, err := resolveControllerConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid controller config: %v", err)
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Unknown trace level %q", traceLevel)
		}
		if resume && dbPath == "" {
			logrus.Fatalf("--resume requires --db")
		}
		if resume && runID == "" {
			logrus.Fatalf("--resume requires --run-id")
		}
		if runID == "" {
			runID = checkpoint.NewRunID()
		}

		alphas, err := curriculum.ScaledLinearAlphas(cfg.NumTimesteps, betaStart, betaEnd)
		if err != nil {
			logrus.Fatalf("Invalid beta schedule: %v", err)
		}
		ctrl, err := curriculum.NewController(cfg, alphas)
		if err != nil {
			logrus.Fatalf("Failed to build controller: %v", err)
		}

		var saver snapshotSaver
		if dbPath != "" {
			store, err := checkpoint.NewStore(dbPath)
			if err != nil {
				logrus.Fatalf("Failed to open checkpoint store: %v", err)
			}
			defer store.Close()
			saver = store

			if resume {
				rec, err := store.Latest(runID)
				if err != nil {
					logrus.Fatalf("Failed to load checkpoint: %v", err)
				}
				if err := ctrl.Resume(rec.Snapshot); err != nil {
					logrus.Fatalf("Failed to resume from checkpoint %s: %v", rec.CheckpointID, err)
				}
				logrus.Infof("Resuming run %s from checkpoint %s (step %d)", runID, rec.CheckpointID, rec.Step)
			}
		}

		if outputDir != "" {
			history, err := trace.OpenHistoryLog(outputDir, cfg.Policy.Epsilon)
			if err != nil {
				logrus.Fatalf("Failed to open history streams: %v", err)
			}
			ctrl.AttachDiagnostics(history)
		}
		decisions := trace.NewCurriculumTrace(trace.TraceLevel(traceLevel))
		ctrl.AttachTrace(decisions)
		registry := prometheus.NewRegistry()
		ctrl.AttachMetrics(curriculum.NewMetrics(registry))

		logrus.Infof("Starting run %s: T=%d K=%d P=%d lead-in=%d epsilon=%v alpha=%v gamma=%v",
			runID, cfg.NumTimesteps, cfg.NumBoundaries, cfg.NumPhases, cfg.LeadIn,
			cfg.Policy.Epsilon, cfg.Policy.Alpha, cfg.Policy.Gamma)

		trainer := newSyntheticTrainer(cfg.NumPhases, latentDim, cfg.Seed, nanEvery)
		loopErr := trainLoop(ctrl, trainer, saver, loopOptions{
			RunID:           runID,
			MaxSteps:        maxTrainSteps,
			CheckpointEvery: checkpointEvery,
			KeepCheckpoints: checkpointsTotalLimit,
		})
		if err := ctrl.Shutdown(); err != nil {
			logrus.Errorf("Shutdown: %v", err)
		}
		if loopErr != nil {
			logrus.Fatalf("Training loop failed: %v", loopErr)
		}

		printSummary(runID, ctrl, trace.Summarize(decisions))
		if metricsOut != "" {
			if err := writeMetrics(registry, metricsOut); err != nil {
				logrus.Fatalf("Failed to write metrics: %v", err)
			}
		}
		logrus.Info("Run complete.")
	},
}

// trainLoop runs Plan / Advance / Observe until the controller reaches
// opts.MaxSteps, checkpointing through saver when it is non-nil.
func trainLoop(ctrl *curriculum.Controller, trainer *syntheticTrainer, saver snapshotSaver, opts loopOptions) error {
	for ctrl.Step() < opts.MaxSteps {
		plan, err := ctrl.Plan()
		if err != nil {
			return fmt.Errorf("plan step %d: %w", ctrl.Step(), err)
		}
		states, drifts := trainer.batch(plan)
		snaps, err := ctrl.Advance(plan, states, drifts)
		if err != nil {
			return fmt.Errorf("advance step %d: %w", plan.Step, err)
		}
		costs := trainer.train(plan, snaps, ctrl.PhaseOf)
		out, err := ctrl.Observe(plan, curriculum.Feedback{Costs: costs})
		if err != nil {
			return fmt.Errorf("observe step %d: %w", plan.Step, err)
		}
		if out.Updated {
			logrus.Debugf("[step %07d] phase=%d cost=%.4f td=%.4f next=%d", out.Step, out.Phase, out.Cost, out.TDError, out.NextState)
		}

		if saver == nil {
			continue
		}
		done := ctrl.Step() >= opts.MaxSteps
		if done || (opts.CheckpointEvery > 0 && ctrl.Step()%opts.CheckpointEvery == 0) {
			if err := saveCheckpoint(ctrl, saver, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func saveCheckpoint(ctrl *curriculum.Controller, saver snapshotSaver, opts loopOptions) error {
	id, err := saver.Save(opts.RunID, ctrl.Snapshot())
	if err != nil {
		return fmt.Errorf("save checkpoint at step %d: %w", ctrl.Step(), err)
	}
	logrus.Infof("Saved checkpoint %s at step %d", id, ctrl.Step())
	if opts.KeepCheckpoints > 0 {
		removed, err := saver.Prune(opts.RunID, opts.KeepCheckpoints)
		if err != nil {
			return fmt.Errorf("prune checkpoints: %w", err)
		}
		if removed > 0 {
			logrus.Infof("Removed %d old checkpoints", removed)
		}
	}
	return nil
}

func printSummary(runID string, ctrl *curriculum.Controller, s *trace.TraceSummary) {
	fmt.Printf("=== Curriculum Summary (run %s) ===\n", runID)
	fmt.Printf("Final step       : %d\n", ctrl.Step())
	fmt.Printf("Activation step  : %d\n", ctrl.ActivationStep())
	fmt.Printf("Policy decisions : %d\n", s.TotalDecisions)
	fmt.Printf("Exploratory      : %d\n", s.ExploratoryCount)
	fmt.Printf("Skipped updates  : %d\n", s.SkippedUpdates)
	fmt.Printf("Unique states    : %d\n", s.UniqueStates)
	fmt.Printf("Mean reward      : %.4f\n", s.MeanReward)
	for p := 0; p < ctrl.Config().NumPhases; p++ {
		fmt.Printf("  phase %d chosen : %d\n", p, s.PhaseDistribution[p])
	}
}

func writeMetrics(gatherer prometheus.Gatherer, path string) (err error) {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
