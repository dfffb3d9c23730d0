package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rlcfm/phase-curriculum/curriculum"
	"github.com/rlcfm/phase-curriculum/curriculum/checkpoint"
	"github.com/rlcfm/phase-curriculum/curriculum/trace"
)

// inspectCmd prints the learned policy of a run's latest checkpoint
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the policy stored in a run's latest checkpoint",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if dbPath == "" || runID == "" {
			logrus.Fatalf("inspect requires --db and --run-id")
		}
		store, err := checkpoint.NewStore(dbPath)
		if err != nil {
			logrus.Fatalf("Failed to open checkpoint store: %v", err)
		}
		defer store.Close()

		rec, err := store.Latest(runID)
		if err != nil {
			logrus.Fatalf("Failed to load checkpoint: %v", err)
		}
		if err := printPolicy(os.Stdout, rec); err != nil {
			logrus.Fatalf("Failed to print policy: %v", err)
		}
		if outputDir != "" {
			if err := printActionHistory(os.Stdout, filepath.Join(outputDir, trace.ActionHistoryFile(rec.Snapshot.Epsilon))); err != nil {
				logrus.Fatalf("Failed to read action history: %v", err)
			}
		}
	},
}

// printPolicy writes one line per state: its cost ranking, Q row and the
// phases tied for best value.
func printPolicy(w io.Writer, rec checkpoint.Record) error {
	snap := rec.Snapshot
	encoder, err := curriculum.NewRankEncoder(snap.NumPhases)
	if err != nil {
		return err
	}
	policy, err := curriculum.NewPhasePolicy(encoder.NumStates(), snap.NumPhases, curriculum.PolicyConfig{Epsilon: snap.Epsilon})
	if err != nil {
		return err
	}
	if err := policy.RestoreTable(snap.QTable); err != nil {
		return err
	}

	fmt.Fprintf(w, "Checkpoint %s (run %s) step=%d activation=%d state=%d\n",
		rec.CheckpointID, rec.RunID, snap.Step, snap.ActivationStep, snap.State)
	for s := 0; s < encoder.NumStates(); s++ {
		ranks, err := encoder.Permutation(s)
		if err != nil {
			return err
		}
		best, err := policy.BestPhaseDistribution(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "state %3d ranks=%v q=%v best=%v\n", s, ranks, snap.QTable[s], best)
	}
	return nil
}

func printActionHistory(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	entries, err := trace.ReadActionHistory(f)
	if err != nil {
		return err
	}
	counts := make(map[int]int)
	explored, maxPhase := 0, -1
	for _, e := range entries {
		counts[e.Phase]++
		maxPhase = max(maxPhase, e.Phase)
		if e.Exploratory {
			explored++
		}
	}
	fmt.Fprintf(w, "Action history %s: %d decisions, %d exploratory\n", path, len(entries), explored)
	for p := 0; p <= maxPhase; p++ {
		fmt.Fprintf(w, "  phase %d: %d\n", p, counts[p])
	}
	return nil
}
