package cmd

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rlcfm/phase-curriculum/curriculum"
)

// subsystemTrainer seeds the synthetic model's noise, isolated from the
// controller's own sampling streams.
const subsystemTrainer = "trainer"

// syntheticTrainer stands in for the distilled model. Each phase has a
// difficulty that drops while the phase is trained and creeps back up while
// it is not, so the best phase to train keeps moving.
type syntheticTrainer struct {
	difficulty []float64
	initial    []float64
	dim        int
	rng        *curriculum.PartitionedRNG
	nanEvery   int64
}

func newSyntheticTrainer(numPhases, dim int, seed, nanEvery int64) *syntheticTrainer {
	t := &syntheticTrainer{
		difficulty: make([]float64, numPhases),
		initial:    make([]float64, numPhases),
		dim:        dim,
		rng:        curriculum.NewPartitionedRNG(seed),
		nanEvery:   nanEvery,
	}
	for p := range t.difficulty {
		// later phases (larger boundary indices, noisier inputs) start harder
		t.difficulty[p] = 1 + 0.5*float64(p)
		t.initial[p] = t.difficulty[p]
	}
	return t
}

// batch draws the clean-sample estimates and drift estimates for a plan.
func (t *syntheticTrainer) batch(plan curriculum.Plan) (states, drifts [][]float64) {
	rng := t.rng.ForStep(subsystemTrainer, plan.Step)
	states = make([][]float64, len(plan.Indices))
	drifts = make([][]float64, len(plan.Indices))
	for i := range plan.Indices {
		states[i] = make([]float64, t.dim)
		drifts[i] = make([]float64, t.dim)
		for j := 0; j < t.dim; j++ {
			states[i][j] = rng.NormFloat64()
			drifts[i][j] = rng.NormFloat64()
		}
	}
	return states, drifts
}

// train returns one cost per sample and applies the effect of training on
// the sampled phases.
func (t *syntheticTrainer) train(plan curriculum.Plan, snaps []curriculum.Snap, phaseOf func(int) int) []float64 {
	costs := make([]float64, len(snaps))
	trained := make([]bool, len(t.difficulty))
	for i, snap := range snaps {
		p := phaseOf(plan.Indices[i])
		rms := floats.Norm(snap.Next, 2) / math.Sqrt(float64(t.dim))
		costs[i] = t.difficulty[p] * rms
		trained[p] = true
	}
	for p := range t.difficulty {
		if trained[p] {
			t.difficulty[p] *= 0.98
			continue
		}
		t.difficulty[p] = math.Min(t.difficulty[p]*1.002, 1.5*t.initial[p])
	}
	if t.nanEvery > 0 && plan.Step > 0 && plan.Step%t.nanEvery == 0 && len(costs) > 0 {
		costs[0] = math.NaN()
	}
	return costs
}
