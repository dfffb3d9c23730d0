package curriculum

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// OriginBoundary is the sentinel stored in PrevBoundaries[0]: the first
// boundary has no predecessor and maps to the implicit origin index.
const OriginBoundary = -1

// BoundarySchedule subsamples the dense index range [0, T) into K ordered
// phase boundaries and samples a caller-supplied coefficient curve at those
// boundaries and at their predecessors.
//
// Invariants after construction:
//   - len(Boundaries) == K, strictly increasing, Boundaries[K-1] < T
//   - PrevBoundaries[i] < Boundaries[i] for every i
type BoundarySchedule struct {
	NumTimesteps int // T
	Stride       int // T / K

	Boundaries     []int
	PrevBoundaries []int
	Alphas         []float64 // coefficient at Boundaries[i]
	AlphasPrev     []float64 // coefficient at PrevBoundaries[i]; alphas[0] for the origin
}

// NewBoundarySchedule builds the schedule for (T, K). alphas is the per-index
// coefficient curve over [0, T) and must hold values in [0, 1].
func NewBoundarySchedule(numTimesteps, numBoundaries int, alphas []float64) (*BoundarySchedule, error) {
	if numTimesteps <= 0 {
		return nil, configErrorf("num_timesteps", "must be > 0, got %d", numTimesteps)
	}
	if numBoundaries <= 0 {
		return nil, configErrorf("num_boundaries", "must be > 0, got %d", numBoundaries)
	}
	if numBoundaries > numTimesteps {
		return nil, configErrorf("num_boundaries", "must be <= num_timesteps (%d), got %d", numTimesteps, numBoundaries)
	}
	if len(alphas) != numTimesteps {
		return nil, configErrorf("alphas", "need one coefficient per timestep (%d), got %d", numTimesteps, len(alphas))
	}
	for i, a := range alphas {
		if math.IsNaN(a) || a < 0 || a > 1 {
			return nil, configErrorf("alphas", "coefficient %d must lie in [0, 1], got %v", i, a)
		}
	}

	stride := numTimesteps / numBoundaries
	s := &BoundarySchedule{
		NumTimesteps:   numTimesteps,
		Stride:         stride,
		Boundaries:     make([]int, numBoundaries),
		PrevBoundaries: make([]int, numBoundaries),
		Alphas:         make([]float64, numBoundaries),
		AlphasPrev:     make([]float64, numBoundaries),
	}
	for i := range s.Boundaries {
		b := (i+1)*stride - 1
		s.Boundaries[i] = b
		s.Alphas[i] = alphas[b]
		if i == 0 {
			s.PrevBoundaries[i] = OriginBoundary
			s.AlphasPrev[i] = alphas[0]
			continue
		}
		s.PrevBoundaries[i] = s.Boundaries[i-1]
		s.AlphasPrev[i] = alphas[s.Boundaries[i-1]]
	}
	return s, nil
}

// Len returns K.
func (s *BoundarySchedule) Len() int {
	return len(s.Boundaries)
}

// PrevTimestep returns the index preceding boundary i, mapping the origin
// sentinel to index 0.
func (s *BoundarySchedule) PrevTimestep(i int) int {
	if p := s.PrevBoundaries[i]; p != OriginBoundary {
		return p
	}
	return 0
}

// TargetTimestep is the index one stride below boundary i, clamped at 0.
func (s *BoundarySchedule) TargetTimestep(i int) int {
	return max(s.Boundaries[i]-s.Stride, 0)
}

// ScaledLinearAlphas returns the cumulative-product coefficient curve of a
// scaled-linear beta schedule: betas run from betaStart to betaEnd linearly in
// sqrt space and alphas[t] = prod_{j<=t} (1 - betas[j]).
func ScaledLinearAlphas(numTimesteps int, betaStart, betaEnd float64) ([]float64, error) {
	if numTimesteps <= 0 {
		return nil, configErrorf("num_timesteps", "must be > 0, got %d", numTimesteps)
	}
	if betaStart < 0 || betaEnd >= 1 || betaStart > betaEnd {
		return nil, configErrorf("betas", "need 0 <= beta_start <= beta_end < 1, got [%v, %v]", betaStart, betaEnd)
	}
	betas := make([]float64, numTimesteps)
	if numTimesteps == 1 {
		betas[0] = betaStart
	} else {
		floats.Span(betas, math.Sqrt(betaStart), math.Sqrt(betaEnd))
		floats.Mul(betas, betas)
	}
	for i, b := range betas {
		betas[i] = 1 - b
	}
	return floats.CumProd(make([]float64, numTimesteps), betas), nil
}
