package curriculum

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Snap is the result of advancing a trajectory to its phase boundary.
type Snap struct {
	Next      []float64 // trajectory state at the reached boundary
	Candidate int       // reached boundary index (one of the phase candidates)
	Boundary  int       // Boundaries[Candidate]
	Timestep  int       // index the state now sits at: PrevTimestep(Candidate)
}

// PhaseIntegrator advances trajectory states across the boundaries of a
// BoundarySchedule. It holds no mutable state.
type PhaseIntegrator struct {
	schedule *BoundarySchedule
}

// NewPhaseIntegrator wraps a schedule. The schedule must not be mutated afterwards.
func NewPhaseIntegrator(schedule *BoundarySchedule) *PhaseIntegrator {
	return &PhaseIntegrator{schedule: schedule}
}

// Schedule returns the underlying boundary schedule.
func (p *PhaseIntegrator) Schedule() *BoundarySchedule {
	return p.schedule
}

// Step applies the closed-form single-step update at boundaryIndex:
//
//	next = sqrt(a) * state + sqrt(1 - a) * drift,   a = AlphasPrev[boundaryIndex]
//
// The update is affine in (state, drift) and uses no randomness.
func (p *PhaseIntegrator) Step(state, drift []float64, boundaryIndex int) ([]float64, error) {
	if boundaryIndex < 0 || boundaryIndex >= p.schedule.Len() {
		return nil, domainErrorf("step", "boundary index %d outside [0, %d)", boundaryIndex, p.schedule.Len())
	}
	if len(state) != len(drift) {
		return nil, domainErrorf("step", "state has %d elements, drift has %d", len(state), len(drift))
	}
	a := p.schedule.AlphasPrev[boundaryIndex]
	next := make([]float64, len(state))
	floats.ScaleTo(next, math.Sqrt(a), state)
	floats.AddScaled(next, math.Sqrt(1-a), drift)
	return next, nil
}

// PhaseCandidates returns floor(linspace(0, numBoundaries, numPhases, endpoint=false)),
// computed in integer arithmetic: candidate p is p*K/P.
func PhaseCandidates(numBoundaries, numPhases int) []int {
	c := make([]int, numPhases)
	for i := range c {
		c[i] = i * numBoundaries / numPhases
	}
	return c
}

// lastCandidateAtOrBelow is the predecessor search: the position of the largest
// candidate <= index in the sorted candidate slice, or -1 if there is none.
func lastCandidateAtOrBelow(candidates []int, index int) int {
	return sort.SearchInts(candidates, index+1) - 1
}

// ReachedCandidate returns the largest of the numPhases evenly-spaced
// candidate boundaries that does not exceed startIndex.
func (p *PhaseIntegrator) ReachedCandidate(startIndex, numPhases int) (int, error) {
	if numPhases <= 0 || numPhases > p.schedule.Len() {
		return 0, domainErrorf("snap", "num_phases %d outside [1, %d]", numPhases, p.schedule.Len())
	}
	candidates := PhaseCandidates(p.schedule.Len(), numPhases)
	pos := lastCandidateAtOrBelow(candidates, startIndex)
	if pos < 0 {
		return 0, domainErrorf("snap", "no phase candidate <= start index %d", startIndex)
	}
	return candidates[pos], nil
}

// SnapToPhase advances state from startIndex to the last phase boundary not
// exceeding it. A start index equal to a candidate snaps to that candidate.
func (p *PhaseIntegrator) SnapToPhase(state, drift []float64, startIndex, numPhases int) (Snap, error) {
	if startIndex >= p.schedule.Len() {
		return Snap{}, domainErrorf("snap", "start index %d outside [0, %d)", startIndex, p.schedule.Len())
	}
	candidate, err := p.ReachedCandidate(startIndex, numPhases)
	if err != nil {
		return Snap{}, err
	}
	next, err := p.Step(state, drift, candidate)
	if err != nil {
		return Snap{}, err
	}
	return Snap{
		Next:      next,
		Candidate: candidate,
		Boundary:  p.schedule.Boundaries[candidate],
		Timestep:  p.schedule.PrevTimestep(candidate),
	}, nil
}

// SnapBatch runs SnapToPhase for every element of a batch. states, drifts and
// startIndices must have equal length.
func (p *PhaseIntegrator) SnapBatch(states, drifts [][]float64, startIndices []int, numPhases int) ([]Snap, error) {
	if len(states) != len(startIndices) || len(drifts) != len(startIndices) {
		return nil, domainErrorf("snap", "batch size mismatch: %d states, %d drifts, %d indices",
			len(states), len(drifts), len(startIndices))
	}
	out := make([]Snap, len(startIndices))
	for i, idx := range startIndices {
		snap, err := p.SnapToPhase(states[i], drifts[i], idx, numPhases)
		if err != nil {
			return nil, err
		}
		out[i] = snap
	}
	return out, nil
}

// BoundaryScalings returns the consistency-target mixing weights for a boundary
// index: cSkip is 1 exactly at a phase candidate, cOut = 1 - cSkip.
func (p *PhaseIntegrator) BoundaryScalings(index, numPhases int) (cSkip, cOut float64) {
	candidates := PhaseCandidates(p.schedule.Len(), numPhases)
	if pos := lastCandidateAtOrBelow(candidates, index); pos >= 0 && candidates[pos] == index {
		return 1, 0
	}
	return 0, 1
}
