package curriculum

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PolicyConfig holds the immutable Q-learning parameters of a run.
type PolicyConfig struct {
	Epsilon float64 `yaml:"epsilon"` // exploration probability, [0, 1]
	Alpha   float64 `yaml:"alpha"`   // learning rate, [0, 1]
	Gamma   float64 `yaml:"gamma"`   // discount, [0, 1]
}

// Validate checks parameter ranges.
func (c PolicyConfig) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{{"policy.epsilon", c.Epsilon}, {"policy.alpha", c.Alpha}, {"policy.gamma", c.Gamma}} {
		if math.IsNaN(p.v) || p.v < 0 || p.v > 1 {
			return configErrorf(p.name, "must lie in [0, 1], got %v", p.v)
		}
	}
	return nil
}

// PhasePolicy is a tabular Q-learning agent over (state, phase).
// The table is the only long-lived mutable state; it is owned by the caller
// for checkpointing via Table and RestoreTable.
type PhasePolicy struct {
	q         *mat.Dense
	numStates int
	numPhases int
	config    PolicyConfig
}

// NewPhasePolicy creates a zero-initialized numStates x numPhases value table.
func NewPhasePolicy(numStates, numPhases int, config PolicyConfig) (*PhasePolicy, error) {
	if numStates <= 0 {
		return nil, configErrorf("num_states", "must be > 0, got %d", numStates)
	}
	if numPhases <= 0 {
		return nil, configErrorf("num_phases", "must be > 0, got %d", numPhases)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &PhasePolicy{
		q:         mat.NewDense(numStates, numPhases, nil),
		numStates: numStates,
		numPhases: numPhases,
		config:    config,
	}, nil
}

// Config returns the policy parameters.
func (p *PhasePolicy) Config() PolicyConfig {
	return p.config
}

// SelectPhase returns a uniformly random phase with probability epsilon
// (exploratory = true), otherwise the row argmax with ties broken toward the
// lowest phase index.
func (p *PhasePolicy) SelectPhase(state int, rng *rand.Rand) (phase int, exploratory bool, err error) {
	if err := p.checkState("select phase", state); err != nil {
		return 0, false, err
	}
	if rng.Float64() < p.config.Epsilon {
		return rng.Intn(p.numPhases), true, nil
	}
	return floats.MaxIdx(p.q.RawRowView(state)), false, nil
}

// Update applies one TD(0) step and returns the TD error:
//
//	Q[s,a] += alpha * (reward + gamma * max(Q[next]) - Q[s,a])
//
// The policy maximizes whatever reward it is given; sign conventions belong
// to the caller.
func (p *PhasePolicy) Update(state, phase int, reward float64, next int) (float64, error) {
	if err := p.checkState("update", state); err != nil {
		return 0, err
	}
	if err := p.checkState("update", next); err != nil {
		return 0, err
	}
	if phase < 0 || phase >= p.numPhases {
		return 0, domainErrorf("update", "phase %d outside [0, %d)", phase, p.numPhases)
	}
	current := p.q.At(state, phase)
	tdError := reward + p.config.Gamma*floats.Max(p.q.RawRowView(next)) - current
	p.q.Set(state, phase, current+p.config.Alpha*tdError)
	return tdError, nil
}

// Value returns Q[state, phase].
func (p *PhasePolicy) Value(state, phase int) float64 {
	return p.q.At(state, phase)
}

// BestPhaseDistribution marks every phase tied for the maximum value of the
// state's row with 1. Used for inspection only.
func (p *PhasePolicy) BestPhaseDistribution(state int) ([]int, error) {
	if err := p.checkState("best phase", state); err != nil {
		return nil, err
	}
	row := p.q.RawRowView(state)
	best := floats.Max(row)
	marks := make([]int, p.numPhases)
	for i, v := range row {
		if v == best {
			marks[i] = 1
		}
	}
	return marks, nil
}

// Table returns a copy of the value table, one row per state.
func (p *PhasePolicy) Table() [][]float64 {
	out := make([][]float64, p.numStates)
	for i := range out {
		out[i] = append([]float64(nil), p.q.RawRowView(i)...)
	}
	return out
}

// RestoreTable overwrites the value table. Shape must match and values must be finite.
func (p *PhasePolicy) RestoreTable(table [][]float64) error {
	if len(table) != p.numStates {
		return configErrorf("q_table", "expected %d rows, got %d", p.numStates, len(table))
	}
	for i, row := range table {
		if len(row) != p.numPhases {
			return configErrorf("q_table", "row %d: expected %d columns, got %d", i, p.numPhases, len(row))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return configErrorf("q_table", "entry (%d,%d) is not finite", i, j)
			}
		}
	}
	for i, row := range table {
		p.q.SetRow(i, row)
	}
	return nil
}

func (p *PhasePolicy) checkState(op string, state int) error {
	if state < 0 || state >= p.numStates {
		return domainErrorf(op, "state %d outside [0, %d)", state, p.numStates)
	}
	return nil
}
