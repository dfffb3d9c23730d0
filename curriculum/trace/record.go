// Package trace provides decision recording and diagnostic streams for the
// phase-curriculum controller. This package has no dependencies on
// curriculum/; it stores pure data types.
package trace

// DecisionRecord captures one ACTIVE iteration of the controller.
type DecisionRecord struct {
	Step        int64
	State       int
	Phase       int
	Exploratory bool
	Cost        float64 // mean cost observed for the chosen phase
	Reward      float64
	NextState   int
	TDError     float64
	Skipped     bool // policy update skipped (non-finite cost signal)
}
