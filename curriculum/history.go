package curriculum

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// CostHistory keeps the most recent finite cost observations of each phase.
// A window of 1 means every observation overwrites the phase's slot.
type CostHistory struct {
	window int
	slots  [][]float64 // oldest first
}

// NewCostHistory creates an empty history for numPhases slots.
func NewCostHistory(numPhases, window int) (*CostHistory, error) {
	if numPhases <= 0 {
		return nil, configErrorf("num_phases", "must be > 0, got %d", numPhases)
	}
	if window <= 0 {
		return nil, configErrorf("cost_window", "must be > 0, got %d", window)
	}
	return &CostHistory{window: window, slots: make([][]float64, numPhases)}, nil
}

// Record appends a cost to the phase's window, evicting the oldest entry when
// full. Non-finite costs are not recorded; the return value reports whether
// the cost was kept.
func (h *CostHistory) Record(phase int, cost float64) bool {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return false
	}
	slot := append(h.slots[phase], cost)
	if len(slot) > h.window {
		slot = slot[len(slot)-h.window:]
	}
	h.slots[phase] = slot
	return true
}

// Values returns the window mean of each phase. Phases that were never
// observed report +Inf so they rank behind every observed phase.
func (h *CostHistory) Values() []float64 {
	out := make([]float64, len(h.slots))
	for i, slot := range h.slots {
		if len(slot) == 0 {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = stat.Mean(slot, nil)
	}
	return out
}

// Complete reports whether every phase has at least one observation.
func (h *CostHistory) Complete() bool {
	for _, slot := range h.slots {
		if len(slot) == 0 {
			return false
		}
	}
	return true
}

// Windows returns a copy of the per-phase windows for snapshotting.
func (h *CostHistory) Windows() [][]float64 {
	out := make([][]float64, len(h.slots))
	for i, slot := range h.slots {
		out[i] = append([]float64{}, slot...)
	}
	return out
}

// Restore replaces the windows. Entries beyond the configured window keep
// only the most recent values.
func (h *CostHistory) Restore(windows [][]float64) error {
	if len(windows) != len(h.slots) {
		return configErrorf("cost_history", "expected %d phases, got %d", len(h.slots), len(windows))
	}
	restored := make([][]float64, len(windows))
	for i, w := range windows {
		for _, v := range w {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return configErrorf("cost_history", "phase %d holds a non-finite value", i)
			}
		}
		if len(w) > h.window {
			w = w[len(w)-h.window:]
		}
		restored[i] = append([]float64{}, w...)
	}
	h.slots = restored
	return nil
}
