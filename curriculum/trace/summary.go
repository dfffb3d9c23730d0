package trace

// TraceSummary aggregates statistics from a CurriculumTrace.
type TraceSummary struct {
	TotalDecisions    int
	ExploratoryCount  int
	SkippedUpdates    int
	MeanReward        float64 // over decisions whose update was applied
	PhaseDistribution map[int]int
	UniqueStates      int
}

// Summarize computes aggregate statistics from a CurriculumTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(ct *CurriculumTrace) *TraceSummary {
	summary := &TraceSummary{
		PhaseDistribution: make(map[int]int),
	}
	if ct == nil {
		return summary
	}

	states := make(map[int]bool)
	totalReward := 0.0
	applied := 0
	for _, d := range ct.Decisions {
		summary.TotalDecisions++
		summary.PhaseDistribution[d.Phase]++
		states[d.State] = true
		if d.Exploratory {
			summary.ExploratoryCount++
		}
		if d.Skipped {
			summary.SkippedUpdates++
			continue
		}
		totalReward += d.Reward
		applied++
	}
	if applied > 0 {
		summary.MeanReward = totalReward / float64(applied)
	}
	summary.UniqueStates = len(states)

	return summary
}
