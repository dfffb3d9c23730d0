package curriculum

import (
	"bytes"
	"errors"
	"math"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlcfm/phase-curriculum/curriculum/internal/testutil"
	"github.com/rlcfm/phase-curriculum/curriculum/trace"
)

// smallConfig: T=100, K=20, P=4 gives phases [0,5) [5,10) [10,15) [15,20).
func smallConfig() ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.NumTimesteps = 100
	cfg.NumBoundaries = 20
	cfg.NumPhases = 4
	cfg.LeadIn = 3
	cfg.BatchSize = 4
	cfg.Seed = 1
	return cfg
}

func newTestController(t *testing.T, cfg ControllerConfig) *Controller {
	t.Helper()
	c, err := NewController(cfg, testutil.LinearAlphas(cfg.NumTimesteps))
	require.NoError(t, err)
	return c
}

// phaseCosts returns a cost per sample that depends only on the sample's phase,
// with later phases cheaper.
func phaseCosts(c *Controller, plan Plan) []float64 {
	costs := make([]float64, len(plan.Indices))
	for i, idx := range plan.Indices {
		costs[i] = float64(c.Config().NumPhases-c.PhaseOf(idx)) * 0.25
	}
	return costs
}

// runSteps drives n full Plan/Observe iterations and returns the plans.
func runSteps(t *testing.T, c *Controller, n int) []Plan {
	t.Helper()
	plans := make([]Plan, 0, n)
	for i := 0; i < n; i++ {
		plan, err := c.Plan()
		require.NoError(t, err)
		_, err = c.Observe(plan, Feedback{Costs: phaseCosts(c, plan)})
		require.NoError(t, err)
		plans = append(plans, plan)
	}
	return plans
}

func TestNewController_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ControllerConfig)
	}{
		{"phases above boundaries", func(c *ControllerConfig) { c.NumPhases = 21 }},
		{"boundaries above timesteps", func(c *ControllerConfig) { c.NumBoundaries = 101 }},
		{"too many phases to encode", func(c *ControllerConfig) { c.NumPhases = 9 }},
		{"zero batch", func(c *ControllerConfig) { c.BatchSize = 0 }},
		{"negative lead-in", func(c *ControllerConfig) { c.LeadIn = -1 }},
		{"unknown reward mode", func(c *ControllerConfig) { c.RewardMode = "bogus" }},
		{"epsilon above one", func(c *ControllerConfig) { c.Policy.Epsilon = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			_, err := NewController(cfg, testutil.LinearAlphas(cfg.NumTimesteps))
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}

	_, err := NewController(smallConfig(), testutil.LinearAlphas(50))
	assert.Error(t, err, "alphas must cover every timestep")
}

func TestController_PhaseRanges(t *testing.T) {
	c := newTestController(t, smallConfig())
	wantRanges := [][2]int{{0, 5}, {5, 10}, {10, 15}, {15, 20}}
	for p, want := range wantRanges {
		lo, hi := c.PhaseRange(p)
		assert.Equal(t, want, [2]int{lo, hi}, "phase %d", p)
		for idx := lo; idx < hi; idx++ {
			assert.Equal(t, p, c.PhaseOf(idx), "index %d", idx)
		}
	}
}

func TestController_PhaseRangesWithRemainder(t *testing.T) {
	cfg := smallConfig()
	cfg.NumBoundaries = 10
	cfg.NumPhases = 3
	c := newTestController(t, cfg)
	// candidates 0, 3, 6; the remainder widens the last phase
	lo, hi := c.PhaseRange(2)
	assert.Equal(t, 6, lo)
	assert.Equal(t, 10, hi)
	assert.Equal(t, 2, c.PhaseOf(9))
}

func TestController_WarmupThenActive(t *testing.T) {
	c := newTestController(t, smallConfig())
	assert.Equal(t, ModeWarmup, c.Mode())
	assert.Equal(t, -1, c.State())

	for step := int64(0); step < 10; step++ {
		plan, err := c.Plan()
		require.NoError(t, err)
		assert.Equal(t, step, plan.Step)
		require.Len(t, plan.Indices, 4)

		if step < 3 {
			assert.Equal(t, ModeWarmup, plan.Mode, "step %d", step)
			assert.Equal(t, NoPhase, plan.Phase)
			assert.Equal(t, -1, plan.State)
			for _, idx := range plan.Indices {
				assert.True(t, idx >= 0 && idx < 20, "index %d", idx)
			}
		} else {
			assert.Equal(t, ModeActive, plan.Mode, "step %d", step)
			require.True(t, plan.Phase >= 0 && plan.Phase < 4)
			assert.True(t, plan.State >= 0 && plan.State < 24)
			lo, hi := c.PhaseRange(plan.Phase)
			for _, idx := range plan.Indices {
				assert.True(t, idx >= lo && idx < hi, "index %d outside phase %d range [%d,%d)", idx, plan.Phase, lo, hi)
			}
		}
		for i, idx := range plan.Indices {
			assert.Equal(t, c.Schedule().Boundaries[idx], plan.StartTimesteps[i])
			assert.Equal(t, c.Schedule().TargetTimestep(idx), plan.TargetTimesteps[i])
		}

		out, err := c.Observe(plan, Feedback{Costs: phaseCosts(c, plan)})
		require.NoError(t, err)
		assert.Equal(t, plan.Mode == ModeActive, out.Updated, "step %d", step)
	}
	assert.Equal(t, int64(10), c.Step())
}

func TestController_FirstActiveStateFromHistory(t *testing.T) {
	cfg := smallConfig()
	cfg.LeadIn = 0
	c := newTestController(t, cfg)

	// Nothing observed: every phase ranks +Inf, identity permutation.
	plan, err := c.Plan()
	require.NoError(t, err)
	assert.Equal(t, 0, plan.State)
}

func TestController_ObservedStateMatchesEncodedHistory(t *testing.T) {
	c := newTestController(t, smallConfig())
	runSteps(t, c, 6)
	want, err := c.Encoder().Encode(c.History().Values())
	require.NoError(t, err)
	assert.Equal(t, want, c.State())
}

func TestController_RewardModes(t *testing.T) {
	override := 5.0
	tests := []struct {
		name       string
		mode       string
		override   *float64
		wantReward float64
	}{
		{"negative cost", RewardNegativeCost, nil, -2},
		{"default mode is negative cost", "", nil, -2},
		{"raw cost", RewardCost, nil, 2},
		{"explicit reward", RewardNegativeCost, &override, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			cfg.LeadIn = 0
			cfg.RewardMode = tt.mode
			c := newTestController(t, cfg)

			plan, err := c.Plan()
			require.NoError(t, err)
			out, err := c.Observe(plan, Feedback{Costs: []float64{2, 2, 2, 2}, Reward: tt.override})
			require.NoError(t, err)

			assert.True(t, out.Updated)
			assert.Equal(t, 2.0, out.Cost)
			assert.Equal(t, tt.wantReward, out.Reward)
			// Fresh table: Q = alpha * reward.
			assert.InDelta(t, cfg.Policy.Alpha*tt.wantReward, c.Policy().Value(plan.State, plan.Phase), 1e-12)
			assert.InDelta(t, tt.wantReward, out.TDError, 1e-12)
		})
	}
}

func TestController_NonFiniteCostSkipsUpdate(t *testing.T) {
	cfg := smallConfig()
	cfg.LeadIn = 0
	c := newTestController(t, cfg)
	runSteps(t, c, 5)

	before := c.Policy().Table()
	plan, err := c.Plan()
	require.NoError(t, err)
	out, err := c.Observe(plan, Feedback{Costs: []float64{math.NaN(), 1, 1, 1}})
	require.NoError(t, err)

	assert.False(t, out.Updated)
	require.NotNil(t, out.Warning)
	assert.Equal(t, plan.Step, out.Warning.Step)
	assert.Equal(t, plan.Phase, out.Warning.Phase)
	assert.True(t, math.IsNaN(out.Warning.Cost))
	assert.Equal(t, before, c.Policy().Table(), "value table must be unchanged")
	assert.Equal(t, plan.Step+1, c.Step(), "step still advances")
	assert.Equal(t, out.NextState, c.State())

	// Training continues normally afterwards.
	plan, err = c.Plan()
	require.NoError(t, err)
	out, err = c.Observe(plan, Feedback{Costs: phaseCosts(c, plan)})
	require.NoError(t, err)
	assert.True(t, out.Updated)
	assert.Nil(t, out.Warning)
}

func TestController_NonFiniteRewardOverrideSkipsUpdate(t *testing.T) {
	cfg := smallConfig()
	cfg.LeadIn = 0
	c := newTestController(t, cfg)

	inf := math.Inf(-1)
	plan, err := c.Plan()
	require.NoError(t, err)
	out, err := c.Observe(plan, Feedback{Costs: []float64{1, 1, 1, 1}, Reward: &inf})
	require.NoError(t, err)
	assert.False(t, out.Updated)
	require.NotNil(t, out.Warning)
	assert.Contains(t, out.Warning.Error(), "policy update skipped")
}

func TestController_ProtocolErrors(t *testing.T) {
	c := newTestController(t, smallConfig())
	var domErr *DomainError

	_, err := c.Observe(Plan{}, Feedback{})
	assert.True(t, errors.As(err, &domErr), "observe without a plan")

	plan, err := c.Plan()
	require.NoError(t, err)
	_, err = c.Plan()
	assert.True(t, errors.As(err, &domErr), "second plan before observe")

	_, err = c.Observe(plan, Feedback{Costs: []float64{1}})
	assert.True(t, errors.As(err, &domErr), "cost count mismatch")

	_, err = c.Observe(plan, Feedback{Costs: phaseCosts(c, plan)})
	require.NoError(t, err)
	_, err = c.Observe(plan, Feedback{Costs: phaseCosts(c, plan)})
	assert.True(t, errors.As(err, &domErr), "stale plan")

	bad, err := c.Plan()
	require.NoError(t, err)
	bad.Indices = []int{0, 1, 2, 99}
	_, err = c.Observe(bad, Feedback{Costs: []float64{1, 1, 1, 1}})
	assert.True(t, errors.As(err, &domErr), "index outside K")
}

func TestController_ObserveRejectsAlteredPlan(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Plan)
	}{
		{"phase", func(p *Plan) { p.Phase = 9 }},
		{"other valid phase", func(p *Plan) { p.Phase = (p.Phase + 1) % 4 }},
		{"mode", func(p *Plan) { p.Mode = ModeWarmup }},
		{"state", func(p *Plan) { p.State = (p.State + 1) % 24 }},
		{"indices", func(p *Plan) { p.Indices[0]++ }},
		{"fewer indices", func(p *Plan) { p.Indices = p.Indices[:2] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN an ACTIVE plan with a wide cost window
			cfg := smallConfig()
			cfg.LeadIn = 0
			cfg.CostWindow = 4
			c := newTestController(t, cfg)
			plan, err := c.Plan()
			require.NoError(t, err)
			windows := c.History().Windows()
			table := c.Policy().Table()

			// WHEN a copy with a changed decision field is observed
			bad := plan
			bad.Indices = slices.Clone(plan.Indices)
			tt.mutate(&bad)
			_, err = c.Observe(bad, Feedback{Costs: make([]float64, len(bad.Indices))})

			// THEN it is rejected before anything changes
			var domErr *DomainError
			require.True(t, errors.As(err, &domErr), "got %v", err)
			assert.Equal(t, windows, c.History().Windows())
			assert.Equal(t, table, c.Policy().Table())
			assert.Equal(t, int64(0), c.Step())

			// AND the issued plan can still be observed, recording its costs once
			out, err := c.Observe(plan, Feedback{Costs: []float64{1, 1, 1, 1}})
			require.NoError(t, err)
			assert.True(t, out.Updated)
			assert.Equal(t, []float64{1}, c.History().Windows()[plan.Phase])
		})
	}
}

func TestController_ShutdownRejectsPlan(t *testing.T) {
	c := newTestController(t, smallConfig())
	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown(), "idempotent")
	_, err := c.Plan()
	assert.Error(t, err)
}

func TestController_AdvanceSnapsToPhaseStarts(t *testing.T) {
	c := newTestController(t, smallConfig())
	plan, err := c.Plan()
	require.NoError(t, err)
	states := make([][]float64, len(plan.Indices))
	drifts := make([][]float64, len(plan.Indices))
	for i := range states {
		states[i] = []float64{1, -1}
		drifts[i] = []float64{0.5, 0.5}
	}
	snaps, err := c.Advance(plan, states, drifts)
	require.NoError(t, err)
	require.Len(t, snaps, len(plan.Indices))
	for i, snap := range snaps {
		lo, _ := c.PhaseRange(c.PhaseOf(plan.Indices[i]))
		assert.Equal(t, lo, snap.Candidate)
	}
}

func TestController_SameSeedSamePlans(t *testing.T) {
	a := runSteps(t, newTestController(t, smallConfig()), 20)
	b := runSteps(t, newTestController(t, smallConfig()), 20)
	assert.Equal(t, a, b)
}

func TestController_PreserveResumeMatchesUninterrupted(t *testing.T) {
	cfg := smallConfig()
	cfg.ResumeMode = ResumePreserve

	uninterrupted := newTestController(t, cfg)
	runSteps(t, uninterrupted, 10)

	first := newTestController(t, cfg)
	runSteps(t, first, 10)
	data, err := MarshalSnapshot(first.Snapshot())
	require.NoError(t, err)
	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	resumed := newTestController(t, cfg)
	require.NoError(t, resumed.Resume(snap))
	assert.Equal(t, int64(10), resumed.Step())
	assert.Equal(t, uninterrupted.State(), resumed.State())
	assert.Equal(t, uninterrupted.Policy().Table(), resumed.Policy().Table())

	want := runSteps(t, uninterrupted, 15)
	got := runSteps(t, resumed, 15)
	assert.Equal(t, want, got)
	assert.Equal(t, uninterrupted.Policy().Table(), resumed.Policy().Table())
}

func TestController_RestartWarmupResume(t *testing.T) {
	cfg := smallConfig()
	first := newTestController(t, cfg)
	runSteps(t, first, 10)
	snap := first.Snapshot()
	require.True(t, snap.StateReady)

	resumed := newTestController(t, cfg)
	require.NoError(t, resumed.Resume(snap))
	assert.Equal(t, int64(10), resumed.Step())
	assert.Equal(t, int64(13), resumed.ActivationStep())
	assert.Equal(t, ModeWarmup, resumed.Mode())
	assert.Equal(t, -1, resumed.State())
	assert.Equal(t, first.Policy().Table(), resumed.Policy().Table(), "value table is restored")
	assert.Equal(t, first.History().Windows(), resumed.History().Windows())

	plans := runSteps(t, resumed, 4)
	assert.Equal(t, ModeWarmup, plans[2].Mode)
	assert.Equal(t, ModeActive, plans[3].Mode)
}

func TestController_ResumeAtActivationWithoutState(t *testing.T) {
	// A snapshot taken at the activation step, before the first ACTIVE plan.
	cfg := smallConfig()
	cfg.ResumeMode = ResumePreserve
	first := newTestController(t, cfg)
	runSteps(t, first, 3)
	snap := first.Snapshot()
	require.False(t, snap.StateReady)
	require.Equal(t, snap.ActivationStep, snap.Step)

	resumed := newTestController(t, cfg)
	require.NoError(t, resumed.Resume(snap))
	plan, err := resumed.Plan()
	require.NoError(t, err)
	assert.Equal(t, ModeActive, plan.Mode)
}

func TestController_ResumeKeepsConfiguredEpsilon(t *testing.T) {
	cfg := smallConfig()
	first := newTestController(t, cfg)
	runSteps(t, first, 5)
	snap := first.Snapshot()
	snap.Epsilon = 0.9

	resumed := newTestController(t, cfg)
	require.NoError(t, resumed.Resume(snap))
	assert.Equal(t, cfg.Policy.Epsilon, resumed.Policy().Config().Epsilon)
	assert.Equal(t, cfg.Policy.Epsilon, resumed.Snapshot().Epsilon)
}

func TestController_ResumeIsAtomic(t *testing.T) {
	cfg := smallConfig()
	c := newTestController(t, cfg)
	runSteps(t, c, 6)
	good := c.Snapshot()
	tableBefore := c.Policy().Table()

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"wrong version", func(s *Snapshot) { s.Version = 99 }},
		{"wrong phase count", func(s *Snapshot) { s.NumPhases = 3 }},
		{"negative step", func(s *Snapshot) { s.Step = -1 }},
		{"state out of range", func(s *Snapshot) { s.State = 24 }},
		{"short table", func(s *Snapshot) { s.QTable = s.QTable[:5] }},
		{"bad history", func(s *Snapshot) { s.CostWindows = [][]float64{{1}} }},
		{"negative activation step", func(s *Snapshot) { s.ActivationStep = -1 }},
		{"past activation without state", func(s *Snapshot) { s.StateReady, s.State = false, -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := good
			snap.QTable = c.Policy().Table()
			snap.CostWindows = c.History().Windows()
			snap.Step = 500
			tt.mutate(&snap)
			assert.Error(t, c.Resume(snap))
			assert.Equal(t, int64(6), c.Step())
			assert.Equal(t, tableBefore, c.Policy().Table())
		})
	}
}

func TestController_Diagnostics(t *testing.T) {
	var actions, states bytes.Buffer
	c := newTestController(t, smallConfig())
	c.AttachDiagnostics(trace.NewHistoryLog(&actions, &states))
	plans := runSteps(t, c, 8)

	gotActions, err := trace.ReadActionHistory(strings.NewReader(actions.String()))
	require.NoError(t, err)
	gotStates, err := trace.ReadStateHistory(strings.NewReader(states.String()))
	require.NoError(t, err)
	require.Len(t, gotActions, 5, "one line per ACTIVE step")
	require.Len(t, gotStates, 5)
	for i, plan := range plans[3:] {
		assert.Equal(t, plan.Phase, gotActions[i].Phase)
		assert.Equal(t, plan.Exploratory, gotActions[i].Exploratory)
		assert.Equal(t, plan.State, gotStates[i])
	}
}

func TestController_DecisionTrace(t *testing.T) {
	c := newTestController(t, smallConfig())
	tr := trace.NewCurriculumTrace(trace.TraceLevelDecisions)
	c.AttachTrace(tr)
	plans := runSteps(t, c, 8)

	require.Len(t, tr.Decisions, 5)
	for i, d := range tr.Decisions {
		plan := plans[3+i]
		assert.Equal(t, plan.Step, d.Step)
		assert.Equal(t, plan.State, d.State)
		assert.Equal(t, plan.Phase, d.Phase)
		assert.False(t, d.Skipped)
		if i+1 < len(tr.Decisions) {
			assert.Equal(t, d.NextState, tr.Decisions[i+1].State, "next state feeds the following decision")
		}
	}
}

func TestController_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestController(t, smallConfig())
	c.AttachMetrics(m)

	plans := runSteps(t, c, 10)
	want := make(map[[2]string]float64)
	for _, plan := range plans {
		if plan.Mode != ModeActive {
			continue
		}
		mode := "greedy"
		if plan.Exploratory {
			mode = "explore"
		}
		want[[2]string{strconv.Itoa(plan.Phase), mode}]++
	}
	total := 0.0
	for labels, n := range want {
		assert.Equal(t, n, promtestutil.ToFloat64(m.Selections.WithLabelValues(labels[0], labels[1])))
		total += n
	}
	assert.Equal(t, 7.0, total)
	assert.Equal(t, 9.0, promtestutil.ToFloat64(m.Step))

	plan, err := c.Plan()
	require.NoError(t, err)
	_, err = c.Observe(plan, Feedback{Costs: []float64{math.Inf(1), 1, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.SkippedUpdates))
	assert.Equal(t, 10.0, promtestutil.ToFloat64(m.Step))
}
