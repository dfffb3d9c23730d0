package curriculum

import (
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/rlcfm/phase-curriculum/curriculum/trace"
)

// Mode is the orchestration state of the controller.
type Mode int

const (
	// ModeWarmup samples boundary indices uniformly; the policy is untouched.
	ModeWarmup Mode = iota
	// ModeActive lets the policy pick the phase and updates it every iteration.
	ModeActive
)

func (m Mode) String() string {
	if m == ModeActive {
		return "active"
	}
	return "warmup"
}

// NoPhase marks plans made during warmup, where no single phase is chosen.
const NoPhase = -1

// Plan is the controller's decision for one training step. It is a plain
// value: in data-parallel setups the owning worker computes it and broadcasts
// it to the others.
type Plan struct {
	Step        int64
	Mode        Mode
	State       int // state id the decision was made in; -1 during warmup
	Phase       int // NoPhase during warmup
	Exploratory bool

	// Per-sample boundary indices and the timesteps they map to.
	Indices         []int
	StartTimesteps  []int
	TargetTimesteps []int
}

// Feedback is the caller's cost signal for a Plan.
type Feedback struct {
	// Costs holds one training cost per sample, aligned with Plan.Indices.
	Costs []float64
	// Reward, when set, is passed to the policy as-is instead of being
	// derived from the chosen phase's cost.
	Reward *float64
}

// Outcome reports what Observe did with a Feedback.
type Outcome struct {
	Step      int64
	Mode      Mode
	Phase     int
	Cost      float64 // mean cost of the chosen phase (ACTIVE only)
	Reward    float64
	NextState int
	TDError   float64
	Updated   bool
	// Warning is set when the cost signal was non-finite and the policy
	// update was skipped. It never aborts the iteration.
	Warning *NonFiniteCostWarning
}

// Controller is the phase-curriculum orchestrator. It owns the value table,
// cost history and current state id; nothing here is global.
//
// Thread-safety: NOT thread-safe. Plan and Observe must be called
// alternately from a single goroutine.
type Controller struct {
	config     ControllerConfig
	schedule   *BoundarySchedule
	integrator *PhaseIntegrator
	encoder    *RankEncoder
	policy     *PhasePolicy
	history    *CostHistory
	rng        *PartitionedRNG
	candidates []int // phase start boundaries, plus K as a terminal entry

	step           int64
	activationStep int64
	state          int
	stateReady     bool
	pending        bool
	issued         Plan // copy of the pending plan, checked by Observe
	closed         bool

	diagnostics *trace.HistoryLog
	trace       *trace.CurriculumTrace
	metrics     *Metrics
}

// NewController validates the configuration, builds every component and
// returns a controller at step 0 in WARMUP.
func NewController(config ControllerConfig, alphas []float64) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	schedule, err := NewBoundarySchedule(config.NumTimesteps, config.NumBoundaries, alphas)
	if err != nil {
		return nil, err
	}
	encoder, err := NewRankEncoder(config.NumPhases)
	if err != nil {
		return nil, err
	}
	policy, err := NewPhasePolicy(encoder.NumStates(), config.NumPhases, config.Policy)
	if err != nil {
		return nil, err
	}
	history, err := NewCostHistory(config.NumPhases, config.CostWindow)
	if err != nil {
		return nil, err
	}
	return &Controller{
		config:         config,
		schedule:       schedule,
		integrator:     NewPhaseIntegrator(schedule),
		encoder:        encoder,
		policy:         policy,
		history:        history,
		rng:            NewPartitionedRNG(config.Seed),
		candidates:     append(PhaseCandidates(config.NumBoundaries, config.NumPhases), config.NumBoundaries),
		activationStep: config.LeadIn,
		state:          -1,
	}, nil
}

// AttachDiagnostics sets the action/state streams written on every ACTIVE plan.
func (c *Controller) AttachDiagnostics(h *trace.HistoryLog) { c.diagnostics = h }

// AttachTrace sets the in-memory decision trace.
func (c *Controller) AttachTrace(t *trace.CurriculumTrace) { c.trace = t }

// AttachMetrics sets the Prometheus collectors.
func (c *Controller) AttachMetrics(m *Metrics) { c.metrics = m }

// Config returns the controller configuration.
func (c *Controller) Config() ControllerConfig { return c.config }

// Schedule returns the boundary schedule.
func (c *Controller) Schedule() *BoundarySchedule { return c.schedule }

// Integrator returns the phase integrator.
func (c *Controller) Integrator() *PhaseIntegrator { return c.integrator }

// Encoder returns the rank encoder.
func (c *Controller) Encoder() *RankEncoder { return c.encoder }

// Policy returns the Q-learning policy.
func (c *Controller) Policy() *PhasePolicy { return c.policy }

// History returns the rolling cost history.
func (c *Controller) History() *CostHistory { return c.history }

// Step returns the step the next Plan will be made for.
func (c *Controller) Step() int64 { return c.step }

// ActivationStep returns the first step planned in ACTIVE mode.
func (c *Controller) ActivationStep() int64 { return c.activationStep }

// State returns the current state id, or -1 before the first ACTIVE plan.
func (c *Controller) State() int {
	if !c.stateReady {
		return -1
	}
	return c.state
}

// Mode returns the mode the next Plan will use.
func (c *Controller) Mode() Mode {
	if c.step >= c.activationStep {
		return ModeActive
	}
	return ModeWarmup
}

// PhaseOf returns the phase owning a boundary index.
func (c *Controller) PhaseOf(index int) int {
	return lastCandidateAtOrBelow(c.candidates[:c.config.NumPhases], index)
}

// PhaseRange returns the half-open boundary index range [lo, hi) of a phase.
// Phases take floor-division shares of K; any remainder widens later phases.
func (c *Controller) PhaseRange(phase int) (lo, hi int) {
	return c.candidates[phase], c.candidates[phase+1]
}

// Plan decides the phase and boundary indices for the current step.
func (c *Controller) Plan() (Plan, error) {
	if c.closed {
		return Plan{}, domainErrorf("plan", "controller is shut down")
	}
	if c.pending {
		return Plan{}, domainErrorf("plan", "plan for step %d has not been observed", c.step)
	}

	plan := Plan{
		Step:  c.step,
		Mode:  c.Mode(),
		State: -1,
		Phase: NoPhase,
	}
	sampler := c.rng.ForStep(SubsystemSampling, c.step)
	plan.Indices = make([]int, c.config.BatchSize)

	if plan.Mode == ModeWarmup {
		for i := range plan.Indices {
			plan.Indices[i] = sampler.Intn(c.config.NumBoundaries)
		}
	} else {
		if !c.stateReady {
			state, err := c.encoder.Encode(c.history.Values())
			if err != nil {
				return Plan{}, fmt.Errorf("encode initial state: %w", err)
			}
			c.state, c.stateReady = state, true
			logrus.Infof("[step %07d] curriculum active: policy drives phase selection from state %d", c.step, state)
		}
		phase, exploratory, err := c.policy.SelectPhase(c.state, c.rng.ForStep(SubsystemPolicy, c.step))
		if err != nil {
			return Plan{}, err
		}
		plan.State, plan.Phase, plan.Exploratory = c.state, phase, exploratory

		lo, hi := c.PhaseRange(phase)
		for i := range plan.Indices {
			plan.Indices[i] = lo + sampler.Intn(hi-lo)
		}

		if err := c.diagnostics.Append(c.state, phase, exploratory); err != nil {
			logrus.Warnf("[step %07d] diagnostic stream: %v", c.step, err)
		}
		c.metrics.recordSelection(phase, exploratory)
		logrus.Debugf("[step %07d] state=%d phase=%d exploratory=%v", c.step, c.state, phase, exploratory)
	}

	plan.StartTimesteps = make([]int, len(plan.Indices))
	plan.TargetTimesteps = make([]int, len(plan.Indices))
	for i, idx := range plan.Indices {
		plan.StartTimesteps[i] = c.schedule.Boundaries[idx]
		plan.TargetTimesteps[i] = c.schedule.TargetTimestep(idx)
	}
	c.issued = plan
	c.issued.Indices = slices.Clone(plan.Indices)
	c.pending = true
	return plan, nil
}

// Advance snaps every sample of the plan to its phase boundary. states and
// drifts are aligned with plan.Indices.
func (c *Controller) Advance(plan Plan, states, drifts [][]float64) ([]Snap, error) {
	return c.integrator.SnapBatch(states, drifts, plan.Indices, c.config.NumPhases)
}

// Observe feeds back the cost of a plan. Per-sample costs are bucketed by
// phase into the cost history; in ACTIVE mode the next state is encoded and
// the policy is updated with (state, phase, reward, next). A non-finite cost
// or reward skips the update and sets Outcome.Warning; the step still advances.
//
// The plan must match the one Plan returned for the pending step. A rejected
// call leaves the controller untouched and may be retried.
func (c *Controller) Observe(plan Plan, fb Feedback) (Outcome, error) {
	if !c.pending || plan.Step != c.step {
		return Outcome{}, domainErrorf("observe", "plan for step %d does not match pending step %d", plan.Step, c.step)
	}
	if err := c.checkIssued(plan); err != nil {
		return Outcome{}, err
	}
	if len(fb.Costs) != len(plan.Indices) {
		return Outcome{}, domainErrorf("observe", "got %d costs for %d samples", len(fb.Costs), len(plan.Indices))
	}

	sums := make([]float64, c.config.NumPhases)
	counts := make([]int, c.config.NumPhases)
	for i, idx := range plan.Indices {
		cost := fb.Costs[i]
		if math.IsNaN(cost) || math.IsInf(cost, 0) {
			continue
		}
		if idx < 0 || idx >= c.config.NumBoundaries {
			return Outcome{}, domainErrorf("observe", "sample %d: boundary index %d outside [0, %d)", i, idx, c.config.NumBoundaries)
		}
		p := c.PhaseOf(idx)
		sums[p] += cost
		counts[p]++
	}
	for p := range sums {
		if counts[p] > 0 {
			c.history.Record(p, sums[p]/float64(counts[p]))
		}
	}

	out := Outcome{Step: plan.Step, Mode: plan.Mode, Phase: plan.Phase, NextState: -1}
	if plan.Mode == ModeWarmup {
		c.advanceStep()
		return out, nil
	}

	out.Cost = meanOf(fb.Costs)
	out.Reward = c.reward(out.Cost, fb.Reward)

	next, err := c.encoder.Encode(c.history.Values())
	if err != nil {
		return Outcome{}, fmt.Errorf("encode next state: %w", err)
	}
	out.NextState = next

	if isFinite(out.Cost) && isFinite(out.Reward) {
		td, err := c.policy.Update(c.state, plan.Phase, out.Reward, next)
		if err != nil {
			return Outcome{}, err
		}
		out.TDError, out.Updated = td, true
		c.metrics.recordUpdate(plan.Step, td)
	} else {
		out.Warning = &NonFiniteCostWarning{Step: plan.Step, Phase: plan.Phase, Cost: out.Cost, Reward: out.Reward}
		logrus.Warn(out.Warning.Error())
		c.metrics.recordSkip(plan.Step)
	}

	c.trace.RecordDecision(trace.DecisionRecord{
		Step:        plan.Step,
		State:       c.state,
		Phase:       plan.Phase,
		Exploratory: plan.Exploratory,
		Cost:        out.Cost,
		Reward:      out.Reward,
		NextState:   next,
		TDError:     out.TDError,
		Skipped:     !out.Updated,
	})

	c.state = next
	c.advanceStep()
	return out, nil
}

// checkIssued rejects a plan whose decision fields differ from the issued copy.
func (c *Controller) checkIssued(plan Plan) error {
	want := c.issued
	switch {
	case plan.Mode != want.Mode:
		return domainErrorf("observe", "step %d: plan mode %s, issued %s", plan.Step, plan.Mode, want.Mode)
	case plan.Phase != want.Phase:
		return domainErrorf("observe", "step %d: plan phase %d, issued %d", plan.Step, plan.Phase, want.Phase)
	case plan.State != want.State:
		return domainErrorf("observe", "step %d: plan state %d, issued %d", plan.Step, plan.State, want.State)
	case !slices.Equal(plan.Indices, want.Indices):
		return domainErrorf("observe", "step %d: plan boundary indices differ from the issued plan", plan.Step)
	}
	return nil
}

func (c *Controller) advanceStep() {
	c.step++
	c.pending = false
	c.issued = Plan{}
}

func (c *Controller) reward(cost float64, override *float64) float64 {
	if override != nil {
		return *override
	}
	if c.config.RewardMode == RewardCost {
		return cost
	}
	return -cost
}

// Snapshot captures the persisted state. An unobserved plan is not part of
// the snapshot; its step is planned again after resume.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Version:        SnapshotVersion,
		Step:           c.step,
		ActivationStep: c.activationStep,
		State:          c.state,
		StateReady:     c.stateReady,
		NumPhases:      c.config.NumPhases,
		Epsilon:        c.config.Policy.Epsilon,
		QTable:         c.policy.Table(),
		CostWindows:    c.history.Windows(),
	}
}

// Resume restores a snapshot. Nothing is modified unless the whole snapshot
// is valid.
//
// With ResumeRestartWarmup the activation step becomes snap.Step + LeadIn, so
// a resumed run always passes through a fresh warmup window and re-encodes its
// state from the cost history. ResumePreserve keeps the saved activation step
// and state, making the resumed run identical to an uninterrupted one.
//
// snap.Epsilon records the rate of the run that wrote the snapshot and is not
// restored; the configured rate applies after resume, and later snapshots and
// diagnostic streams carry it.
func (c *Controller) Resume(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return configErrorf("snapshot", "unsupported version %d (want %d)", snap.Version, SnapshotVersion)
	}
	if snap.NumPhases != c.config.NumPhases {
		return configErrorf("snapshot", "saved with %d phases, controller has %d", snap.NumPhases, c.config.NumPhases)
	}
	if snap.Step < 0 {
		return configErrorf("snapshot", "negative step %d", snap.Step)
	}
	if snap.StateReady && (snap.State < 0 || snap.State >= c.encoder.NumStates()) {
		return configErrorf("snapshot", "state %d outside [0, %d)", snap.State, c.encoder.NumStates())
	}
	if snap.ActivationStep < 0 {
		return configErrorf("snapshot", "negative activation step %d", snap.ActivationStep)
	}
	// The first ACTIVE plan readies the state, so a snapshot past activation
	// without one was not written by a controller.
	if !snap.StateReady && snap.Step > snap.ActivationStep {
		return configErrorf("snapshot", "step %d is past activation step %d but holds no state", snap.Step, snap.ActivationStep)
	}

	policy, err := NewPhasePolicy(c.encoder.NumStates(), c.config.NumPhases, c.config.Policy)
	if err != nil {
		return err
	}
	if err := policy.RestoreTable(snap.QTable); err != nil {
		return err
	}
	history, err := NewCostHistory(c.config.NumPhases, c.config.CostWindow)
	if err != nil {
		return err
	}
	if err := history.Restore(snap.CostWindows); err != nil {
		return err
	}

	c.policy, c.history = policy, history
	c.step = snap.Step
	c.pending = false
	c.issued = Plan{}
	if c.config.ResumeMode == ResumePreserve {
		c.activationStep = snap.ActivationStep
		c.state, c.stateReady = snap.State, snap.StateReady
	} else {
		c.activationStep = snap.Step + c.config.LeadIn
		c.state, c.stateReady = -1, false
	}
	if snap.Epsilon != c.config.Policy.Epsilon {
		logrus.Warnf("[step %07d] snapshot was written with epsilon %v; continuing with %v", c.step, snap.Epsilon, c.config.Policy.Epsilon)
	}
	logrus.Infof("[step %07d] resumed controller: activation at step %d (%s)", c.step, c.activationStep, c.resumeMode())
	return nil
}

func (c *Controller) resumeMode() string {
	if c.config.ResumeMode == "" {
		return ResumeRestartWarmup
	}
	return c.config.ResumeMode
}

// Shutdown closes the diagnostic streams. Later Plan calls fail.
func (c *Controller) Shutdown() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.diagnostics.Close(); err != nil {
		return fmt.Errorf("close diagnostics: %w", err)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// meanOf averages values without dropping non-finite entries, so a single NaN
// makes the mean NaN.
func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
