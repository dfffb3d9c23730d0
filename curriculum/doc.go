// Package curriculum implements an adaptive phase-curriculum controller for
// consistency-distillation training loops.
//
// # Reading Guide
//
// Leaf components first:
//   - schedule.go: BoundarySchedule, K phase boundaries over the index range [0, T)
//   - integrator.go: PhaseIntegrator, single-step update and snap-to-phase predecessor search
//   - rank.go: RankEncoder, cost ranking -> permutation id
//   - policy.go: PhasePolicy, tabular epsilon-greedy Q-learning over (state, phase)
//   - history.go: CostHistory, rolling per-phase cost windows
//
// Then the orchestrator:
//   - controller.go: Controller, WARMUP -> ACTIVE state machine with Plan / Advance / Observe
//   - snapshot.go: Snapshot, the unit persisted for checkpoint and resume
//
// # Per-iteration protocol
//
//	plan, _ := ctrl.Plan()                     // phase + boundary indices for this step
//	snaps, _ := ctrl.Advance(plan, xs, drifts) // trajectory targets at the phase boundary
//	// ... caller computes per-sample costs ...
//	out, _ := ctrl.Observe(plan, curriculum.Feedback{Costs: costs})
//
// Sub-packages:
//   - curriculum/trace: diagnostic action/state streams and decision summaries
//   - curriculum/checkpoint: SQLite persistence for Snapshot
package curriculum
