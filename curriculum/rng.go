package curriculum

import (
	"hash/fnv"
	"math/rand"
)

// === Subsystem Constants ===

const (
	// SubsystemPolicy drives epsilon-greedy phase selection.
	SubsystemPolicy = "policy"

	// SubsystemSampling draws boundary indices inside the chosen phase
	// (or across the whole range during warmup).
	SubsystemSampling = "sampling"
)

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem
// and per training step.
//
// Derivation formula:
//
//	seed XOR fnv1a64(subsystemName) XOR (step * golden64)
//
// Because every draw is keyed by the step, a controller resumed from a snapshot
// at step N produces the same draws as one that ran through step N without
// interruption. No generator state needs to be checkpointed.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	seed int64
}

// golden64 is the 64-bit golden-ratio constant used to spread consecutive steps.
const golden64 = -7046029254386353131 // 0x9E3779B97F4A7C15 as int64

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed}
}

// ForStep returns a deterministically-seeded RNG for the named subsystem at
// the given step. The same (name, step) pair always yields the same sequence.
// Never returns nil.
//
// Nothing is cached: each call allocates and seeds a fresh rand.Source
// (about 5 KB), so callers should take one RNG per step and draw from it
// rather than calling ForStep per draw.
func (p *PartitionedRNG) ForStep(name string, step int64) *rand.Rand {
	derived := p.seed ^ fnv1a64(name) ^ (step * golden64)
	return rand.New(rand.NewSource(derived))
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
