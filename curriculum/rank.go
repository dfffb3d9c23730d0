package curriculum

import (
	"math"
	"sort"
)

// maxRankArity bounds the permutation table at 8! = 40320 entries.
const maxRankArity = 8

// RankEncoder maps an M-tuple of costs to the id of its rank permutation.
// Ids are 0-based positions of the permutation in lexicographic order, so
// ranks "0123" map to 0 and "3210" to M!-1.
type RankEncoder struct {
	arity int
	ids   map[string]int
	perms [][]int
}

// NewRankEncoder builds the permutation table for arity symbols.
func NewRankEncoder(arity int) (*RankEncoder, error) {
	if arity < 1 || arity > maxRankArity {
		return nil, configErrorf("num_phases", "rank encoding supports 1..%d phases, got %d", maxRankArity, arity)
	}
	e := &RankEncoder{arity: arity, ids: make(map[string]int)}

	perm := make([]int, arity)
	for i := range perm {
		perm[i] = i
	}
	for {
		p := append([]int(nil), perm...)
		e.ids[permKey(p)] = len(e.perms)
		e.perms = append(e.perms, p)
		if !nextPermutation(perm) {
			break
		}
	}
	return e, nil
}

// NumStates returns M!.
func (e *RankEncoder) NumStates() int {
	return len(e.perms)
}

// Arity returns M.
func (e *RankEncoder) Arity() int {
	return e.arity
}

// Encode returns the state id of the cost ranking. Costs are ranked ascending
// with a stable sort, so exactly-equal costs keep their original order.
// +Inf is allowed and ranks last; NaN is rejected.
func (e *RankEncoder) Encode(costs []float64) (int, error) {
	ranks, err := e.Ranks(costs)
	if err != nil {
		return 0, err
	}
	return e.ids[permKey(ranks)], nil
}

// Ranks returns the 0-based ascending rank of each position in costs.
func (e *RankEncoder) Ranks(costs []float64) ([]int, error) {
	if len(costs) != e.arity {
		return nil, configErrorf("costs", "expected %d values, got %d", e.arity, len(costs))
	}
	order := make([]int, len(costs))
	for i := range order {
		if math.IsNaN(costs[i]) {
			return nil, configErrorf("costs", "value %d is NaN", i)
		}
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return costs[order[a]] < costs[order[b]]
	})
	ranks := make([]int, len(costs))
	for rank, pos := range order {
		ranks[pos] = rank
	}
	return ranks, nil
}

// Permutation returns the rank tuple for a state id.
func (e *RankEncoder) Permutation(id int) ([]int, error) {
	if id < 0 || id >= len(e.perms) {
		return nil, domainErrorf("permutation", "state id %d outside [0, %d)", id, len(e.perms))
	}
	return append([]int(nil), e.perms[id]...), nil
}

func permKey(p []int) string {
	b := make([]byte, len(p))
	for i, v := range p {
		b[i] = byte('0' + v)
	}
	return string(b)
}

// nextPermutation rearranges p into its lexicographic successor and reports
// whether one existed.
func nextPermutation(p []int) bool {
	i := len(p) - 2
	for i >= 0 && p[i] >= p[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(p) - 1
	for p[j] <= p[i] {
		j--
	}
	p[i], p[j] = p[j], p[i]
	for l, r := i+1, len(p)-1; l < r; l, r = l+1, r-1 {
		p[l], p[r] = p[r], p[l]
	}
	return true
}
