package kingdom

import (
	"fmt"
	"math"
)

// Allocation holds one weight per policy option. A valid allocation has
// non-negative weights summing to 1.0.
type Allocation []float64

// ValidationError reports an allocation the ruler must correct and resubmit.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid allocation: " + e.Reason
}

// FromPercentages converts whole-number percentages into an Allocation.
// The percentages must match the option count, each lie in [0,100], and
// sum to exactly 100.
func FromPercentages(pcts []int, options int) (Allocation, error) {
	if len(pcts) != options {
		return nil, &ValidationError{Reason: fmt.Sprintf("got %d percentages for %d options", len(pcts), options)}
	}
	total := 0
	for i, p := range pcts {
		if p < 0 || p > 100 {
			return nil, &ValidationError{Reason: fmt.Sprintf("option %c: %d%% is outside 0-100", 'A'+i, p)}
		}
		total += p
	}
	if total != 100 {
		return nil, &ValidationError{Reason: fmt.Sprintf("total allocation must equal 100%%, got %d%%", total)}
	}

	alloc := make(Allocation, len(pcts))
	for i, p := range pcts {
		alloc[i] = float64(p) / 100.0
	}
	return alloc, nil
}

// EqualSplit returns percentages dividing 100 evenly across n options
// (100/n each, so three options get 33 apiece). The remainder is not
// redistributed; callers adjust before submitting.
func EqualSplit(n int) []int {
	if n <= 0 {
		return nil
	}
	pcts := make([]int, n)
	for i := range pcts {
		pcts[i] = 100 / n
	}
	return pcts
}

// deltaPrecision is the grid a weighted sum is snapped to before rounding.
// Percentage weights are not exact in binary, so a true -5.5 can sum to
// -5.4999999.
const deltaPrecision = 1e6

// RoundDelta rounds a cumulative fractional delta half to even:
// 2.5 → 2, 3.5 → 4, -2.5 → -2.
func RoundDelta(x float64) int {
	return int(math.RoundToEven(math.Round(x*deltaPrecision) / deltaPrecision))
}

// Apply folds a weighted policy into the state and returns the rounded
// deltas before clamping.
//
// For every stat the weighted sum of option effects is accumulated as a
// float, rounded once with RoundDelta, added to the current value, and
// clamped to [MinStat, MaxStat]. Weights that are non-positive, NaN, or
// above 1 are skipped, as are weights with no matching effect vector.
//
// The returned deltas are pre-clamp: near a boundary a stat can report a
// larger change than it actually underwent.
func Apply(alloc Allocation, state *KingdomState, effects []Stats) Stats {
	var sums [statCount]float64
	for i, w := range alloc {
		if !(w > 0 && w <= 1) || i >= len(effects) {
			continue
		}
		for _, st := range AllStats {
			sums[st] += w * float64(effects[i].Get(st))
		}
	}

	var deltas Stats
	for _, st := range AllStats {
		d := RoundDelta(sums[st])
		deltas.Set(st, d)
		state.Set(st, Clamp(state.Get(st)+d))
	}
	return deltas
}
