package regent

import (
	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/kingdom"
)

// Crisis levels, from the weakest stat.
const (
	LevelHealthy  = "HEALTHY"
	LevelWatch    = "WATCH"
	LevelWarning  = "WARNING"
	LevelCritical = "CRITICAL"
)

// Assessment holds derived signals computed from a view.
// Runs before the oracle: deterministic and free.
type Assessment struct {
	Weakest     kingdom.Stat
	WeakestVal  int
	Spread      int // strongest minus weakest
	CrisisLevel string
	Scores      []float64 // per option, effects weighted toward weak stats
	Lean        []int     // allocation the scores alone suggest
}

// Triage assesses the kingdom and scores the options of the active crisis.
func Triage(v *engine.View) *Assessment {
	a := &Assessment{Weakest: kingdom.Treasury, WeakestVal: v.Stats.Treasury}
	strongest := v.Stats.Treasury
	for _, st := range kingdom.AllStats {
		val := v.Stats.Get(st)
		if val < a.WeakestVal {
			a.Weakest, a.WeakestVal = st, val
		}
		strongest = max(strongest, val)
	}
	a.Spread = strongest - a.WeakestVal

	switch {
	case a.WeakestVal < 15:
		a.CrisisLevel = LevelCritical
	case a.WeakestVal < 30:
		a.CrisisLevel = LevelWarning
	case a.WeakestVal < 45 || a.Spread > 40:
		a.CrisisLevel = LevelWatch
	default:
		a.CrisisLevel = LevelHealthy
	}

	if v.Crisis == nil {
		return a
	}

	// A point of change matters more the lower the stat already is.
	weights := make(map[kingdom.Stat]float64, len(kingdom.AllStats))
	for _, st := range kingdom.AllStats {
		weights[st] = 1 + float64(kingdom.MaxStat-v.Stats.Get(st))/float64(kingdom.MaxStat)
	}

	a.Scores = make([]float64, len(v.Crisis.Options))
	for i, opt := range v.Crisis.Options {
		for _, st := range kingdom.AllStats {
			a.Scores[i] += float64(opt.Effects.Get(st)) * weights[st]
		}
	}
	a.Lean = lean(a.Scores)
	return a
}

// lean turns option scores into an allocation. The best option gets the
// most effort; options no worse than zero share the rest.
func lean(scores []float64) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}
	lowest := scores[0]
	for _, s := range scores {
		lowest = min(lowest, s)
	}
	weights := make([]int, n)
	total := 0
	for i, s := range scores {
		// Shift so the worst option scores 1 and scale to whole weights.
		weights[i] = int((s-lowest)*10) + 1
		total += weights[i]
	}
	return rescale(weights, total)
}

// FallbackDecision is used when the oracle cannot decide.
func FallbackDecision(a *Assessment, options int) *Decision {
	alloc := a.Lean
	if len(alloc) != options {
		alloc = kingdom.EqualSplit(options)
		alloc[0] += 100 - sum(alloc)
	}
	return &Decision{
		Allocation: alloc,
		Rationale:  "triage: protect " + a.Weakest.String(),
		Fallback:   true,
	}
}

func sum(xs []int) int {
	t := 0
	for _, x := range xs {
		t += x
	}
	return t
}
