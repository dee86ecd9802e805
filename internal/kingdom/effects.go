package kingdom

// Rand is the randomness kingdom needs. *rand.Rand from math/rand/v2 and
// entropy.Source both satisfy it.
type Rand interface {
	IntN(n int) int
}

// Range is an inclusive integer interval.
type Range struct {
	Min, Max int
}

// EffectRanges bounds the delta each stat can receive from full commitment
// to a single policy option. Treasury skews negative: policies cost money.
var EffectRanges = [statCount]Range{
	Treasury:   {Min: -10, Max: 5},
	Stability:  {Min: -5, Max: 5},
	Popularity: {Min: -5, Max: 5},
	Army:       {Min: -5, Max: 5},
}

// RandomEffect draws one effect vector, each stat independently from its range.
func RandomEffect(rng Rand) Stats {
	var s Stats
	for _, st := range AllStats {
		r := EffectRanges[st]
		s.Set(st, r.Min+rng.IntN(r.Max-r.Min+1))
	}
	return s
}

// GenerateEffects builds the effect table for a crisis with n options.
// The table is generated once per crisis draw and never regenerated.
func GenerateEffects(rng Rand, n int) []Stats {
	effects := make([]Stats, n)
	for i := range effects {
		effects[i] = RandomEffect(rng)
	}
	return effects
}
